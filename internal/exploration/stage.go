// Package exploration fans the candidate pool out to the oracle one archetype at a time and
// balances the picks into a diversified shortlist.
package exploration

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/jonathan/meal-learner/internal/candidates"
	"github.com/jonathan/meal-learner/internal/logger"
	"github.com/jonathan/meal-learner/internal/metrics"
	"github.com/jonathan/meal-learner/internal/oracle"
	"github.com/jonathan/meal-learner/internal/selection"
)

// Batch outcomes recorded in BatchOutcome.Outcome
const (
	OutcomeOK        = "ok"
	OutcomeTimeout   = "timeout"
	OutcomeError     = "error"
	OutcomeMalformed = "malformed"
)

// Config bounds the fan-out
type Config struct {
	TargetSize        int
	PerArchetypeLimit int
	MaxConcurrency    int // 0 means one goroutine per archetype
	Timeout           time.Duration
}

// DefaultConfig returns the production defaults
func DefaultConfig() Config {
	return Config{
		TargetSize:        24,
		PerArchetypeLimit: 20,
		MaxConcurrency:    4,
		Timeout:           45 * time.Second,
	}
}

// BatchOutcome is the audit record for one archetype call
type BatchOutcome struct {
	ArchetypeID string   `json:"archetype_id"`
	Offered     int      `json:"offered"`
	Requested   int      `json:"requested"`
	Selected    []string `json:"selected"`
	Unknown     []string `json:"unknown,omitempty"`
	Outcome     string   `json:"outcome"`
	Error       string   `json:"error,omitempty"`
	DurationMS  int64    `json:"duration_ms"`
}

// Result is the balanced shortlist plus everything needed to audit how it was built
type Result struct {
	Shortlist []string       `json:"shortlist"`
	Notes     []string       `json:"notes"`
	Batches   []BatchOutcome `json:"batches"`
	TimedOut  bool           `json:"timed_out"`
}

// Stage runs exploration against an Oracle
type Stage struct {
	oracle oracle.Oracle
	cfg    Config
	log    *logger.Logger
}

func NewStage(o oracle.Oracle, cfg Config, log *logger.Logger) *Stage {
	if cfg.TargetSize <= 0 {
		cfg.TargetSize = DefaultConfig().TargetSize
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}
	return &Stage{oracle: o, cfg: cfg, log: log.With("component", "exploration")}
}

// PerBatchCount is how many picks each archetype is asked for: enough that a balanced
// shortlist of target ids survives some archetypes returning short, capped by batch size
func PerBatchCount(target, archetypes, batchSize int) int {
	if archetypes <= 0 || target <= 0 {
		return 0
	}
	perArchetype := (target + archetypes - 1) / archetypes
	n := 2 * perArchetype
	if n > batchSize {
		n = batchSize
	}
	return n
}

// Run explores the pool. Batch failures are absorbed into notes and never fail the stage;
// the returned shortlist may be empty.
func (s *Stage) Run(ctx context.Context, pool *candidates.Pool, oc oracle.Context) (*Result, error) {
	ctx, span := otel.Tracer("meal-learner/exploration").Start(ctx, "exploration.Run")
	defer span.End()

	batches := selection.GroupByArchetype(pool.Candidates, s.cfg.PerArchetypeLimit)
	span.SetAttributes(
		attribute.Int("pool.size", pool.Size()),
		attribute.Int("archetypes", len(batches)),
	)
	if len(batches) == 0 {
		return &Result{Shortlist: []string{}, Notes: []string{}, Batches: []BatchOutcome{}}, nil
	}

	stageCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	outcomes := make([]BatchOutcome, len(batches))
	picks := make([][]string, len(batches))
	notes := make([][]string, len(batches))

	var g errgroup.Group
	if s.cfg.MaxConcurrency > 0 {
		g.SetLimit(s.cfg.MaxConcurrency)
	}
	for i, batch := range batches {
		g.Go(func() error {
			outcomes[i], picks[i], notes[i] = s.explore(stageCtx, batch, len(batches), oc)
			return nil
		})
	}
	_ = g.Wait()

	result := &Result{
		Shortlist: selection.RoundRobin(picks, s.cfg.TargetSize),
		Notes:     []string{},
		Batches:   outcomes,
	}
	for i := range batches {
		result.Notes = append(result.Notes, notes[i]...)
		if outcomes[i].Outcome == OutcomeTimeout {
			result.TimedOut = true
		}
	}
	if result.TimedOut {
		result.Notes = append(result.Notes, "exploration_timeout")
	}

	s.log.Info("Exploration complete",
		"archetypes", len(batches),
		"shortlist", len(result.Shortlist),
		"timed_out", result.TimedOut)
	span.SetAttributes(attribute.Int("shortlist.size", len(result.Shortlist)))
	return result, nil
}

func (s *Stage) explore(ctx context.Context, batch selection.Batch, archetypes int, oc oracle.Context) (BatchOutcome, []string, []string) {
	start := time.Now()
	out := BatchOutcome{
		ArchetypeID: batch.ArchetypeID,
		Offered:     len(batch.Candidates),
		Requested:   PerBatchCount(s.cfg.TargetSize, archetypes, len(batch.Candidates)),
		Selected:    []string{},
	}
	finish := func(outcome string, err error) {
		out.Outcome = outcome
		out.DurationMS = time.Since(start).Milliseconds()
		if err != nil {
			out.Error = err.Error()
		}
		metrics.ExplorationBatches.WithLabelValues(outcome).Inc()
	}

	if err := ctx.Err(); err != nil {
		finish(OutcomeTimeout, err)
		return out, nil, []string{fmt.Sprintf("archetype %s: not explored before deadline", batch.ArchetypeID)}
	}

	sel, err := s.oracle.Explore(ctx, oracle.ExploreRequest{
		Context:     oc,
		ArchetypeID: batch.ArchetypeID,
		Candidates:  oracle.Condense(batch.Candidates),
		Count:       out.Requested,
	})
	if err != nil {
		outcome := OutcomeError
		switch {
		case errors.Is(err, oracle.ErrMalformedResponse):
			outcome = OutcomeMalformed
		case errors.Is(err, context.DeadlineExceeded) || ctx.Err() != nil:
			outcome = OutcomeTimeout
		}
		finish(outcome, err)
		s.log.Warn("Exploration batch failed",
			"archetype", batch.ArchetypeID,
			"outcome", outcome,
			"error", err)
		return out, nil, []string{fmt.Sprintf("archetype %s: %s", batch.ArchetypeID, outcome)}
	}

	// More picks than requested are trimmed in pool order
	selected, unknown := selection.Materialize(batch, sel.IDs)
	if len(selected) > out.Requested {
		selected = selected[:out.Requested]
	}
	ids := make([]string, len(selected))
	for i, c := range selected {
		ids[i] = c.MealID
	}
	out.Selected = ids
	out.Unknown = unknown
	finish(OutcomeOK, nil)
	return out, ids, sel.Notes
}
