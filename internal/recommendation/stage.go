// Package recommendation asks the oracle for the final ranked meals and fills any shortfall
// from the candidate pool.
package recommendation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/jonathan/meal-learner/internal/candidates"
	"github.com/jonathan/meal-learner/internal/logger"
	"github.com/jonathan/meal-learner/internal/oracle"
	"github.com/jonathan/meal-learner/internal/selection"
	"github.com/jonathan/meal-learner/internal/types"
)

// ErrTimeout is returned when the oracle does not answer within the stage timeout
var ErrTimeout = errors.New("recommendation timed out")

// Config controls the final ranking call
type Config struct {
	TargetCount int
	Timeout     time.Duration
}

// DefaultConfig returns the production defaults
func DefaultConfig() Config {
	return Config{TargetCount: 6, Timeout: 30 * time.Second}
}

// Input is what the stage ranks. Candidates is the shortlist (or the pool when exploration
// fell back to it); Pool supplies fill in pool order.
type Input struct {
	Candidates []types.CandidateMeal
	Pool       *candidates.Pool
	Context    oracle.Context
}

// Result is the final list with its audit details
type Result struct {
	Recommendations []types.Recommendation `json:"recommendations"`
	Notes           []string               `json:"notes"`
	OracleReturned  []string               `json:"oracle_returned"`
	Accepted        int                    `json:"accepted"`
	FallbackFilled  int                    `json:"fallback_filled"`
	Requested       int                    `json:"requested"`
}

// IDs returns the recommended meal ids in rank order
func (r *Result) IDs() []string {
	ids := make([]string, len(r.Recommendations))
	for i, rec := range r.Recommendations {
		ids[i] = rec.MealID
	}
	return ids
}

// Stage runs the recommendation call
type Stage struct {
	oracle oracle.Oracle
	cfg    Config
	log    *logger.Logger
}

func NewStage(o oracle.Oracle, cfg Config, log *logger.Logger) *Stage {
	def := DefaultConfig()
	if cfg.TargetCount <= 0 {
		cfg.TargetCount = def.TargetCount
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	return &Stage{oracle: o, cfg: cfg, log: log.With("component", "recommendation")}
}

// Run ranks the input. Oracle failures are returned: ErrTimeout when the stage deadline
// passed, an error wrapping oracle.ErrMalformedResponse for an unreadable answer, and the
// oracle's own error otherwise.
func (s *Stage) Run(ctx context.Context, in Input) (*Result, error) {
	ctx, span := otel.Tracer("meal-learner/recommendation").Start(ctx, "recommendation.Run")
	defer span.End()

	n := s.cfg.TargetCount
	span.SetAttributes(
		attribute.Int("candidates", len(in.Candidates)),
		attribute.Int("target", n),
	)

	callCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	sel, err := s.oracle.Recommend(callCtx, oracle.RecommendRequest{
		Context:    in.Context,
		Candidates: oracle.Condense(in.Candidates),
		Count:      n,
	})
	if err != nil {
		span.RecordError(err)
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w after %s: %v", ErrTimeout, s.cfg.Timeout, err)
		}
		return nil, err
	}

	allowed := make(map[string]struct{}, len(in.Candidates))
	for _, c := range in.Candidates {
		allowed[c.MealID] = struct{}{}
	}
	accepted := selection.Normalize(sel.IDs, allowed, n)

	var poolIDs []string
	if in.Pool != nil {
		poolIDs = in.Pool.IDs()
	}
	final, filled := selection.FillFromPool(accepted, poolIDs, n)

	index := make(map[string]types.CandidateMeal, len(in.Candidates))
	if in.Pool != nil {
		index = in.Pool.Index()
	}
	for _, c := range in.Candidates {
		index[c.MealID] = c
	}
	meals, err := selection.Hydrate(final, index)
	if err != nil {
		return nil, fmt.Errorf("failed to hydrate recommendations: %w", err)
	}

	result := &Result{
		Recommendations: make([]types.Recommendation, len(meals)),
		Notes:           sel.Notes,
		OracleReturned:  sel.IDs,
		Accepted:        len(accepted),
		FallbackFilled:  filled,
		Requested:       n,
	}
	if result.Notes == nil {
		result.Notes = []string{}
	}
	for i, m := range meals {
		source := types.RecommendationSourceOracle
		if i >= len(accepted) {
			source = types.RecommendationSourceFallback
		}
		result.Recommendations[i] = types.Recommendation{
			MealID:      m.MealID,
			Name:        m.Name,
			ArchetypeID: m.ArchetypeID,
			Tags:        m.Tags,
			Source:      source,
		}
	}

	if filled > 0 {
		s.log.Info("Filled recommendations from pool",
			"accepted", len(accepted),
			"filled", filled,
			"oracle_returned", len(sel.IDs))
	}
	span.SetAttributes(attribute.Int("accepted", len(accepted)), attribute.Int("filled", filled))
	return result, nil
}
