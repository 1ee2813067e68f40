// Package pipeline provides the high-level orchestration of a learning run: intake through
// the guard, then snapshot, candidate pool, exploration, recommendation and persistence.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/jonathan/meal-learner/internal/candidates"
	"github.com/jonathan/meal-learner/internal/exploration"
	"github.com/jonathan/meal-learner/internal/logger"
	"github.com/jonathan/meal-learner/internal/metrics"
	"github.com/jonathan/meal-learner/internal/oracle"
	"github.com/jonathan/meal-learner/internal/pipeline/steps"
	"github.com/jonathan/meal-learner/internal/queue"
	"github.com/jonathan/meal-learner/internal/recommendation"
	"github.com/jonathan/meal-learner/internal/selection"
	"github.com/jonathan/meal-learner/internal/snapshot"
	"github.com/jonathan/meal-learner/internal/store"
	"github.com/jonathan/meal-learner/internal/types"
)

// ProgressEvent represents a progress update during pipeline execution
type ProgressEvent struct {
	Step     string `json:"step"`
	Category string `json:"category"`
	Message  string `json:"message"`
	RunID    string `json:"run_id,omitempty"`
	Content  any    `json:"content,omitempty"`
}

// ProgressCallback is called when pipeline progress occurs
type ProgressCallback func(event ProgressEvent)

// Options toggles optional runner behavior
type Options struct {
	// ExcludeRecent keeps the previous recommendation out of the candidate pool
	ExcludeRecent bool
	// EmptyFallbackToPool ranks the whole pool when exploration yields nothing, instead of
	// skipping the run
	EmptyFallbackToPool bool
	OnProgress          ProgressCallback
}

// Runner executes admitted runs
type Runner struct {
	runs        store.RunStore
	collector   *snapshot.Collector
	builder     *candidates.Builder
	explorer    *exploration.Stage
	recommender *recommendation.Stage
	persister   *Persister
	model       string
	opts        Options
	log         *logger.Logger
}

// Deps are the collaborators a Runner needs
type Deps struct {
	Runs        store.RunStore
	Collector   *snapshot.Collector
	Builder     *candidates.Builder
	Explorer    *exploration.Stage
	Recommender *recommendation.Stage
	Oracle      oracle.Oracle
	Log         *logger.Logger
}

func NewRunner(d Deps, opts Options) *Runner {
	log := d.Log.With("component", "runner")
	model := ""
	if d.Oracle != nil {
		model = d.Oracle.Model()
	}
	return &Runner{
		runs:        d.Runs,
		collector:   d.Collector,
		builder:     d.Builder,
		explorer:    d.Explorer,
		recommender: d.Recommender,
		persister:   NewPersister(d.Runs, d.Log),
		model:       model,
		opts:        opts,
		log:         log,
	}
}

// emitProgress calls the progress callback if configured
func (r *Runner) emitProgress(runID, step, message string, content any) {
	if r.opts.OnProgress == nil {
		return
	}
	r.opts.OnProgress(ProgressEvent{
		Step:     step,
		Category: steps.StepRegistry[step].Category,
		Message:  message,
		RunID:    runID,
		Content:  content,
	})
}

// execution carries one run's intermediate state between stages
type execution struct {
	run       *types.LearningRun
	payload   *Payload
	completed map[string]bool
	snap      *snapshot.Snapshot
	pool      *candidates.Pool
	oc        oracle.Context
}

// Execute runs every stage for the job's run and records the terminal state. A run that is
// missing or no longer pending is ignored. The returned error is only non-nil when the
// terminal state itself could not be written.
func (r *Runner) Execute(ctx context.Context, job queue.Job) error {
	ctx, span := otel.Tracer("meal-learner/pipeline").Start(ctx, "pipeline.Execute")
	defer span.End()
	span.SetAttributes(
		attribute.String("run.id", job.RunID.String()),
		attribute.String("user.id", job.UserID.String()),
	)

	run, err := r.runs.GetRun(ctx, job.RunID)
	if err != nil {
		return fmt.Errorf("failed to load run %s: %w", job.RunID, err)
	}
	if run == nil || run.Status != types.RunStatusPending {
		r.log.Warn("Ignoring job for run that is not pending", "run_id", job.RunID.String())
		return nil
	}

	x := &execution{run: run, payload: newPayload(), completed: make(map[string]bool)}
	status, err := r.execute(ctx, x)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.SetAttributes(attribute.String("run.status", string(status)))
	r.emitProgress(run.ID.String(), steps.Persist, fmt.Sprintf("Run finished as %s", status), x.payload)
	return err
}

func (r *Runner) execute(ctx context.Context, x *execution) (types.RunStatus, error) {
	var rec *recommendation.Result
	stages := []struct {
		name string
		fn   func(context.Context, *execution) error
	}{
		{steps.Snapshot, r.snapshotStage},
		{steps.Candidates, r.candidatesStage},
		{steps.Exploration, r.explorationStage},
		{steps.Recommendation, func(ctx context.Context, x *execution) (err error) {
			rec, err = r.recommendationStage(ctx, x)
			return err
		}},
	}

	for _, s := range stages {
		if err := steps.ValidateDependencies(x.completed, s.name); err != nil {
			return r.fail(ctx, x, stageErr(s.name, KindInternal, types.ReasonInternalError, err))
		}
		if err := r.runs.TouchRun(ctx, x.run.ID); err != nil {
			// Reclaimed or finished by someone else; nothing left to write
			if errors.Is(err, store.ErrRunNotPending) {
				r.log.Warn("Run stopped being pending mid-flight", "run_id", x.run.ID.String(), "stage", s.name)
				return types.RunStatusFailed, nil
			}
			r.log.Warn("Failed to refresh run heartbeat", "run_id", x.run.ID.String(), "error", err)
		}

		start := time.Now()
		err := s.fn(ctx, x)
		elapsed := time.Since(start)
		x.payload.TimingsMS[s.name] = elapsed.Milliseconds()
		metrics.RecordStage(s.name, elapsed)

		if err != nil {
			var serr *StageError
			if !errors.As(err, &serr) {
				serr = stageErr(s.name, KindInternal, types.ReasonInternalError, err)
			}
			return r.fail(ctx, x, serr)
		}
		x.completed[s.name] = true
	}

	start := time.Now()
	status, err := r.persister.Complete(ctx, x.run, x.pool.ManifestID, r.model, rec, x.payload)
	metrics.RecordStage(steps.Persist, time.Since(start))
	return status, err
}

func (r *Runner) fail(ctx context.Context, x *execution, serr *StageError) (types.RunStatus, error) {
	r.emitProgress(x.run.ID.String(), serr.Stage, fmt.Sprintf("Stage stopped the run: %s", serr.Reason), nil)
	return serr.Kind.Status(), r.persister.Fail(ctx, x.run.ID, serr, x.payload)
}

// Abort fails a run outside the normal stage flow, e.g. after a worker panic
func (r *Runner) Abort(ctx context.Context, job queue.Job, reason string, cause error) error {
	return r.persister.Fail(ctx, job.RunID, stageErr("worker", KindInternal, reason, cause), nil)
}

func (r *Runner) snapshotStage(ctx context.Context, x *execution) error {
	snap, err := r.collector.Collect(ctx, x.run.UserID)
	if errors.Is(err, snapshot.ErrNoProfile) {
		return stageErr(steps.Snapshot, KindPreconditionFailed, types.ReasonNoProfile, err)
	}
	if err != nil {
		return stageErr(steps.Snapshot, KindInternal, types.ReasonSnapshotError, err)
	}

	var eventContext any
	if len(x.run.EventContext) > 0 {
		if err := json.Unmarshal(x.run.EventContext, &eventContext); err != nil {
			return stageErr(steps.Snapshot, KindInternal, types.ReasonSnapshotError,
				fmt.Errorf("failed to decode event context: %w", err))
		}
	}

	x.snap = snap
	x.payload.FeedbackSources = snap.Feedback.Sources
	x.oc = oracle.Context{
		Usage:        snap.Usage,
		Feedback:     snap.Feedback,
		EventContext: eventContext,
	}
	r.emitProgress(x.run.ID.String(), steps.Snapshot, "Loaded profile and feedback", snap.Usage)
	return nil
}

func (r *Runner) candidatesStage(ctx context.Context, x *execution) error {
	var exclude []string
	if r.opts.ExcludeRecent && x.snap.Usage.LatestRecommendation != nil {
		exclude = x.snap.Usage.LatestRecommendation.MealIDs
	}

	pool, err := r.builder.Build(ctx, x.snap.Profile.Preferences, exclude)
	if pool != nil {
		x.payload.Pool = &PoolSummary{
			ManifestID:      pool.ManifestID,
			ManifestVersion: pool.ManifestVersion,
			Size:            pool.Size(),
			Dropped:         pool.Dropped,
		}
	}
	if errors.Is(err, candidates.ErrNoCandidates) {
		return stageErr(steps.Candidates, KindPreconditionFailed, types.ReasonNoCandidates, err)
	}
	if err != nil {
		return stageErr(steps.Candidates, KindInternal, types.ReasonCatalogError, err)
	}

	x.pool = pool
	r.emitProgress(x.run.ID.String(), steps.Candidates,
		fmt.Sprintf("Built pool of %d candidates from %s", pool.Size(), pool.ManifestID), x.payload.Pool)
	return nil
}

func (r *Runner) explorationStage(ctx context.Context, x *execution) error {
	res, err := r.explorer.Run(ctx, x.pool, x.oc)
	if err != nil {
		return stageErr(steps.Exploration, KindInternal, types.ReasonInternalError, err)
	}
	x.payload.Exploration = res

	if len(res.Shortlist) == 0 {
		if !r.opts.EmptyFallbackToPool {
			return stageErr(steps.Exploration, KindPreconditionFailed, types.ReasonNoCandidates,
				errors.New("exploration produced an empty shortlist"))
		}
		x.payload.Notes = append(x.payload.Notes, "exploration_empty_fallback_to_pool")
	}

	r.emitProgress(x.run.ID.String(), steps.Exploration,
		fmt.Sprintf("Shortlisted %d meals across %d archetypes", len(res.Shortlist), len(res.Batches)), res)
	return nil
}

func (r *Runner) recommendationStage(ctx context.Context, x *execution) (*recommendation.Result, error) {
	input := x.pool.Candidates
	if shortlist := x.payload.Exploration.Shortlist; len(shortlist) > 0 {
		hydrated, err := selection.Hydrate(shortlist, x.pool.Index())
		if err != nil {
			return nil, stageErr(steps.Recommendation, KindInternal, types.ReasonInternalError, err)
		}
		input = hydrated
	}

	res, err := r.recommender.Run(ctx, recommendation.Input{
		Candidates: input,
		Pool:       x.pool,
		Context:    x.oc,
	})
	switch {
	case errors.Is(err, recommendation.ErrTimeout):
		return nil, stageErr(steps.Recommendation, KindOracleTimeout, types.ReasonRecommendationTimeout, err)
	case errors.Is(err, oracle.ErrMalformedResponse):
		return nil, stageErr(steps.Recommendation, KindOracleMalformedResponse, types.ReasonRecommendationMalformed, err)
	case err != nil:
		return nil, stageErr(steps.Recommendation, KindOracleError, types.ReasonRecommendationOracle, err)
	}

	x.payload.Recommendation = res
	r.emitProgress(x.run.ID.String(), steps.Recommendation,
		fmt.Sprintf("Ranked %d meals (%d from fallback)", len(res.Recommendations), res.FallbackFilled), res)
	return res, nil
}
