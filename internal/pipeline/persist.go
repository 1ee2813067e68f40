package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jonathan/meal-learner/internal/exploration"
	"github.com/jonathan/meal-learner/internal/logger"
	"github.com/jonathan/meal-learner/internal/metrics"
	"github.com/jonathan/meal-learner/internal/pipeline/steps"
	"github.com/jonathan/meal-learner/internal/recommendation"
	"github.com/jonathan/meal-learner/internal/store"
	"github.com/jonathan/meal-learner/internal/types"
)

// PoolSummary records which catalog the run drew from
type PoolSummary struct {
	ManifestID      string         `json:"manifest_id"`
	ManifestVersion string         `json:"manifest_version"`
	Size            int            `json:"size"`
	Dropped         map[string]int `json:"dropped,omitempty"`
}

// PayloadError is the failure section of a failed or skipped run's payload
type PayloadError struct {
	Stage   string `json:"stage"`
	Kind    Kind   `json:"kind"`
	Reason  string `json:"reason"`
	Message string `json:"message,omitempty"`
}

// Payload is the audit document stored in learning_runs.response_payload. Sections are
// filled as stages finish, so failed runs keep whatever was produced before the failure.
type Payload struct {
	Pool            *PoolSummary           `json:"pool,omitempty"`
	Exploration     *exploration.Result    `json:"exploration,omitempty"`
	Recommendation  *recommendation.Result `json:"recommendation,omitempty"`
	FeedbackSources []string               `json:"feedback_sources,omitempty"`
	Notes           []string               `json:"notes,omitempty"`
	TimingsMS       map[string]int64       `json:"timings_ms"`
	Error           *PayloadError          `json:"error,omitempty"`
}

func newPayload() *Payload {
	return &Payload{TimingsMS: make(map[string]int64)}
}

// Persister writes terminal run states
type Persister struct {
	runs store.RunStore
	log  *logger.Logger
	now  func() time.Time
}

func NewPersister(runs store.RunStore, log *logger.Logger) *Persister {
	return &Persister{runs: runs, log: log.With("component", "persister"), now: time.Now}
}

// Fail records a failed or skipped run. The profile is never touched.
func (p *Persister) Fail(ctx context.Context, runID uuid.UUID, serr *StageError, payload *Payload) error {
	if payload == nil {
		payload = newPayload()
	}
	payload.Error = &PayloadError{
		Stage:  serr.Stage,
		Kind:   serr.Kind,
		Reason: serr.Reason,
	}
	if serr.Err != nil {
		payload.Error.Message = serr.Err.Error()
	}

	status := serr.Kind.Status()
	err := p.runs.FinishRun(ctx, store.FinishRunInput{
		RunID:   runID,
		Status:  status,
		Reason:  serr.Reason,
		Payload: payload,
	})
	if err != nil {
		if errors.Is(err, store.ErrRunNotPending) {
			p.log.Warn("Run already finished elsewhere", "run_id", runID.String(), "reason", serr.Reason)
		}
		return fmt.Errorf("failed to finish run %s: %w", runID, err)
	}

	metrics.RecordRunFinished(string(status), serr.Reason)
	p.log.Info("Run finished",
		"run_id", runID.String(),
		"status", string(status),
		"reason", serr.Reason,
		"stage", serr.Stage)
	return nil
}

// Complete writes the final recommendation and the profile's latest fields together. An
// empty list fails the run with empty_recommendation; a write failure fails it with
// persistence_failure. The returned status is what the run row ended up as.
func (p *Persister) Complete(ctx context.Context, run *types.LearningRun, manifestID, model string, result *recommendation.Result, payload *Payload) (types.RunStatus, error) {
	ids := result.IDs()
	if len(ids) == 0 {
		serr := stageErr(steps.Persist, KindInternal, types.ReasonEmptyRecommendation, nil)
		return serr.Kind.Status(), p.Fail(ctx, run.ID, serr, payload)
	}

	err := p.runs.CompleteRun(ctx, store.CompleteRunInput{
		RunID:       run.ID,
		UserID:      run.UserID,
		MealIDs:     ids,
		ManifestID:  manifestID,
		GeneratedAt: p.now().UTC(),
		Model:       model,
		Payload:     payload,
	})
	if err != nil {
		p.log.Error("Failed to commit recommendation", "run_id", run.ID.String(), "error", err)
		serr := stageErr(steps.Persist, KindPersistenceFailure, types.ReasonPersistenceFailure, err)
		if ferr := p.Fail(ctx, run.ID, serr, payload); ferr != nil {
			return types.RunStatusFailed, errors.Join(err, ferr)
		}
		return types.RunStatusFailed, nil
	}

	metrics.RecordRunFinished(string(types.RunStatusCompleted), "")
	p.log.Info("Run completed",
		"run_id", run.ID.String(),
		"meals", len(ids),
		"manifest_id", manifestID)
	return types.RunStatusCompleted, nil
}
