package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/jonathan/meal-learner/internal/guard"
	"github.com/jonathan/meal-learner/internal/logger"
	"github.com/jonathan/meal-learner/internal/queue"
	"github.com/jonathan/meal-learner/internal/snapshot"
	"github.com/jonathan/meal-learner/internal/store"
	"github.com/jonathan/meal-learner/internal/types"
)

// SubmitRequest is one trigger from the app
type SubmitRequest struct {
	UserID       uuid.UUID `json:"user_id" validate:"required"`
	Trigger      string    `json:"trigger" validate:"required,max=64"`
	EventContext any       `json:"event_context,omitempty"`
}

// SubmitResult reports whether the trigger started a run
type SubmitResult struct {
	Accepted bool      `json:"accepted"`
	RunID    uuid.UUID `json:"run_id,omitempty"`
	Reason   string    `json:"reason,omitempty"`
}

// Service is the intake: it guards triggers and hands admitted runs to the queue without
// waiting for them
type Service struct {
	guard     *guard.Guard
	profiles  store.ProfileStore
	queue     queue.Queue
	persister *Persister
	log       *logger.Logger
}

func NewService(g *guard.Guard, profiles store.ProfileStore, runs store.RunStore, q queue.Queue, log *logger.Logger) *Service {
	return &Service{
		guard:     g,
		profiles:  profiles,
		queue:     q,
		persister: NewPersister(runs, log),
		log:       log.With("component", "intake"),
	}
}

// Submit evaluates the guard and enqueues the admitted run. Guard rejections are reported in
// the result, not as errors. If the run cannot be enqueued it is failed with enqueue_failed
// and the error is returned.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (*SubmitResult, error) {
	profile, err := s.profiles.GetProfile(ctx, req.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to load profile for usage snapshot: %w", err)
	}

	run, err := s.guard.Admit(ctx, guard.AdmitRequest{
		UserID:       req.UserID,
		Trigger:      req.Trigger,
		EventContext: req.EventContext,
		Usage:        snapshot.UsageFromProfile(profile),
	})
	if err != nil {
		if rejection, ok := store.AsGuardRejection(err); ok {
			return &SubmitResult{Accepted: false, Reason: rejection.Reason}, nil
		}
		return nil, err
	}

	job := queue.Job{RunID: run.ID, UserID: run.UserID, Trigger: run.Trigger, EnqueuedAt: time.Now().UTC()}
	if err := s.queue.Enqueue(ctx, job); err != nil {
		s.log.Error("Failed to enqueue admitted run", "run_id", run.ID.String(), "error", err)
		serr := stageErr("intake", KindInternal, types.ReasonEnqueueFailed, err)
		// The caller's ctx may already be gone; the run row must not stay pending
		if ferr := s.persister.Fail(context.WithoutCancel(ctx), run.ID, serr, nil); ferr != nil {
			s.log.Error("Failed to mark unqueued run failed", "run_id", run.ID.String(), "error", ferr)
		}
		return nil, fmt.Errorf("failed to enqueue run %s: %w", run.ID, err)
	}

	return &SubmitResult{Accepted: true, RunID: run.ID}, nil
}
