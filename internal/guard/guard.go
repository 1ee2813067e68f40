// Package guard admits learning triggers. It fingerprints the trigger context and the
// user's usage snapshot and asks the run store to insert a pending run only when no other
// run is pending and the inputs differ from the last completed run for the same trigger.
package guard

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jonathan/meal-learner/internal/fingerprint"
	"github.com/jonathan/meal-learner/internal/logger"
	"github.com/jonathan/meal-learner/internal/metrics"
	"github.com/jonathan/meal-learner/internal/store"
	"github.com/jonathan/meal-learner/internal/types"
)

// DefaultPendingTTL is how long a pending run may go untouched before it is reclaimed
const DefaultPendingTTL = 15 * time.Minute

// Re-exported so callers don't need the store package to branch on guard outcomes.
var (
	ErrActiveRunInProgress = store.ErrActiveRunInProgress
	ErrDuplicateContext    = store.ErrDuplicateContext
)

// AdmitRequest is one trigger to evaluate
type AdmitRequest struct {
	UserID       uuid.UUID
	Trigger      string
	EventContext any
	Usage        types.UsageSnapshot
}

// Guard evaluates the admission policy against a RunStore
type Guard struct {
	runs       store.RunStore
	pendingTTL time.Duration
	now        func() time.Time
	log        *logger.Logger
}

// Option customizes a Guard
type Option func(*Guard)

// WithPendingTTL overrides DefaultPendingTTL. Zero disables stale reclaim at admission.
func WithPendingTTL(ttl time.Duration) Option {
	return func(g *Guard) { g.pendingTTL = ttl }
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(g *Guard) { g.now = now }
}

// New creates a Guard
func New(runs store.RunStore, log *logger.Logger, opts ...Option) *Guard {
	g := &Guard{
		runs:       runs,
		pendingTTL: DefaultPendingTTL,
		now:        time.Now,
		log:        log.With("component", "guard"),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Admit inserts a pending run for the request or returns a *store.GuardRejection
func (g *Guard) Admit(ctx context.Context, req AdmitRequest) (*types.LearningRun, error) {
	if req.UserID == uuid.Nil {
		return nil, errors.New("user id is required")
	}
	trigger := strings.TrimSpace(req.Trigger)
	if trigger == "" {
		return nil, errors.New("trigger is required")
	}

	eventContext := req.EventContext
	if eventContext == nil {
		eventContext = map[string]any{}
	}
	contextBlob, err := fingerprint.Canonicalize(eventContext)
	if err != nil {
		return nil, fmt.Errorf("failed to canonicalize event context: %w", err)
	}
	usageBlob, err := fingerprint.Canonicalize(req.Usage)
	if err != nil {
		return nil, fmt.Errorf("failed to canonicalize usage snapshot: %w", err)
	}

	in := store.PendingRunInput{
		UserID:                   req.UserID,
		Trigger:                  trigger,
		EventContext:             json.RawMessage(contextBlob),
		EventContextFingerprint:  fingerprint.Sum(contextBlob),
		UsageSnapshot:            json.RawMessage(usageBlob),
		UsageSnapshotFingerprint: fingerprint.Sum(usageBlob),
	}
	if g.pendingTTL > 0 {
		in.StaleBefore = g.now().Add(-g.pendingTTL)
	}

	run, err := g.runs.CreatePendingRun(ctx, in)
	if err != nil {
		if rejection, ok := store.AsGuardRejection(err); ok {
			metrics.GuardDecisions.WithLabelValues(rejection.Reason).Inc()
			g.log.Info("trigger rejected",
				"user_id", req.UserID.String(),
				"trigger", trigger,
				"reason", rejection.Reason,
			)
			return nil, rejection
		}
		return nil, fmt.Errorf("failed to create pending run: %w", err)
	}

	metrics.GuardDecisions.WithLabelValues("admitted").Inc()
	g.log.Info("trigger admitted",
		"user_id", req.UserID.String(),
		"trigger", trigger,
		"run_id", run.ID.String(),
	)
	return run, nil
}
