// Package store defines the persistence contracts shared by the Postgres and in-memory
// backends: learning runs, preference profiles and feedback history.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/jonathan/meal-learner/internal/types"
)

// GuardRejection is returned by CreatePendingRun when the guard policy refuses a trigger
type GuardRejection struct {
	Reason string
}

func (e *GuardRejection) Error() string {
	return "guard rejected trigger: " + e.Reason
}

var (
	// ErrActiveRunInProgress means the user already has a pending run
	ErrActiveRunInProgress = &GuardRejection{Reason: types.ReasonActiveRunInProgress}
	// ErrDuplicateContext means the last completed run for the trigger saw identical inputs
	ErrDuplicateContext = &GuardRejection{Reason: types.ReasonDuplicateContext}

	// ErrRunNotPending is returned when a terminal transition targets a run that is not pending
	ErrRunNotPending = errors.New("run is not pending")
	// ErrProfileNotFound is returned when the profile to update does not exist
	ErrProfileNotFound = errors.New("profile not found")
)

// AsGuardRejection extracts a guard rejection from err
func AsGuardRejection(err error) (*GuardRejection, bool) {
	var rejection *GuardRejection
	if errors.As(err, &rejection) {
		return rejection, true
	}
	return nil, false
}

// PendingRunInput is the guarded insert of a new pending run
type PendingRunInput struct {
	UserID                   uuid.UUID
	Trigger                  string
	EventContext             json.RawMessage
	EventContextFingerprint  string
	UsageSnapshot            json.RawMessage
	UsageSnapshotFingerprint string
	// StaleBefore, when non-zero, reclaims this user's pending runs last touched before it
	StaleBefore time.Time
}

// FinishRunInput moves a pending run to failed or skipped without touching the profile
type FinishRunInput struct {
	RunID   uuid.UUID
	Status  types.RunStatus
	Reason  string
	Payload any
}

// CompleteRunInput marks a run completed and writes the profile's latest recommendation
// in one transaction
type CompleteRunInput struct {
	RunID       uuid.UUID
	UserID      uuid.UUID
	MealIDs     []string
	ManifestID  string
	GeneratedAt time.Time
	Model       string
	Payload     any
}

// RunStore persists learning runs
type RunStore interface {
	// CreatePendingRun atomically applies the guard policy and inserts a pending run
	CreatePendingRun(ctx context.Context, in PendingRunInput) (*types.LearningRun, error)
	GetRun(ctx context.Context, runID uuid.UUID) (*types.LearningRun, error)
	ListRunsByUser(ctx context.Context, userID uuid.UUID, limit int) ([]types.LearningRun, error)
	// TouchRun refreshes updated_at on a pending run so it is not reclaimed as stale
	TouchRun(ctx context.Context, runID uuid.UUID) error
	FinishRun(ctx context.Context, in FinishRunInput) error
	CompleteRun(ctx context.Context, in CompleteRunInput) error
	// ReclaimStale fails every pending run last touched before the cutoff
	ReclaimStale(ctx context.Context, before time.Time) (int64, error)
}

// ProfileStore reads and seeds preference profiles
type ProfileStore interface {
	GetProfile(ctx context.Context, userID uuid.UUID) (*types.UserPreferenceProfile, error)
	UpsertProfile(ctx context.Context, profile *types.UserPreferenceProfile) error
}

// FeedbackStore reads historical feedback events
type FeedbackStore interface {
	ListFeedback(ctx context.Context, userID uuid.UUID, source string) ([]types.FeedbackEvent, error)
}
