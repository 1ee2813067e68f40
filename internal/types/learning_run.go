// Package types provides type definitions for structured data used throughout the meal-learner system.
//
//nolint:revive // types is a standard Go package name pattern
package types

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// RunStatus is the lifecycle state of a learning run
type RunStatus string

// Run status constants. Every status other than pending is terminal.
const (
	RunStatusPending   RunStatus = "pending"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusSkipped   RunStatus = "skipped"
)

// IsTerminal reports whether no further transitions are allowed from s
func (s RunStatus) IsTerminal() bool {
	return s == RunStatusCompleted || s == RunStatusFailed || s == RunStatusSkipped
}

// Valid reports whether s is a known status
func (s RunStatus) Valid() bool {
	return s == RunStatusPending || s.IsTerminal()
}

// Reason codes recorded in LearningRun.ErrorMessage and returned by the guard.
const (
	ReasonActiveRunInProgress     = "active_run_in_progress"
	ReasonDuplicateContext        = "duplicate_context"
	ReasonNoProfile               = "no_profile"
	ReasonNoCandidates            = "no_candidates"
	ReasonExplorationTimeout      = "exploration_timeout"
	ReasonRecommendationTimeout   = "recommendation_timeout"
	ReasonRecommendationMalformed = "recommendation_malformed_response"
	ReasonRecommendationOracle    = "recommendation_oracle_error"
	ReasonEmptyRecommendation     = "empty_recommendation"
	ReasonPersistenceFailure      = "persistence_failure"
	ReasonStalePendingReclaimed   = "stale_pending_reclaimed"
	ReasonSnapshotError           = "snapshot_error"
	ReasonCatalogError            = "catalog_error"
	ReasonEnqueueFailed           = "enqueue_failed"
	ReasonPanic                   = "panic"
	ReasonInternalError           = "internal_error"
)

// Trigger types emitted by the app. Triggers are free-form labels; these are the known ones.
const (
	TriggerMealRated          = "meal_rated"
	TriggerOrderCompleted     = "order_completed"
	TriggerPreferencesUpdated = "preferences_updated"
	TriggerManual             = "manual"
)

// LearningRun is the persisted audit record of one pipeline attempt
type LearningRun struct {
	ID                       uuid.UUID       `json:"id"`
	UserID                   uuid.UUID       `json:"user_id"`
	Trigger                  string          `json:"trigger"`
	Status                   RunStatus       `json:"status"`
	EventContext             json.RawMessage `json:"event_context,omitempty"`
	EventContextFingerprint  string          `json:"event_context_fingerprint"`
	UsageSnapshot            json.RawMessage `json:"usage_snapshot,omitempty"`
	UsageSnapshotFingerprint string          `json:"usage_snapshot_fingerprint"`
	ResponsePayload          json.RawMessage `json:"response_payload,omitempty"`
	ErrorMessage             *string         `json:"error_message,omitempty"`
	Model                    *string         `json:"model,omitempty"`
	CreatedAt                time.Time       `json:"created_at"`
	UpdatedAt                time.Time       `json:"updated_at"`
}

// Reason returns the recorded reason code, or an empty string
func (r *LearningRun) Reason() string {
	if r == nil || r.ErrorMessage == nil {
		return ""
	}
	return *r.ErrorMessage
}
