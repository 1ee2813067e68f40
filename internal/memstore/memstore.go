// Package memstore is an in-process implementation of the store contracts. It backs tests
// and single-process deployments with database.driver=memory.
package memstore

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jonathan/meal-learner/internal/store"
	"github.com/jonathan/meal-learner/internal/types"
)

// Store holds runs, profiles and feedback behind one mutex
type Store struct {
	mu       sync.Mutex
	runs     map[uuid.UUID]*types.LearningRun
	order    []uuid.UUID
	profiles map[uuid.UUID]*types.UserPreferenceProfile
	feedback []types.FeedbackEvent
	now      func() time.Time

	// FailComplete, when set, is returned by CompleteRun before anything is written
	FailComplete error
}

var (
	_ store.RunStore      = (*Store)(nil)
	_ store.ProfileStore  = (*Store)(nil)
	_ store.FeedbackStore = (*Store)(nil)
)

// New creates an empty store
func New() *Store {
	return &Store{
		runs:     make(map[uuid.UUID]*types.LearningRun),
		profiles: make(map[uuid.UUID]*types.UserPreferenceProfile),
		now:      time.Now,
	}
}

// SetClock replaces time.Now
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// CreatePendingRun evaluates the guard policy and inserts under a single lock
func (s *Store) CreatePendingRun(ctx context.Context, in store.PendingRunInput) (*types.LearningRun, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if !in.StaleBefore.IsZero() {
		s.reclaimLocked(now, in.StaleBefore, &in.UserID)
	}

	var latestCompleted *types.LearningRun
	for _, id := range s.order {
		run := s.runs[id]
		if run.UserID != in.UserID {
			continue
		}
		if run.Status == types.RunStatusPending {
			return nil, store.ErrActiveRunInProgress
		}
		if run.Status == types.RunStatusCompleted && run.Trigger == in.Trigger {
			if latestCompleted == nil || !run.UpdatedAt.Before(latestCompleted.UpdatedAt) {
				latestCompleted = run
			}
		}
	}
	if latestCompleted != nil &&
		latestCompleted.EventContextFingerprint == in.EventContextFingerprint &&
		latestCompleted.UsageSnapshotFingerprint == in.UsageSnapshotFingerprint {
		return nil, store.ErrDuplicateContext
	}

	run := &types.LearningRun{
		ID:                       uuid.New(),
		UserID:                   in.UserID,
		Trigger:                  in.Trigger,
		Status:                   types.RunStatusPending,
		EventContext:             cloneRaw(in.EventContext),
		EventContextFingerprint:  in.EventContextFingerprint,
		UsageSnapshot:            cloneRaw(in.UsageSnapshot),
		UsageSnapshotFingerprint: in.UsageSnapshotFingerprint,
		CreatedAt:                now,
		UpdatedAt:                now,
	}
	s.runs[run.ID] = run
	s.order = append(s.order, run.ID)
	return copyRun(run), nil
}

func (s *Store) GetRun(ctx context.Context, runID uuid.UUID) (*types.LearningRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return nil, nil
	}
	return copyRun(run), nil
}

// ListRunsByUser returns newest first
func (s *Store) ListRunsByUser(ctx context.Context, userID uuid.UUID, limit int) ([]types.LearningRun, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []types.LearningRun
	for i := len(s.order) - 1; i >= 0; i-- {
		run := s.runs[s.order[i]]
		if run.UserID != userID {
			continue
		}
		out = append(out, *copyRun(run))
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *Store) TouchRun(ctx context.Context, runID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok || run.Status != types.RunStatusPending {
		return store.ErrRunNotPending
	}
	run.UpdatedAt = s.now()
	return nil
}

func (s *Store) FinishRun(ctx context.Context, in store.FinishRunInput) error {
	if in.Status != types.RunStatusFailed && in.Status != types.RunStatusSkipped {
		return fmt.Errorf("invalid terminal status %q for finish", in.Status)
	}
	payload, err := marshalPayload(in.Payload)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[in.RunID]
	if !ok || run.Status != types.RunStatusPending {
		return store.ErrRunNotPending
	}
	reason := in.Reason
	run.Status = in.Status
	run.ErrorMessage = &reason
	run.ResponsePayload = payload
	run.UpdatedAt = s.now()
	return nil
}

func (s *Store) CompleteRun(ctx context.Context, in store.CompleteRunInput) error {
	if s.FailComplete != nil {
		return s.FailComplete
	}
	payload, err := marshalPayload(in.Payload)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[in.RunID]
	if !ok || run.Status != types.RunStatusPending {
		return store.ErrRunNotPending
	}
	profile, ok := s.profiles[in.UserID]
	if !ok {
		return store.ErrProfileNotFound
	}

	now := s.now()
	manifestID := in.ManifestID
	generatedAt := in.GeneratedAt
	profile.Latest = types.LatestRecommendation{
		MealIDs:     append([]string(nil), in.MealIDs...),
		ManifestID:  &manifestID,
		GeneratedAt: &generatedAt,
	}
	profile.UpdatedAt = now

	model := in.Model
	run.Status = types.RunStatusCompleted
	run.ResponsePayload = payload
	run.Model = &model
	run.ErrorMessage = nil
	run.UpdatedAt = now
	return nil
}

func (s *Store) ReclaimStale(ctx context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reclaimLocked(s.now(), before, nil), nil
}

func (s *Store) reclaimLocked(now, before time.Time, userID *uuid.UUID) int64 {
	var n int64
	for _, run := range s.runs {
		if run.Status != types.RunStatusPending || !run.UpdatedAt.Before(before) {
			continue
		}
		if userID != nil && run.UserID != *userID {
			continue
		}
		reason := types.ReasonStalePendingReclaimed
		run.Status = types.RunStatusFailed
		run.ErrorMessage = &reason
		run.UpdatedAt = now
		n++
	}
	return n
}

func (s *Store) GetProfile(ctx context.Context, userID uuid.UUID) (*types.UserPreferenceProfile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.profiles[userID]
	if !ok {
		return nil, nil
	}
	return copyProfile(p), nil
}

func (s *Store) UpsertProfile(ctx context.Context, profile *types.UserPreferenceProfile) error {
	if profile == nil || profile.UserID == uuid.Nil {
		return fmt.Errorf("profile user id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := copyProfile(profile)
	cp.UpdatedAt = s.now()
	s.profiles[profile.UserID] = cp
	return nil
}

// AddFeedback appends feedback events
func (s *Store) AddFeedback(events ...types.FeedbackEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.feedback = append(s.feedback, events...)
}

// ListFeedback returns the user's events for one source, oldest first
func (s *Store) ListFeedback(ctx context.Context, userID uuid.UUID, source string) ([]types.FeedbackEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []types.FeedbackEvent
	for _, ev := range s.feedback {
		if ev.UserID == userID.String() && ev.Source == source {
			out = append(out, ev)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// PendingCount returns the number of pending runs for a user
func (s *Store) PendingCount(userID uuid.UUID) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, run := range s.runs {
		if run.UserID == userID && run.Status == types.RunStatusPending {
			n++
		}
	}
	return n
}

func marshalPayload(v any) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	if raw, ok := v.(json.RawMessage); ok {
		return cloneRaw(raw), nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}
	return data, nil
}

func cloneRaw(raw json.RawMessage) json.RawMessage {
	if raw == nil {
		return nil
	}
	return append(json.RawMessage(nil), raw...)
}

func copyRun(r *types.LearningRun) *types.LearningRun {
	cp := *r
	cp.EventContext = cloneRaw(r.EventContext)
	cp.UsageSnapshot = cloneRaw(r.UsageSnapshot)
	cp.ResponsePayload = cloneRaw(r.ResponsePayload)
	return &cp
}

func copyProfile(p *types.UserPreferenceProfile) *types.UserPreferenceProfile {
	cp := *p
	cp.Latest.MealIDs = append([]string(nil), p.Latest.MealIDs...)
	return &cp
}
