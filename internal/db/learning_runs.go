package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/jonathan/meal-learner/internal/store"
	"github.com/jonathan/meal-learner/internal/types"
)

// -----------------------------------------------------------------------------
// Learning Run Methods
// -----------------------------------------------------------------------------

const learningRunColumns = `id, user_id, trigger, status, event_context, event_context_fingerprint,
	usage_snapshot, usage_snapshot_fingerprint, response_payload, error_message, model,
	created_at, updated_at`

// CreatePendingRun applies the guard policy and inserts a pending run inside one
// serializable transaction. Conflicts with a concurrent insert surface as
// store.ErrActiveRunInProgress.
func (db *DB) CreatePendingRun(ctx context.Context, in store.PendingRunInput) (*types.LearningRun, error) {
	tx, err := db.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if !in.StaleBefore.IsZero() {
		_, err = tx.Exec(ctx,
			`UPDATE learning_runs
			 SET status = 'failed', error_message = $3, updated_at = NOW()
			 WHERE user_id = $1 AND status = 'pending' AND updated_at < $2`,
			in.UserID, in.StaleBefore, types.ReasonStalePendingReclaimed,
		)
		if err != nil {
			return nil, mapGuardError(fmt.Errorf("failed to reclaim stale runs: %w", err))
		}
	}

	var pending bool
	err = tx.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM learning_runs WHERE user_id = $1 AND status = 'pending')`,
		in.UserID,
	).Scan(&pending)
	if err != nil {
		return nil, mapGuardError(fmt.Errorf("failed to check pending runs: %w", err))
	}
	if pending {
		return nil, store.ErrActiveRunInProgress
	}

	var ctxFP, usageFP string
	err = tx.QueryRow(ctx,
		`SELECT event_context_fingerprint, usage_snapshot_fingerprint
		 FROM learning_runs
		 WHERE user_id = $1 AND trigger = $2 AND status = 'completed'
		 ORDER BY updated_at DESC, created_at DESC
		 LIMIT 1`,
		in.UserID, in.Trigger,
	).Scan(&ctxFP, &usageFP)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
	case err != nil:
		return nil, mapGuardError(fmt.Errorf("failed to load latest completed run: %w", err))
	case ctxFP == in.EventContextFingerprint && usageFP == in.UsageSnapshotFingerprint:
		return nil, store.ErrDuplicateContext
	}

	row := tx.QueryRow(ctx,
		`INSERT INTO learning_runs (id, user_id, trigger, status, event_context, event_context_fingerprint,
		                            usage_snapshot, usage_snapshot_fingerprint)
		 VALUES ($1, $2, $3, 'pending', $4, $5, $6, $7)
		 RETURNING `+learningRunColumns,
		uuid.New(), in.UserID, in.Trigger, nullJSON(in.EventContext), in.EventContextFingerprint,
		nullJSON(in.UsageSnapshot), in.UsageSnapshotFingerprint,
	)
	run, err := scanLearningRun(row)
	if err != nil {
		return nil, mapGuardError(fmt.Errorf("failed to insert pending run: %w", err))
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, mapGuardError(fmt.Errorf("failed to commit pending run: %w", err))
	}
	return run, nil
}

// GetRun retrieves a learning run by ID. Returns nil, nil when not found.
func (db *DB) GetRun(ctx context.Context, runID uuid.UUID) (*types.LearningRun, error) {
	row := db.pool.QueryRow(ctx,
		`SELECT `+learningRunColumns+` FROM learning_runs WHERE id = $1`,
		runID,
	)
	run, err := scanLearningRun(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

// ListRunsByUser lists a user's runs, newest first
func (db *DB) ListRunsByUser(ctx context.Context, userID uuid.UUID, limit int) ([]types.LearningRun, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.pool.Query(ctx,
		`SELECT `+learningRunColumns+`
		 FROM learning_runs
		 WHERE user_id = $1
		 ORDER BY created_at DESC
		 LIMIT $2`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []types.LearningRun
	for rows.Next() {
		run, err := scanLearningRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, *run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate runs: %w", err)
	}
	return runs, nil
}

// TouchRun refreshes updated_at on a pending run
func (db *DB) TouchRun(ctx context.Context, runID uuid.UUID) error {
	tag, err := db.pool.Exec(ctx,
		`UPDATE learning_runs SET updated_at = NOW() WHERE id = $1 AND status = 'pending'`,
		runID,
	)
	if err != nil {
		return fmt.Errorf("failed to touch run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrRunNotPending
	}
	return nil
}

// FinishRun moves a pending run to failed or skipped
func (db *DB) FinishRun(ctx context.Context, in store.FinishRunInput) error {
	if in.Status != types.RunStatusFailed && in.Status != types.RunStatusSkipped {
		return fmt.Errorf("invalid terminal status %q for finish", in.Status)
	}
	payload, err := marshalPayload(in.Payload)
	if err != nil {
		return err
	}

	tag, err := db.pool.Exec(ctx,
		`UPDATE learning_runs
		 SET status = $2, error_message = $3, response_payload = $4, updated_at = NOW()
		 WHERE id = $1 AND status = 'pending'`,
		in.RunID, string(in.Status), in.Reason, payload,
	)
	if err != nil {
		return fmt.Errorf("failed to finish run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrRunNotPending
	}
	return nil
}

// CompleteRun marks the run completed and writes the profile's latest recommendation
// in one transaction
func (db *DB) CompleteRun(ctx context.Context, in store.CompleteRunInput) error {
	payload, err := marshalPayload(in.Payload)
	if err != nil {
		return err
	}

	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx,
		`UPDATE learning_runs
		 SET status = 'completed', response_payload = $2, model = $3, error_message = NULL, updated_at = NOW()
		 WHERE id = $1 AND status = 'pending'`,
		in.RunID, payload, nullIfEmpty(in.Model),
	)
	if err != nil {
		return fmt.Errorf("failed to complete run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrRunNotPending
	}

	mealIDs := in.MealIDs
	if mealIDs == nil {
		mealIDs = []string{}
	}
	tag, err = tx.Exec(ctx,
		`UPDATE user_preference_profiles
		 SET latest_recommendation_meal_ids = $2,
		     latest_recommendation_manifest_id = $3,
		     latest_recommendation_generated_at = $4,
		     updated_at = NOW()
		 WHERE user_id = $1`,
		in.UserID, mealIDs, nullIfEmpty(in.ManifestID), in.GeneratedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update profile recommendation: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrProfileNotFound
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit run completion: %w", err)
	}
	return nil
}

// ReclaimStale fails every pending run last touched before the cutoff
func (db *DB) ReclaimStale(ctx context.Context, before time.Time) (int64, error) {
	tag, err := db.pool.Exec(ctx,
		`UPDATE learning_runs
		 SET status = 'failed', error_message = $2, updated_at = NOW()
		 WHERE status = 'pending' AND updated_at < $1`,
		before, types.ReasonStalePendingReclaimed,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to reclaim stale runs: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanLearningRun(row pgx.Row) (*types.LearningRun, error) {
	var run types.LearningRun
	var status string
	var eventContext, usageSnapshot, payload []byte
	err := row.Scan(&run.ID, &run.UserID, &run.Trigger, &status, &eventContext, &run.EventContextFingerprint,
		&usageSnapshot, &run.UsageSnapshotFingerprint, &payload, &run.ErrorMessage, &run.Model,
		&run.CreatedAt, &run.UpdatedAt)
	if err != nil {
		return nil, err
	}
	run.Status = types.RunStatus(status)
	run.EventContext = rawOrNil(eventContext)
	run.UsageSnapshot = rawOrNil(usageSnapshot)
	run.ResponsePayload = rawOrNil(payload)
	return &run, nil
}

func marshalPayload(v any) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	if raw, ok := v.(json.RawMessage); ok {
		return nullJSON(raw), nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}
	return data, nil
}

// nullJSON maps an empty blob to SQL NULL
func nullJSON(raw json.RawMessage) []byte {
	if len(raw) == 0 {
		return nil
	}
	return raw
}

func rawOrNil(b []byte) json.RawMessage {
	if len(b) == 0 {
		return nil
	}
	return json.RawMessage(b)
}

func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
