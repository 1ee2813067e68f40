package db

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/jonathan/meal-learner/internal/types"
)

// -----------------------------------------------------------------------------
// Meal Feedback Methods
// -----------------------------------------------------------------------------

// ListFeedback returns a user's feedback events for one source, oldest first
func (db *DB) ListFeedback(ctx context.Context, userID uuid.UUID, source string) ([]types.FeedbackEvent, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT user_id, meal_id, source, sentiment, tags, created_at
		 FROM meal_feedback
		 WHERE user_id = $1 AND source = $2
		 ORDER BY created_at ASC, id ASC`,
		userID, source,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list feedback: %w", err)
	}
	defer rows.Close()

	var events []types.FeedbackEvent
	for rows.Next() {
		var ev types.FeedbackEvent
		var uid uuid.UUID
		var tagsJSON []byte
		if err := rows.Scan(&uid, &ev.MealID, &ev.Source, &ev.Sentiment, &tagsJSON, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan feedback: %w", err)
		}
		ev.UserID = uid.String()
		if len(tagsJSON) > 0 {
			if err := json.Unmarshal(tagsJSON, &ev.Tags); err != nil {
				return nil, fmt.Errorf("failed to unmarshal feedback tags: %w", err)
			}
		}
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate feedback: %w", err)
	}
	return events, nil
}

// InsertFeedback records one feedback event
func (db *DB) InsertFeedback(ctx context.Context, userID uuid.UUID, ev types.FeedbackEvent) error {
	tags := ev.Tags
	if tags == nil {
		tags = map[string][]string{}
	}
	tagsJSON, err := json.Marshal(tags)
	if err != nil {
		return fmt.Errorf("failed to marshal feedback tags: %w", err)
	}

	_, err = db.pool.Exec(ctx,
		`INSERT INTO meal_feedback (user_id, meal_id, source, sentiment, tags)
		 VALUES ($1, $2, $3, $4, $5)`,
		userID, ev.MealID, ev.Source, ev.Sentiment, tagsJSON,
	)
	if err != nil {
		return fmt.Errorf("failed to insert feedback: %w", err)
	}
	return nil
}
