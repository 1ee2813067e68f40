package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/jonathan/meal-learner/internal/types"
)

// -----------------------------------------------------------------------------
// Preference Profile Methods
// -----------------------------------------------------------------------------

// GetProfile retrieves a user's preference profile. Returns nil, nil when not found.
func (db *DB) GetProfile(ctx context.Context, userID uuid.UUID) (*types.UserPreferenceProfile, error) {
	var p types.UserPreferenceProfile
	var preferencesJSON []byte
	var mealIDs []string

	err := db.pool.QueryRow(ctx,
		`SELECT user_id, preferences, latest_recommendation_meal_ids,
		        latest_recommendation_manifest_id, latest_recommendation_generated_at, updated_at
		 FROM user_preference_profiles
		 WHERE user_id = $1`,
		userID,
	).Scan(&p.UserID, &preferencesJSON, &mealIDs,
		&p.Latest.ManifestID, &p.Latest.GeneratedAt, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}

	if len(preferencesJSON) > 0 {
		if err := json.Unmarshal(preferencesJSON, &p.Preferences); err != nil {
			return nil, fmt.Errorf("failed to unmarshal preferences: %w", err)
		}
	}
	p.Latest.MealIDs = mealIDs
	return &p, nil
}

// UpsertProfile creates or replaces a profile's preferences and latest recommendation
func (db *DB) UpsertProfile(ctx context.Context, profile *types.UserPreferenceProfile) error {
	if profile == nil || profile.UserID == uuid.Nil {
		return errors.New("profile user id is required")
	}
	preferencesJSON, err := json.Marshal(profile.Preferences)
	if err != nil {
		return fmt.Errorf("failed to marshal preferences: %w", err)
	}
	mealIDs := profile.Latest.MealIDs
	if mealIDs == nil {
		mealIDs = []string{}
	}

	_, err = db.pool.Exec(ctx,
		`INSERT INTO user_preference_profiles (user_id, preferences, latest_recommendation_meal_ids,
		                                       latest_recommendation_manifest_id, latest_recommendation_generated_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (user_id) DO UPDATE SET
		     preferences = $2,
		     latest_recommendation_meal_ids = $3,
		     latest_recommendation_manifest_id = $4,
		     latest_recommendation_generated_at = $5,
		     updated_at = NOW()`,
		profile.UserID, preferencesJSON, mealIDs, profile.Latest.ManifestID, profile.Latest.GeneratedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert profile: %w", err)
	}
	return nil
}
