package types

import (
	"time"

	"github.com/google/uuid"
)

// TagPreferences holds liked and disliked tag values keyed by taxonomy category
type TagPreferences struct {
	Liked    map[string][]string `json:"liked,omitempty"`
	Disliked map[string][]string `json:"disliked,omitempty"`
}

// DietaryConstraints are hard filters applied when building the candidate pool
type DietaryConstraints struct {
	// RequiredDietary lists dietary tags every candidate must carry (e.g. "vegetarian")
	RequiredDietary []string `json:"required_dietary,omitempty"`
	// Allergens lists allergen tags no candidate may carry
	Allergens      []string `json:"allergens,omitempty"`
	MaxHeat        *int     `json:"max_heat,omitempty"`
	MaxPrepMinutes *int     `json:"max_prep_minutes,omitempty"`
}

// Preferences is the user-controlled part of a profile
type Preferences struct {
	Tags        TagPreferences     `json:"tags"`
	Constraints DietaryConstraints `json:"constraints"`
}

// LatestRecommendation is the subset of a profile written by the learning pipeline
type LatestRecommendation struct {
	MealIDs     []string   `json:"meal_ids"`
	ManifestID  *string    `json:"manifest_id,omitempty"`
	GeneratedAt *time.Time `json:"generated_at,omitempty"`
}

// UserPreferenceProfile is owned by the wider system; the pipeline only updates Latest
type UserPreferenceProfile struct {
	UserID      uuid.UUID            `json:"user_id"`
	Preferences Preferences          `json:"preferences"`
	Latest      LatestRecommendation `json:"latest_recommendation"`
	UpdatedAt   time.Time            `json:"updated_at"`
}

// UsageSnapshot is the canonical view of a profile used for prompting and fingerprinting
type UsageSnapshot struct {
	Tags                 TagPreferences        `json:"tags"`
	Constraints          DietaryConstraints    `json:"constraints"`
	LatestRecommendation *LatestRecommendation `json:"latest_recommendation,omitempty"`
}
