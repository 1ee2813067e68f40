package types

import "time"

// Tag categories understood by the candidate filters
const (
	TagCategoryDietary  = "dietary"
	TagCategoryAllergen = "allergen"
	TagCategoryCuisine  = "cuisine"
	TagCategoryProtein  = "protein"
)

// CatalogRef points back at the catalog record a candidate was built from
type CatalogRef struct {
	ManifestID string `json:"manifest_id"`
	Version    string `json:"version"`
	Index      int    `json:"index"`
}

// CandidateMeal is a catalog meal that passed pool filtering for a single run
type CandidateMeal struct {
	MealID      string              `json:"meal_id"`
	Name        string              `json:"name"`
	ArchetypeID string              `json:"archetype_id"`
	Tags        map[string][]string `json:"tags"`
	HeatLevel   int                 `json:"heat_level"`
	PrepMinutes int                 `json:"prep_minutes"`
	Source      CatalogRef          `json:"source"`
}

// Recommendation sources
const (
	RecommendationSourceOracle   = "oracle"
	RecommendationSourceFallback = "fallback"
)

// Recommendation is one hydrated entry of the final ranked list
type Recommendation struct {
	MealID      string              `json:"meal_id"`
	Name        string              `json:"name"`
	ArchetypeID string              `json:"archetype_id"`
	Tags        map[string][]string `json:"tags,omitempty"`
	Source      string              `json:"source"`
}

// Feedback sentiments
const (
	SentimentLike    = "like"
	SentimentDislike = "dislike"
)

// FeedbackEvent is one historical like/dislike signal
type FeedbackEvent struct {
	UserID    string              `json:"user_id"`
	MealID    string              `json:"meal_id"`
	Source    string              `json:"source"`
	Sentiment string              `json:"sentiment"`
	Tags      map[string][]string `json:"tags,omitempty"`
	CreatedAt time.Time           `json:"created_at"`
}

// FeedbackSummary aggregates like/dislike counts per "category:value" tag key
type FeedbackSummary struct {
	Liked    map[string]int `json:"liked"`
	Disliked map[string]int `json:"disliked"`
	Sources  []string       `json:"sources"`
}

// NewFeedbackSummary returns an empty, non-nil summary
func NewFeedbackSummary() *FeedbackSummary {
	return &FeedbackSummary{
		Liked:    make(map[string]int),
		Disliked: make(map[string]int),
		Sources:  []string{},
	}
}

// TagKey formats a category/value pair the way FeedbackSummary keys it
func TagKey(category, value string) string {
	return category + ":" + value
}
