// Package snapshot loads the state a learning run works from: the user's preference profile,
// its canonical usage snapshot and the aggregated feedback summary.
package snapshot

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/jonathan/meal-learner/internal/feedback"
	"github.com/jonathan/meal-learner/internal/store"
	"github.com/jonathan/meal-learner/internal/types"
)

// ErrNoProfile is returned when the user has no preference profile
var ErrNoProfile = errors.New("no preference profile")

// Snapshot is everything the downstream stages read about the user
type Snapshot struct {
	Profile  *types.UserPreferenceProfile
	Usage    types.UsageSnapshot
	Feedback *types.FeedbackSummary
}

// Collector assembles snapshots
type Collector struct {
	profiles store.ProfileStore
	feedback *feedback.Aggregator
}

func NewCollector(profiles store.ProfileStore, agg *feedback.Aggregator) *Collector {
	return &Collector{profiles: profiles, feedback: agg}
}

// Collect loads the profile and feedback. A missing profile yields ErrNoProfile and no
// feedback is read.
func (c *Collector) Collect(ctx context.Context, userID uuid.UUID) (*Snapshot, error) {
	profile, err := c.profiles.GetProfile(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load profile: %w", err)
	}
	if profile == nil {
		return nil, ErrNoProfile
	}

	summary := types.NewFeedbackSummary()
	if c.feedback != nil {
		summary, err = c.feedback.Summarize(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("failed to summarize feedback: %w", err)
		}
	}

	return &Snapshot{
		Profile:  profile,
		Usage:    UsageFromProfile(profile),
		Feedback: summary,
	}, nil
}

// UsageFromProfile derives the canonical usage snapshot. Nil and empty collections are
// normalized so that equivalent profiles fingerprint identically.
func UsageFromProfile(p *types.UserPreferenceProfile) types.UsageSnapshot {
	if p == nil {
		return types.UsageSnapshot{}
	}
	usage := types.UsageSnapshot{
		Tags: types.TagPreferences{
			Liked:    compactTags(p.Preferences.Tags.Liked),
			Disliked: compactTags(p.Preferences.Tags.Disliked),
		},
		Constraints: types.DietaryConstraints{
			RequiredDietary: nonEmpty(p.Preferences.Constraints.RequiredDietary),
			Allergens:       nonEmpty(p.Preferences.Constraints.Allergens),
			MaxHeat:         p.Preferences.Constraints.MaxHeat,
			MaxPrepMinutes:  p.Preferences.Constraints.MaxPrepMinutes,
		},
	}
	if len(p.Latest.MealIDs) > 0 || p.Latest.ManifestID != nil || p.Latest.GeneratedAt != nil {
		latest := types.LatestRecommendation{
			MealIDs:     append([]string{}, p.Latest.MealIDs...),
			ManifestID:  p.Latest.ManifestID,
			GeneratedAt: p.Latest.GeneratedAt,
		}
		if latest.GeneratedAt != nil {
			utc := latest.GeneratedAt.UTC()
			latest.GeneratedAt = &utc
		}
		usage.LatestRecommendation = &latest
	}
	return usage
}

func compactTags(tags map[string][]string) map[string][]string {
	var out map[string][]string
	for category, values := range tags {
		if len(values) == 0 {
			continue
		}
		if out == nil {
			out = make(map[string][]string, len(tags))
		}
		out[category] = append([]string(nil), values...)
	}
	return out
}

func nonEmpty(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	return append([]string(nil), values...)
}
