// Package feedback reduces historical like/dislike events from several sources into tag
// counts used as prompt context.
package feedback

import (
	"context"
	"sort"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/jonathan/meal-learner/internal/logger"
	"github.com/jonathan/meal-learner/internal/store"
	"github.com/jonathan/meal-learner/internal/types"
)

// MealCategory keys per-meal counts in the summary alongside tag counts
const MealCategory = "meal"

// Source yields a user's feedback events from one origin
type Source interface {
	Name() string
	Events(ctx context.Context, userID uuid.UUID) ([]types.FeedbackEvent, error)
}

// StoreSource reads one named source out of a FeedbackStore
type StoreSource struct {
	name  string
	store store.FeedbackStore
}

func NewStoreSource(name string, fs store.FeedbackStore) *StoreSource {
	return &StoreSource{name: name, store: fs}
}

func (s *StoreSource) Name() string { return s.name }

func (s *StoreSource) Events(ctx context.Context, userID uuid.UUID) ([]types.FeedbackEvent, error) {
	return s.store.ListFeedback(ctx, userID, s.name)
}

// Aggregator fans in over every source concurrently
type Aggregator struct {
	sources []Source
	log     *logger.Logger
}

func NewAggregator(log *logger.Logger, sources ...Source) *Aggregator {
	return &Aggregator{sources: sources, log: log.With("component", "feedback")}
}

// Summarize loads every source and reduces the events. A failing source is logged and
// left out of the summary; Summarize itself only fails when ctx is done.
func (a *Aggregator) Summarize(ctx context.Context, userID uuid.UUID) (*types.FeedbackSummary, error) {
	results := make([][]types.FeedbackEvent, len(a.sources))
	ok := make([]bool, len(a.sources))

	g, gctx := errgroup.WithContext(ctx)
	for i, src := range a.sources {
		g.Go(func() error {
			events, err := src.Events(gctx, userID)
			if err != nil {
				a.log.Warn("feedback source failed", "source", src.Name(), "user_id", userID.String(), "error", err)
				return nil
			}
			results[i] = events
			ok[i] = true
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	summary := types.NewFeedbackSummary()
	for i, src := range a.sources {
		if !ok[i] {
			continue
		}
		summary.Sources = append(summary.Sources, src.Name())
		Reduce(summary, results[i])
	}
	return summary, nil
}

// Reduce adds each event's tags and meal id to the summary counts
func Reduce(summary *types.FeedbackSummary, events []types.FeedbackEvent) {
	for _, ev := range events {
		var counts map[string]int
		switch ev.Sentiment {
		case types.SentimentLike:
			counts = summary.Liked
		case types.SentimentDislike:
			counts = summary.Disliked
		default:
			continue
		}
		if ev.MealID != "" {
			counts[types.TagKey(MealCategory, ev.MealID)]++
		}
		for category, values := range ev.Tags {
			for _, v := range values {
				counts[types.TagKey(category, v)]++
			}
		}
	}
}

// TopKeys returns up to n keys ordered by count descending, then key ascending
func TopKeys(counts map[string]int, n int) []string {
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if counts[keys[i]] != counts[keys[j]] {
			return counts[keys[i]] > counts[keys[j]]
		}
		return keys[i] < keys[j]
	})
	if n > 0 && len(keys) > n {
		keys = keys[:n]
	}
	return keys
}
