// Package oracle defines the request and response contracts for the external ranking oracle
// and the LLM-backed implementation used in production.
package oracle

import (
	"context"
	"errors"

	"github.com/jonathan/meal-learner/internal/types"
)

var (
	// ErrMalformedResponse means the response could not be read as a selection at all
	ErrMalformedResponse = errors.New("malformed oracle response")
	// ErrUnavailable means the call was refused without reaching the oracle
	ErrUnavailable = errors.New("oracle unavailable")
)

// Candidate is the condensed view of a meal sent to the oracle
type Candidate struct {
	ID          string              `json:"id"`
	Name        string              `json:"name"`
	ArchetypeID string              `json:"archetype_id"`
	Tags        map[string][]string `json:"tags,omitempty"`
}

// Context is the user state shared by both request kinds
type Context struct {
	Usage        types.UsageSnapshot    `json:"usage"`
	Feedback     *types.FeedbackSummary `json:"feedback,omitempty"`
	EventContext any                    `json:"event_context,omitempty"`
}

// ExploreRequest asks for up to Count picks from one archetype batch
type ExploreRequest struct {
	Context
	ArchetypeID string      `json:"archetype_id"`
	Candidates  []Candidate `json:"candidates"`
	Count       int         `json:"count"`
}

// RecommendRequest asks for the final ranked Count picks from the shortlist
type RecommendRequest struct {
	Context
	Candidates []Candidate `json:"candidates"`
	Count      int         `json:"count"`
}

// Selection is the oracle's answer: meal ids in preference order plus free-form notes
type Selection struct {
	IDs   []string `json:"ids"`
	Notes []string `json:"notes,omitempty"`
}

// Oracle ranks and selects candidate meals
type Oracle interface {
	Explore(ctx context.Context, req ExploreRequest) (*Selection, error)
	Recommend(ctx context.Context, req RecommendRequest) (*Selection, error)
	// Model identifies the oracle for the audit record
	Model() string
}

// Condense maps candidate meals to their oracle view
func Condense(meals []types.CandidateMeal) []Candidate {
	out := make([]Candidate, len(meals))
	for i, m := range meals {
		out[i] = Candidate{
			ID:          m.MealID,
			Name:        m.Name,
			ArchetypeID: m.ArchetypeID,
			Tags:        m.Tags,
		}
	}
	return out
}
