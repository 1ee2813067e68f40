package oracle

import (
	"context"
	"sync"
)

// Fake is a scriptable Oracle for tests and dry runs. When a func field is nil the
// corresponding call picks the first Count candidates.
type Fake struct {
	ExploreFunc   func(ctx context.Context, req ExploreRequest) (*Selection, error)
	RecommendFunc func(ctx context.Context, req RecommendRequest) (*Selection, error)
	ModelName     string

	mu             sync.Mutex
	exploreCalls   []ExploreRequest
	recommendCalls []RecommendRequest
}

// Model returns ModelName, or "fake"
func (f *Fake) Model() string {
	if f.ModelName == "" {
		return "fake"
	}
	return f.ModelName
}

// Explore records the request and answers it
func (f *Fake) Explore(ctx context.Context, req ExploreRequest) (*Selection, error) {
	f.mu.Lock()
	f.exploreCalls = append(f.exploreCalls, req)
	f.mu.Unlock()

	if f.ExploreFunc != nil {
		return f.ExploreFunc(ctx, req)
	}
	return firstN(req.Candidates, req.Count), nil
}

// Recommend records the request and answers it
func (f *Fake) Recommend(ctx context.Context, req RecommendRequest) (*Selection, error) {
	f.mu.Lock()
	f.recommendCalls = append(f.recommendCalls, req)
	f.mu.Unlock()

	if f.RecommendFunc != nil {
		return f.RecommendFunc(ctx, req)
	}
	return firstN(req.Candidates, req.Count), nil
}

// ExploreCalls returns a copy of the recorded Explore requests
func (f *Fake) ExploreCalls() []ExploreRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]ExploreRequest(nil), f.exploreCalls...)
}

// RecommendCalls returns a copy of the recorded Recommend requests
func (f *Fake) RecommendCalls() []RecommendRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]RecommendRequest(nil), f.recommendCalls...)
}

func firstN(candidates []Candidate, n int) *Selection {
	if n > len(candidates) {
		n = len(candidates)
	}
	if n < 0 {
		n = 0
	}
	ids := make([]string, 0, n)
	for _, c := range candidates[:n] {
		ids = append(ids, c.ID)
	}
	return &Selection{IDs: ids}
}
