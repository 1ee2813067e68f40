package selection

import (
	"fmt"

	"github.com/jonathan/meal-learner/internal/types"
)

// Batch is one archetype's share of the pool, in pool order
type Batch struct {
	ArchetypeID string
	Candidates  []types.CandidateMeal
}

// IDs returns the batch's meal ids in pool order
func (b Batch) IDs() []string {
	ids := make([]string, len(b.Candidates))
	for i, c := range b.Candidates {
		ids[i] = c.MealID
	}
	return ids
}

// GroupByArchetype splits the pool into one batch per archetype. Archetypes appear in
// order of first occurrence; each batch keeps pool order and holds at most limit
// candidates (limit <= 0 means no cap).
func GroupByArchetype(pool []types.CandidateMeal, limit int) []Batch {
	var batches []Batch
	index := make(map[string]int)
	for _, c := range pool {
		i, ok := index[c.ArchetypeID]
		if !ok {
			i = len(batches)
			index[c.ArchetypeID] = i
			batches = append(batches, Batch{ArchetypeID: c.ArchetypeID})
		}
		if limit > 0 && len(batches[i].Candidates) >= limit {
			continue
		}
		batches[i].Candidates = append(batches[i].Candidates, c)
	}
	return batches
}

// Materialize resolves oracle-selected ids against a batch. The result keeps batch order
// and contains each resolvable id once; ids outside the batch are returned as unknown.
func Materialize(batch Batch, ids []string) (selected []types.CandidateMeal, unknown []string) {
	chosen := make(map[string]struct{}, len(ids))
	inBatch := make(map[string]struct{}, len(batch.Candidates))
	for _, c := range batch.Candidates {
		inBatch[c.MealID] = struct{}{}
	}
	for _, id := range ids {
		if _, ok := inBatch[id]; !ok {
			unknown = append(unknown, id)
			continue
		}
		chosen[id] = struct{}{}
	}
	for _, c := range batch.Candidates {
		if _, ok := chosen[c.MealID]; ok {
			selected = append(selected, c)
		}
	}
	return selected, unknown
}

// Hydrate looks up each id in the index, preserving id order. Every id must be present.
func Hydrate(ids []string, index map[string]types.CandidateMeal) ([]types.CandidateMeal, error) {
	result := make([]types.CandidateMeal, 0, len(ids))
	for _, id := range ids {
		c, ok := index[id]
		if !ok {
			return nil, &Error{
				Message: fmt.Sprintf("meal not found in candidate pool (meal_id: %s)", id),
			}
		}
		result = append(result, c)
	}
	return result, nil
}
