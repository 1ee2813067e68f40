// Package candidates builds the per-run candidate pool by filtering the catalog manifest
// against a user's dietary constraints and tag preferences.
package candidates

import (
	"context"
	"errors"
	"fmt"

	"github.com/jonathan/meal-learner/internal/catalog"
	"github.com/jonathan/meal-learner/internal/logger"
	"github.com/jonathan/meal-learner/internal/types"
)

// ErrNoCandidates is returned when nothing survives filtering
var ErrNoCandidates = errors.New("no candidates after filtering")

// DefaultMaxPoolSize bounds the pool when no limit is configured
const DefaultMaxPoolSize = 200

// Pool is the ordered candidate list for one run plus its catalog provenance
type Pool struct {
	Candidates      []types.CandidateMeal `json:"-"`
	ManifestID      string                `json:"manifest_id"`
	ManifestVersion string                `json:"manifest_version"`
	Dropped         map[string]int        `json:"dropped,omitempty"`
}

// Size returns the number of candidates
func (p *Pool) Size() int {
	if p == nil {
		return 0
	}
	return len(p.Candidates)
}

// Index returns the candidates keyed by meal id
func (p *Pool) Index() map[string]types.CandidateMeal {
	idx := make(map[string]types.CandidateMeal, len(p.Candidates))
	for _, c := range p.Candidates {
		idx[c.MealID] = c
	}
	return idx
}

// IDs returns the meal ids in pool order
func (p *Pool) IDs() []string {
	ids := make([]string, len(p.Candidates))
	for i, c := range p.Candidates {
		ids[i] = c.MealID
	}
	return ids
}

// Drop reasons recorded in Pool.Dropped
const (
	dropTaxonomy  = "taxonomy"
	dropDietary   = "dietary"
	dropAllergen  = "allergen"
	dropHeat      = "heat"
	dropPrepTime  = "prep_time"
	dropDisliked  = "disliked"
	dropExcluded  = "excluded"
	dropDuplicate = "duplicate"
	dropPoolLimit = "pool_limit"
)

// Builder filters a catalog Source into a Pool
type Builder struct {
	source      catalog.Source
	maxPoolSize int
	log         *logger.Logger
}

func NewBuilder(source catalog.Source, maxPoolSize int, log *logger.Logger) *Builder {
	if maxPoolSize <= 0 {
		maxPoolSize = DefaultMaxPoolSize
	}
	return &Builder{source: source, maxPoolSize: maxPoolSize, log: log.With("component", "candidates")}
}

// Build returns the eligible candidates in catalog order, or ErrNoCandidates
func (b *Builder) Build(ctx context.Context, prefs types.Preferences, exclude []string) (*Pool, error) {
	c, err := b.source.Catalog(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load catalog: %w", err)
	}

	pool := Filter(c, prefs, exclude, b.maxPoolSize)
	b.log.Debug("candidate pool built",
		"manifest_id", pool.ManifestID,
		"catalog_size", len(c.Manifest.Meals),
		"pool_size", pool.Size(),
		"dropped", pool.Dropped,
	)
	if pool.Size() == 0 {
		return pool, ErrNoCandidates
	}
	return pool, nil
}

// Filter applies every constraint to the catalog in manifest order. maxPoolSize <= 0 means
// unbounded.
func Filter(c *catalog.Catalog, prefs types.Preferences, exclude []string, maxPoolSize int) *Pool {
	pool := &Pool{
		ManifestID:      c.Manifest.ID,
		ManifestVersion: c.Manifest.Version,
		Dropped:         make(map[string]int),
	}

	excluded := toSet(exclude)
	allergens := toSet(prefs.Constraints.Allergens)
	seen := make(map[string]struct{}, len(c.Manifest.Meals))

	for i, meal := range c.Manifest.Meals {
		reason := rejectReason(meal, &c.Taxonomy, prefs, allergens, excluded)
		if reason == "" {
			if _, dup := seen[meal.ID]; dup {
				reason = dropDuplicate
			}
		}
		if reason == "" && maxPoolSize > 0 && len(pool.Candidates) >= maxPoolSize {
			reason = dropPoolLimit
		}
		if reason != "" {
			pool.Dropped[reason]++
			continue
		}

		seen[meal.ID] = struct{}{}
		pool.Candidates = append(pool.Candidates, types.CandidateMeal{
			MealID:      meal.ID,
			Name:        meal.Name,
			ArchetypeID: meal.ArchetypeID,
			Tags:        meal.Tags,
			HeatLevel:   meal.HeatLevel,
			PrepMinutes: meal.PrepMinutes,
			Source: types.CatalogRef{
				ManifestID: c.Manifest.ID,
				Version:    c.Manifest.Version,
				Index:      i,
			},
		})
	}
	return pool
}

func rejectReason(meal catalog.Meal, tax *catalog.Taxonomy, prefs types.Preferences, allergens, excluded map[string]struct{}) string {
	if !tax.Allows(meal.Tags) {
		return dropTaxonomy
	}

	dietary := toSet(meal.Tags[types.TagCategoryDietary])
	for _, required := range prefs.Constraints.RequiredDietary {
		if _, ok := dietary[required]; !ok {
			return dropDietary
		}
	}
	for _, a := range meal.Tags[types.TagCategoryAllergen] {
		if _, ok := allergens[a]; ok {
			return dropAllergen
		}
	}

	if limit := prefs.Constraints.MaxHeat; limit != nil && meal.HeatLevel > *limit {
		return dropHeat
	}
	if limit := prefs.Constraints.MaxPrepMinutes; limit != nil && meal.PrepMinutes > *limit {
		return dropPrepTime
	}

	for category, disliked := range prefs.Tags.Disliked {
		tags := toSet(meal.Tags[category])
		for _, d := range disliked {
			if _, ok := tags[d]; ok {
				return dropDisliked
			}
		}
	}

	if _, ok := excluded[meal.ID]; ok {
		return dropExcluded
	}
	return ""
}

func toSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		set[v] = struct{}{}
	}
	return set
}
