// Package catalog loads the meal catalog manifest and the tag taxonomy that the candidate
// pool is built from.
package catalog

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
)

// Meal is one catalog record
type Meal struct {
	ID          string              `json:"id" validate:"required"`
	Name        string              `json:"name" validate:"required"`
	ArchetypeID string              `json:"archetype_id" validate:"required"`
	Tags        map[string][]string `json:"tags"`
	HeatLevel   int                 `json:"heat_level" validate:"gte=0"`
	PrepMinutes int                 `json:"prep_minutes" validate:"gte=0"`
}

// Manifest is a versioned snapshot of the orderable catalog
type Manifest struct {
	ID      string `json:"id" validate:"required"`
	Version string `json:"version"`
	Meals   []Meal `json:"meals" validate:"dive"`
}

// Taxonomy lists the allowed values per tag category
type Taxonomy struct {
	Categories map[string][]string `json:"categories" validate:"required"`

	index map[string]map[string]struct{}
}

// Allows reports whether every category and value in tags is known
func (t *Taxonomy) Allows(tags map[string][]string) bool {
	for category, values := range tags {
		for _, v := range values {
			if !t.has(category, v) {
				return false
			}
		}
		if _, ok := t.Categories[category]; !ok {
			return false
		}
	}
	return true
}

func (t *Taxonomy) has(category, value string) bool {
	if t.index != nil {
		_, ok := t.index[category][value]
		return ok
	}
	for _, v := range t.Categories[category] {
		if v == value {
			return true
		}
	}
	return false
}

func (t *Taxonomy) buildIndex() {
	t.index = make(map[string]map[string]struct{}, len(t.Categories))
	for category, values := range t.Categories {
		set := make(map[string]struct{}, len(values))
		for _, v := range values {
			set[v] = struct{}{}
		}
		t.index[category] = set
	}
}

// Catalog pairs a manifest with the taxonomy its tags are checked against
type Catalog struct {
	Manifest Manifest
	Taxonomy Taxonomy
}

// Source provides the current catalog
type Source interface {
	Catalog(ctx context.Context) (*Catalog, error)
}

var validate = validator.New()

// Loader parses a manifest and taxonomy from two blobs
type Loader struct {
	manifest Blob
	taxonomy Blob
}

func NewLoader(manifest, taxonomy Blob) *Loader {
	return &Loader{manifest: manifest, taxonomy: taxonomy}
}

// Catalog loads and validates both documents
func (l *Loader) Catalog(ctx context.Context) (*Catalog, error) {
	manifestData, err := l.manifest.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load manifest: %w", err)
	}
	taxonomyData, err := l.taxonomy.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load taxonomy: %w", err)
	}
	return Parse(manifestData, taxonomyData)
}

// Parse decodes and validates a manifest and taxonomy
func Parse(manifestData, taxonomyData []byte) (*Catalog, error) {
	var c Catalog
	if err := json.Unmarshal(manifestData, &c.Manifest); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}
	if err := validate.Struct(c.Manifest); err != nil {
		return nil, fmt.Errorf("invalid manifest: %w", err)
	}
	if err := json.Unmarshal(taxonomyData, &c.Taxonomy); err != nil {
		return nil, fmt.Errorf("failed to parse taxonomy: %w", err)
	}
	if err := validate.Struct(c.Taxonomy); err != nil {
		return nil, fmt.Errorf("invalid taxonomy: %w", err)
	}
	c.Taxonomy.buildIndex()
	return &c, nil
}

// CachedSource reloads the wrapped source at most once per TTL
type CachedSource struct {
	src Source
	ttl time.Duration
	now func() time.Time

	mu       sync.Mutex
	cached   *Catalog
	loadedAt time.Time
}

func NewCachedSource(src Source, ttl time.Duration) *CachedSource {
	return &CachedSource{src: src, ttl: ttl, now: time.Now}
}

func (c *CachedSource) Catalog(ctx context.Context) (*Catalog, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cached != nil && c.now().Sub(c.loadedAt) < c.ttl {
		return c.cached, nil
	}
	fresh, err := c.src.Catalog(ctx)
	if err != nil {
		if c.cached != nil {
			// stale catalog wins over a failed reload
			return c.cached, nil
		}
		return nil, err
	}
	c.cached = fresh
	c.loadedAt = c.now()
	return fresh, nil
}

type staticSource struct {
	c *Catalog
}

// Static returns a Source that always yields c
func Static(c *Catalog) Source {
	if c != nil {
		c.Taxonomy.buildIndex()
	}
	return staticSource{c: c}
}

func (s staticSource) Catalog(ctx context.Context) (*Catalog, error) {
	if s.c == nil {
		return nil, fmt.Errorf("no catalog configured")
	}
	return s.c, nil
}
