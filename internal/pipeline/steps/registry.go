// Package steps provides the stage definitions and dependency checks for the learning
// pipeline.
package steps

import (
	"fmt"
	"sort"
)

// Stage names. They double as keys in the run payload's timings.
const (
	Snapshot       = "snapshot"
	Candidates     = "candidates"
	Exploration    = "exploration"
	Recommendation = "recommendation"
	Persist        = "persist"
)

// Stage categories
const (
	CategoryContext     = "context"
	CategorySelection   = "selection"
	CategoryPersistence = "persistence"
)

// StepDefinition defines metadata for a pipeline stage
type StepDefinition struct {
	Name         string
	Category     string
	Dependencies []string
}

// StepRegistry holds all stage definitions
var StepRegistry = map[string]StepDefinition{
	Snapshot: {
		Name:         Snapshot,
		Category:     CategoryContext,
		Dependencies: []string{},
	},
	Candidates: {
		Name:         Candidates,
		Category:     CategoryContext,
		Dependencies: []string{Snapshot},
	},
	Exploration: {
		Name:         Exploration,
		Category:     CategorySelection,
		Dependencies: []string{Candidates},
	},
	Recommendation: {
		Name:         Recommendation,
		Category:     CategorySelection,
		Dependencies: []string{Snapshot, Exploration},
	},
	Persist: {
		Name:         Persist,
		Category:     CategoryPersistence,
		Dependencies: []string{Recommendation},
	},
}

// DependencyError represents a dependency validation error
type DependencyError struct {
	Step                string
	MissingDependencies []string
}

func (e *DependencyError) Error() string {
	return fmt.Sprintf("stage %s missing dependencies: %v", e.Step, e.MissingDependencies)
}

// ValidateDependencies checks that every dependency of stepName is in completed
func ValidateDependencies(completed map[string]bool, stepName string) error {
	def, ok := StepRegistry[stepName]
	if !ok {
		return fmt.Errorf("unknown step: %s", stepName)
	}

	var missing []string
	for _, dep := range def.Dependencies {
		if !completed[dep] {
			missing = append(missing, dep)
		}
	}
	if len(missing) > 0 {
		return &DependencyError{
			Step:                stepName,
			MissingDependencies: missing,
		}
	}
	return nil
}

// Order returns the stages in dependency order, ties broken by name
func Order() []string {
	done := make(map[string]bool, len(StepRegistry))
	order := make([]string, 0, len(StepRegistry))
	for len(order) < len(StepRegistry) {
		var ready []string
		for name := range StepRegistry {
			if done[name] {
				continue
			}
			if ValidateDependencies(done, name) == nil {
				ready = append(ready, name)
			}
		}
		if len(ready) == 0 {
			// cycle; registry is static so this cannot happen at runtime
			break
		}
		sort.Strings(ready)
		for _, name := range ready {
			done[name] = true
			order = append(order, name)
		}
	}
	return order
}
