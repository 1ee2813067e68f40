package steps

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStepRegistry(t *testing.T) {
	expectedSteps := []string{Snapshot, Candidates, Exploration, Recommendation, Persist}

	for _, stepName := range expectedSteps {
		def, ok := StepRegistry[stepName]
		require.True(t, ok, "Step %s should be in registry", stepName)
		assert.Equal(t, stepName, def.Name)
		assert.NotEmpty(t, def.Category)
		for _, dep := range def.Dependencies {
			_, ok := StepRegistry[dep]
			assert.True(t, ok, "dependency %s of %s should be registered", dep, stepName)
		}
	}
}

func TestDependencyError(t *testing.T) {
	err := &DependencyError{
		Step:                "recommendation",
		MissingDependencies: []string{"exploration"},
	}

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "missing dependencies")
	assert.Equal(t, []string{"exploration"}, err.MissingDependencies)
}

func TestValidateDependencies(t *testing.T) {
	err := ValidateDependencies(nil, "unknown_step")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "unknown step")

	assert.NoError(t, ValidateDependencies(nil, Snapshot))

	err = ValidateDependencies(map[string]bool{Snapshot: true}, Recommendation)
	var depErr *DependencyError
	require.ErrorAs(t, err, &depErr)
	assert.Equal(t, []string{Exploration}, depErr.MissingDependencies)

	assert.NoError(t, ValidateDependencies(map[string]bool{Snapshot: true, Exploration: true}, Recommendation))
}

func TestOrder(t *testing.T) {
	assert.Equal(t, []string{Snapshot, Candidates, Exploration, Recommendation, Persist}, Order())
}
