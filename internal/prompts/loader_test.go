package prompts

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGet_OraclePrompts(t *testing.T) {
	ClearCache()

	explore, err := Get(OracleFile, KeyExplore)
	require.NoError(t, err)
	assert.Contains(t, explore, "{{.ArchetypeID}}")
	assert.Contains(t, explore, `{"ids"`)

	recommend, err := Get(OracleFile, KeyRecommend)
	require.NoError(t, err)
	assert.Contains(t, recommend, "{{.Count}}")
}

func TestGet_InvalidFile(t *testing.T) {
	ClearCache()

	_, err := Get("nonexistent.json", "some-key")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read prompt file")
}

func TestGet_InvalidKey(t *testing.T) {
	ClearCache()

	_, err := Get(OracleFile, "nonexistent-key")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestMustGet(t *testing.T) {
	ClearCache()

	assert.Panics(t, func() {
		MustGet("nonexistent.json", "some-key")
	})
	assert.NotPanics(t, func() {
		assert.NotEmpty(t, MustGet(OracleFile, KeyExplore))
	})
}

func TestFormat(t *testing.T) {
	template := "Pick {{.Count}} from {{.ArchetypeID}}, then {{.Count}} again"
	result := Format(template, map[string]string{"Count": "3", "ArchetypeID": "curry"})
	assert.Equal(t, "Pick 3 from curry, then 3 again", result)
}

func TestFormat_MissingData(t *testing.T) {
	assert.Equal(t, "Hello {{.Name}}", Format("Hello {{.Name}}", map[string]string{}))
}

func TestFormat_ValuesAreNotReexpanded(t *testing.T) {
	result := Format("{{.A}}", map[string]string{"A": "{{.B}}", "B": "x"})
	assert.Equal(t, "{{.B}}", result)
}

func TestList(t *testing.T) {
	ClearCache()

	keys, err := List(OracleFile)
	require.NoError(t, err)
	assert.Equal(t, []string{KeyExplore, KeyRecommend}, keys)
}
