package main

import (
	"os"
	"path/filepath"
	"testing"
)

// getBinaryPath returns the path to the meal_agent binary for testing
func getBinaryPath(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("Skipping CLI tests in short mode")
	}

	binaryPath := filepath.Join("..", "..", "bin", "meal_agent")
	if _, err := os.Stat(binaryPath); os.IsNotExist(err) {
		t.Skipf("Binary not found at %s, build it first with 'go build -o bin/meal_agent ./cmd/meal_agent'", binaryPath)
	}

	return binaryPath
}

// offlineVars points the command at the in-memory store, the fake oracle and a catalog
// written under dir
func offlineVars(t *testing.T, dir string) map[string]string {
	t.Helper()
	manifest := filepath.Join(dir, "manifest.json")
	taxonomy := filepath.Join(dir, "taxonomy.json")
	if err := os.WriteFile(manifest, []byte(testManifest), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(taxonomy, []byte(testTaxonomy), 0o600); err != nil {
		t.Fatal(err)
	}

	return map[string]string{
		"CONFIG_PATH":                 filepath.Join(dir, "absent.yaml"),
		"MEAL_DATABASE__DRIVER":       "memory",
		"MEAL_ORACLE__PROVIDER":       "fake",
		"MEAL_QUEUE__BACKEND":         "memory",
		"MEAL_CATALOG__MANIFEST_PATH": manifest,
		"MEAL_CATALOG__TAXONOMY_PATH": taxonomy,
		"MEAL_LOG__MODE":              "dev",
		"DATABASE_URL":                "",
		"GEMINI_API_KEY":              "",
		"REDIS_ADDR":                  "",
	}
}

// offlineEnv is offlineVars as an environment for the built binary
func offlineEnv(t *testing.T, dir string) []string {
	t.Helper()
	env := os.Environ()
	for k, v := range offlineVars(t, dir) {
		env = append(env, k+"="+v)
	}
	return env
}

// setOfflineEnv applies offlineVars to this process for in-process command tests
func setOfflineEnv(t *testing.T, dir string) {
	t.Helper()
	for k, v := range offlineVars(t, dir) {
		t.Setenv(k, v)
	}
}

const testManifest = `{
  "id": "manifest-cli",
  "version": "1",
  "meals": [
    {"id": "m-1", "name": "Green Curry", "archetype_id": "curry", "tags": {"cuisine": ["thai"]}, "heat_level": 3, "prep_minutes": 25},
    {"id": "m-2", "name": "Margherita", "archetype_id": "pizza", "tags": {"cuisine": ["italian"]}, "heat_level": 0, "prep_minutes": 15},
    {"id": "m-3", "name": "Pad Thai", "archetype_id": "noodles", "tags": {"cuisine": ["thai"]}, "heat_level": 2, "prep_minutes": 20}
  ]
}`

const testTaxonomy = `{"categories": {"cuisine": ["thai", "italian"]}}`
