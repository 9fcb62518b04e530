package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_Valid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 0.95, cfg.Escalation.RuleSimilarity)
	assert.Equal(t, 0.80, cfg.Escalation.ContextMatch)
	assert.Equal(t, 0.3, cfg.Collect.ConsensusBand)
	assert.Equal(t, 6, cfg.Fermi.RecommendedVariables)
	assert.Equal(t, 10, cfg.Fermi.MaxVariables)
	assert.Equal(t, 4, cfg.Fermi.MaxDepth)
	assert.Equal(t, 10_000.0, cfg.Collect.MaxWidthRatio)
	assert.Equal(t, 0.8, cfg.Learning.MinConfidence)
	assert.Equal(t, 0.9, cfg.Learning.SingleEvidenceConfidence)
	assert.Less(t, cfg.Escalation.Timeouts.RuleSearch, time.Second)
}

func TestLoad_EmptyPath(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_OverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
store:
  backend: badger
  path: /tmp/rules
escalation:
  rule_similarity: 0.9
  timeouts:
    guestimate: 2s
fermi:
  max_depth: 2
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, BackendBadger, cfg.Store.Backend)
	assert.Equal(t, 0.9, cfg.Escalation.RuleSimilarity)
	assert.Equal(t, 2*time.Second, cfg.Escalation.Timeouts.Guestimate)
	assert.Equal(t, 2, cfg.Fermi.MaxDepth)
	// Untouched fields keep their defaults.
	assert.Equal(t, 0.80, cfg.Escalation.ContextMatch)
	assert.Equal(t, 30*time.Second, cfg.Escalation.Timeouts.Fermi)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"similarity above one", "escalation:\n  rule_similarity: 1.5\n", "Escalation.RuleSimilarity"},
		{"unknown backend", "store:\n  backend: postgres\n", "Store.Backend"},
		{"badger without path", "store:\n  backend: badger\n", "Store.Path"},
		{"variable ceilings inverted", "fermi:\n  recommended_variables: 8\n  max_variables: 6\n", "Fermi.MaxVariables"},
		{"bad level", "log:\n  level: verbose\n", "Log.Level"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.yaml")
			require.NoError(t, os.WriteFile(path, []byte(tt.yaml), 0o644))

			_, err := Load(path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoad_Malformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("store: [unterminated"), 0o644))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse config")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestFind_ProjectFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ProjectFile)
	require.NoError(t, os.WriteFile(path, []byte("{}\n"), 0o644))

	assert.Equal(t, path, Find(dir))
}

func TestSchema(t *testing.T) {
	data, err := Schema()
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(data, &doc))
	assert.Equal(t, "guesstimate configuration", doc["title"])

	props, ok := doc["properties"].(map[string]any)
	require.True(t, ok)
	for _, key := range []string{"escalation", "fermi", "learning", "store"} {
		assert.Contains(t, props, key)
	}
}
