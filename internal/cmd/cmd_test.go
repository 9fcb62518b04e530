package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
)

// run executes the command tree in an isolated working directory.
func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	root := Root()
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(args)
	err := root.ExecuteContext(t.Context())
	return out.String(), err
}

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func memoryConfig(t *testing.T) (dir, path string) {
	dir = t.TempDir()
	return dir, writeConfig(t, dir, "store:\n  backend: memory\n")
}

func TestEstimate_FactJSON(t *testing.T) {
	dir, cfg := memoryConfig(t)

	out, err := run(t, "", "estimate", "-C", dir, "-c", cfg,
		"--fact", "churn_rate=0.05", "--json", "monthly churn rate")

	require.NoError(t, err)
	assert.Equal(t, 0.05, gjson.Get(out, "value").Float())
	assert.Equal(t, "tier1/literal", gjson.Get(out, "source").String())
	assert.Equal(t, "monthly churn rate", gjson.Get(out, "question").String())
}

func TestEstimate_TraceJSON(t *testing.T) {
	dir, cfg := memoryConfig(t)

	out, err := run(t, "", "estimate", "-C", dir, "-c", cfg,
		"--fact", "churn_rate=0.05", "--json", "--trace", "monthly churn rate")

	require.NoError(t, err)
	assert.Equal(t, "literal", gjson.Get(out, "phase").String())
	assert.True(t, gjson.Get(out, "evidence_count").Exists())
}

func TestEstimate_Stdin(t *testing.T) {
	dir, cfg := memoryConfig(t)

	out, err := run(t, "monthly churn rate\n", "estimate", "-C", dir, "-c", cfg,
		"--fact", "churn_rate=0.05")

	require.NoError(t, err)
	assert.Contains(t, out, "0.05")
	assert.NotContains(t, out, "\x1b[")
}

func TestEstimate_Errors(t *testing.T) {
	dir, cfg := memoryConfig(t)

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"no question", nil, "no question provided"},
		{"bad fact", []string{"--fact", "churn", "q"}, "invalid fact"},
		{"bad fact value", []string{"--fact", "churn=high", "q"}, "invalid fact"},
		{"bad intent", []string{"--intent", "whimsy", "q"}, "unknown intent"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			args := append([]string{"estimate", "-C", dir, "-c", cfg}, tt.args...)
			_, err := run(t, "", args...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestParseFacts(t *testing.T) {
	tests := []struct {
		name    string
		in      []string
		want    map[string]float64
		wantErr bool
	}{
		{"none", nil, nil, false},
		{"one", []string{"churn_rate=0.05"}, map[string]float64{"churn_rate": 0.05}, false},
		{"spaces", []string{" arpu = 120 "}, map[string]float64{"arpu": 120}, false},
		{"last wins", []string{"a=1", "a=2"}, map[string]float64{"a": 2}, false},
		{"scientific", []string{"tam=1e9"}, map[string]float64{"tam": 1e9}, false},
		{"missing value", []string{"a"}, nil, true},
		{"missing name", []string{"=1"}, nil, true},
		{"not a number", []string{"a=b"}, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseFacts(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRules_SQLiteInDataDir(t *testing.T) {
	dir := t.TempDir()
	cfg := writeConfig(t, dir, "log:\n  level: warn\n")
	dataDir := filepath.Join(dir, "data")

	out, err := run(t, "", "rules", "stats", "-C", dir, "-c", cfg, "-D", dataDir)
	require.NoError(t, err)
	assert.Contains(t, out, "Rules: 0")
	assert.FileExists(t, filepath.Join(dataDir, "rules.db"))

	out, err = run(t, "", "rules", "list", "-C", dir, "-c", cfg, "-D", dataDir)
	require.NoError(t, err)
	assert.Contains(t, out, "No rules learned yet.")

	out, err = run(t, "", "rules", "stats", "--json", "-C", dir, "-c", cfg, "-D", dataDir)
	require.NoError(t, err)
	assert.Equal(t, int64(0), gjson.Get(out, "rules").Int())
}

func TestConfigShow(t *testing.T) {
	dir, cfg := memoryConfig(t)

	out, err := run(t, "", "config", "show", "-C", dir, "-c", cfg)
	require.NoError(t, err)
	assert.Contains(t, out, "backend: memory")

	out, err = run(t, "", "config", "show", "--json", "-C", dir, "-c", cfg, "--log-level", "debug")
	require.NoError(t, err)
	assert.Equal(t, "memory", gjson.Get(out, "store.backend").String())
	assert.Equal(t, "debug", gjson.Get(out, "log.level").String())
}

func TestConfigSchema(t *testing.T) {
	out, err := run(t, "", "config", "schema", "-C", t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, "guesstimate configuration", gjson.Get(out, "title").String())
}

func TestConfigValidate(t *testing.T) {
	dir, cfg := memoryConfig(t)
	out, err := run(t, "", "config", "validate", "-C", dir, "-c", cfg)
	require.NoError(t, err)
	assert.Contains(t, out, "Configuration is valid")

	bad := writeConfig(t, t.TempDir(), "store:\n  backend: mongo\n")
	_, err = run(t, "", "config", "validate", "-C", dir, "-c", bad)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Store.Backend")
}

func TestConfigPath(t *testing.T) {
	dir, _ := memoryConfig(t)
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".guesstimate.yaml"), []byte("{}\n"), 0o644))

	out, err := run(t, "", "config", "path", "-C", dir, "-D", "/srv/guesstimate")
	require.NoError(t, err)
	assert.Contains(t, out, "✓ Project config")
	assert.Contains(t, out, "Data directory: /srv/guesstimate")
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, loadDotEnv(dir))

	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("GUESSTIMATE_TEST_KEY=from-dotenv\n"), 0o644))
	t.Setenv("GUESSTIMATE_TEST_KEY", "")
	os.Unsetenv("GUESSTIMATE_TEST_KEY")
	require.NoError(t, loadDotEnv(dir))
	assert.Equal(t, "from-dotenv", os.Getenv("GUESSTIMATE_TEST_KEY"))
}
