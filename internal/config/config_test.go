package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_ValidJSON(t *testing.T) {
	// Create temp config file
	content := `{
		"port": 9090,
		"data_dir": "/srv/files",
		"fec_api_key": "file-key",
		"cycle": 2024
	}`

	tmpFile := filepath.Join(t.TempDir(), "config.json")
	err := os.WriteFile(tmpFile, []byte(content), 0644)
	require.NoError(t, err)

	cfg, err := LoadConfig(tmpFile)
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, "/srv/files", cfg.DataDir)
	assert.Equal(t, "file-key", cfg.FECAPIKey)
	assert.Equal(t, 2024, cfg.Cycle)
}

func TestLoadConfig_InvalidJSON(t *testing.T) {
	content := `{ invalid json }`

	tmpFile := filepath.Join(t.TempDir(), "config.json")
	err := os.WriteFile(tmpFile, []byte(content), 0644)
	require.NoError(t, err)

	cfg, err := LoadConfig(tmpFile)
	assert.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "failed to parse config JSON")
}

func TestLoadConfig_FileNotFound(t *testing.T) {
	cfg, err := LoadConfig("/nonexistent/path/config.json")
	assert.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "failed to read config file")
}

func TestLoadConfig_EmptyPath(t *testing.T) {
	cfg, err := LoadConfig("")
	assert.Error(t, err)
	assert.Nil(t, cfg)
	assert.Contains(t, err.Error(), "config path is empty")
}

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("DATA_DIR", "")
	t.Setenv("FEC_CYCLE", "")
	t.Setenv("FEC_API_KEY", "")

	cfg := Load()
	assert.Equal(t, DefaultPort, cfg.Port)
	assert.Equal(t, DefaultDataDir, cfg.DataDir)
	assert.Equal(t, DefaultCycle, cfg.Cycle)
	assert.Equal(t, DefaultMarkersPath, cfg.MarkersPath)
	assert.Equal(t, DefaultFECBaseURL, cfg.FECBaseURL)
	assert.Empty(t, cfg.FECAPIKey)
}

func TestLoad_FromEnvironment(t *testing.T) {
	t.Setenv("PORT", "3000")
	t.Setenv("FEC_API_KEY", "env-key")
	t.Setenv("MAP_API_KEY", "map-key")
	t.Setenv("FEC_CYCLE", "not-a-number")

	cfg := Load()
	assert.Equal(t, 3000, cfg.Port)
	assert.Equal(t, "env-key", cfg.FECAPIKey)
	assert.Equal(t, "map-key", cfg.MapAPIKey)
	assert.Equal(t, DefaultCycle, cfg.Cycle, "unparseable values fall back to the default")
}

func TestValidate_PortRange(t *testing.T) {
	cfg := &Config{Port: 70000, DataDir: "d", MarkersPath: "m.json"}

	err := cfg.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "port")
}

func TestValidate_OddCycle(t *testing.T) {
	cfg := &Config{Port: 8080, Cycle: 2025, DataDir: "d", MarkersPath: "m.json"}

	err := cfg.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "cycle")
}

func TestValidate_StaticDirIsFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), "index.html")
	require.NoError(t, os.WriteFile(file, []byte("<html></html>"), 0644))

	cfg := &Config{Port: 8080, DataDir: "d", MarkersPath: "m.json", StaticDir: file}
	err := cfg.Validate()
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "static_dir")
}

func TestValidate_ValidConfig(t *testing.T) {
	cfg := &Config{
		Port:        8080,
		Cycle:       2026,
		DataDir:     t.TempDir(),
		MarkersPath: "markers.json",
		StaticDir:   t.TempDir(),
	}

	err := cfg.Validate()
	assert.NoError(t, err)
}

func TestMergeWithDefaults(t *testing.T) {
	defaults := Config{
		Port:        8080,
		DataDir:     "public/files",
		MarkersPath: "markers.json",
		FECAPIKey:   "env-key",
		Cycle:       2024,
	}

	partial := Config{
		Port:      9000,
		FECAPIKey: "file-key",
	}

	merged := partial.MergeWithDefaults(defaults)

	// Custom values should be preserved
	assert.Equal(t, 9000, merged.Port)
	assert.Equal(t, "file-key", merged.FECAPIKey)

	// Default values should fill in empty fields
	assert.Equal(t, "public/files", merged.DataDir)
	assert.Equal(t, "markers.json", merged.MarkersPath)
	assert.Equal(t, 2024, merged.Cycle)
}

func TestMergeWithDefaults_EmptyDefaults(t *testing.T) {
	cfg := Config{
		Port:    9000,
		DataDir: "data",
	}

	merged := cfg.MergeWithDefaults(Config{})

	assert.Equal(t, 9000, merged.Port)
	assert.Equal(t, "data", merged.DataDir)
	assert.Equal(t, DefaultCycle, merged.Cycle)
}

func TestOAuthEnabled(t *testing.T) {
	cfg := &Config{GoogleClientID: "id", GoogleClientSecret: "secret"}
	assert.False(t, cfg.OAuthEnabled())

	cfg.GoogleRedirectURL = "http://localhost:8080/auth/google/callback"
	assert.True(t, cfg.OAuthEnabled())
}
