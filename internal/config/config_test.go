package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFileKeepsDefaultsForMissingKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(`
[scraping]
headless = false
max_discovered = 25

[analysis]
batch_size = 4
`), 0600))

	cfg, err := LoadFile(path)
	require.NoError(t, err)

	assert.False(t, cfg.Scraping.Headless)
	assert.Equal(t, 25, cfg.Scraping.MaxDiscovered)
	assert.Equal(t, 4, cfg.Analysis.BatchSize)
	assert.Equal(t, "https://x.com", cfg.Scraping.BaseURL)
	assert.Equal(t, 24, cfg.Scraping.FreshnessHours)
	assert.Equal(t, ProviderAnthropic, cfg.Analysis.Provider)
}

func TestSaveFileRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	cfg := Default()
	cfg.Server.Addr = ":9999"

	require.NoError(t, cfg.SaveFile(path))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	loaded, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, ":9999", loaded.Server.Addr)
}

func TestLoadPathWritesDefaultsOnFirstRun(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	t.Setenv("PROFILEPULSE_ADDR", ":4000")

	cfg, err := LoadPath(path)
	require.NoError(t, err)
	assert.Equal(t, ":4000", cfg.Server.Addr)

	// The file holds defaults only, env overrides are not persisted
	onDisk, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, ":3000", onDisk.Server.Addr)
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("PROFILEPULSE_DB_PATH", "/tmp/pp.db")
	t.Setenv("ANTHROPIC_API_KEY", "sk-test")
	t.Setenv("PROFILEPULSE_HEADLESS", "false")

	cfg := Default()
	require.NoError(t, cfg.ApplyEnv())

	assert.Equal(t, "/tmp/pp.db", cfg.Database.Path)
	assert.Equal(t, "sk-test", cfg.Analysis.APIKey)
	assert.False(t, cfg.Scraping.Headless)

	path, err := cfg.DatabasePath()
	require.NoError(t, err)
	assert.Equal(t, "/tmp/pp.db", path)
}

func TestApplyEnvRejectsBadHeadless(t *testing.T) {
	t.Setenv("PROFILEPULSE_HEADLESS", "sometimes")
	assert.Error(t, Default().ApplyEnv())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "defaults", mutate: func(*Config) {}},
		{name: "unknown provider", mutate: func(c *Config) { c.Analysis.Provider = "other" }, wantErr: true},
		{name: "zero batch", mutate: func(c *Config) { c.Analysis.BatchSize = 0 }, wantErr: true},
		{name: "zero cap", mutate: func(c *Config) { c.Scraping.MaxDiscovered = 0 }, wantErr: true},
		{name: "schedule without interval", mutate: func(c *Config) {
			c.Schedule.Enabled = true
			c.Schedule.RescrapeIntervalHours = 0
		}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
