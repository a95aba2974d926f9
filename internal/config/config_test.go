package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	assert.NoError(t, cfg.Validate())
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tickd.json")
	require.NoError(t, os.WriteFile(path, []byte(`{
		"storage": {"path": "/tmp/test.db"},
		"ingest": {
			"assets": ["ETHUSD", "XBTUSD"],
			"history_window": "2w"
		},
		"logging": {"level": "debug", "format": "text", "output": "stderr"}
	}`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/tmp/test.db", cfg.Storage.Path)
	assert.Equal(t, []string{"ETHUSD", "XBTUSD"}, cfg.Ingest.Assets)
	assert.Equal(t, "2w", cfg.Ingest.HistoryWindow)
	assert.Equal(t, "debug", cfg.Logging.Level)
	// Fields absent from the file keep their defaults.
	assert.Equal(t, "kraken", cfg.Exchange.Name)
	assert.Equal(t, 1000, cfg.Ingest.FullPageSize)
}

func TestLoadMissingFileFails(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	assert.Error(t, err)
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("TICKD_DB_PATH", "/var/lib/ticks.db")
	t.Setenv("TICKD_ASSETS", "ETHUSD, SOLUSD ,")
	t.Setenv("TICKD_HISTORY_WINDOW", "6h")
	t.Setenv("TICKD_PAGE_DELAY", "500ms")
	t.Setenv("TICKD_LOG_LEVEL", "warn")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/ticks.db", cfg.Storage.Path)
	assert.Equal(t, []string{"ETHUSD", "SOLUSD"}, cfg.Ingest.Assets)
	assert.Equal(t, "6h", cfg.Ingest.HistoryWindow)
	assert.Equal(t, 500*time.Millisecond, cfg.Ingest.PageDelay)
	assert.Equal(t, "warn", cfg.Logging.Level)
}

func TestValidateRejections(t *testing.T) {
	tests := []struct {
		name string
		mut  func(*Config)
	}{
		{name: "unknown exchange", mut: func(c *Config) { c.Exchange.Name = "mtgox" }},
		{name: "empty storage path", mut: func(c *Config) { c.Storage.Path = "" }},
		{name: "no assets", mut: func(c *Config) { c.Ingest.Assets = nil }},
		{name: "bad history window", mut: func(c *Config) { c.Ingest.HistoryWindow = "soon" }},
		{name: "tick-count history window", mut: func(c *Config) { c.Ingest.HistoryWindow = "100t" }},
		{name: "negative page delay", mut: func(c *Config) { c.Ingest.PageDelay = -time.Second }},
		{name: "zero page size", mut: func(c *Config) { c.Ingest.FullPageSize = 0 }},
		{name: "bad log level", mut: func(c *Config) { c.Logging.Level = "loud" }},
		{name: "bad log format", mut: func(c *Config) { c.Logging.Format = "yaml" }},
		{name: "file output without path", mut: func(c *Config) {
			c.Logging.Output = "file"
			c.Logging.FilePath = ""
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mut(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
