// Package config loads application configuration from an optional JSON file
// with environment variable overrides. Defaults are chosen so the binary runs
// against a local DuckDB file with no configuration at all.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/tickdb/go-tick-archiver/internal/period"
)

// Config is the root configuration for the archiver.
type Config struct {
	Exchange ExchangeConfig `json:"exchange"`
	Storage  StorageConfig  `json:"storage"`
	Ingest   IngestConfig   `json:"ingest"`
	Logging  LoggingConfig  `json:"logging"`
}

// ExchangeConfig selects the upstream trade source.
type ExchangeConfig struct {
	// Name of the exchange adapter. Only "kraken" is currently implemented.
	Name string `json:"name"`
	// BaseURL overrides the adapter's default endpoint, mainly for tests.
	BaseURL string `json:"base_url,omitempty"`
}

// StorageConfig configures the DuckDB backend.
type StorageConfig struct {
	// Path to the database file. ":memory:" keeps everything in process.
	Path string `json:"path"`
}

// IngestConfig controls the paging behavior of the ingestion pipeline.
type IngestConfig struct {
	// Assets to ingest, as exchange pair names (e.g. "XBTUSD").
	Assets []string `json:"assets"`
	// HistoryWindow is a period expression ("30d", "4w", "6M") bounding how
	// far back a fresh asset is bootstrapped.
	HistoryWindow string `json:"history_window"`
	// PageDelay is the pause between successive page fetches.
	PageDelay time.Duration `json:"page_delay"`
	// FullPageSize is the row count signalling more pages remain.
	FullPageSize int `json:"full_page_size"`
	// EventBuffer sizes the progress event channel.
	EventBuffer int `json:"event_buffer"`
}

// LoggingConfig configures structured logging output.
type LoggingConfig struct {
	Level      string `json:"level"`
	Format     string `json:"format"`
	Output     string `json:"output"`
	FilePath   string `json:"file_path,omitempty"`
	MaxSizeMB  int    `json:"max_size_mb,omitempty"`
	MaxBackups int    `json:"max_backups,omitempty"`
	MaxAgeDays int    `json:"max_age_days,omitempty"`
	Compress   bool   `json:"compress,omitempty"`
}

// Default returns a configuration suitable for local use.
func Default() *Config {
	return &Config{
		Exchange: ExchangeConfig{
			Name: "kraken",
		},
		Storage: StorageConfig{
			Path: "ticks.db",
		},
		Ingest: IngestConfig{
			Assets:        []string{"XBTUSD"},
			HistoryWindow: "30d",
			PageDelay:     2 * time.Second,
			FullPageSize:  1000,
			EventBuffer:   16,
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "json",
			Output:     "stdout",
			MaxSizeMB:  100,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
	}
}

// Load builds a configuration from defaults, an optional JSON file, and
// environment overrides, in that order of precedence.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv("TICKD_EXCHANGE"); v != "" {
		c.Exchange.Name = v
	}
	if v := os.Getenv("TICKD_EXCHANGE_URL"); v != "" {
		c.Exchange.BaseURL = v
	}
	if v := os.Getenv("TICKD_DB_PATH"); v != "" {
		c.Storage.Path = v
	}
	if v := os.Getenv("TICKD_ASSETS"); v != "" {
		parts := strings.Split(v, ",")
		assets := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				assets = append(assets, p)
			}
		}
		c.Ingest.Assets = assets
	}
	if v := os.Getenv("TICKD_HISTORY_WINDOW"); v != "" {
		c.Ingest.HistoryWindow = v
	}
	if v := os.Getenv("TICKD_PAGE_DELAY"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Ingest.PageDelay = d
		}
	}
	if v := os.Getenv("TICKD_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("TICKD_LOG_FORMAT"); v != "" {
		c.Logging.Format = v
	}
	if v := os.Getenv("TICKD_LOG_OUTPUT"); v != "" {
		c.Logging.Output = v
	}
	if v := os.Getenv("TICKD_LOG_FILE"); v != "" {
		c.Logging.FilePath = v
	}
	if v := os.Getenv("TICKD_EVENT_BUFFER"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			c.Ingest.EventBuffer = n
		}
	}
}

// Validate checks the configuration for internal consistency.
func (c *Config) Validate() error {
	if c.Exchange.Name != "kraken" {
		return fmt.Errorf("unsupported exchange %q", c.Exchange.Name)
	}
	if c.Storage.Path == "" {
		return fmt.Errorf("storage path must not be empty")
	}
	if len(c.Ingest.Assets) == 0 {
		return fmt.Errorf("at least one asset must be configured")
	}
	spec, err := period.Parse(c.Ingest.HistoryWindow)
	if err != nil {
		return fmt.Errorf("invalid history window %q: %w", c.Ingest.HistoryWindow, err)
	}
	if spec.Unit == period.Ticks {
		return fmt.Errorf("history window %q: tick-count periods have no duration", c.Ingest.HistoryWindow)
	}
	if c.Ingest.PageDelay < 0 {
		return fmt.Errorf("page delay must not be negative")
	}
	if c.Ingest.FullPageSize <= 0 {
		return fmt.Errorf("full page size must be positive")
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level %q", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "json", "text":
	default:
		return fmt.Errorf("invalid log format %q", c.Logging.Format)
	}
	switch c.Logging.Output {
	case "stdout", "stderr", "file":
	default:
		return fmt.Errorf("invalid log output %q", c.Logging.Output)
	}
	if c.Logging.Output == "file" && c.Logging.FilePath == "" {
		return fmt.Errorf("log output is file but no file path given")
	}
	return nil
}
