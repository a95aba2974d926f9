package logger

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tickdb/go-tick-archiver/internal/config"
)

func TestNewStdoutLogger(t *testing.T) {
	log, err := New(config.LoggingConfig{Level: "info", Format: "json", Output: "stdout"})
	require.NoError(t, err)
	defer log.Close()

	assert.True(t, log.Enabled(context.Background(), slog.LevelInfo))
	assert.False(t, log.Enabled(context.Background(), slog.LevelDebug))
}

func TestNewFileLoggerWrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tickd.log")
	log, err := New(config.LoggingConfig{
		Level:     "debug",
		Format:    "json",
		Output:    "file",
		FilePath:  path,
		MaxSizeMB: 1,
	})
	require.NoError(t, err)

	log.Info("hello", "key", "value")
	require.NoError(t, log.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"hello"`)
	assert.Contains(t, string(data), `"key":"value"`)
}

func TestNewRejectsBadConfig(t *testing.T) {
	_, err := New(config.LoggingConfig{Level: "loud", Format: "json", Output: "stdout"})
	assert.Error(t, err)

	_, err = New(config.LoggingConfig{Level: "info", Format: "json", Output: "pager"})
	assert.Error(t, err)
}
