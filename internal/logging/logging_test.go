package logging

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetup_WritesJSONToFile(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "quarry.log")

	logger, cleanup, err := Setup(Config{Level: "debug", FilePath: logPath})
	require.NoError(t, err)

	logger.Info("indexing_started", slog.String("folder", "/work"))
	cleanup()

	data, err := os.ReadFile(logPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"indexing_started"`)
	assert.Contains(t, string(data), `"folder":"/work"`)
}

func TestSetup_LevelFiltersDebug(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "quarry.log")

	logger, cleanup, err := Setup(Config{Level: "warn", FilePath: logPath})
	require.NoError(t, err)

	logger.Debug("hidden")
	logger.Warn("visible")
	cleanup()

	data, err := os.ReadFile(logPath)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "hidden")
	assert.Contains(t, string(data), "visible")
}

func TestRotatingWriter_RotatesAtSizeLimit(t *testing.T) {
	dir := t.TempDir()
	logPath := filepath.Join(dir, "quarry.log")

	w, err := NewRotatingWriter(logPath, 1, 3)
	require.NoError(t, err)
	defer func() { _ = w.Close() }()

	// Force the limit low so a second write rotates.
	w.maxSize = 64

	_, err = w.Write(bytes.Repeat([]byte("a"), 60))
	require.NoError(t, err)
	_, err = w.Write(bytes.Repeat([]byte("b"), 60))
	require.NoError(t, err)

	_, err = os.Stat(logPath + ".1")
	assert.NoError(t, err, "rotated file should exist")

	data, err := os.ReadFile(logPath)
	require.NoError(t, err)
	assert.Equal(t, bytes.Repeat([]byte("b"), 60), data)
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, parseLevel("WARNING"))
	assert.Equal(t, slog.LevelInfo, parseLevel("bogus"))
}
