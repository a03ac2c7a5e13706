package logging

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewFileLoggerWritesJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "run.log")

	logger, closeFunc, err := NewFileLogger(path, slog.LevelInfo)
	require.NoError(t, err)

	logger.Info("acquisition started", "series", 7)
	require.NoError(t, closeFunc())

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(data, &entry))
	assert.Equal(t, "acquisition started", entry["msg"])
	assert.Equal(t, float64(7), entry["series"])
}

func TestInitFileOutputRoutesServiceLoggers(t *testing.T) {
	Init(slog.LevelInfo)
	t.Cleanup(func() { Init(slog.LevelInfo) })

	path := filepath.Join(t.TempDir(), "app.log")
	closeFunc, err := InitFileOutput(path, slog.LevelInfo)
	require.NoError(t, err)

	ForService("bench").Info("warmup run starting")
	require.NoError(t, closeFunc())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"service":"bench"`)
	assert.Contains(t, string(data), "warmup run starting")
}

func TestInitFileOutputBadPath(t *testing.T) {
	_, err := InitFileOutput(filepath.Join(t.TempDir(), "nope")+string(os.PathSeparator), slog.LevelInfo)
	assert.Error(t, err)
}
