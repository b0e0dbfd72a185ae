package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"INFO":    slog.LevelInfo,
		"":        slog.LevelInfo,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
	}
	for in, want := range tests {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseLevel("loud")
	assert.Error(t, err)
}

func TestNewLogger_JSON(t *testing.T) {
	var buf bytes.Buffer
	logger, closer, err := newLogger(&buf, Config{Level: "warn", Format: "json"})
	require.NoError(t, err)
	defer closer.Close()

	logger.Info("dropped")
	logger.Warn("kept", "object", "clip.mp4")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "kept", line["msg"])
	assert.Equal(t, "clip.mp4", line["object"])
	assert.Equal(t, "modcheck", line["service"])
}

func TestNewLogger_File(t *testing.T) {
	var buf bytes.Buffer
	path := filepath.Join(t.TempDir(), "logs", "modcheck.log")
	config := DefaultConfig()
	config.File = path

	logger, closer, err := newLogger(&buf, config)
	require.NoError(t, err)
	logger.Info("hello")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "msg=hello")
	assert.Contains(t, buf.String(), "msg=hello")
}

func TestNewLogger_InvalidConfig(t *testing.T) {
	_, _, err := newLogger(&bytes.Buffer{}, Config{Level: "nope"})
	assert.Error(t, err)

	_, _, err = newLogger(&bytes.Buffer{}, Config{Format: "xml"})
	assert.Error(t, err)
}
