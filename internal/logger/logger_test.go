package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetupJSON(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var buf bytes.Buffer
	l, err := Setup("warn", "json", &buf)
	require.NoError(t, err)

	l.Info("hidden")
	l.Warn("shown", "task_id", "task-1")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "shown", rec["msg"])
	assert.Equal(t, "WARN", rec["level"])
	assert.Equal(t, "task-1", rec["task_id"])
	assert.Same(t, l.Handler(), slog.Default().Handler())
}

func TestSetupText(t *testing.T) {
	prev := slog.Default()
	t.Cleanup(func() { slog.SetDefault(prev) })

	var buf bytes.Buffer
	l, err := Setup("DEBUG", "text", &buf)
	require.NoError(t, err)
	l.Debug("details", "component", "engine")
	assert.Contains(t, buf.String(), "component=engine")
}

func TestSetupRejectsUnknownSettings(t *testing.T) {
	_, err := Setup("verbose", "text", nil)
	assert.Error(t, err)
	_, err = Setup("info", "xml", nil)
	assert.Error(t, err)
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"":        slog.LevelInfo,
		"Info":    slog.LevelInfo,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
	}
	for in, want := range cases {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
}
