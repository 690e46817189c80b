package logging

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	t.Parallel()
	for _, tc := range []struct {
		in   string
		want slog.Level
	}{
		{"", slog.LevelInfo},
		{"info", slog.LevelInfo},
		{"DEBUG", slog.LevelDebug},
		{"warning", slog.LevelWarn},
		{" error ", slog.LevelError},
	} {
		got, err := ParseLevel(tc.in)
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, got, tc.in)
	}
	_, err := ParseLevel("loud")
	assert.Error(t, err)
}

func TestNew_JSONFormat(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	logger, err := New(&buf, Options{Level: slog.LevelInfo, Format: FormatJSON})
	require.NoError(t, err)

	logger.Debug("hidden")
	logger.Info("session created", "session", 1)

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "session created", rec["msg"])
	assert.Equal(t, float64(1), rec["session"])
}

func TestNew_UnknownFormat(t *testing.T) {
	t.Parallel()
	_, err := New(&bytes.Buffer{}, Options{Format: "xml"})
	assert.Error(t, err)
}

func TestNew_TeesToRecorder(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	rec := NewRecorder(10, slog.LevelDebug)
	logger, err := New(&buf, Options{Level: slog.LevelWarn, Recorder: rec})
	require.NoError(t, err)

	logger.Debug("only recorded")
	logger.Warn("both")

	assert.NotContains(t, buf.String(), "only recorded")
	assert.Contains(t, buf.String(), "both")
	entries := rec.Entries()
	require.Len(t, entries, 2)
	assert.Equal(t, "only recorded", entries[0].Message)
	assert.Equal(t, slog.LevelWarn, entries[1].Level)
}

func TestRecorder_Bounded(t *testing.T) {
	t.Parallel()
	rec := NewRecorder(3, nil)
	logger := rec.Logger()
	for i := 0; i < 5; i++ {
		logger.Info(fmt.Sprintf("msg %d", i))
	}
	entries := rec.Entries()
	require.Len(t, entries, 3)
	assert.Equal(t, "msg 2", entries[0].Message)
	assert.Equal(t, "msg 4", entries[2].Message)

	recent := rec.Recent(1)
	require.Len(t, recent, 1)
	assert.Equal(t, "msg 4", recent[0].Message)
	assert.Len(t, rec.Recent(0), 3)

	rec.Clear()
	assert.Empty(t, rec.Entries())
}

func TestRecorder_AttrsAndGroups(t *testing.T) {
	t.Parallel()
	rec := NewRecorder(10, nil)
	logger := rec.Logger().With("component", "worker").WithGroup("task")
	logger.Warn("dropped", "id", 7, slog.Group("cb", "handle", 3))

	entries := rec.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, map[string]string{
		"component":      "worker",
		"task.id":        "7",
		"task.cb.handle": "3",
	}, entries[0].Attrs)
}

func TestRecorder_LevelAndSearch(t *testing.T) {
	t.Parallel()
	rec := NewRecorder(10, slog.LevelInfo)
	logger := rec.Logger()
	logger.Debug("ignored")
	logger.Info("Session Created")
	logger.Error("task panicked", "panic", "boom")

	assert.Len(t, rec.Entries(), 2)
	assert.Len(t, rec.Search("session"), 1)
	found := rec.Search("BOOM")
	require.Len(t, found, 1)
	assert.Equal(t, "task panicked", found[0].Message)
}
