package logging

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arloliu/peerpair/types"
)

func TestSlogLogger_ImplementsInterface(t *testing.T) {
	t.Helper()
	var _ types.Logger = (*SlogLogger)(nil)
	var _ types.Logger = (*NopLogger)(nil)
	var _ types.Logger = (*TestLogger)(nil)
}

func TestSlogLogger_Levels(t *testing.T) {
	buf := &bytes.Buffer{}
	handler := slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	logger := NewSlog(slog.New(handler))

	logger.Debug("debug message", "key", "value")
	logger.Info("info message", "course_id", 42)
	logger.Warn("warn message")
	logger.Error("error message", "error", "boom")

	output := buf.String()
	assert.Contains(t, output, "level=DEBUG")
	assert.Contains(t, output, "key=value")
	assert.Contains(t, output, "course_id=42")
	assert.Contains(t, output, "level=WARN")
	assert.Contains(t, output, "error=boom")
}

func TestNew(t *testing.T) {
	t.Run("json format at warn level", func(t *testing.T) {
		buf := &bytes.Buffer{}
		logger, err := New(buf, "WARN", "json")
		require.NoError(t, err)

		logger.Info("hidden")
		logger.Warn("shown", "job_id", "j-1")

		require.NotContains(t, buf.String(), "hidden")
		require.Contains(t, buf.String(), `"job_id":"j-1"`)
	})

	t.Run("defaults to text at info", func(t *testing.T) {
		buf := &bytes.Buffer{}
		logger, err := New(buf, "", "")
		require.NoError(t, err)

		logger.Debug("hidden")
		logger.With("run", "automatic").Info("shown")

		require.NotContains(t, buf.String(), "hidden")
		require.Contains(t, buf.String(), "run=automatic")
	})

	t.Run("rejects unknown settings", func(t *testing.T) {
		_, err := New(nil, "verbose", "text")
		require.Error(t, err)

		_, err = New(nil, "info", "xml")
		require.Error(t, err)
	})
}

func TestNopLogger(t *testing.T) {
	logger := NewNop()
	require.NotPanics(t, func() {
		logger.Debug("x")
		logger.Info("x", "k", "v")
		logger.Warn("x")
		logger.Error("x")
		logger.Fatal("x")
	})
}

func TestFormatKeyValues(t *testing.T) {
	require.Empty(t, formatKeyValues(nil))
	require.Equal(t, "a=1 b=2", formatKeyValues([]any{"a", 1, "b", 2}))
	require.Equal(t, "a=1 b=<missing>", formatKeyValues([]any{"a", 1, "b"}))
}
