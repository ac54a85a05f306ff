package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/use-agent/urwa/trace"
)

func TestHandler_InjectsTraceID(t *testing.T) {
	var buf bytes.Buffer
	h := New(&buf, slog.LevelDebug, 16)
	logger := slog.New(h)

	ctx := trace.With(context.Background(), "trace-abc")
	logger.InfoContext(ctx, "fetching", "url", "https://example.com/")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "trace-abc", line["trace_id"])
	assert.Equal(t, "fetching", line["msg"])
	assert.Equal(t, "https://example.com/", line["url"])
}

func TestHandler_NoTraceWithoutContext(t *testing.T) {
	var buf bytes.Buffer
	h := New(&buf, slog.LevelDebug, 16)
	slog.New(h).Info("plain")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	_, hasTrace := line["trace_id"]
	assert.False(t, hasTrace)
}

func TestRecentLogs_NewestFirstWithTrace(t *testing.T) {
	h := New(io.Discard, slog.LevelDebug, 16)
	logger := slog.New(h)

	ctx := trace.With(context.Background(), "trace-xyz")
	logger.InfoContext(ctx, "first")
	logger.InfoContext(ctx, "second")
	logger.InfoContext(ctx, "third")

	recent := h.RecentLogs(2, "")
	require.Len(t, recent, 2)
	assert.Equal(t, "third", recent[0].Msg)
	assert.Equal(t, "second", recent[1].Msg)
	assert.Equal(t, "trace-xyz", recent[0].TraceID)
}

func TestRecentLogs_LevelFilter(t *testing.T) {
	h := New(io.Discard, slog.LevelDebug, 16)
	logger := slog.New(h)

	logger.Debug("noise")
	logger.Info("info msg")
	logger.Error("boom")

	errorsOnly := h.RecentLogs(10, "error")
	require.Len(t, errorsOnly, 1)
	assert.Equal(t, "boom", errorsOnly[0].Msg)

	infoUp := h.RecentLogs(10, "info")
	assert.Len(t, infoUp, 2)
}

func TestRecentLogs_RingWraps(t *testing.T) {
	h := New(io.Discard, slog.LevelDebug, 4)
	logger := slog.New(h)

	for i := 0; i < 10; i++ {
		logger.Info("msg", "i", i)
	}

	recent := h.RecentLogs(0, "")
	assert.Len(t, recent, 4)
}

func TestHandler_ComponentAttr(t *testing.T) {
	h := New(io.Discard, slog.LevelDebug, 16)
	logger := slog.New(h).With("component", "profiler")

	logger.Info("probing")

	recent := h.RecentLogs(1, "")
	require.Len(t, recent, 1)
	assert.Equal(t, "profiler", recent[0].Component)
}
