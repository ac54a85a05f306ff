// Package logging wires slog into the orchestrator: a JSON handler that
// stamps every record with the trace ID from the request context, plus a
// bounded ring of recent records backing the RecentLogs telemetry call.
package logging

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/use-agent/urwa/trace"
)

// Record is one captured log entry, as returned by RecentLogs.
type Record struct {
	TS        time.Time      `json:"ts"`
	Level     string         `json:"level"`
	TraceID   string         `json:"trace_id,omitempty"`
	Component string         `json:"component,omitempty"`
	Msg       string         `json:"msg"`
	Fields    map[string]any `json:"fields,omitempty"`
}

// Handler wraps an inner slog.Handler, injecting trace_id from context
// and mirroring every record into a fixed-size ring buffer.
type Handler struct {
	inner slog.Handler
	ring  *ring
	attrs []slog.Attr
}

// New creates a Handler writing JSON to w at the given level, keeping
// the most recent ringSize records in memory.
func New(w io.Writer, level slog.Level, ringSize int) *Handler {
	if ringSize <= 0 {
		ringSize = 1024
	}
	return &Handler{
		inner: slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}),
		ring:  newRing(ringSize),
	}
}

func (h *Handler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *Handler) Handle(ctx context.Context, r slog.Record) error {
	if id := trace.FromContext(ctx); id != "" {
		r.AddAttrs(slog.String("trace_id", id))
	}
	h.ring.add(toRecord(r, h.attrs))
	return h.inner.Handle(ctx, r)
}

func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	merged := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	merged = append(merged, h.attrs...)
	merged = append(merged, attrs...)
	return &Handler{inner: h.inner.WithAttrs(attrs), ring: h.ring, attrs: merged}
}

func (h *Handler) WithGroup(name string) slog.Handler {
	return &Handler{inner: h.inner.WithGroup(name), ring: h.ring, attrs: h.attrs}
}

// RecentLogs returns up to limit records, newest first, optionally
// filtered by minimum level ("debug", "info", "warn", "error").
func (h *Handler) RecentLogs(limit int, levelFilter string) []Record {
	min := parseLevel(levelFilter)
	return h.ring.recent(limit, min)
}

func toRecord(r slog.Record, preset []slog.Attr) Record {
	rec := Record{
		TS:    r.Time,
		Level: r.Level.String(),
		Msg:   r.Message,
	}
	consume := func(a slog.Attr) {
		switch a.Key {
		case "trace_id":
			rec.TraceID = a.Value.String()
		case "component":
			rec.Component = a.Value.String()
		default:
			if rec.Fields == nil {
				rec.Fields = make(map[string]any)
			}
			rec.Fields[a.Key] = a.Value.Any()
		}
	}
	for _, a := range preset {
		consume(a)
	}
	r.Attrs(func(a slog.Attr) bool {
		consume(a)
		return true
	})
	return rec
}

func parseLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func levelOf(s string) slog.Level {
	switch s {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ring is a fixed-capacity circular buffer of records.
type ring struct {
	mu   sync.Mutex
	buf  []Record
	next int
	full bool
}

func newRing(size int) *ring {
	return &ring{buf: make([]Record, size)}
}

func (rb *ring) add(r Record) {
	rb.mu.Lock()
	rb.buf[rb.next] = r
	rb.next = (rb.next + 1) % len(rb.buf)
	if rb.next == 0 {
		rb.full = true
	}
	rb.mu.Unlock()
}

func (rb *ring) recent(limit int, min slog.Level) []Record {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	size := rb.next
	if rb.full {
		size = len(rb.buf)
	}
	if limit <= 0 || limit > size {
		limit = size
	}
	out := make([]Record, 0, limit)
	for i := 1; i <= size && len(out) < limit; i++ {
		idx := (rb.next - i + len(rb.buf)) % len(rb.buf)
		r := rb.buf[idx]
		if levelOf(r.Level) < min {
			continue
		}
		out = append(out, r)
	}
	return out
}
