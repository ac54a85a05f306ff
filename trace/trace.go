// Package trace assigns per-call trace IDs and carries them through
// context so every log record and evidence artifact produced during a
// scrape call can be correlated.
package trace

import (
	"context"

	"github.com/google/uuid"
)

type ctxKey struct{}

// NewID returns a fresh trace identifier.
func NewID() string {
	return uuid.NewString()
}

// With returns a context carrying the given trace ID.
func With(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// FromContext returns the trace ID bound to ctx, or "" if none is set.
func FromContext(ctx context.Context) string {
	if v, ok := ctx.Value(ctxKey{}).(string); ok {
		return v
	}
	return ""
}
