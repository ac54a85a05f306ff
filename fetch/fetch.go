// Package fetch defines the fetcher capability the orchestrator executes
// against, and its three implementations: light (pure HTTP with a Chrome
// TLS fingerprint), stealth (headless browser), and ultra (headless
// browser with stealth JS and header spoofing).
package fetch

import (
	"context"
	"net/http"
	"time"

	"github.com/use-agent/urwa/models"
)

// Outcome is the in-band result of a fetch attempt. Fetchers never
// return Go errors; every failure is classified into a FailureKind.
type Outcome struct {
	Success    bool
	Content    []byte
	FinalURL   string
	HTTPStatus int
	Elapsed    time.Duration
	Kind       models.FailureKind

	// RetryAfter is the parsed Retry-After header on 429 responses.
	RetryAfter time.Duration

	// Headers of the final response, kept for evidence capture.
	Headers http.Header

	// Redirects is the length of the redirect chain.
	Redirects int

	// EvidenceHandle is filled by the escalation runner when the
	// failure was persisted to the evidence store.
	EvidenceHandle string
}

// Fetcher is one strategy implementation.
//
// Contract: honors cancellation (returns promptly with Kind=timeout when
// its own timer fires), never sleeps for rate control, and reports all
// failures in-band through the Outcome.
type Fetcher interface {
	Strategy() models.Strategy
	Fetch(ctx context.Context, url string) *Outcome
}

// Registry maps strategies to their fetchers.
type Registry map[models.Strategy]Fetcher

// NewRegistry builds a registry from the given fetchers.
func NewRegistry(fetchers ...Fetcher) Registry {
	r := make(Registry, len(fetchers))
	for _, f := range fetchers {
		r[f.Strategy()] = f
	}
	return r
}
