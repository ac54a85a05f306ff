// Package retry decides whether a failed attempt is retried on the same
// strategy before the runner escalates, and how long to back off. The
// policy is keyed on failure kind; backoff honors Retry-After and
// applies ±20% jitter.
package retry

import (
	"math/rand"
	"time"

	"github.com/use-agent/urwa/models"
)

// Decision is the policy verdict for one failed attempt.
type Decision struct {
	Retry   bool
	Backoff time.Duration
}

// Policy maps failure kinds to same-strategy retry budgets.
type Policy struct {
	// StrategyTimeout feeds the timeout-kind backoff (half of it).
	StrategyTimeout time.Duration
}

// NewPolicy creates a retry policy for a strategy with the given
// per-attempt timeout.
func NewPolicy(strategyTimeout time.Duration) *Policy {
	return &Policy{StrategyTimeout: strategyTimeout}
}

// maxRetries is the same-strategy retry budget per failure kind.
// Kinds not listed never retry locally.
var maxRetries = map[models.FailureKind]int{
	models.FailTimeout:    1,
	models.FailConnection: 2,
	models.Fail429:        2,
	models.Fail5xx:        1,
}

// Decide returns whether the attempt at the given 0-based index within
// the current strategy should be retried, and the backoff to sleep
// first. retryAfter is the server's Retry-After on 429 (0 when absent).
func (p *Policy) Decide(kind models.FailureKind, attemptInStrategy int, retryAfter time.Duration) Decision {
	budget, ok := maxRetries[kind]
	if !ok || attemptInStrategy >= budget {
		return Decision{}
	}

	var backoff time.Duration
	switch kind {
	case models.FailTimeout:
		backoff = p.StrategyTimeout / 2
	case models.FailConnection:
		// exp: 1s, 2s
		backoff = time.Duration(1<<attemptInStrategy) * time.Second
	case models.Fail429:
		if retryAfter > 0 {
			backoff = retryAfter
		} else {
			// exp: 5s, 10s
			backoff = time.Duration(5*(1<<attemptInStrategy)) * time.Second
		}
	case models.Fail5xx:
		backoff = 2 * time.Second
	}

	return Decision{Retry: true, Backoff: jitter(backoff)}
}

// jitter applies ±20% to the backoff.
func jitter(d time.Duration) time.Duration {
	if d <= 0 {
		return d
	}
	factor := 0.8 + 0.4*rand.Float64()
	return time.Duration(float64(d) * factor)
}
