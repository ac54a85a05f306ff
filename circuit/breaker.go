// Package circuit implements per-domain circuit breakers with the
// closed/open/half-open ladder. The admit/record split mirrors
// gobreaker's Allow/done two-step shape, but the transition rules here
// are domain-specific: failure kinds count differently, a window of
// distinct blocked URLs can trip the breaker, and the first half-open
// success closes it.
package circuit

import (
	"log/slog"
	"sync"
	"time"

	"github.com/use-agent/urwa/config"
	"github.com/use-agent/urwa/metrics"
	"github.com/use-agent/urwa/models"
)

// State is the breaker position.
type State string

const (
	StateClosed   State = "closed"
	StateHalfOpen State = "half_open"
	StateOpen     State = "open"
)

func (s State) gauge() float64 {
	switch s {
	case StateHalfOpen:
		return 1
	case StateOpen:
		return 2
	default:
		return 0
	}
}

// Breaker is the circuit for a single domain. All methods are
// goroutine-safe.
type Breaker struct {
	domain string
	cfg    config.CircuitConfig

	mu                  sync.Mutex
	state               State
	consecutiveFailures int
	halfOpenInFlight    int
	openedAt            time.Time
	blockedURLs         map[string]time.Time

	now     func() time.Time
	onState func(domain string, s State)
}

func newBreaker(domain string, cfg config.CircuitConfig, now func() time.Time, onState func(string, State)) *Breaker {
	return &Breaker{
		domain:      domain,
		cfg:         cfg,
		state:       StateClosed,
		blockedURLs: make(map[string]time.Time),
		now:         now,
		onState:     onState,
	}
}

// CanExecute reports whether an attempt may proceed. In half-open state
// it also reserves one of the bounded probe slots; callers that received
// true MUST follow up with RecordSuccess or RecordFailure to release it.
func (b *Breaker) CanExecute() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true
	case StateOpen:
		if b.now().Sub(b.openedAt) < b.cfg.RecoveryTimeout {
			return false
		}
		b.transitionLocked(StateHalfOpen)
		b.halfOpenInFlight = 1
		return true
	case StateHalfOpen:
		if b.halfOpenInFlight >= b.cfg.HalfOpenMax {
			return false
		}
		b.halfOpenInFlight++
		return true
	}
	return false
}

// Release returns a half-open probe slot without recording an outcome.
// Used when an admitted attempt is abandoned before the fetch launches
// (cancellation during pacing).
func (b *Breaker) Release() {
	b.mu.Lock()
	if b.state == StateHalfOpen && b.halfOpenInFlight > 0 {
		b.halfOpenInFlight--
	}
	b.mu.Unlock()
}

// RecordSuccess notes a successful fetch: resets the failure counter,
// and in half-open state closes the circuit.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		b.consecutiveFailures = 0
	case StateHalfOpen:
		b.halfOpenInFlight = 0
		b.consecutiveFailures = 0
		b.blockedURLs = make(map[string]time.Time)
		b.transitionLocked(StateClosed)
	}
}

// RecordFailure notes a failed fetch of the given kind against the given
// URL. Circuit-relevant kinds count toward the threshold; a blocked URL
// joins the distinct-URL window.
func (b *Breaker) RecordFailure(kind models.FailureKind, url string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateHalfOpen:
		if b.halfOpenInFlight > 0 {
			b.halfOpenInFlight--
		}
		// Any failure during a half-open probe reopens the circuit;
		// kind filtering only applies while closed.
		b.openedAt = b.now()
		b.transitionLocked(StateOpen)
	case StateClosed:
		if kind.CountsAgainstCircuit() {
			b.consecutiveFailures++
			if b.consecutiveFailures >= b.cfg.FailureThreshold {
				b.openedAt = b.now()
				b.transitionLocked(StateOpen)
			}
			return
		}
		if kind == models.FailBlocked {
			b.recordBlockedLocked(url)
		}
	}
}

// recordBlockedLocked tracks distinct blocked URLs; three within the
// window open the circuit. Caller must hold b.mu.
func (b *Breaker) recordBlockedLocked(url string) {
	now := b.now()
	cutoff := now.Add(-b.cfg.BlockedURLWindow)
	for u, at := range b.blockedURLs {
		if at.Before(cutoff) {
			delete(b.blockedURLs, u)
		}
	}
	b.blockedURLs[url] = now
	if len(b.blockedURLs) >= 3 {
		b.openedAt = now
		b.transitionLocked(StateOpen)
	}
}

func (b *Breaker) transitionLocked(s State) {
	if b.state == s {
		return
	}
	b.state = s
	if s != StateOpen {
		// openedAt set iff state is open.
		b.openedAt = time.Time{}
	}
	if b.onState != nil {
		b.onState(b.domain, s)
	}
}

// Snapshot is the telemetry view of one breaker.
type Snapshot struct {
	Domain       string     `json:"domain"`
	State        State      `json:"state"`
	FailureCount int        `json:"failure_count"`
	OpenedAt     *time.Time `json:"opened_at,omitempty"`
}

// Snapshot returns the breaker's current state.
func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := Snapshot{
		Domain:       b.domain,
		State:        b.state,
		FailureCount: b.consecutiveFailures,
	}
	if b.state == StateOpen {
		openedAt := b.openedAt
		s.OpenedAt = &openedAt
	}
	return s
}

// Registry owns the per-domain breakers.
type Registry struct {
	cfg     config.CircuitConfig
	metrics *metrics.Metrics
	logger  *slog.Logger

	mu       sync.RWMutex
	breakers map[string]*Breaker

	now func() time.Time
}

// NewRegistry creates a breaker registry. metrics may be nil.
func NewRegistry(cfg config.CircuitConfig, m *metrics.Metrics, logger *slog.Logger) *Registry {
	return &Registry{
		cfg:      cfg,
		metrics:  m,
		logger:   logger.With("component", "circuit"),
		breakers: make(map[string]*Breaker),
		now:      time.Now,
	}
}

// For returns the breaker for a domain, creating it closed on first use.
func (r *Registry) For(domain string) *Breaker {
	r.mu.RLock()
	b, ok := r.breakers[domain]
	r.mu.RUnlock()
	if ok {
		return b
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok = r.breakers[domain]; ok {
		return b
	}
	b = newBreaker(domain, r.cfg, r.now, func(domain string, s State) {
		r.logger.Info("circuit transition", "domain", domain, "state", s)
		if r.metrics != nil {
			r.metrics.SetCircuitState(domain, s.gauge())
		}
	})
	r.breakers[domain] = b
	return b
}

// Snapshots returns the telemetry view of every breaker.
func (r *Registry) Snapshots() []Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Snapshot, 0, len(r.breakers))
	for _, b := range r.breakers {
		out = append(out, b.Snapshot())
	}
	return out
}
