// Package ratecontrol paces fetches per domain. Each domain gets a
// token-bucket limiter (burst 1) whose refill interval is the adaptive
// delay: doubled on 429, nudged up on timeout, decayed gently on
// success.
package ratecontrol

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/use-agent/urwa/config"
	"github.com/use-agent/urwa/metrics"
	"github.com/use-agent/urwa/models"
)

// domainState is the mutable pacing state for one domain.
type domainState struct {
	limiter         *rate.Limiter
	baseDelay       time.Duration
	currentDelay    time.Duration
	consecutive429s int
	lastRequestAt   time.Time
}

// Controller serializes fetch launches per domain to at least the
// current adaptive delay. Safe for concurrent use; attempts on different
// domains proceed independently.
type Controller struct {
	cfg     config.RateConfig
	metrics *metrics.Metrics
	logger  *slog.Logger

	mu      sync.Mutex
	domains map[string]*domainState
}

// New creates a rate controller. metrics may be nil.
func New(cfg config.RateConfig, m *metrics.Metrics, logger *slog.Logger) *Controller {
	return &Controller{
		cfg:     cfg,
		metrics: m,
		logger:  logger.With("component", "rate"),
		domains: make(map[string]*domainState),
	}
}

// SeedDelay installs a base delay for a domain (from the site profile or
// a robots Crawl-delay), raising the current delay if it is below it.
func (c *Controller) SeedDelay(domain string, delay time.Duration) {
	delay = c.clamp(delay)
	c.mu.Lock()
	defer c.mu.Unlock()

	st := c.stateLocked(domain)
	if delay > st.baseDelay {
		st.baseDelay = delay
	}
	if st.currentDelay < st.baseDelay {
		st.currentDelay = st.baseDelay
		st.limiter.SetLimit(rate.Every(st.currentDelay))
	}
}

// AcquireSlot blocks until the domain's pacing allows another fetch.
// Cancellation-aware; the slot is consumed on return.
func (c *Controller) AcquireSlot(ctx context.Context, domain string) error {
	c.mu.Lock()
	st := c.stateLocked(domain)
	limiter := st.limiter
	c.mu.Unlock()

	if err := limiter.Wait(ctx); err != nil {
		return err
	}

	c.mu.Lock()
	st.lastRequestAt = time.Now()
	c.mu.Unlock()
	c.logger.Debug("rate slot acquired", "domain", domain)
	return nil
}

// RecordOutcome adapts the domain's delay from the attempt result.
func (c *Controller) RecordOutcome(domain string, success bool, kind models.FailureKind) {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := c.stateLocked(domain)
	switch {
	case success:
		st.consecutive429s = 0
		decayed := time.Duration(float64(st.currentDelay) * 0.9)
		if decayed < st.baseDelay {
			decayed = st.baseDelay
		}
		st.currentDelay = c.clamp(decayed)
	case kind == models.Fail429:
		st.consecutive429s++
		st.currentDelay = c.clamp(st.currentDelay * 2)
	case kind == models.FailTimeout:
		st.currentDelay = c.clamp(time.Duration(float64(st.currentDelay) * 1.25))
	default:
		return
	}
	st.limiter.SetLimit(rate.Every(st.currentDelay))
	if c.metrics != nil {
		c.metrics.SetRateDelay(domain, st.currentDelay)
	}
}

// CurrentDelay returns the domain's present pacing delay.
func (c *Controller) CurrentDelay(domain string) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stateLocked(domain).currentDelay
}

// Consecutive429s returns the domain's running 429 count.
func (c *Controller) Consecutive429s(domain string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stateLocked(domain).consecutive429s
}

// stateLocked returns (creating if needed) the domain state.
// Caller must hold c.mu.
func (c *Controller) stateLocked(domain string) *domainState {
	st, ok := c.domains[domain]
	if !ok {
		delay := c.clamp(c.cfg.DefaultDelay)
		st = &domainState{
			limiter:      rate.NewLimiter(rate.Every(delay), 1),
			baseDelay:    delay,
			currentDelay: delay,
		}
		// A fresh bucket starts full so the first fetch is immediate.
		c.domains[domain] = st
	}
	return st
}

func (c *Controller) clamp(d time.Duration) time.Duration {
	if d < c.cfg.MinDelay {
		return c.cfg.MinDelay
	}
	if d > c.cfg.MaxDelay {
		return c.cfg.MaxDelay
	}
	return d
}
