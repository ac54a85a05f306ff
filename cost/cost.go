// Package cost enforces rolling-hour ceilings on tokens, browser
// minutes, request counts, and estimated spend. Usage is bucketed per
// minute; the window slides and buckets older than two hours are
// evicted on every write.
package cost

import (
	"log/slog"
	"sync"
	"time"

	"github.com/use-agent/urwa/config"
	"github.com/use-agent/urwa/models"
)

// Per-unit cost estimates in USD.
const (
	usdPerRequest       = 0.0001
	usdPerBrowserMinute = 0.01
	usdPerThousandTok   = 0.002
)

// usage accumulates one minute bucket.
type usage struct {
	Tokens         float64
	BrowserMinutes float64
	Requests       float64
	USD            float64
}

func (u *usage) add(o usage) {
	u.Tokens += o.Tokens
	u.BrowserMinutes += o.BrowserMinutes
	u.Requests += o.Requests
	u.USD += o.USD
}

// Controller tracks the rolling-hour spend. Safe for concurrent use.
type Controller struct {
	cfg    config.CostConfig
	logger *slog.Logger

	mu      sync.Mutex
	buckets map[int64]*usage // unix minute -> usage

	now func() time.Time
}

// New creates a cost controller.
func New(cfg config.CostConfig, logger *slog.Logger) *Controller {
	return &Controller{
		cfg:     cfg,
		logger:  logger.With("component", "cost"),
		buckets: make(map[int64]*usage),
		now:     time.Now,
	}
}

// Admit reports whether another attempt of the strategy fits under every
// ceiling. The prospective request is counted against the limits but not
// yet recorded.
func (c *Controller) Admit(strategy models.Strategy) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	window := c.windowLocked()
	if window.Requests+1 > c.cfg.MaxRequests {
		return false
	}
	if window.Tokens > c.cfg.MaxTokens {
		return false
	}
	if window.BrowserMinutes > c.cfg.MaxBrowserMinutes {
		return false
	}
	if window.USD+usdPerRequest > c.cfg.MaxUSD {
		return false
	}
	return true
}

// RecordAttempt charges one fetch attempt. Browser minutes accrue for
// the stealth and ultra strategies from the attempt's elapsed time.
func (c *Controller) RecordAttempt(strategy models.Strategy, elapsed time.Duration) {
	u := usage{Requests: 1, USD: usdPerRequest}
	if strategy == models.StrategyStealth || strategy == models.StrategyUltra {
		minutes := elapsed.Minutes()
		u.BrowserMinutes = minutes
		u.USD += minutes * usdPerBrowserMinute
	}
	c.record(u)
}

// RecordTokens charges downstream LLM token use against the window.
func (c *Controller) RecordTokens(tokens float64) {
	c.record(usage{
		Tokens: tokens,
		USD:    tokens / 1000 * usdPerThousandTok,
	})
}

func (c *Controller) record(u usage) {
	minute := c.now().Unix() / 60

	c.mu.Lock()
	b, ok := c.buckets[minute]
	if !ok {
		b = &usage{}
		c.buckets[minute] = b
	}
	b.add(u)
	c.evictLocked(minute)
	c.mu.Unlock()
}

// evictLocked drops buckets older than two hours so the map cannot grow
// without bound. Caller must hold c.mu.
func (c *Controller) evictLocked(currentMinute int64) {
	cutoff := currentMinute - 120
	for m := range c.buckets {
		if m < cutoff {
			delete(c.buckets, m)
		}
	}
}

// windowLocked sums the last 60 minutes. Caller must hold c.mu.
func (c *Controller) windowLocked() usage {
	minute := c.now().Unix() / 60
	var total usage
	for m, b := range c.buckets {
		if m > minute-60 {
			total.add(*b)
		}
	}
	return total
}

// Usage is the telemetry view of the current window.
type Usage struct {
	CurrentHour map[string]float64 `json:"current_hour"`
	Limits      map[string]float64 `json:"limits"`
	Exceeded    map[string]bool    `json:"exceeded_map"`
}

// Snapshot returns current usage against the ceilings.
func (c *Controller) Snapshot() Usage {
	c.mu.Lock()
	window := c.windowLocked()
	c.mu.Unlock()

	return Usage{
		CurrentHour: map[string]float64{
			"tokens":          window.Tokens,
			"browser_minutes": window.BrowserMinutes,
			"requests":        window.Requests,
			"usd":             window.USD,
		},
		Limits: map[string]float64{
			"tokens":          c.cfg.MaxTokens,
			"browser_minutes": c.cfg.MaxBrowserMinutes,
			"requests":        c.cfg.MaxRequests,
			"usd":             c.cfg.MaxUSD,
		},
		Exceeded: map[string]bool{
			"tokens":          window.Tokens > c.cfg.MaxTokens,
			"browser_minutes": window.BrowserMinutes > c.cfg.MaxBrowserMinutes,
			"requests":        window.Requests > c.cfg.MaxRequests,
			"usd":             window.USD > c.cfg.MaxUSD,
		},
	}
}
