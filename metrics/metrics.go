// Package metrics is the observability fabric: prometheus collectors for
// the ops endpoint plus bounded ring buffers of raw duration samples so
// in-process quantile snapshots stay constant-time and constant-memory.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/use-agent/urwa/models"
)

// Metrics owns all collectors. Construct one per process and pass it
// explicitly; there are no package-level globals.
type Metrics struct {
	registry *prometheus.Registry

	scrapeTotal    *prometheus.CounterVec
	scrapeDuration *prometheus.HistogramVec
	circuitState   *prometheus.GaugeVec
	rateDelay      *prometheus.GaugeVec
	cacheHits      prometheus.Counter
	evidenceTotal  prometheus.Counter
	internalErrors prometheus.Counter
	costRejections prometheus.Counter

	mu        sync.Mutex
	durations map[models.Strategy]*sampleRing
}

// New creates a Metrics instance with its own registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		scrapeTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "scrape_total",
			Help: "Fetch attempts by outcome (success/error) and strategy.",
		}, []string{"status", "strategy"}),
		scrapeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "scrape_duration_seconds",
			Help:    "Fetch attempt duration by strategy.",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
		}, []string{"strategy"}),
		circuitState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "circuit_state",
			Help: "Circuit state per domain (0=closed, 1=half_open, 2=open).",
		}, []string{"domain"}),
		rateDelay: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "rate_delay_seconds",
			Help: "Current adaptive delay per domain.",
		}, []string{"domain"}),
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cache_hits",
			Help: "Result cache hits.",
		}),
		evidenceTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "evidence_captured_total",
			Help: "Evidence records written.",
		}),
		internalErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "internal_errors_total",
			Help: "Unexpected internal errors.",
		}),
		costRejections: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cost_rejections_total",
			Help: "Attempts rejected by the cost controller.",
		}),
		durations: make(map[models.Strategy]*sampleRing),
	}
	m.registry.MustRegister(
		m.scrapeTotal, m.scrapeDuration, m.circuitState, m.rateDelay,
		m.cacheHits, m.evidenceTotal, m.internalErrors, m.costRejections,
	)
	return m
}

// Registry exposes the prometheus registry for the /metrics handler.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveFetch records one fetch attempt's duration and outcome.
func (m *Metrics) ObserveFetch(strategy models.Strategy, success bool, elapsed time.Duration) {
	status := "error"
	if success {
		status = "success"
	}
	m.scrapeTotal.WithLabelValues(status, string(strategy)).Inc()
	m.scrapeDuration.WithLabelValues(string(strategy)).Observe(elapsed.Seconds())

	m.mu.Lock()
	ring, ok := m.durations[strategy]
	if !ok {
		ring = newSampleRing(1024)
		m.durations[strategy] = ring
	}
	m.mu.Unlock()
	ring.add(elapsed.Seconds())
}

// MedianDuration returns the observed median fetch duration for a
// strategy, or 0 when no samples exist yet.
func (m *Metrics) MedianDuration(strategy models.Strategy) time.Duration {
	m.mu.Lock()
	ring, ok := m.durations[strategy]
	m.mu.Unlock()
	if !ok {
		return 0
	}
	return time.Duration(ring.quantile(0.5) * float64(time.Second))
}

// SetCircuitState publishes a domain's circuit state as a gauge.
func (m *Metrics) SetCircuitState(domain string, state float64) {
	m.circuitState.WithLabelValues(domain).Set(state)
}

// SetRateDelay publishes a domain's current pacing delay.
func (m *Metrics) SetRateDelay(domain string, delay time.Duration) {
	m.rateDelay.WithLabelValues(domain).Set(delay.Seconds())
}

// CacheHit increments the result-cache hit counter.
func (m *Metrics) CacheHit() { m.cacheHits.Inc() }

// EvidenceCaptured increments the evidence counter.
func (m *Metrics) EvidenceCaptured() { m.evidenceTotal.Inc() }

// InternalError increments the global internal-error counter.
func (m *Metrics) InternalError() { m.internalErrors.Inc() }

// CostRejected increments the cost-rejection counter.
func (m *Metrics) CostRejected() { m.costRejections.Inc() }
