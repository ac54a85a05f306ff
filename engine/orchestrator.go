// Package engine is the decision and execution core: one Scrape call
// threads through the compliance, circuit, and cost gates into strategy
// selection, escalates across the fetcher trio with kind-specific
// retries, and feeds every outcome back into learning, pacing, circuits,
// evidence, and metrics.
package engine

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/use-agent/urwa/cache"
	"github.com/use-agent/urwa/circuit"
	"github.com/use-agent/urwa/cleaner"
	"github.com/use-agent/urwa/compliance"
	"github.com/use-agent/urwa/confidence"
	"github.com/use-agent/urwa/config"
	"github.com/use-agent/urwa/cost"
	"github.com/use-agent/urwa/evidence"
	"github.com/use-agent/urwa/fetch"
	"github.com/use-agent/urwa/learner"
	"github.com/use-agent/urwa/logging"
	"github.com/use-agent/urwa/metrics"
	"github.com/use-agent/urwa/models"
	"github.com/use-agent/urwa/profile"
	"github.com/use-agent/urwa/ratecontrol"
	"github.com/use-agent/urwa/retry"
	"github.com/use-agent/urwa/strategy"
	"github.com/use-agent/urwa/trace"
	"github.com/use-agent/urwa/urlutil"
)

// profileInvalidateAfter is the number of consecutive terminal failures
// on a domain that invalidates its cached profile.
const profileInvalidateAfter = 3

// Orchestrator owns the per-domain registries and exposes the single
// Scrape operation plus telemetry accessors.
type Orchestrator struct {
	cfg      *config.Config
	fetchers fetch.Registry
	gate     *compliance.Gate
	profiler *profile.Profiler
	rate     *ratecontrol.Controller
	circuits *circuit.Registry
	learner  *learner.Learner
	cost     *cost.Controller
	evidence *evidence.Capturer
	cache    *cache.Cache
	cleaner  *cleaner.Cleaner
	metrics  *metrics.Metrics
	logger   *slog.Logger
	logs     *logging.Handler

	// lookup is the SSRF resolver, swappable in tests.
	lookup urlutil.LookupFunc

	inflight *inflightTable

	mu               sync.Mutex
	terminalFailures map[string]int
}

// Deps bundles the orchestrator's collaborators.
type Deps struct {
	Fetchers fetch.Registry
	Gate     *compliance.Gate
	Profiler *profile.Profiler
	Rate     *ratecontrol.Controller
	Circuits *circuit.Registry
	Learner  *learner.Learner
	Cost     *cost.Controller
	Evidence *evidence.Capturer
	Cache    *cache.Cache
	Cleaner  *cleaner.Cleaner
	Metrics  *metrics.Metrics
	Logger   *slog.Logger
	Logs     *logging.Handler
}

// New wires an Orchestrator from its dependencies.
func New(cfg *config.Config, deps Deps) *Orchestrator {
	return &Orchestrator{
		cfg:              cfg,
		fetchers:         deps.Fetchers,
		gate:             deps.Gate,
		profiler:         deps.Profiler,
		rate:             deps.Rate,
		circuits:         deps.Circuits,
		learner:          deps.Learner,
		cost:             deps.Cost,
		evidence:         deps.Evidence,
		cache:            deps.Cache,
		cleaner:          deps.Cleaner,
		metrics:          deps.Metrics,
		logger:           deps.Logger.With("component", "engine"),
		logs:             deps.Logs,
		inflight:         newInflightTable(),
		terminalFailures: make(map[string]int),
	}
}

// Scrape runs one request through the full pipeline and returns its
// terminal result. All retries and escalation happen inside; the caller
// sees a single success or a single classified error.
func (o *Orchestrator) Scrape(ctx context.Context, req *models.ScrapeRequest) *models.ScrapeResult {
	req.Defaults()

	traceID := trace.NewID()
	ctx = trace.With(ctx, traceID)
	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, time.Duration(req.TimeoutSeconds)*time.Second)
	defer cancel()

	result := o.scrape(ctx, req, traceID)
	result.ElapsedMS = time.Since(start).Milliseconds()
	return result
}

func (o *Orchestrator) scrape(ctx context.Context, req *models.ScrapeRequest, traceID string) *models.ScrapeResult {
	// ── 1. Input validation ─────────────────────────────────────────
	if err := urlutil.ValidateScheme(req.URL); err != nil {
		return o.errorResult(req, traceID, models.FailInvalidURL, 0)
	}
	if !o.cfg.Scrape.SSRFAllowPrivate {
		if err := urlutil.GuardPrivate(ctx, req.URL, o.lookup); err != nil {
			o.logger.WarnContext(ctx, "ssrf guard rejected target", "url", req.URL, "error", err)
			return o.errorResult(req, traceID, models.FailInvalidURL, 0)
		}
	}

	// ── 2. Cache + single-flight ────────────────────────────────────
	fp := cache.Fingerprint(req)
	if !req.BypassCache {
		if cached, hit := o.cache.Get(fp); hit {
			o.metrics.CacheHit()
			o.logger.InfoContext(ctx, "cache hit", "url", req.URL)
			cached.Cached = true
			cached.TraceID = traceID
			return cached
		}
	}

	for {
		leader, call := o.inflight.join(fp)
		if leader {
			result := o.execute(ctx, req, traceID, fp)
			o.inflight.finish(fp, call, result)
			return result
		}

		o.logger.InfoContext(ctx, "single-flight wait", "url", req.URL)
		shared, err := call.wait(ctx)
		if err != nil {
			return o.errorResult(req, traceID, models.FailCancelled, 0)
		}
		if shared != nil {
			clone := *shared
			clone.TraceID = traceID
			clone.Cached = true
			return &clone
		}
		// Leader failed; race independently.
	}
}

// execute runs the admission gates and the escalation loop: ordered
// strategies, each with kind-specific same-strategy retries.
func (o *Orchestrator) execute(ctx context.Context, req *models.ScrapeRequest, traceID, fp string) *models.ScrapeResult {
	domain := urlutil.RegisteredDomain(req.URL)

	// ── 3. Compliance gate ──────────────────────────────────────────
	decision := o.gate.Decide(ctx, req.URL)
	if !decision.Allowed {
		kind := models.FailComplianceDenied
		if decision.Reason == compliance.ReasonBlacklisted {
			kind = models.FailBlocked
		}
		o.logger.InfoContext(ctx, "compliance denied",
			"url", req.URL, "reason", decision.Reason)
		return o.errorResult(req, traceID, kind, 0)
	}

	// ── 4. Circuit admission ────────────────────────────────────────
	// CanExecute reserves a half-open probe slot; every reservation is
	// paired with a RecordSuccess/RecordFailure or an explicit Release.
	breaker := o.circuits.For(domain)
	if !breaker.CanExecute() {
		o.logger.InfoContext(ctx, "circuit open, rejecting", "domain", domain)
		return o.errorResult(req, traceID, models.FailCircuitOpen, 0)
	}
	admitted := true

	// ── 5. Profile + strategy order ─────────────────────────────────
	prof := o.profiler.Get(ctx, req.URL, decision.CrawlDelay)
	o.rate.SeedDelay(domain, prof.RecommendedDelay)
	order := strategy.Choose(prof, o.learner.Stats(domain), req.ForceStrategy)
	o.logger.InfoContext(ctx, "strategy order chosen",
		"domain", domain, "risk", prof.Risk, "order", order)

	// ── 6. Escalation loop ──────────────────────────────────────────
	attempts := 0
	lastKind := models.FailUnknown

	for idx := 0; idx < len(order); idx++ {
		strat := order[idx]
		fetcher, ok := o.fetchers[strat]
		if !ok {
			continue
		}
		policy := retry.NewPolicy(o.cfg.Scrape.StrategyTimeout(string(strat)))
		attemptInStrategy := 0

		for {
			if ctx.Err() != nil {
				if admitted {
					breaker.Release()
				}
				return o.errorResult(req, traceID, models.FailCancelled, attempts)
			}

			// Each attempt re-checks admission so a circuit that
			// opened mid-call stops further fetches.
			if !admitted {
				if !breaker.CanExecute() {
					return o.errorResult(req, traceID, models.FailCircuitOpen, attempts)
				}
				admitted = true
			}
			if !o.cost.Admit(strat) {
				o.metrics.CostRejected()
				breaker.Release()
				o.logger.WarnContext(ctx, "cost ceiling reached", "strategy", strat)
				return o.errorResult(req, traceID, models.FailCostExceeded, attempts)
			}

			if err := o.rate.AcquireSlot(ctx, domain); err != nil {
				breaker.Release()
				return o.errorResult(req, traceID, models.FailCancelled, attempts)
			}
			o.logger.InfoContext(ctx, "rate slot acquired", "domain", domain, "strategy", strat)

			outcome := fetcher.Fetch(ctx, req.URL)
			attempts++
			admitted = false

			o.metrics.ObserveFetch(strat, outcome.Success, outcome.Elapsed)
			o.cost.RecordAttempt(strat, outcome.Elapsed)
			o.rate.RecordOutcome(domain, outcome.Success, outcome.Kind)

			if outcome.Success {
				breaker.RecordSuccess()
				o.learner.Record(domain, strat, true, outcome.Elapsed)
				o.clearTerminalFailures(domain)
				o.logger.InfoContext(ctx, "fetch succeeded",
					"strategy", strat, "status", outcome.HTTPStatus, "attempts", attempts)

				result := o.buildResult(ctx, req, traceID, strat, attempts, outcome)
				o.cache.Put(fp, result)
				return result
			}

			breaker.RecordFailure(outcome.Kind, req.URL)
			o.learner.Record(domain, strat, false, outcome.Elapsed)
			lastKind = outcome.Kind
			o.logger.InfoContext(ctx, "fetch failed",
				"strategy", strat, "kind", outcome.Kind, "status", outcome.HTTPStatus)

			if evidence.ShouldCapture(outcome.Kind) {
				outcome.EvidenceHandle = o.evidence.Capture(
					traceID, domain, req.URL, attempts,
					outcome.Kind, outcome.HTTPStatus, outcome.Headers, outcome.Content,
				)
			}

			if outcome.Kind.Terminal() {
				o.noteTerminalFailure(domain)
				return o.errorResult(req, traceID, outcome.Kind, attempts)
			}

			if d := policy.Decide(outcome.Kind, attemptInStrategy, outcome.RetryAfter); d.Retry {
				attemptInStrategy++
				if err := sleepCtx(ctx, d.Backoff); err != nil {
					return o.errorResult(req, traceID, models.FailCancelled, attempts)
				}
				continue
			}

			// A challenge jumps to the heaviest remaining strategy,
			// skipping intermediates.
			if outcome.Kind == models.FailChallenge && idx < len(order)-1 {
				idx = len(order) - 2
			}
			break
		}
	}

	o.noteTerminalFailure(domain)
	o.logger.WarnContext(ctx, "all strategies exhausted",
		"domain", domain, "kind", lastKind, "attempts", attempts)
	return o.errorResult(req, traceID, lastKind, attempts)
}

// buildResult normalizes the winning fetch into the emitted result and
// scores it.
func (o *Orchestrator) buildResult(ctx context.Context, req *models.ScrapeRequest, traceID string, strat models.Strategy, attempts int, outcome *fetch.Outcome) *models.ScrapeResult {
	body := string(outcome.Content)
	if req.CSSSelector != "" {
		filtered, err := cleaner.ApplyCSSSelector(body, req.CSSSelector)
		if err != nil {
			o.logger.WarnContext(ctx, "css selector failed, normalizing full page",
				"selector", req.CSSSelector, "error", err)
		} else {
			body = filtered
		}
	}

	normalized := o.cleaner.Normalize(body, req.URL)
	structured := confidence.HasStructuredData(outcome.Content)

	result := &models.ScrapeResult{
		Status:            models.StatusSuccess,
		URL:               req.URL,
		FinalURL:          outcome.FinalURL,
		Content:           normalized.Content,
		ContentLength:     len(outcome.Content),
		StrategyUsed:      strat,
		Attempts:          attempts,
		TraceID:           traceID,
		HTTPStatus:        outcome.HTTPStatus,
		Redirects:         outcome.Redirects,
		HadStructuredData: structured,
	}

	median := o.metrics.MedianDuration(strat)
	result.Confidence = confidence.Score(confidence.Input{
		ContentLength:  len(outcome.Content),
		Strategy:       strat,
		HTTPStatus:     outcome.HTTPStatus,
		Redirects:      outcome.Redirects,
		HadStructured:  structured,
		Elapsed:        outcome.Elapsed,
		ExpectedMedian: median,
	})
	return result
}

func (o *Orchestrator) errorResult(req *models.ScrapeRequest, traceID string, kind models.FailureKind, attempts int) *models.ScrapeResult {
	return &models.ScrapeResult{
		Status:      models.StatusError,
		URL:         req.URL,
		Attempts:    attempts,
		FailureKind: kind,
		TraceID:     traceID,
	}
}

// noteTerminalFailure bumps the domain's consecutive terminal-failure
// count and invalidates the cached profile at the threshold.
func (o *Orchestrator) noteTerminalFailure(domain string) {
	o.mu.Lock()
	o.terminalFailures[domain]++
	invalidate := o.terminalFailures[domain] >= profileInvalidateAfter
	if invalidate {
		o.terminalFailures[domain] = 0
	}
	o.mu.Unlock()

	if invalidate {
		o.profiler.Invalidate(domain)
	}
}

func (o *Orchestrator) clearTerminalFailures(domain string) {
	o.mu.Lock()
	delete(o.terminalFailures, domain)
	o.mu.Unlock()
}

// sleepCtx sleeps for d or until ctx is cancelled.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
