package profile

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/use-agent/urwa/config"
	"github.com/use-agent/urwa/fetch"
	"github.com/use-agent/urwa/models"
	"github.com/use-agent/urwa/urlutil"
)

// probeBodyLimit bounds the truncated GET used for classification.
const probeBodyLimit = 32 * 1024

// Prober is the probe capability the profiler needs; implemented by the
// light fetcher.
type Prober interface {
	Head(ctx context.Context, url string) (int, http.Header, error)
	GetLimited(ctx context.Context, url string, limit int64) *fetch.Outcome
}

// Profiler builds and caches SiteProfiles. Concurrent callers for a cold
// domain share one probe; latecomers wait up to ProbeWait and then fall
// through with an assumed-medium profile.
type Profiler struct {
	cfg    config.ProfileConfig
	prober Prober
	logger *slog.Logger

	mu       sync.Mutex
	profiles map[string]*SiteProfile
	inflight map[string]chan struct{}

	now func() time.Time
}

// NewProfiler creates a Profiler probing through the given prober.
func NewProfiler(cfg config.ProfileConfig, prober Prober, logger *slog.Logger) *Profiler {
	return &Profiler{
		cfg:      cfg,
		prober:   prober,
		logger:   logger.With("component", "profiler"),
		profiles: make(map[string]*SiteProfile),
		inflight: make(map[string]chan struct{}),
		now:      time.Now,
	}
}

// Get returns the profile for the URL's domain, probing on cache miss.
// crawlDelay, when non-zero, raises the recommended delay.
func (p *Profiler) Get(ctx context.Context, rawURL string, crawlDelay time.Duration) *SiteProfile {
	domain := urlutil.RegisteredDomain(rawURL)

	for {
		p.mu.Lock()
		if prof, ok := p.profiles[domain]; ok && !prof.expired(p.now()) {
			p.mu.Unlock()
			return withCrawlDelay(prof, crawlDelay)
		}
		if done, probing := p.inflight[domain]; probing {
			p.mu.Unlock()
			select {
			case <-done:
				continue
			case <-time.After(p.cfg.ProbeWait):
				return withCrawlDelay(assumedMedium(domain, p.now()), crawlDelay)
			case <-ctx.Done():
				return withCrawlDelay(assumedMedium(domain, p.now()), crawlDelay)
			}
		}
		done := make(chan struct{})
		p.inflight[domain] = done
		p.mu.Unlock()

		prof := p.probe(ctx, domain, rawURL)

		p.mu.Lock()
		p.store(domain, prof)
		delete(p.inflight, domain)
		close(done)
		p.mu.Unlock()
		return withCrawlDelay(prof, crawlDelay)
	}
}

// Invalidate drops a domain's cached profile, forcing a fresh probe on
// the next request. Called after repeated terminal failures.
func (p *Profiler) Invalidate(domain string) {
	p.mu.Lock()
	delete(p.profiles, domain)
	p.mu.Unlock()
	p.logger.Info("profile invalidated", "domain", domain)
}

// store caches a profile, evicting the oldest entry at capacity.
// Caller must hold p.mu.
func (p *Profiler) store(domain string, prof *SiteProfile) {
	if len(p.profiles) >= p.cfg.MaxEntries {
		var oldest string
		var oldestAt time.Time
		for d, existing := range p.profiles {
			if oldest == "" || existing.ComputedAt.Before(oldestAt) {
				oldest = d
				oldestAt = existing.ComputedAt
			}
		}
		if oldest != "" {
			delete(p.profiles, oldest)
		}
	}
	p.profiles[domain] = prof
}

// probe performs the HEAD + truncated GET and classifies the result.
func (p *Profiler) probe(ctx context.Context, domain, rawURL string) *SiteProfile {
	headStatus, headHeaders, headErr := p.prober.Head(ctx, rawURL)
	out := p.prober.GetLimited(ctx, rawURL, probeBodyLimit)

	status := out.HTTPStatus
	headers := out.Headers
	if status == 0 {
		status = headStatus
	}
	if headers == nil {
		headers = headHeaders
	}
	if headErr != nil && out.Kind == models.FailConnection {
		// Unreachable site: classify as medium so the runner still
		// tries, at stealth pacing.
		prof := assumedMedium(domain, p.now())
		prof.Assumed = false
		prof.TTL = p.cfg.ExtremeTTL
		return prof
	}

	prof := classify(domain, status, headers, out.Content)
	prof.ComputedAt = p.now()
	prof.TTL = p.cfg.TTL
	if prof.Risk == RiskExtreme {
		prof.TTL = p.cfg.ExtremeTTL
	}
	p.logger.Info("site profiled",
		"domain", domain,
		"risk", prof.Risk,
		"score", prof.RiskScore,
		"strategy", prof.RecommendedStrategy,
	)
	return prof
}

// classify applies the protection ladder in order; the first matching
// rule fixes the risk. The score is advisory.
func classify(domain string, status int, headers http.Header, body []byte) *SiteProfile {
	prof := &SiteProfile{Domain: domain}

	cloudflare := isCloudflare(headers)
	challenged := fetch.LooksLikeChallenge(body)
	retryAfter := headers.Get("Retry-After") != ""

	switch {
	case len(body) < 512 && challenged:
		prof.Risk = RiskExtreme
		prof.RiskScore = 90
		prof.RecommendedStrategy = models.StrategyUltra
		prof.Protections = append(prof.Protections, ProtCaptchaLikely)
		if cloudflare {
			prof.Protections = append(prof.Protections, ProtCloudflareLike)
		}

	case cloudflare && (status == http.StatusForbidden || status == http.StatusServiceUnavailable):
		prof.Risk = RiskHigh
		prof.RiskScore = 75
		prof.RecommendedStrategy = models.StrategyUltra
		prof.Protections = append(prof.Protections, ProtCloudflareLike)

	case status == http.StatusTooManyRequests || retryAfter:
		prof.Risk = RiskHigh
		prof.RiskScore = 60
		prof.RecommendedStrategy = models.StrategyStealth
		prof.Protections = append(prof.Protections, ProtRateLimitSignal)

	case status == http.StatusOK && jsHeavy(body):
		prof.Risk = RiskMedium
		prof.RiskScore = 45
		prof.RecommendedStrategy = models.StrategyStealth
		prof.Protections = append(prof.Protections, ProtJSRequired)

	case status == http.StatusOK && len(visibleText(body)) >= 2*1024:
		prof.Risk = RiskLow
		prof.RiskScore = 10
		prof.RecommendedStrategy = models.StrategyLight

	case status >= 400 && status < 500:
		prof.Risk = RiskMedium
		prof.RiskScore = 35
		prof.RecommendedStrategy = models.StrategyStealth
		if status == http.StatusUnauthorized || status == http.StatusForbidden {
			prof.Protections = append(prof.Protections, ProtLoginWall)
		}

	default:
		prof.Risk = RiskMedium
		prof.RiskScore = 40
		prof.RecommendedStrategy = models.StrategyStealth
	}

	prof.RecommendedDelay = delayForRisk(prof.Risk)
	return prof
}

func isCloudflare(headers http.Header) bool {
	if headers == nil {
		return false
	}
	if headers.Get("cf-ray") != "" {
		return true
	}
	return strings.Contains(strings.ToLower(headers.Get("server")), "cloudflare")
}

// jsHeavy reports pages that ship large script payloads but render
// almost no text server-side.
func jsHeavy(body []byte) bool {
	if len(body) == 0 {
		return false
	}
	text := visibleText(body)
	ratio := float64(len(text)) / float64(len(body))
	if ratio >= 0.05 {
		return false
	}
	return scriptBytes(body) > 100*1024
}

// visibleText extracts body-level text from HTML.
func visibleText(body []byte) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(body)))
	if err != nil {
		return ""
	}
	doc.Find("script, style, noscript").Remove()
	return strings.TrimSpace(doc.Find("body").Text())
}

// scriptBytes estimates the inline plus referenced script payload.
func scriptBytes(body []byte) int {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(body)))
	if err != nil {
		return 0
	}
	total := 0
	doc.Find("script").Each(func(_ int, s *goquery.Selection) {
		total += len(s.Text())
		if _, ok := s.Attr("src"); ok {
			// External bundles count as large; their size is unknown
			// from the truncated probe.
			total += 64 * 1024
		}
	})
	return total
}

func withCrawlDelay(prof *SiteProfile, crawlDelay time.Duration) *SiteProfile {
	if crawlDelay <= prof.RecommendedDelay {
		return prof
	}
	clone := *prof
	clone.RecommendedDelay = crawlDelay
	return &clone
}
