// Package compliance decides whether a URL may be fetched at all:
// domain blacklist first, then robots.txt rules for the configured user
// agent. Robots files are fetched lazily and cached per domain.
package compliance

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/use-agent/urwa/config"
	"github.com/use-agent/urwa/urlutil"
)

// DenyReason explains a denied decision.
type DenyReason string

const (
	ReasonBlacklisted    DenyReason = "blacklisted"
	ReasonRobotsDisallow DenyReason = "robots_disallow"
)

// Decision is the gate's verdict for one URL.
type Decision struct {
	Allowed bool
	Reason  DenyReason

	// CrawlDelay is the robots Crawl-delay directive, 0 when absent.
	CrawlDelay time.Duration
}

// Gate fetches and caches robots.txt per domain and consults the
// blacklist. Safe for concurrent use.
type Gate struct {
	cfg       config.ComplianceConfig
	userAgent string
	client    *http.Client
	logger    *slog.Logger

	mu        sync.Mutex
	blacklist map[string]struct{}
	rules     map[string]*ruleSet // domain -> parsed rules
	inflight  map[string]chan struct{}

	now func() time.Time
}

// NewGate creates a compliance gate.
func NewGate(cfg config.ComplianceConfig, userAgent string, logger *slog.Logger) *Gate {
	bl := make(map[string]struct{}, len(cfg.Blacklist))
	for _, d := range cfg.Blacklist {
		bl[d] = struct{}{}
	}
	return &Gate{
		cfg:       cfg,
		userAgent: userAgent,
		client:    &http.Client{Timeout: 10 * time.Second},
		logger:    logger.With("component", "compliance"),
		blacklist: bl,
		rules:     make(map[string]*ruleSet),
		inflight:  make(map[string]chan struct{}),
		now:       time.Now,
	}
}

// Blacklisted reports whether the URL's registered domain is denied.
func (g *Gate) Blacklisted(rawURL string) bool {
	domain := urlutil.RegisteredDomain(rawURL)
	g.mu.Lock()
	_, denied := g.blacklist[domain]
	g.mu.Unlock()
	return denied
}

// Decide evaluates blacklist and robots rules for the URL.
func (g *Gate) Decide(ctx context.Context, rawURL string) Decision {
	if g.Blacklisted(rawURL) {
		return Decision{Allowed: false, Reason: ReasonBlacklisted}
	}
	if !g.cfg.RespectRobots {
		return Decision{Allowed: true}
	}

	u, err := url.Parse(rawURL)
	if err != nil {
		// Invalid URLs are rejected upstream; allow here.
		return Decision{Allowed: true}
	}

	rules := g.rulesFor(ctx, u)
	if !rules.allows(u.Path) {
		g.logger.Info("robots disallow", "url", rawURL)
		return Decision{Allowed: false, Reason: ReasonRobotsDisallow}
	}
	return Decision{Allowed: true, CrawlDelay: rules.crawlDelay}
}

// rulesFor returns the cached rule set for the URL's domain, fetching
// robots.txt when the cache is cold or expired. Concurrent callers for
// the same domain share one fetch.
func (g *Gate) rulesFor(ctx context.Context, u *url.URL) *ruleSet {
	domain := urlutil.RegisteredDomain(u.String())

	for {
		g.mu.Lock()
		if rs, ok := g.rules[domain]; ok && !rs.expired(g.now()) {
			g.mu.Unlock()
			return rs
		}
		if done, fetching := g.inflight[domain]; fetching {
			g.mu.Unlock()
			select {
			case <-done:
				continue
			case <-ctx.Done():
				return &ruleSet{permissive: true}
			}
		}
		done := make(chan struct{})
		g.inflight[domain] = done
		g.mu.Unlock()

		rs := g.fetchRobots(ctx, u)

		g.mu.Lock()
		g.rules[domain] = rs
		delete(g.inflight, domain)
		close(done)
		g.mu.Unlock()
		return rs
	}
}

// fetchRobots retrieves and parses /robots.txt from the URL's host.
// Network failures and 5xx responses are cached briefly as
// unknown-permissive; 4xx means no rules (permissive, full TTL).
func (g *Gate) fetchRobots(ctx context.Context, u *url.URL) *ruleSet {
	robotsURL := fmt.Sprintf("%s://%s/robots.txt", u.Scheme, u.Host)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, nil)
	if err != nil {
		return g.permissiveRules(g.cfg.RobotsErrorTTL)
	}
	req.Header.Set("User-Agent", g.userAgent)

	resp, err := g.client.Do(req)
	if err != nil {
		g.logger.Warn("robots fetch failed", "url", robotsURL, "error", err)
		return g.permissiveRules(g.cfg.RobotsErrorTTL)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 500:
		return g.permissiveRules(g.cfg.RobotsErrorTTL)
	case resp.StatusCode >= 400:
		return g.permissiveRules(g.cfg.RobotsTTL)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 512*1024))
	if err != nil {
		return g.permissiveRules(g.cfg.RobotsErrorTTL)
	}

	rs := parseRobots(string(body), g.userAgent)
	rs.fetchedAt = g.now()
	rs.ttl = g.cfg.RobotsTTL
	return rs
}

func (g *Gate) permissiveRules(ttl time.Duration) *ruleSet {
	return &ruleSet{permissive: true, fetchedAt: g.now(), ttl: ttl}
}
