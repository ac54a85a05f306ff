package fetch

import (
	"context"
	"log/slog"
	"net/url"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"github.com/ysmood/gson"

	"github.com/use-agent/urwa/config"
	"github.com/use-agent/urwa/models"
)

// Browser owns the headless Chrome instance and the shared page pool
// behind the stealth and ultra fetchers. Safe for concurrent use.
type Browser struct {
	browser  *rod.Browser
	pagePool rod.Pool[rod.Page]
	cfg      config.BrowserConfig
	logger   *slog.Logger
}

// NewBrowser launches a headless browser and initialises the page pool.
func NewBrowser(cfg config.BrowserConfig, logger *slog.Logger) (*Browser, error) {
	l := launcher.New().
		Headless(cfg.Headless).
		NoSandbox(cfg.NoSandbox)

	if cfg.BrowserBin != "" {
		l = l.Bin(cfg.BrowserBin)
	}
	if cfg.DefaultProxy != "" {
		l = l.Proxy(cfg.DefaultProxy)
	}

	// ── Stealth flags ────────────────────────────────────────────────
	l.Set(flags.Flag("disable-blink-features"), "AutomationControlled")
	l.Delete(flags.Flag("enable-automation"))
	l.Set(flags.Flag("disable-features"), "AudioServiceOutOfProcess,TranslateUI")
	l.Set(flags.Flag("disable-ipc-flooding-protection"))
	l.Set(flags.Flag("disable-popup-blocking"))
	l.Set(flags.Flag("disable-renderer-backgrounding"))
	l.Set(flags.Flag("disable-background-timer-throttling"))
	l.Set(flags.Flag("disable-backgrounding-occluded-windows"))
	l.Set(flags.Flag("disable-component-update"))
	l.Set(flags.Flag("disable-default-apps"))
	l.Set(flags.Flag("disable-dev-shm-usage"))
	l.Set(flags.Flag("disable-extensions"))
	l.Set(flags.Flag("no-first-run"))

	controlURL, err := l.Launch()
	if err != nil {
		return nil, models.NewScrapeError(models.FailInternal, "failed to launch browser", err)
	}
	logger.Info("browser launched", "controlURL", controlURL)

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		return nil, models.NewScrapeError(models.FailInternal, "failed to connect to browser", err)
	}

	return &Browser{
		browser:  browser,
		pagePool: rod.NewPagePool(cfg.MaxPages),
		cfg:      cfg,
		logger:   logger.With("component", "browser"),
	}, nil
}

// Close drains the page pool and kills the browser process.
func (b *Browser) Close() {
	b.logger.Info("browser shutting down: draining page pool")
	b.pagePool.Cleanup(func(p *rod.Page) {
		_ = p.Close()
	})
	b.browser.MustClose()
}

// fetchPage navigates a pooled page to the URL and extracts the rendered
// HTML. When stealthJS is true the stealth script and a search-engine
// Referer are installed before navigation.
//
// Order matters: stealth injection and the hijack router must be mounted
// before Navigate, and the cleanup defer uses the original page reference
// so pool return succeeds even after the request context expires.
func (b *Browser) fetchPage(ctx context.Context, target string, timeout time.Duration, stealthJS bool) *Outcome {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	page, acquireErr := b.pagePool.Get(func() (*rod.Page, error) {
		return b.browser.Page(proto.TargetCreateTarget{})
	})
	if acquireErr != nil {
		return &Outcome{Kind: models.FailConnection, Elapsed: time.Since(start)}
	}
	defer func() {
		if navErr := page.Navigate("about:blank"); navErr != nil {
			b.logger.Warn("cleanup: failed to navigate to about:blank", "error", navErr)
		}
		b.pagePool.Put(page)
	}()

	if stealthJS {
		if _, evalErr := page.EvalOnNewDocument(stealth.JS); evalErr != nil {
			b.logger.Warn("stealth injection failed, proceeding without stealth", "error", evalErr)
		}
		if u, parseErr := url.Parse(target); parseErr == nil {
			_ = proto.NetworkSetExtraHTTPHeaders{
				Headers: proto.NetworkHeaders{
					"Referer": gson.New("https://www.google.com/search?q=" + url.QueryEscape(u.Hostname())),
				},
			}.Call(page)
		}
	}

	router := mountHijack(page, b.cfg.BlockedResourceTypes)
	if router != nil {
		defer func() { _ = router.Stop() }()
	}

	p := page.Context(ctx)

	if navErr := p.Navigate(target); navErr != nil {
		return &Outcome{
			Kind:    classifyNavError(ctx, navErr),
			Elapsed: time.Since(start),
		}
	}

	if stableErr := p.WaitDOMStable(300*time.Millisecond, 0.1); stableErr != nil {
		b.logger.Debug("WaitDOMStable did not converge, proceeding with current DOM", "error", stableErr)
	}

	// Status code via the performance API; CDP network events conflict
	// with the Fetch domain used by the hijack router on Chromium 145+.
	statusCode := 0
	if res, err := p.Eval(`() => {
		try {
			const entries = performance.getEntriesByType("navigation");
			if (entries.length > 0) return entries[0].responseStatus || 0;
		} catch(e) {}
		return 0;
	}`); err == nil {
		statusCode = res.Value.Int()
	}

	rawHTML, htmlErr := p.HTML()
	if htmlErr != nil {
		return &Outcome{
			Kind:       classifyNavError(ctx, htmlErr),
			HTTPStatus: statusCode,
			Elapsed:    time.Since(start),
		}
	}

	finalURL := target
	if res, err := p.Eval(`() => window.location.href`); err == nil {
		if s := res.Value.Str(); s != "" {
			finalURL = s
		}
	}

	body := []byte(rawHTML)
	out := &Outcome{
		Content:    body,
		FinalURL:   finalURL,
		HTTPStatus: statusCode,
		Elapsed:    time.Since(start),
	}
	if kind := ClassifyStatus(statusCode, body); kind != "" {
		out.Kind = kind
		return out
	}
	out.Success = true
	return out
}

// classifyNavError distinguishes a deadline hit from a browser-level
// navigation failure.
func classifyNavError(ctx context.Context, err error) models.FailureKind {
	if ctx.Err() != nil {
		return models.FailTimeout
	}
	if kind := ClassifyError(err); kind != models.FailUnknown {
		return kind
	}
	return models.FailConnection
}

// configToProto maps human-readable config strings to Rod protocol resource types.
var configToProto = map[string]proto.NetworkResourceType{
	"Image":      proto.NetworkResourceTypeImage,
	"Stylesheet": proto.NetworkResourceTypeStylesheet,
	"Font":       proto.NetworkResourceTypeFont,
	"Media":      proto.NetworkResourceTypeMedia,
	"Script":     proto.NetworkResourceTypeScript,
}

// mountHijack installs a request interceptor blocking the configured
// resource types. Returns the running router so the caller can Stop it,
// or nil when nothing is blocked.
func mountHijack(page *rod.Page, blockedTypes []string) *rod.HijackRouter {
	blocked := make(map[proto.NetworkResourceType]struct{}, len(blockedTypes))
	for _, name := range blockedTypes {
		if rt, ok := configToProto[name]; ok {
			blocked[rt] = struct{}{}
		}
	}
	if len(blocked) == 0 {
		return nil
	}

	router := page.HijackRequests()
	_ = router.Add("*", "", func(ctx *rod.Hijack) {
		if _, shouldBlock := blocked[ctx.Request.Type()]; shouldBlock {
			ctx.Response.Fail(proto.NetworkErrorReasonBlockedByClient)
			return
		}
		ctx.ContinueRequest(&proto.FetchContinueRequest{})
	})

	// router.Run() blocks; it exits when router.Stop() is called.
	go router.Run()

	return router
}

// Stealth is the mid-tier fetcher: a real browser rendering JavaScript,
// without the heavier evasion layer.
type Stealth struct {
	browser *Browser
	timeout time.Duration
}

// NewStealth creates the stealth fetcher over a shared Browser.
func NewStealth(b *Browser, timeout time.Duration) *Stealth {
	return &Stealth{browser: b, timeout: timeout}
}

func (f *Stealth) Strategy() models.Strategy { return models.StrategyStealth }

func (f *Stealth) Fetch(ctx context.Context, url string) *Outcome {
	return f.browser.fetchPage(ctx, url, f.timeout, false)
}

// Ultra is the heaviest fetcher: browser rendering plus stealth JS
// injection and search-engine referer spoofing.
type Ultra struct {
	browser *Browser
	timeout time.Duration
}

// NewUltra creates the ultra fetcher over a shared Browser.
func NewUltra(b *Browser, timeout time.Duration) *Ultra {
	return &Ultra{browser: b, timeout: timeout}
}

func (f *Ultra) Strategy() models.Strategy { return models.StrategyUltra }

func (f *Ultra) Fetch(ctx context.Context, url string) *Outcome {
	return f.browser.fetchPage(ctx, url, f.timeout, true)
}
