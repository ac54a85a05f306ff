package profile

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/use-agent/urwa/config"
	"github.com/use-agent/urwa/fetch"
	"github.com/use-agent/urwa/models"
)

// fakeProber scripts the probe responses.
type fakeProber struct {
	status  int
	headers http.Header
	body    string
	probes  atomic.Int32
	delay   time.Duration
}

func (f *fakeProber) Head(ctx context.Context, url string) (int, http.Header, error) {
	return f.status, f.headers, nil
}

func (f *fakeProber) GetLimited(ctx context.Context, url string, limit int64) *fetch.Outcome {
	f.probes.Add(1)
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	body := f.body
	if int64(len(body)) > limit {
		body = body[:limit]
	}
	return &fetch.Outcome{
		Success:    f.status == 200,
		Content:    []byte(body),
		HTTPStatus: f.status,
		Headers:    f.headers,
	}
}

func testProfiler(p Prober) *Profiler {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewProfiler(config.ProfileConfig{
		TTL:        6 * time.Hour,
		ExtremeTTL: 15 * time.Minute,
		ProbeWait:  time.Second,
		MaxEntries: 16,
	}, p, logger)
}

func htmlWithText(n int) string {
	return "<html><body><p>" + strings.Repeat("content ", n/8) + "</p></body></html>"
}

func TestClassify_CleanSiteIsLowRisk(t *testing.T) {
	p := testProfiler(&fakeProber{status: 200, body: htmlWithText(4096)})

	prof := p.Get(context.Background(), "https://example.com/", 0)
	assert.Equal(t, RiskLow, prof.Risk)
	assert.Equal(t, models.StrategyLight, prof.RecommendedStrategy)
	assert.Equal(t, time.Second, prof.RecommendedDelay)
	assert.Equal(t, 6*time.Hour, prof.TTL)
}

func TestClassify_TinyChallengeBodyIsExtreme(t *testing.T) {
	p := testProfiler(&fakeProber{
		status: 503,
		body:   `<html><div class="cf-chl-widget"></div></html>`,
	})

	prof := p.Get(context.Background(), "https://hostile.example/", 0)
	assert.Equal(t, RiskExtreme, prof.Risk)
	assert.Equal(t, models.StrategyUltra, prof.RecommendedStrategy)
	assert.Equal(t, 10*time.Second, prof.RecommendedDelay)
	assert.Contains(t, prof.Protections, ProtCaptchaLikely)
	// Extreme profiles go stale fast.
	assert.Equal(t, 15*time.Minute, prof.TTL)
}

func TestClassify_CloudflareBlockIsHigh(t *testing.T) {
	headers := http.Header{"Cf-Ray": []string{"8a1b2c3d"}, "Server": []string{"cloudflare"}}
	p := testProfiler(&fakeProber{
		status:  403,
		headers: headers,
		body:    htmlWithText(2048),
	})

	prof := p.Get(context.Background(), "https://shielded.example/", 0)
	assert.Equal(t, RiskHigh, prof.Risk)
	assert.Equal(t, models.StrategyUltra, prof.RecommendedStrategy)
	assert.Contains(t, prof.Protections, ProtCloudflareLike)
}

func TestClassify_RateLimitSignalIsHigh(t *testing.T) {
	p := testProfiler(&fakeProber{status: 429, body: "slow down"})

	prof := p.Get(context.Background(), "https://busy.example/", 0)
	assert.Equal(t, RiskHigh, prof.Risk)
	assert.Equal(t, models.StrategyStealth, prof.RecommendedStrategy)
	assert.Contains(t, prof.Protections, ProtRateLimitSignal)
}

func TestClassify_JSHeavyIsMedium(t *testing.T) {
	var sb strings.Builder
	sb.WriteString("<html><head>")
	// One huge inline bundle, no visible text.
	sb.WriteString("<script>")
	sb.WriteString(strings.Repeat("var x=1;", 20000))
	sb.WriteString("</script>")
	sb.WriteString(`<script src="/app.js"></script>`)
	sb.WriteString("</head><body><div id=\"root\"></div></body></html>")

	p := testProfiler(&fakeProber{status: 200, body: sb.String()})

	prof := p.Get(context.Background(), "https://spa.example/", 0)
	assert.Equal(t, RiskMedium, prof.Risk)
	assert.Equal(t, models.StrategyStealth, prof.RecommendedStrategy)
	assert.Contains(t, prof.Protections, ProtJSRequired)
}

func TestClassify_Plain404IsMedium(t *testing.T) {
	p := testProfiler(&fakeProber{status: 404, body: htmlWithText(1024)})

	prof := p.Get(context.Background(), "https://gone.example/", 0)
	assert.Equal(t, RiskMedium, prof.Risk)
	assert.Equal(t, models.StrategyStealth, prof.RecommendedStrategy)
}

func TestGet_CrawlDelayOverridesWhenLarger(t *testing.T) {
	p := testProfiler(&fakeProber{status: 200, body: htmlWithText(4096)})

	prof := p.Get(context.Background(), "https://example.com/", 7*time.Second)
	assert.Equal(t, 7*time.Second, prof.RecommendedDelay)

	// A smaller crawl-delay does not lower the recommendation.
	prof = p.Get(context.Background(), "https://example.com/", 100*time.Millisecond)
	assert.Equal(t, time.Second, prof.RecommendedDelay)
}

func TestGet_CachesPerDomain(t *testing.T) {
	prober := &fakeProber{status: 200, body: htmlWithText(4096)}
	p := testProfiler(prober)

	for i := 0; i < 5; i++ {
		p.Get(context.Background(), "https://example.com/page", 0)
	}
	assert.Equal(t, int32(1), prober.probes.Load())

	// Subdomains share the registered domain's profile.
	p.Get(context.Background(), "https://blog.example.com/", 0)
	assert.Equal(t, int32(1), prober.probes.Load())
}

func TestGet_ConcurrentCallersShareOneProbe(t *testing.T) {
	prober := &fakeProber{status: 200, body: htmlWithText(4096), delay: 50 * time.Millisecond}
	p := testProfiler(prober)

	done := make(chan *SiteProfile, 8)
	for i := 0; i < 8; i++ {
		go func() {
			done <- p.Get(context.Background(), "https://example.com/", 0)
		}()
	}
	for i := 0; i < 8; i++ {
		prof := <-done
		require.Equal(t, RiskLow, prof.Risk)
	}
	assert.Equal(t, int32(1), prober.probes.Load())
}

func TestInvalidate_ForcesReprobe(t *testing.T) {
	prober := &fakeProber{status: 200, body: htmlWithText(4096)}
	p := testProfiler(prober)

	p.Get(context.Background(), "https://example.com/", 0)
	p.Invalidate("example.com")
	p.Get(context.Background(), "https://example.com/", 0)
	assert.Equal(t, int32(2), prober.probes.Load())
}
