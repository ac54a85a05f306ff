package fetch

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	tls "github.com/refraction-networking/utls"

	"github.com/use-agent/urwa/models"
)

const chromeUA = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36"

// maxBody caps how much of a response body is read.
const maxBody = 10 << 20

// chromeH1Spec is a Chrome-like TLS ClientHello with ALPN forced to
// http/1.1 only. Computed once at init time and reused per connection.
var chromeH1Spec tls.ClientHelloSpec

func init() {
	spec, err := tls.UTLSIdToSpec(tls.HelloChrome_Auto)
	if err != nil {
		return
	}
	// Replace h2 with http/1.1 only in the ALPN extension so the server
	// never negotiates HTTP/2 (which Go's http.Transport cannot handle
	// over a utls connection).
	for i, ext := range spec.Extensions {
		if alpn, ok := ext.(*tls.ALPNExtension); ok {
			alpn.AlpnProtocols = []string{"http/1.1"}
			spec.Extensions[i] = alpn
			break
		}
	}
	chromeH1Spec = spec
}

// Light is the cheapest fetcher: plain net/http with a Chrome TLS
// fingerprint. No JavaScript execution. It doubles as the probe client
// for the site profiler.
type Light struct {
	client  *http.Client
	timeout time.Duration
}

// NewLight creates the light fetcher with the given per-attempt timeout.
func NewLight(timeout time.Duration) *Light {
	transport := &http.Transport{
		DialTLSContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			dialer := &net.Dialer{Timeout: 10 * time.Second}
			conn, err := dialer.DialContext(ctx, network, addr)
			if err != nil {
				return nil, err
			}
			host, _, _ := net.SplitHostPort(addr)
			tlsConn := tls.UClient(conn, &tls.Config{ServerName: host}, tls.HelloCustom)
			if err := tlsConn.ApplyPreset(&chromeH1Spec); err != nil {
				conn.Close()
				return nil, fmt.Errorf("light: apply tls spec: %w", err)
			}
			if err := tlsConn.HandshakeContext(ctx); err != nil {
				conn.Close()
				return nil, err
			}
			return tlsConn, nil
		},
		ForceAttemptHTTP2: false,
	}
	return &Light{
		client: &http.Client{
			Transport: transport,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				if len(via) >= 10 {
					return fmt.Errorf("too many redirects")
				}
				return nil
			},
		},
		timeout: timeout,
	}
}

func (f *Light) Strategy() models.Strategy { return models.StrategyLight }

// Fetch retrieves the URL with browser-like headers and classifies the
// result in-band.
func (f *Light) Fetch(ctx context.Context, url string) *Outcome {
	return f.get(ctx, url, f.timeout, maxBody)
}

// Head issues a HEAD request, used by the site profiler's probe.
func (f *Light) Head(ctx context.Context, url string) (int, http.Header, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return 0, nil, err
	}
	setBrowserHeaders(req)
	resp, err := f.client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	resp.Body.Close()
	return resp.StatusCode, resp.Header, nil
}

// GetLimited issues a GET reading at most limit bytes, used by the site
// profiler's truncated probe.
func (f *Light) GetLimited(ctx context.Context, url string, limit int64) *Outcome {
	return f.get(ctx, url, f.timeout, limit)
}

func (f *Light) get(ctx context.Context, url string, timeout time.Duration, limit int64) *Outcome {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return &Outcome{Kind: models.FailUnknown, Elapsed: time.Since(start)}
	}
	setBrowserHeaders(req)

	// Shallow-copy the client so the redirect counter stays per-request.
	var redirects int
	client := *f.client
	client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		redirects = len(via)
		if len(via) >= 10 {
			return fmt.Errorf("too many redirects")
		}
		return nil
	}

	resp, err := client.Do(req)
	if err != nil {
		return &Outcome{
			Kind:    ClassifyError(err),
			Elapsed: time.Since(start),
		}
	}
	defer resp.Body.Close()

	body, readErr := io.ReadAll(io.LimitReader(resp.Body, limit))
	if readErr != nil {
		return &Outcome{
			Kind:       ClassifyError(readErr),
			HTTPStatus: resp.StatusCode,
			Headers:    resp.Header,
			Elapsed:    time.Since(start),
		}
	}

	out := &Outcome{
		Content:    body,
		FinalURL:   resp.Request.URL.String(),
		HTTPStatus: resp.StatusCode,
		Headers:    resp.Header,
		Redirects:  redirects,
		RetryAfter: ParseRetryAfter(resp.Header),
		Elapsed:    time.Since(start),
	}
	if kind := ClassifyStatus(resp.StatusCode, body); kind != "" {
		out.Kind = kind
		return out
	}
	out.Success = true
	return out
}

func setBrowserHeaders(req *http.Request) {
	req.Header.Set("User-Agent", chromeUA)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")
	req.Header.Set("Accept-Encoding", "identity")
}
