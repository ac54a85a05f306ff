package fetch

import (
	"bytes"
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/use-agent/urwa/models"
)

// challengeMarkers are body substrings that indicate a JS or CAPTCHA
// gate rather than real content.
var challengeMarkers = [][]byte{
	[]byte("cf-chl"),
	[]byte("challenge-platform"),
	[]byte("turnstile"),
	[]byte("_cf_chl_opt"),
	[]byte("g-recaptcha"),
	[]byte("h-captcha"),
	[]byte("checking your browser"),
	[]byte("just a moment"),
	[]byte("verify you are human"),
}

// LooksLikeChallenge reports whether the body smells like an anti-bot
// interstitial. The check is case-insensitive over the first 64 KiB.
func LooksLikeChallenge(body []byte) bool {
	if len(body) > 64*1024 {
		body = body[:64*1024]
	}
	lower := bytes.ToLower(body)
	for _, marker := range challengeMarkers {
		if bytes.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// ClassifyStatus maps an HTTP status plus body heuristics to a failure
// kind. A zero kind means the response is a success.
func ClassifyStatus(status int, body []byte) models.FailureKind {
	switch {
	case status == http.StatusTooManyRequests:
		return models.Fail429
	case status == http.StatusUnauthorized,
		status == http.StatusForbidden,
		status == http.StatusUnavailableForLegalReasons:
		if LooksLikeChallenge(body) {
			return models.FailChallenge
		}
		return models.FailBlocked
	case status >= 500:
		if LooksLikeChallenge(body) {
			return models.FailChallenge
		}
		return models.Fail5xx
	case status >= 400:
		return models.FailBlocked
	}
	if LooksLikeChallenge(body) {
		return models.FailChallenge
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return models.FailParseEmpty
	}
	return ""
}

// ClassifyError maps a transport error to a failure kind.
func ClassifyError(err error) models.FailureKind {
	if err == nil {
		return models.FailUnknown
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return models.FailTimeout
	}
	if errors.Is(err, context.Canceled) {
		return models.FailTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return models.FailTimeout
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return models.FailConnection
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return models.FailConnection
	}
	if strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "connection reset") {
		return models.FailConnection
	}
	return models.FailUnknown
}

// ParseRetryAfter parses a Retry-After header value (seconds or
// HTTP-date) into a duration. Returns 0 when absent or unparseable.
func ParseRetryAfter(h http.Header) time.Duration {
	v := h.Get("Retry-After")
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}
