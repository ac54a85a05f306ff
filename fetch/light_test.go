package fetch

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/use-agent/urwa/models"
)

// Note: the httptest servers here speak plain HTTP, so the utls dial
// path is not exercised; it only applies to https targets.

func TestLight_FetchSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.Header.Get("User-Agent"), "Chrome")
		io.WriteString(w, "<html><body>"+strings.Repeat("data ", 100)+"</body></html>")
	}))
	defer srv.Close()

	f := NewLight(5 * time.Second)
	out := f.Fetch(context.Background(), srv.URL+"/page")

	require.True(t, out.Success)
	assert.Equal(t, 200, out.HTTPStatus)
	assert.Contains(t, string(out.Content), "data")
	assert.Equal(t, srv.URL+"/page", out.FinalURL)
	assert.Greater(t, out.Elapsed, time.Duration(0))
}

func TestLight_Fetch429WithRetryAfter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusTooManyRequests)
		io.WriteString(w, "rate limited")
	}))
	defer srv.Close()

	f := NewLight(5 * time.Second)
	out := f.Fetch(context.Background(), srv.URL)

	require.False(t, out.Success)
	assert.Equal(t, models.Fail429, out.Kind)
	assert.Equal(t, 7*time.Second, out.RetryAfter)
}

func TestLight_FetchChallengeDetected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		io.WriteString(w, `<html><script src="/cdn-cgi/challenge-platform/h/b.js"></script></html>`)
	}))
	defer srv.Close()

	f := NewLight(5 * time.Second)
	out := f.Fetch(context.Background(), srv.URL)

	require.False(t, out.Success)
	assert.Equal(t, models.FailChallenge, out.Kind)
}

func TestLight_FetchTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(500 * time.Millisecond)
	}))
	defer srv.Close()

	f := NewLight(50 * time.Millisecond)
	out := f.Fetch(context.Background(), srv.URL)

	require.False(t, out.Success)
	assert.Equal(t, models.FailTimeout, out.Kind)
}

func TestLight_FetchConnectionRefused(t *testing.T) {
	f := NewLight(time.Second)
	out := f.Fetch(context.Background(), "http://127.0.0.1:1/")

	require.False(t, out.Success)
	assert.Equal(t, models.FailConnection, out.Kind)
}

func TestLight_FollowsRedirects(t *testing.T) {
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/start" {
			http.Redirect(w, r, srv.URL+"/end", http.StatusFound)
			return
		}
		io.WriteString(w, "<html><body>landed</body></html>")
	}))
	defer srv.Close()

	f := NewLight(5 * time.Second)
	out := f.Fetch(context.Background(), srv.URL+"/start")

	require.True(t, out.Success)
	assert.Equal(t, srv.URL+"/end", out.FinalURL)
	assert.Equal(t, 1, out.Redirects)
}

func TestLight_GetLimitedTruncates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, strings.Repeat("x", 100*1024))
	}))
	defer srv.Close()

	f := NewLight(5 * time.Second)
	out := f.GetLimited(context.Background(), srv.URL, 32*1024)

	require.True(t, out.Success)
	assert.Len(t, out.Content, 32*1024)
}

func TestLight_Head(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodHead, r.Method)
		w.Header().Set("Server", "cloudflare")
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	f := NewLight(5 * time.Second)
	status, headers, err := f.Head(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, status)
	assert.Equal(t, "cloudflare", headers.Get("Server"))
}
