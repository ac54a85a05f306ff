// Package evidence persists artifacts of blocked or challenged fetches
// so failures can be inspected after the fact. Each capture gets a
// directory keyed by trace ID holding meta.json, headers.json, and the
// first 4 KiB of the body. The store keeps a rolling cap of records,
// evicting oldest first. Capture is best-effort: errors are logged and
// never alter the scrape outcome.
package evidence

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/use-agent/urwa/metrics"
	"github.com/use-agent/urwa/models"
)

// bodyExcerptLimit caps how much of the body is retained.
const bodyExcerptLimit = 4 * 1024

// Record is the metadata of one captured failure.
type Record struct {
	TraceID    string             `json:"trace_id"`
	Domain     string             `json:"domain"`
	URL        string             `json:"url"`
	Attempt    int                `json:"attempt"`
	Kind       models.FailureKind `json:"kind"`
	HTTPStatus int                `json:"http_status,omitempty"`
	CapturedAt time.Time          `json:"captured_at"`

	// Handle locates the artifact directory.
	Handle string `json:"handle"`
}

// Capturer writes evidence artifacts and maintains the retention cap.
type Capturer struct {
	dir       string
	retention int
	metrics   *metrics.Metrics
	logger    *slog.Logger

	mu      sync.Mutex
	records []Record // oldest first
	seq     int
}

// NewCapturer creates a Capturer rooted at dir. metrics may be nil.
func NewCapturer(dir string, retention int, m *metrics.Metrics, logger *slog.Logger) *Capturer {
	return &Capturer{
		dir:       dir,
		retention: retention,
		metrics:   m,
		logger:    logger.With("component", "evidence"),
	}
}

// Capture persists one failed attempt. Returns the artifact handle, or
// "" when capture failed (which is logged, not surfaced).
func (c *Capturer) Capture(traceID, domain, url string, attempt int, kind models.FailureKind, status int, headers http.Header, body []byte) string {
	c.mu.Lock()
	c.seq++
	handle := fmt.Sprintf("%s-%d", traceID, c.seq)
	c.mu.Unlock()

	rec := Record{
		TraceID:    traceID,
		Domain:     domain,
		URL:        url,
		Attempt:    attempt,
		Kind:       kind,
		HTTPStatus: status,
		CapturedAt: time.Now(),
		Handle:     handle,
	}

	if err := c.writeArtifacts(handle, rec, headers, body); err != nil {
		c.logger.Warn("evidence capture failed", "trace_id", traceID, "error", err)
		return ""
	}

	c.mu.Lock()
	c.records = append(c.records, rec)
	var evicted []Record
	if over := len(c.records) - c.retention; over > 0 {
		evicted = append(evicted, c.records[:over]...)
		c.records = c.records[over:]
	}
	c.mu.Unlock()

	for _, old := range evicted {
		if err := os.RemoveAll(filepath.Join(c.dir, old.Handle)); err != nil {
			c.logger.Warn("evidence eviction failed", "handle", old.Handle, "error", err)
		}
	}

	if c.metrics != nil {
		c.metrics.EvidenceCaptured()
	}
	c.logger.Info("evidence captured", "trace_id", traceID, "kind", kind, "handle", handle)
	return handle
}

func (c *Capturer) writeArtifacts(handle string, rec Record, headers http.Header, body []byte) error {
	dir := filepath.Join(c.dir, handle)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	meta, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dir, "meta.json"), meta, 0o644); err != nil {
		return err
	}

	hdrs, err := json.MarshalIndent(headers, "", "  ")
	if err != nil {
		hdrs = []byte("{}")
	}
	if err := os.WriteFile(filepath.Join(dir, "headers.json"), hdrs, 0o644); err != nil {
		return err
	}

	excerpt := body
	if len(excerpt) > bodyExcerptLimit {
		excerpt = excerpt[:bodyExcerptLimit]
	}
	return os.WriteFile(filepath.Join(dir, "body.bin"), excerpt, 0o644)
}

// ShouldCapture reports whether the failure kind warrants evidence.
func ShouldCapture(kind models.FailureKind) bool {
	switch kind {
	case models.FailChallenge, models.FailBlocked, models.Fail429:
		return true
	}
	return false
}

// Recent returns up to limit records, newest first.
func (c *Capturer) Recent(limit int) []Record {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := len(c.records)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]Record, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, c.records[i])
	}
	return out
}

// Count returns the number of retained records.
func (c *Capturer) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.records)
}
