package engine

import (
	"context"
	"sync"

	"github.com/use-agent/urwa/models"
)

// inflightCall is one in-progress scrape shared by fingerprint.
type inflightCall struct {
	done   chan struct{}
	result *models.ScrapeResult // nil when the leader failed
}

// wait blocks until the leader finishes or ctx is cancelled.
func (c *inflightCall) wait(ctx context.Context) (*models.ScrapeResult, error) {
	select {
	case <-c.done:
		return c.result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// inflightTable coalesces concurrent scrapes with equal fingerprints so
// only one fetch pipeline runs while they overlap. Failed leaders do not
// share their error: waiters re-run independently (no negative caching).
type inflightTable struct {
	mu    sync.Mutex
	calls map[string]*inflightCall
}

func newInflightTable() *inflightTable {
	return &inflightTable{calls: make(map[string]*inflightCall)}
}

// join registers interest in a fingerprint. The first caller becomes the
// leader; later callers receive the leader's call handle to wait on.
func (t *inflightTable) join(fp string) (leader bool, call *inflightCall) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if existing, ok := t.calls[fp]; ok {
		return false, existing
	}
	call = &inflightCall{done: make(chan struct{})}
	t.calls[fp] = call
	return true, call
}

// finish publishes the leader's result (only successes are shared) and
// releases the slot.
func (t *inflightTable) finish(fp string, call *inflightCall, result *models.ScrapeResult) {
	if result != nil && result.Status == models.StatusSuccess {
		call.result = result
	}

	t.mu.Lock()
	delete(t.calls, fp)
	t.mu.Unlock()

	close(call.done)
}
