package circuit

import (
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/use-agent/urwa/config"
	"github.com/use-agent/urwa/models"
)

func testCircuitConfig() config.CircuitConfig {
	return config.CircuitConfig{
		FailureThreshold: 5,
		RecoveryTimeout:  300 * time.Second,
		HalfOpenMax:      3,
		BlockedURLWindow: 10 * time.Minute,
	}
}

func testBreaker(t *testing.T) (*Breaker, *time.Time) {
	t.Helper()
	now := time.Now()
	b := newBreaker("example.com", testCircuitConfig(), func() time.Time { return now }, nil)
	return b, &now
}

func TestBreaker_OpensAfterConsecutiveFailures(t *testing.T) {
	b, _ := testBreaker(t)

	for i := 0; i < 4; i++ {
		require.True(t, b.CanExecute())
		b.RecordFailure(models.FailTimeout, "https://example.com/")
	}
	require.Equal(t, StateClosed, b.Snapshot().State)

	b.RecordFailure(models.FailTimeout, "https://example.com/")
	snap := b.Snapshot()
	assert.Equal(t, StateOpen, snap.State)
	require.NotNil(t, snap.OpenedAt)
	assert.False(t, b.CanExecute())
}

func TestBreaker_SuccessResetsCounter(t *testing.T) {
	b, _ := testBreaker(t)

	for i := 0; i < 4; i++ {
		b.RecordFailure(models.Fail5xx, "https://example.com/")
	}
	b.RecordSuccess()
	b.RecordFailure(models.Fail5xx, "https://example.com/")
	assert.Equal(t, StateClosed, b.Snapshot().State)
}

func TestBreaker_BlockedKindDoesNotCountAlone(t *testing.T) {
	b, _ := testBreaker(t)

	// The same blocked URL over and over is a URL-level problem.
	for i := 0; i < 10; i++ {
		b.RecordFailure(models.FailBlocked, "https://example.com/locked")
	}
	assert.Equal(t, StateClosed, b.Snapshot().State)
}

func TestBreaker_ThreeDistinctBlockedURLsOpen(t *testing.T) {
	b, _ := testBreaker(t)

	b.RecordFailure(models.FailBlocked, "https://example.com/a")
	b.RecordFailure(models.FailBlocked, "https://example.com/b")
	require.Equal(t, StateClosed, b.Snapshot().State)

	b.RecordFailure(models.FailBlocked, "https://example.com/c")
	assert.Equal(t, StateOpen, b.Snapshot().State)
}

func TestBreaker_BlockedURLWindowExpires(t *testing.T) {
	b, now := testBreaker(t)

	b.RecordFailure(models.FailBlocked, "https://example.com/a")
	b.RecordFailure(models.FailBlocked, "https://example.com/b")

	// Beyond the window the old entries no longer count.
	*now = now.Add(11 * time.Minute)
	b.RecordFailure(models.FailBlocked, "https://example.com/c")
	assert.Equal(t, StateClosed, b.Snapshot().State)
}

func openBreaker(t *testing.T) (*Breaker, *time.Time) {
	t.Helper()
	b, now := testBreaker(t)
	for i := 0; i < 5; i++ {
		b.RecordFailure(models.FailConnection, "https://example.com/")
	}
	require.Equal(t, StateOpen, b.Snapshot().State)
	return b, now
}

func TestBreaker_RecoversThroughHalfOpen(t *testing.T) {
	b, now := openBreaker(t)

	assert.False(t, b.CanExecute())

	*now = now.Add(301 * time.Second)
	require.True(t, b.CanExecute())
	assert.Equal(t, StateHalfOpen, b.Snapshot().State)

	// First success closes the circuit.
	b.RecordSuccess()
	assert.Equal(t, StateClosed, b.Snapshot().State)
	assert.True(t, b.CanExecute())
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	b, now := openBreaker(t)

	*now = now.Add(301 * time.Second)
	require.True(t, b.CanExecute())

	*now = now.Add(time.Second)
	b.RecordFailure(models.FailTimeout, "https://example.com/")
	snap := b.Snapshot()
	assert.Equal(t, StateOpen, snap.State)
	assert.False(t, b.CanExecute())
}

func TestBreaker_HalfOpenAnyFailureKindReopens(t *testing.T) {
	// Kind filtering applies only while closed: even kinds that never
	// count toward the threshold reopen a half-open circuit.
	for _, kind := range []models.FailureKind{
		models.FailParseEmpty, models.FailBlocked, models.FailUnknown,
	} {
		b, now := openBreaker(t)

		*now = now.Add(301 * time.Second)
		require.True(t, b.CanExecute())

		*now = now.Add(time.Second)
		b.RecordFailure(kind, "https://example.com/")
		snap := b.Snapshot()
		assert.Equal(t, StateOpen, snap.State, string(kind))
		require.NotNil(t, snap.OpenedAt, string(kind))
		assert.False(t, b.CanExecute(), string(kind))
	}
}

func TestBreaker_HalfOpenConcurrencyCap(t *testing.T) {
	b, now := openBreaker(t)

	*now = now.Add(301 * time.Second)
	require.True(t, b.CanExecute())
	require.True(t, b.CanExecute())
	require.True(t, b.CanExecute())

	// Fourth concurrent probe is rejected.
	assert.False(t, b.CanExecute())

	// Releasing a slot admits another probe.
	b.Release()
	assert.True(t, b.CanExecute())
}

func TestRegistry_SharesBreakerPerDomain(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	r := NewRegistry(testCircuitConfig(), nil, logger)

	b1 := r.For("example.com")
	b2 := r.For("example.com")
	assert.Same(t, b1, b2)

	other := r.For("other.org")
	assert.NotSame(t, b1, other)

	snaps := r.Snapshots()
	assert.Len(t, snaps, 2)
}

func TestBreaker_StatAccounting(t *testing.T) {
	b, _ := testBreaker(t)

	// Interleave outcomes; the failure count never goes negative and the
	// snapshot stays consistent.
	for i := 0; i < 100; i++ {
		if i%3 == 0 {
			b.RecordSuccess()
		} else {
			b.RecordFailure(models.Fail429, fmt.Sprintf("https://example.com/%d", i))
		}
		snap := b.Snapshot()
		require.GreaterOrEqual(t, snap.FailureCount, 0)
	}
}
