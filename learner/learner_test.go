package learner

import (
	"bufio"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/use-agent/urwa/models"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRecordAndStats(t *testing.T) {
	l, err := New("", discardLogger())
	require.NoError(t, err)

	l.Record("example.com", models.StrategyLight, true, 120*time.Millisecond)
	l.Record("example.com", models.StrategyLight, true, 80*time.Millisecond)
	l.Record("example.com", models.StrategyLight, false, 0)
	l.Record("example.com", models.StrategyStealth, true, 900*time.Millisecond)

	stats := l.Stats("example.com")
	light := stats[models.StrategyLight]
	require.NotNil(t, light)
	assert.Equal(t, 3, light.Attempts)
	assert.Equal(t, 2, light.Successes)
	assert.InDelta(t, 100, light.AvgResponseMS, 0.01)
	assert.False(t, light.LastSuccessAt.IsZero())

	stealth := stats[models.StrategyStealth]
	require.NotNil(t, stealth)
	assert.Equal(t, 1, stealth.Attempts)
}

func TestStats_SuccessesNeverExceedAttempts(t *testing.T) {
	l, err := New("", discardLogger())
	require.NoError(t, err)

	for i := 0; i < 200; i++ {
		l.Record("example.com", models.Strategies[i%3], i%2 == 0, time.Millisecond)
	}
	for _, s := range l.Stats("example.com") {
		assert.LessOrEqual(t, s.Successes, s.Attempts)
	}
}

func TestTrust(t *testing.T) {
	tests := []struct {
		name    string
		stat    Stat
		trusted bool
	}{
		{"cold start", Stat{Attempts: 4, Successes: 4}, false},
		{"just enough", Stat{Attempts: 5, Successes: 3}, true},
		{"below rate", Stat{Attempts: 10, Successes: 5}, false},
		{"strong", Stat{Attempts: 100, Successes: 90}, true},
		{"empty", Stat{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.trusted, tt.stat.Trusted())
		})
	}
}

func TestJournalReplay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.jsonl")

	l, err := New(path, discardLogger())
	require.NoError(t, err)
	l.Record("example.com", models.StrategyLight, true, 100*time.Millisecond)
	l.Record("example.com", models.StrategyLight, false, 0)
	l.Record("other.org", models.StrategyUltra, true, 2*time.Second)
	require.NoError(t, l.Close())

	// A fresh process replays the journal into the same stats.
	reborn, err := New(path, discardLogger())
	require.NoError(t, err)
	defer reborn.Close()

	light := reborn.Stats("example.com")[models.StrategyLight]
	require.NotNil(t, light)
	assert.Equal(t, 2, light.Attempts)
	assert.Equal(t, 1, light.Successes)

	ultra := reborn.Stats("other.org")[models.StrategyUltra]
	require.NotNil(t, ultra)
	assert.Equal(t, 1, ultra.Attempts)
}

func TestJournalCompaction(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.jsonl")

	l, err := New(path, discardLogger())
	require.NoError(t, err)

	// One (domain, strategy) pair, many entries: compaction triggers
	// once the journal passes 10x the live set.
	for i := 0; i < 50; i++ {
		l.Record("example.com", models.StrategyLight, i%2 == 0, time.Millisecond)
	}
	require.NoError(t, l.Close())

	lines := countLines(t, path)
	assert.Less(t, lines, 50, "journal should have been compacted")

	// Compacted journal still replays to the right totals.
	reborn, err := New(path, discardLogger())
	require.NoError(t, err)
	defer reborn.Close()

	stat := reborn.Stats("example.com")[models.StrategyLight]
	require.NotNil(t, stat)
	assert.Equal(t, 50, stat.Attempts)
	assert.Equal(t, 25, stat.Successes)
}

func countLines(t *testing.T, path string) int {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	n := 0
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		n++
	}
	return n
}
