package cache

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/use-agent/urwa/models"
)

func TestFingerprint_Stable(t *testing.T) {
	a := Fingerprint(&models.ScrapeRequest{URL: "https://example.com/page"})
	b := Fingerprint(&models.ScrapeRequest{URL: "https://example.com/page"})
	assert.Equal(t, a, b)
}

func TestFingerprint_NormalizesURL(t *testing.T) {
	a := Fingerprint(&models.ScrapeRequest{URL: "https://EXAMPLE.com:443/page#frag"})
	b := Fingerprint(&models.ScrapeRequest{URL: "https://example.com/page"})
	assert.Equal(t, a, b)
}

func TestFingerprint_OptionsMatter(t *testing.T) {
	base := Fingerprint(&models.ScrapeRequest{URL: "https://example.com/"})
	forced := Fingerprint(&models.ScrapeRequest{
		URL:           "https://example.com/",
		ForceStrategy: models.StrategyUltra,
	})
	hinted := Fingerprint(&models.ScrapeRequest{
		URL:  "https://example.com/",
		Hint: "extract prices",
	})
	selected := Fingerprint(&models.ScrapeRequest{
		URL:         "https://example.com/",
		CSSSelector: "article.main",
	})
	assert.NotEqual(t, base, forced)
	assert.NotEqual(t, base, hinted)
	assert.NotEqual(t, forced, hinted)
	assert.NotEqual(t, base, selected)
}

func TestCache_RoundTrip(t *testing.T) {
	c := New(10, time.Hour)
	defer c.Stop()

	result := &models.ScrapeResult{
		Status:       models.StatusSuccess,
		URL:          "https://example.com/",
		Content:      "# Hello",
		StrategyUsed: models.StrategyLight,
	}
	c.Put("key", result)

	got, hit := c.Get("key")
	require.True(t, hit)
	assert.Equal(t, result.Content, got.Content)
	assert.Equal(t, result.StrategyUsed, got.StrategyUsed)

	// The cache hands out copies, not the stored pointer.
	got.Content = "mutated"
	again, _ := c.Get("key")
	assert.Equal(t, "# Hello", again.Content)
}

func TestCache_Miss(t *testing.T) {
	c := New(10, time.Hour)
	defer c.Stop()

	_, hit := c.Get("absent")
	assert.False(t, hit)
}

func TestCache_TTLExpiry(t *testing.T) {
	c := New(10, 20*time.Millisecond)
	defer c.Stop()

	c.Put("key", &models.ScrapeResult{Status: models.StatusSuccess})
	_, hit := c.Get("key")
	require.True(t, hit)

	time.Sleep(30 * time.Millisecond)
	_, hit = c.Get("key")
	assert.False(t, hit)
}

func TestCache_CapacityEviction(t *testing.T) {
	c := New(5, time.Hour)
	defer c.Stop()

	for i := 0; i < 20; i++ {
		c.Put(fmt.Sprintf("key-%d", i), &models.ScrapeResult{})
	}

	c.mu.RLock()
	size := len(c.store)
	c.mu.RUnlock()
	assert.LessOrEqual(t, size, 5)
}
