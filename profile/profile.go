// Package profile classifies how defended a site is and recommends the
// initial fetch strategy. Profiles are cached per domain with a TTL and
// rebuilt from a cheap probe (HEAD plus truncated GET) on miss.
package profile

import (
	"time"

	"github.com/use-agent/urwa/models"
)

// Risk is the protection-level ladder.
type Risk string

const (
	RiskLow     Risk = "low"
	RiskMedium  Risk = "medium"
	RiskHigh    Risk = "high"
	RiskExtreme Risk = "extreme"
)

// Protection flags observed defense mechanisms.
type Protection string

const (
	ProtJSRequired      Protection = "js_required"
	ProtCloudflareLike  Protection = "cloudflare_like"
	ProtCaptchaLikely   Protection = "captcha_likely"
	ProtLoginWall       Protection = "login_wall"
	ProtRateLimitSignal Protection = "rate_limit_signal"
)

// SiteProfile is the cached classification of one domain.
type SiteProfile struct {
	Domain              string          `json:"domain"`
	Risk                Risk            `json:"risk"`
	RiskScore           float64         `json:"risk_score"`
	Protections         []Protection    `json:"protections,omitempty"`
	RecommendedStrategy models.Strategy `json:"recommended_strategy"`
	RecommendedDelay    time.Duration   `json:"recommended_delay"`
	ComputedAt          time.Time       `json:"computed_at"`
	TTL                 time.Duration   `json:"ttl"`

	// Assumed marks fallback profiles handed to callers that timed out
	// waiting for a peer's probe; these are never cached.
	Assumed bool `json:"assumed,omitempty"`
}

func (p *SiteProfile) expired(now time.Time) bool {
	return now.After(p.ComputedAt.Add(p.TTL))
}

// delayForRisk is the risk-indexed default pacing table.
func delayForRisk(r Risk) time.Duration {
	switch r {
	case RiskMedium:
		return 3 * time.Second
	case RiskHigh:
		return 5 * time.Second
	case RiskExtreme:
		return 10 * time.Second
	default:
		return 1 * time.Second
	}
}

// assumedMedium is the fallback profile for callers that could not wait
// for the probe.
func assumedMedium(domain string, now time.Time) *SiteProfile {
	return &SiteProfile{
		Domain:              domain,
		Risk:                RiskMedium,
		RiskScore:           50,
		RecommendedStrategy: models.StrategyStealth,
		RecommendedDelay:    delayForRisk(RiskMedium),
		ComputedAt:          now,
		Assumed:             true,
	}
}
