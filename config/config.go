package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Server     ServerConfig
	Browser    BrowserConfig
	Scrape     ScrapeConfig
	Rate       RateConfig
	Circuit    CircuitConfig
	Profile    ProfileConfig
	Cache      CacheConfig
	Evidence   EvidenceConfig
	Cost       CostConfig
	Learner    LearnerConfig
	Compliance ComplianceConfig
	Log        LogConfig
}

// ServerConfig controls the ops HTTP server (health, metrics, telemetry).
type ServerConfig struct {
	Host string // default: "0.0.0.0"
	Port int    // default: 8080
	Mode string // "debug", "release", "test"; default: "release"
}

// BrowserConfig controls the Rod browser behind the stealth/ultra fetchers.
type BrowserConfig struct {
	// Headless controls whether the browser runs headless.
	Headless bool // default: true

	// MaxPages is the page pool capacity (max concurrent tabs).
	MaxPages int // default: 10

	// DefaultProxy is the default proxy URL for all requests.
	DefaultProxy string

	// NoSandbox disables Chrome's sandbox (needed in Docker).
	NoSandbox bool // default: false

	// BrowserBin overrides the Chromium binary path.
	BrowserBin string

	// BlockedResourceTypes lists resource types blocked during navigation.
	// default: ["Image", "Stylesheet", "Font", "Media"]
	BlockedResourceTypes []string
}

// ScrapeConfig controls per-call behavior of the orchestrator.
type ScrapeConfig struct {
	// DefaultTimeout bounds the whole scrape call when the caller sets none.
	DefaultTimeout time.Duration // default: 180s

	// LightTimeout, StealthTimeout, UltraTimeout bound individual fetch
	// attempts per strategy.
	LightTimeout   time.Duration // default: 15s
	StealthTimeout time.Duration // default: 45s
	UltraTimeout   time.Duration // default: 120s

	// UserAgent is sent by the light fetcher and the robots client.
	UserAgent string // default: "UrwaBot/1.0"

	// SSRFAllowPrivate permits targets resolving to loopback/private ranges.
	SSRFAllowPrivate bool // default: false
}

// RateConfig controls per-domain adaptive pacing.
type RateConfig struct {
	// DefaultDelay is the base per-domain spacing between fetches.
	DefaultDelay time.Duration // default: 1s

	// MinDelay and MaxDelay clamp the adaptive delay.
	MinDelay time.Duration // default: 500ms
	MaxDelay time.Duration // default: 60s
}

// CircuitConfig controls per-domain circuit breakers.
type CircuitConfig struct {
	// FailureThreshold opens the circuit after this many consecutive failures.
	FailureThreshold int // default: 5

	// RecoveryTimeout is how long an open circuit stays open.
	RecoveryTimeout time.Duration // default: 300s

	// HalfOpenMax caps concurrent probe attempts in half-open state.
	HalfOpenMax int // default: 3

	// BlockedURLWindow is the window within which distinct 4xx-blocked
	// URLs accumulate toward opening the circuit.
	BlockedURLWindow time.Duration // default: 10m
}

// ProfileConfig controls site profiling.
type ProfileConfig struct {
	// TTL is how long a profile stays fresh.
	TTL time.Duration // default: 6h

	// ExtremeTTL shortens the TTL for extreme-risk profiles.
	ExtremeTTL time.Duration // default: 15m

	// ProbeWait bounds how long concurrent callers wait for a peer's probe.
	ProbeWait time.Duration // default: 30s

	// MaxEntries caps the profile cache; at capacity the profile computed
	// longest ago is evicted.
	MaxEntries int // default: 2048
}

// CacheConfig controls the result cache.
type CacheConfig struct {
	// TTL is the result freshness window.
	TTL time.Duration // default: 1h

	// MaxEntries is the maximum number of cached results.
	MaxEntries int // default: 1000
}

// EvidenceConfig controls failure-evidence capture.
type EvidenceConfig struct {
	// Dir is the root directory for evidence artifacts.
	Dir string // default: "./evidence"

	// RetentionCount caps the number of retained records.
	RetentionCount int // default: 500
}

// CostConfig sets the rolling-hour ceilings.
type CostConfig struct {
	MaxTokens         float64 // default: 1e5
	MaxBrowserMinutes float64 // default: 60
	MaxRequests       float64 // default: 1000
	MaxUSD            float64 // default: 1.0
}

// LearnerConfig controls strategy-stat persistence.
type LearnerConfig struct {
	// JournalPath is the append-only stats journal. Empty disables persistence.
	JournalPath string // default: "./urwa-learner.jsonl"
}

// ComplianceConfig controls robots.txt handling and the blacklist.
type ComplianceConfig struct {
	// RespectRobots toggles robots.txt enforcement.
	RespectRobots bool // default: true

	// Blacklist is the set of denied domains.
	Blacklist []string

	// RobotsTTL is how long fetched robots rules are cached.
	RobotsTTL time.Duration // default: 24h

	// RobotsErrorTTL is how long a failed robots fetch is cached as
	// unknown-permissive.
	RobotsErrorTTL time.Duration // default: 1h
}

// LogConfig controls structured logging.
type LogConfig struct {
	Level    string // default: "info"
	RingSize int    // default: 2048 recent records kept for the logs endpoint
}

// Load reads configuration from environment variables with sane defaults.
func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Host: envOr("URWA_HOST", "0.0.0.0"),
			Port: envIntOr("URWA_PORT", 8080),
			Mode: envOr("URWA_MODE", "release"),
		},
		Browser: BrowserConfig{
			Headless:     envBoolOr("URWA_HEADLESS", true),
			MaxPages:     envIntOr("URWA_MAX_PAGES", 10),
			DefaultProxy: os.Getenv("URWA_PROXY"),
			NoSandbox:    envBoolOr("URWA_NO_SANDBOX", false),
			BrowserBin:   os.Getenv("URWA_BROWSER_BIN"),
			BlockedResourceTypes: envSliceOr("URWA_BLOCKED_RESOURCES", []string{
				"Image", "Stylesheet", "Font", "Media",
			}),
		},
		Scrape: ScrapeConfig{
			DefaultTimeout:   envDurationOr("URWA_DEFAULT_TIMEOUT", 180*time.Second),
			LightTimeout:     envDurationOr("URWA_LIGHT_TIMEOUT", 15*time.Second),
			StealthTimeout:   envDurationOr("URWA_STEALTH_TIMEOUT", 45*time.Second),
			UltraTimeout:     envDurationOr("URWA_ULTRA_TIMEOUT", 120*time.Second),
			UserAgent:        envOr("URWA_USER_AGENT", "UrwaBot/1.0"),
			SSRFAllowPrivate: envBoolOr("URWA_SSRF_ALLOW_PRIVATE", false),
		},
		Rate: RateConfig{
			DefaultDelay: envDurationOr("URWA_RATE_DELAY", 1*time.Second),
			MinDelay:     envDurationOr("URWA_RATE_MIN_DELAY", 500*time.Millisecond),
			MaxDelay:     envDurationOr("URWA_RATE_MAX_DELAY", 60*time.Second),
		},
		Circuit: CircuitConfig{
			FailureThreshold: envIntOr("URWA_CIRCUIT_THRESHOLD", 5),
			RecoveryTimeout:  envDurationOr("URWA_CIRCUIT_RECOVERY", 300*time.Second),
			HalfOpenMax:      envIntOr("URWA_CIRCUIT_HALF_OPEN_MAX", 3),
			BlockedURLWindow: envDurationOr("URWA_CIRCUIT_BLOCKED_WINDOW", 10*time.Minute),
		},
		Profile: ProfileConfig{
			TTL:        envDurationOr("URWA_PROFILE_TTL", 6*time.Hour),
			ExtremeTTL: envDurationOr("URWA_PROFILE_EXTREME_TTL", 15*time.Minute),
			ProbeWait:  envDurationOr("URWA_PROFILE_PROBE_WAIT", 30*time.Second),
			MaxEntries: envIntOr("URWA_PROFILE_MAX_ENTRIES", 2048),
		},
		Cache: CacheConfig{
			TTL:        envDurationOr("URWA_CACHE_TTL", 1*time.Hour),
			MaxEntries: envIntOr("URWA_CACHE_MAX_ENTRIES", 1000),
		},
		Evidence: EvidenceConfig{
			Dir:            envOr("URWA_EVIDENCE_DIR", "./evidence"),
			RetentionCount: envIntOr("URWA_EVIDENCE_RETENTION", 500),
		},
		Cost: CostConfig{
			MaxTokens:         envFloatOr("URWA_COST_MAX_TOKENS", 1e5),
			MaxBrowserMinutes: envFloatOr("URWA_COST_MAX_BROWSER_MINUTES", 60),
			MaxRequests:       envFloatOr("URWA_COST_MAX_REQUESTS", 1000),
			MaxUSD:            envFloatOr("URWA_COST_MAX_USD", 1.0),
		},
		Learner: LearnerConfig{
			JournalPath: envOr("URWA_LEARNER_JOURNAL", "./urwa-learner.jsonl"),
		},
		Compliance: ComplianceConfig{
			RespectRobots:  envBoolOr("URWA_RESPECT_ROBOTS", true),
			Blacklist:      envSliceOr("URWA_BLACKLIST", nil),
			RobotsTTL:      envDurationOr("URWA_ROBOTS_TTL", 24*time.Hour),
			RobotsErrorTTL: envDurationOr("URWA_ROBOTS_ERROR_TTL", 1*time.Hour),
		},
		Log: LogConfig{
			Level:    envOr("URWA_LOG_LEVEL", "info"),
			RingSize: envIntOr("URWA_LOG_RING_SIZE", 2048),
		},
	}
}

// StrategyTimeout returns the per-attempt timeout for a strategy name.
func (c *ScrapeConfig) StrategyTimeout(strategy string) time.Duration {
	switch strategy {
	case "stealth":
		return c.StealthTimeout
	case "ultra":
		return c.UltraTimeout
	default:
		return c.LightTimeout
	}
}

// --- helper functions ---

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envBoolOr(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envFloatOr(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envDurationOr(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func envSliceOr(key string, fallback []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		return result
	}
	return fallback
}
