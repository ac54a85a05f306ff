package models

import "fmt"

// FailureKind classifies why a fetch attempt or a scrape call failed.
// Fetch-level kinds are assigned by the fetchers' outcome classification
// (package fetch); process-level kinds are produced by the admission gates and the
// orchestrator itself.
type FailureKind string

const (
	// Fetch-level kinds.
	FailTimeout    FailureKind = "timeout"
	FailConnection FailureKind = "connection"
	FailBlocked    FailureKind = "http_4xx_blocked" // 401/403/451 and any other non-429 4xx
	Fail429        FailureKind = "http_429"
	Fail5xx        FailureKind = "http_5xx"
	FailChallenge  FailureKind = "challenge" // JS/CAPTCHA/turnstile gate
	FailParseEmpty FailureKind = "parse_empty"
	FailUnknown    FailureKind = "unknown"

	// Process-level kinds.
	FailInvalidURL       FailureKind = "invalid_url"
	FailComplianceDenied FailureKind = "compliance_denied"
	FailCircuitOpen      FailureKind = "circuit_open"
	FailCostExceeded     FailureKind = "cost_exceeded"
	FailCancelled        FailureKind = "cancelled"
	FailInternal         FailureKind = "internal_error"
)

// Terminal reports whether the kind halts the scrape call entirely: no
// same-strategy retry and no escalation to a heavier strategy.
func (k FailureKind) Terminal() bool {
	switch k {
	case FailInvalidURL, FailComplianceDenied, FailCircuitOpen,
		FailCostExceeded, FailCancelled, FailInternal:
		return true
	}
	return false
}

// CountsAgainstCircuit reports whether a failure of this kind increments
// the per-domain circuit breaker's consecutive-failure counter.
// http_4xx_blocked is a URL-level problem and is tracked separately
// (three distinct blocked URLs within a window open the circuit).
func (k FailureKind) CountsAgainstCircuit() bool {
	switch k {
	case FailTimeout, FailConnection, Fail5xx, Fail429, FailChallenge:
		return true
	}
	return false
}

// ScrapeError is the internal error type carrying a failure kind.
// It implements the error interface and supports wrapping via Unwrap.
type ScrapeError struct {
	Kind    FailureKind
	Message string
	Err     error // wrapped original error
}

func (e *ScrapeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *ScrapeError) Unwrap() error {
	return e.Err
}

// NewScrapeError creates a new ScrapeError.
func NewScrapeError(kind FailureKind, message string, err error) *ScrapeError {
	return &ScrapeError{Kind: kind, Message: message, Err: err}
}
