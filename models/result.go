package models

// ScrapeStatus is the top-level outcome of a scrape call.
type ScrapeStatus string

const (
	StatusSuccess ScrapeStatus = "success"
	StatusError   ScrapeStatus = "error"
)

// ScrapeResult is the single output of Scrape. On success Content and
// StrategyUsed are set; on error FailureKind is set.
type ScrapeResult struct {
	Status        ScrapeStatus     `json:"status"`
	URL           string           `json:"url"`
	FinalURL      string           `json:"final_url,omitempty"`
	Content       string           `json:"content,omitempty"`
	ContentLength int              `json:"content_length,omitempty"`
	StrategyUsed  Strategy         `json:"strategy_used,omitempty"`
	Attempts      int              `json:"attempts"`
	ElapsedMS     int64            `json:"elapsed_ms"`
	Confidence    *ConfidenceScore `json:"confidence,omitempty"`
	FailureKind   FailureKind      `json:"failure_kind,omitempty"`
	TraceID       string           `json:"trace_id"`

	// Cached marks results served from the result cache.
	Cached bool `json:"cached,omitempty"`

	// HTTPStatus is the status code of the winning fetch (0 on error).
	HTTPStatus int `json:"http_status,omitempty"`

	// Redirects is the length of the redirect chain of the winning fetch.
	Redirects int `json:"redirects,omitempty"`

	// HadStructuredData reports JSON-LD / Open Graph / table markup in
	// the fetched body.
	HadStructuredData bool `json:"had_structured_data,omitempty"`
}

// ConfidenceScore is the post-hoc quality score attached to successful
// results. Overall is the weighted mean of the factors, each in [0,1].
type ConfidenceScore struct {
	Overall  float64            `json:"overall"`
	Factors  map[string]float64 `json:"factors"`
	Warnings []string           `json:"warnings,omitempty"`
}
