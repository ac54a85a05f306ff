package models

// ScrapeRequest describes one scrape call. The URL is the only required
// field; everything else defaults via Defaults().
type ScrapeRequest struct {
	// URL is the target page. Required; scheme must be http or https.
	URL string `json:"url" binding:"required,url"`

	// Hint is an opaque user instruction passed through to downstream
	// extractors. The core does not interpret it.
	Hint string `json:"hint,omitempty"`

	// ForceStrategy pins the fetch to a single strategy, disabling
	// selection and escalation. One of "light", "stealth", "ultra".
	ForceStrategy Strategy `json:"force_strategy,omitempty" binding:"omitempty,oneof=light stealth ultra"`

	// CSSSelector optionally narrows the fetched page before
	// normalization: only the matched elements' outer HTML is kept.
	CSSSelector string `json:"css_selector,omitempty"`

	// TimeoutSeconds bounds the entire call (selection, pacing, all
	// attempts). Default: 180.
	TimeoutSeconds int `json:"timeout_seconds,omitempty" binding:"omitempty,min=1,max=600"`

	// BypassCache skips the result-cache lookup (the result is still
	// stored on success).
	BypassCache bool `json:"bypass_cache,omitempty"`
}

// Defaults applies default values to unset fields.
func (r *ScrapeRequest) Defaults() {
	if r.TimeoutSeconds == 0 {
		r.TimeoutSeconds = 180
	}
}
