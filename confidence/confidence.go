// Package confidence scores a successful scrape result post-hoc: a
// weighted mean over content size, strategy weight, response quality,
// structured-data presence, and speed against the strategy's observed
// median.
package confidence

import (
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/use-agent/urwa/models"
)

// Factor weights; they sum to 1.
const (
	weightContentLength  = 0.3
	weightStrategy       = 0.2
	weightQuality        = 0.2
	weightStructuredData = 0.1
	weightSpeed          = 0.2
)

// warnThreshold flags any factor scoring below it.
const warnThreshold = 0.3

// Input carries everything the scorer needs about the winning fetch.
type Input struct {
	ContentLength int
	Strategy      models.Strategy
	HTTPStatus    int
	Redirects     int
	HadStructured bool
	Elapsed       time.Duration

	// ExpectedMedian is the strategy's observed median duration; 0
	// falls back to a neutral speed factor.
	ExpectedMedian time.Duration
}

// Score computes the confidence for a successful result.
func Score(in Input) *models.ConfidenceScore {
	factors := map[string]float64{
		"content_length":      contentLengthFactor(in.ContentLength),
		"strategy_weight":     strategyWeight(in.Strategy),
		"response_quality":    responseQuality(in.HTTPStatus, in.Redirects),
		"had_structured_data": boolFactor(in.HadStructured),
		"speed":               speedFactor(in.Elapsed, in.ExpectedMedian),
	}

	overall := weightContentLength*factors["content_length"] +
		weightStrategy*factors["strategy_weight"] +
		weightQuality*factors["response_quality"] +
		weightStructuredData*factors["had_structured_data"] +
		weightSpeed*factors["speed"]

	var warnings []string
	for name, v := range factors {
		if v < warnThreshold {
			warnings = append(warnings, fmt.Sprintf("low %s factor (%.2f)", name, v))
		}
	}

	return &models.ConfidenceScore{
		Overall:  overall,
		Factors:  factors,
		Warnings: warnings,
	}
}

// HasStructuredData detects JSON-LD, Open Graph meta tags, or tables in
// the fetched HTML.
func HasStructuredData(html []byte) bool {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(html)))
	if err != nil {
		return false
	}
	if doc.Find(`script[type="application/ld+json"]`).Length() > 0 {
		return true
	}
	if doc.Find(`meta[property^="og:"]`).Length() > 0 {
		return true
	}
	return doc.Find("table").Length() > 0
}

// contentLengthFactor is piecewise-linear: 0 at empty, 0.5 at 1 KiB,
// 1.0 at 8 KiB and beyond.
func contentLengthFactor(n int) float64 {
	switch {
	case n <= 0:
		return 0
	case n < 1024:
		return 0.5 * float64(n) / 1024
	case n < 8*1024:
		return 0.5 + 0.5*float64(n-1024)/float64(7*1024)
	default:
		return 1
	}
}

// strategyWeight discounts heavier strategies: needing them suggests an
// adversarial site.
func strategyWeight(s models.Strategy) float64 {
	switch s {
	case models.StrategyStealth:
		return 0.9
	case models.StrategyUltra:
		return 0.8
	default:
		return 1.0
	}
}

func responseQuality(status, redirects int) float64 {
	if status != 200 {
		return 0
	}
	if redirects > 3 {
		return 0.6
	}
	return 1
}

func boolFactor(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// speedFactor is 1 at or under the expected median, decaying linearly
// to 0.2 at four times the median.
func speedFactor(elapsed, median time.Duration) float64 {
	if median <= 0 {
		return 1
	}
	if elapsed <= median {
		return 1
	}
	ratio := float64(elapsed) / float64(median)
	if ratio >= 4 {
		return 0.2
	}
	return 1 - 0.8*(ratio-1)/3
}
