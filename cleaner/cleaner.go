// Package cleaner normalizes fetched HTML into the content the
// orchestrator emits: main-article extraction via readability with a raw
// fallback, then Markdown rendering. Semantic extraction and
// summarization stay downstream; this is presentation-neutral
// normalization only.
package cleaner

import (
	"log/slog"
	nurl "net/url"
	"strings"

	"github.com/JohannesKaufmann/html-to-markdown/v2/converter"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/base"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/commonmark"
	"github.com/JohannesKaufmann/html-to-markdown/v2/plugin/table"
	readability "github.com/go-shiori/go-readability"
)

// minContentLength is the minimum TextContent length (in characters) for
// readability output to be considered valid. Below this threshold we
// assume the algorithm failed to locate the main content and fall back
// to the raw HTML.
const minContentLength = 50

// Cleaner runs the two-stage normalization pipeline. The converter is
// created once and reused across requests (goroutine-safe).
type Cleaner struct {
	mdConverter *converter.Converter
	logger      *slog.Logger
}

// New initialises a Cleaner with a pre-configured Markdown converter.
func New(logger *slog.Logger) *Cleaner {
	return &Cleaner{
		mdConverter: newMarkdownConverter(),
		logger:      logger.With("component", "cleaner"),
	}
}

// Normalized is the cleaned output for one page.
type Normalized struct {
	// Content is the Markdown rendering of the extracted article (or of
	// the whole page when extraction fell back).
	Content string

	// Title is the readability title, "" on fallback.
	Title string

	// Extracted reports whether readability found a main article.
	Extracted bool
}

// Normalize extracts the main content of rawHTML and renders it as
// Markdown. It never fails outright: on any extraction or conversion
// problem the raw HTML (as Markdown-escaped text) flows through.
func (c *Cleaner) Normalize(rawHTML, sourceURL string) Normalized {
	article, extracted := c.extract(rawHTML, sourceURL)

	domain := ""
	if u, err := nurl.Parse(sourceURL); err == nil {
		domain = u.Scheme + "://" + u.Host
	}

	md, err := c.mdConverter.ConvertString(article.Content, converter.WithDomain(domain))
	if err != nil {
		c.logger.Warn("markdown conversion failed, returning extracted text",
			"url", sourceURL, "error", err,
		)
		return Normalized{Content: article.TextContent, Title: article.Title, Extracted: extracted}
	}

	return Normalized{Content: md, Title: article.Title, Extracted: extracted}
}

// extract runs the Mozilla Readability algorithm with a raw-HTML
// fallback when parsing fails or the extracted text is too short.
func (c *Cleaner) extract(rawHTML, sourceURL string) (readability.Article, bool) {
	parsedURL, err := nurl.Parse(sourceURL)
	if err != nil {
		return fallbackArticle(rawHTML), false
	}

	article, err := readability.FromReader(strings.NewReader(rawHTML), parsedURL)
	if err != nil {
		c.logger.Warn("readability extraction failed, falling back to raw HTML",
			"url", sourceURL, "error", err,
		)
		return fallbackArticle(rawHTML), false
	}

	if len(strings.TrimSpace(article.TextContent)) < minContentLength {
		return fallbackArticle(rawHTML), false
	}

	return article, true
}

func fallbackArticle(rawHTML string) readability.Article {
	return readability.Article{
		Content:     rawHTML,
		TextContent: rawHTML,
	}
}

// newMarkdownConverter builds the shared converter: the base plugin
// strips script/style/head noise, commonmark renders standard Markdown,
// and the table plugin preserves tabular structure with minimal cell
// padding.
func newMarkdownConverter() *converter.Converter {
	return converter.NewConverter(
		converter.WithPlugins(
			base.NewBasePlugin(),
			commonmark.NewCommonmarkPlugin(),
			table.NewTablePlugin(
				table.WithCellPaddingBehavior(table.CellPaddingBehaviorMinimal),
			),
		),
	)
}
