package cleaner

import (
	"strings"

	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"
)

// ApplyCSSSelector narrows a fetched page to the elements matching the
// given CSS selector before normalization: the matched elements' outer
// HTML is concatenated, newline-separated, in document order.
//
// An invalid selector is an error; a valid selector that matches
// nothing returns the page unchanged so normalization still has content
// to work with.
func ApplyCSSSelector(rawHTML, selector string) (string, error) {
	sel, err := cascadia.Parse(selector)
	if err != nil {
		return "", err
	}

	doc, err := html.Parse(strings.NewReader(rawHTML))
	if err != nil {
		return "", err
	}

	nodes := cascadia.QueryAll(doc, sel)
	if len(nodes) == 0 {
		return rawHTML, nil
	}

	var sb strings.Builder
	for i, node := range nodes {
		if i > 0 {
			sb.WriteByte('\n')
		}
		if err := html.Render(&sb, node); err != nil {
			return "", err
		}
	}
	return sb.String(), nil
}
