package knowledge

import (
	"strings"
	"unicode"
)

// Confidence boosts applied when the query appears verbatim in a result.
// Both are deterministic so identical searches always score identically.
const (
	contentMatchBoost = 0.05
	titleMatchBoost   = 0.10
	maxConfidence     = 1.0
)

// Snippet length bounds, in bytes.
const (
	minSnippetLen = 50
	maxSnippetLen = 300
)

// boostConfidence derives a result's confidence from its raw similarity.
// A verbatim query match in the content adds 0.05; a match in the title
// metadata adds 0.10. The sum is capped at 1.0.
func boostConfidence(r Result, query string) float64 {
	confidence := r.Similarity
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return confidence
	}

	if strings.Contains(strings.ToLower(r.Content), q) {
		confidence += contentMatchBoost
	}
	if title, ok := r.Metadata["title"]; ok && strings.Contains(strings.ToLower(title), q) {
		confidence += titleMatchBoost
	}

	if confidence > maxConfidence {
		confidence = maxConfidence
	}
	return confidence
}

// makeSnippet extracts an excerpt of content centered on the best query-term
// match, between 50 and 300 bytes, trimmed to word boundaries where possible.
// Content shorter than the minimum is returned whole.
func makeSnippet(content, query string) string {
	content = strings.TrimSpace(content)
	if len(content) <= minSnippetLen {
		return content
	}

	center := bestMatchOffset(content, query)

	start := center - maxSnippetLen/2
	if start < 0 {
		start = 0
	}
	end := start + maxSnippetLen
	if end > len(content) {
		end = len(content)
		start = end - maxSnippetLen
		if start < 0 {
			start = 0
		}
	}

	snippet := content[start:end]

	// Trim to word boundaries so the excerpt doesn't open or close mid-word.
	if start > 0 {
		if i := strings.IndexFunc(snippet, unicode.IsSpace); i >= 0 && len(snippet)-i >= minSnippetLen {
			snippet = snippet[i+1:]
		}
	}
	if end < len(content) {
		if i := strings.LastIndexFunc(snippet, unicode.IsSpace); i >= minSnippetLen {
			snippet = snippet[:i]
		}
	}

	return strings.TrimSpace(snippet)
}

// bestMatchOffset finds the byte offset of the longest query word present in
// content, or 0 when nothing matches.
func bestMatchOffset(content, query string) int {
	lower := strings.ToLower(content)

	// Whole-query match beats any single word.
	q := strings.ToLower(strings.TrimSpace(query))
	if q != "" {
		if i := strings.Index(lower, q); i >= 0 {
			return i
		}
	}

	best := 0
	bestLen := 0
	for _, w := range strings.Fields(q) {
		if len(w) <= bestLen {
			continue
		}
		if i := strings.Index(lower, w); i >= 0 {
			best = i
			bestLen = len(w)
		}
	}
	return best
}
