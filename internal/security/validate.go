// Package security validates and sanitizes customer query text before it
// reaches the rest of the pipeline.
package security

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
)

// ValidationResult reports whether a query may enter the pipeline.
// When Valid is false, Errors lists every rule the query violated.
type ValidationResult struct {
	Valid     bool
	Errors    []string
	Sanitized string
}

// QueryValidator screens customer input for empty/oversized queries,
// SQL-injection patterns, spam heuristics, and prompt injection attempts.
//
// Note: No filter is perfect. This catches common patterns but sophisticated
// attacks may bypass detection. Defense in depth (system prompt hardening,
// output filtering) is recommended.
type QueryValidator struct {
	maxLength    int
	sqlPatterns  []*regexp.Regexp
	injection    []*regexp.Regexp
	blockedWords []string
}

// DefaultMaxQueryLength bounds a single customer query.
const DefaultMaxQueryLength = 2000

// spamRepeatRatio is the fraction of repeated words above which a query is
// treated as spam.
const spamRepeatRatio = 0.5

// NewQueryValidator creates a QueryValidator with default patterns.
// maxLength <= 0 selects DefaultMaxQueryLength.
func NewQueryValidator(maxLength int) *QueryValidator {
	if maxLength <= 0 {
		maxLength = DefaultMaxQueryLength
	}

	sqlPatterns := []string{
		`(?i)union\s+(all\s+)?select`,
		`(?i)drop\s+(table|database|schema)`,
		`(?i)insert\s+into\s+\w+`,
		`(?i)delete\s+from\s+\w+`,
		`(?i);\s*--`,
		`(?i)'\s*or\s+'?1'?\s*=\s*'?1`,
		`(?i)exec(ute)?\s*\(`,
		`<script[\s>]`,
	}

	injectionPatterns := []string{
		// System prompt override attempts
		`(?i)ignore\s+(all\s+)?(previous|above|prior)\s+(instructions?|prompts?|rules?)`,
		`(?i)disregard\s+(all\s+)?(previous|above|prior)\s+(instructions?|prompts?)`,
		`(?i)forget\s+(all\s+)?(previous|above|prior)\s+(instructions?|context)`,

		// Role-playing attacks
		`(?i)^(pretend|act|behave|imagine)\s+(you\s+are|to\s+be|as\s+if|like)`,
		`(?i)^you\s+are\s+now\s+a`,

		// Delimiter manipulation
		`(?i)</?(system|instruction|prompt)>`,
	}

	return &QueryValidator{
		maxLength:    maxLength,
		sqlPatterns:  compileAll(sqlPatterns),
		injection:    compileAll(injectionPatterns),
		blockedWords: []string{"viagra", "casino", "lottery", "bitcoin scam"},
	}
}

func compileAll(patterns []string) []*regexp.Regexp {
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		if re, err := regexp.Compile(p); err == nil {
			compiled = append(compiled, re)
		}
	}
	return compiled
}

// Validate checks a raw query against all rules. The sanitized form is
// returned even for invalid queries so callers can log what was attempted.
func (v *QueryValidator) Validate(raw string) ValidationResult {
	sanitized := Sanitize(raw)

	var errs []string

	if sanitized == "" {
		errs = append(errs, "Query cannot be empty")
		return ValidationResult{Valid: false, Errors: errs, Sanitized: sanitized}
	}

	if len(sanitized) > v.maxLength {
		errs = append(errs, fmt.Sprintf("Query exceeds maximum length of %d characters", v.maxLength))
	}

	for _, re := range v.sqlPatterns {
		if re.MatchString(sanitized) {
			errs = append(errs, "Query contains disallowed patterns")
			break
		}
	}

	for _, re := range v.injection {
		if re.MatchString(sanitized) {
			errs = append(errs, "Query contains disallowed instructions")
			break
		}
	}

	lower := strings.ToLower(sanitized)
	for _, w := range v.blockedWords {
		if strings.Contains(lower, w) {
			errs = append(errs, "Query contains blocked terms")
			break
		}
	}

	if isSpam(sanitized) {
		errs = append(errs, "Query appears to be spam")
	}

	if !allowedCharset(sanitized) {
		errs = append(errs, "Query contains unsupported characters")
	}

	return ValidationResult{
		Valid:     len(errs) == 0,
		Errors:    errs,
		Sanitized: sanitized,
	}
}

// Sanitize normalizes raw input for downstream use:
//   - strips zero-width, format, and control characters
//   - normalizes all whitespace runs to a single space
//   - trims leading/trailing whitespace
func Sanitize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if unicode.Is(unicode.Cf, r) || unicode.Is(unicode.Mn, r) || unicode.IsControl(r) {
			continue
		}
		if unicode.IsSpace(r) {
			b.WriteRune(' ')
			continue
		}
		b.WriteRune(r)
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// isSpam reports whether more than half the words in the query are
// repetitions of words already seen.
func isSpam(s string) bool {
	words := strings.Fields(strings.ToLower(s))
	if len(words) < 4 {
		return false
	}
	seen := make(map[string]struct{}, len(words))
	repeats := 0
	for _, w := range words {
		if _, ok := seen[w]; ok {
			repeats++
			continue
		}
		seen[w] = struct{}{}
	}
	return float64(repeats)/float64(len(words)) > spamRepeatRatio
}

// allowedCharset rejects input dominated by symbols rather than text.
// Letters, digits, whitespace and common punctuation are fine; anything
// else counts against a small budget.
func allowedCharset(s string) bool {
	const punctuation = `.,!?'"()-:;/@#$%&+*€£¥`
	other := 0
	total := 0
	for _, r := range s {
		total++
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) {
			continue
		}
		if strings.ContainsRune(punctuation, r) {
			continue
		}
		other++
	}
	if total == 0 {
		return false
	}
	return float64(other)/float64(total) <= 0.2
}
