package session

import (
	"regexp"
	"strings"
)

// Summary derivation limits.
const (
	maxTopics         = 5
	maxExplainedFacts = 5
	maxFactLength     = 120
)

// stopwords are excluded from topic extraction.
var stopwords = map[string]struct{}{
	"what": {}, "when": {}, "where": {}, "which": {}, "about": {},
	"that": {}, "this": {}, "they": {}, "them": {}, "those": {},
	"have": {}, "does": {}, "your": {}, "with": {}, "from": {},
	"much": {}, "many": {}, "there": {}, "here": {}, "will": {},
	"would": {}, "could": {}, "should": {}, "please": {}, "thanks": {},
	"thank": {}, "hello": {}, "want": {}, "like": {}, "need": {},
	"some": {}, "more": {}, "other": {}, "also": {}, "just": {},
}

// followUpStart matches openings that reference earlier conversation.
var followUpStart = regexp.MustCompile(
	`(?i)^\s*(what about|how about|and what|and how|is it|is that|are they|` +
		`does it|do they|can it|can they|how much is it|what does it|` +
		`it |that |they |those |this )`)

// pronounRef matches a standalone referring pronoun for substitution.
var pronounRef = regexp.MustCompile(`(?i)\b(it|that one|that|they|those|this one)\b`)

// DeriveSummary condenses messages into a Summary. Messages must be in
// chronological order, as returned by Store.History.
func DeriveSummary(messages []Message) Summary {
	var sum Summary

	// Walk backwards for the most recent Q/A pair.
	for i := len(messages) - 1; i >= 0; i-- {
		m := messages[i]
		if m.Role == RoleAssistant && sum.LastAnswer == "" {
			sum.LastAnswer = m.Content
		}
		if m.Role == RoleUser && sum.LastQuestion == "" {
			sum.LastQuestion = m.Content
		}
		if sum.LastQuestion != "" && sum.LastAnswer != "" {
			break
		}
	}

	sum.Topics = extractTopics(messages)
	sum.ExplainedFacts = extractFacts(messages)
	return sum
}

// extractTopics pulls significant words from user messages, most recent
// first, deduplicated, capped at maxTopics.
func extractTopics(messages []Message) []string {
	seen := make(map[string]struct{})
	var topics []string

	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role != RoleUser {
			continue
		}
		for _, w := range strings.Fields(strings.ToLower(messages[i].Content)) {
			w = strings.Trim(w, ".,!?'\"()-:;")
			if len(w) < 4 {
				continue
			}
			if _, skip := stopwords[w]; skip {
				continue
			}
			if _, dup := seen[w]; dup {
				continue
			}
			seen[w] = struct{}{}
			topics = append(topics, w)
			if len(topics) == maxTopics {
				return topics
			}
		}
	}
	return topics
}

// extractFacts takes the leading sentence of each assistant answer, newest
// first, as a cheap "already explained" list.
func extractFacts(messages []Message) []string {
	var facts []string
	for i := len(messages) - 1; i >= 0 && len(facts) < maxExplainedFacts; i-- {
		if messages[i].Role != RoleAssistant {
			continue
		}
		fact := firstSentence(messages[i].Content)
		if fact == "" {
			continue
		}
		if len(fact) > maxFactLength {
			fact = fact[:maxFactLength]
		}
		facts = append(facts, fact)
	}
	return facts
}

func firstSentence(s string) string {
	s = strings.TrimSpace(s)
	for _, sep := range []string{". ", "! ", "? ", "\n"} {
		if i := strings.Index(s, sep); i >= 0 {
			return strings.TrimSpace(s[:i+1])
		}
	}
	return s
}

// IsFollowUp reports whether query appears to reference the previous
// exchange rather than open a new topic. Heuristic, not a coreference
// resolver: short queries and pronoun-led openings count as follow-ups.
func IsFollowUp(query string, sum Summary) bool {
	if sum.LastQuestion == "" {
		return false
	}
	q := strings.TrimSpace(query)
	if q == "" {
		return false
	}
	if followUpStart.MatchString(q) {
		return true
	}
	// Very short questions mid-conversation usually lean on context.
	return len(strings.Fields(q)) <= 3 && strings.HasSuffix(q, "?")
}

// ResolveFollowUp rewrites a follow-up query by substituting its referring
// pronoun with the most recently discussed topic. Returns the query
// unchanged when it isn't a follow-up or no topic is known.
func ResolveFollowUp(query string, sum Summary) (string, bool) {
	if !IsFollowUp(query, sum) || len(sum.Topics) == 0 {
		return query, false
	}
	topic := sum.Topics[0]

	resolved := pronounRef.ReplaceAllString(query, topic)
	if resolved == query {
		// No pronoun to substitute: append the topic as context instead.
		resolved = strings.TrimRight(query, "?") + " (regarding " + topic + ")?"
	}
	return resolved, true
}
