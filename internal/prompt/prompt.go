// Package prompt composes the LLM prompt from business data, retrieved
// context, and conversation history. Build is a pure function: identical
// inputs always produce an identical Prompt, which keeps prompts testable
// and cacheable.
package prompt

import (
	"errors"
	"fmt"
	"strings"

	"github.com/helpdeck/helpdeck/internal/business"
	"github.com/helpdeck/helpdeck/internal/knowledge"
	"github.com/helpdeck/helpdeck/internal/session"
)

// DefaultMaxTokens is the context-window budget a prompt must fit within.
const DefaultMaxTokens = 8000

// Validation errors.
var (
	ErrEmptySystemMessage = errors.New("prompt has empty system message")
	ErrEmptyQuery         = errors.New("prompt has empty query")
	ErrTooLarge           = errors.New("prompt exceeds context window budget")
)

// Prompt is the fully assembled input for one LLM call.
type Prompt struct {
	SystemMessage       string
	BusinessContext     string
	ConversationHistory string
	CurrentQuery        string
	ResponseGuidelines  string
	Constraints         string
}

// Build assembles a Prompt. All sections are rendered in a fixed order with
// no map iteration anywhere, so output is byte-for-byte deterministic.
func Build(biz *business.Business, results []knowledge.Result, convo *session.Context, query string) Prompt {
	return Prompt{
		SystemMessage:       systemMessage(biz),
		BusinessContext:     businessContext(biz, results),
		ConversationHistory: historySection(convo),
		CurrentQuery:        query,
		ResponseGuidelines:  responseGuidelines(biz),
		Constraints:         constraints(biz),
	}
}

// Validate pre-flights a prompt before the LLM call: required sections are
// present and the token estimate fits the window. maxTokens <= 0 selects
// DefaultMaxTokens.
func Validate(p Prompt, maxTokens int) error {
	if strings.TrimSpace(p.SystemMessage) == "" {
		return ErrEmptySystemMessage
	}
	if strings.TrimSpace(p.CurrentQuery) == "" {
		return ErrEmptyQuery
	}
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	if est := EstimateTokens(p); est > maxTokens {
		return fmt.Errorf("%w: estimated %d tokens, budget %d", ErrTooLarge, est, maxTokens)
	}
	return nil
}

// EstimateTokens approximates the prompt's token count with the standard
// length/4 heuristic.
func EstimateTokens(p Prompt) int {
	total := len(p.SystemMessage) + len(p.BusinessContext) + len(p.ConversationHistory) +
		len(p.CurrentQuery) + len(p.ResponseGuidelines) + len(p.Constraints)
	return total / 4
}

// Render flattens the prompt into the single system string sent to the
// model, sections separated by blank lines, empty sections omitted.
func Render(p Prompt) string {
	sections := []string{
		p.SystemMessage,
		p.BusinessContext,
		p.ConversationHistory,
		p.ResponseGuidelines,
		p.Constraints,
	}
	var b strings.Builder
	for _, sec := range sections {
		if sec == "" {
			continue
		}
		if b.Len() > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(sec)
	}
	return b.String()
}

func systemMessage(biz *business.Business) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are the customer support assistant for %s", biz.Name)
	if biz.BusinessType != "" && biz.BusinessType != "general" {
		fmt.Fprintf(&b, ", a %s business", biz.BusinessType)
	}
	b.WriteString(".")
	if biz.Description != "" {
		fmt.Fprintf(&b, " %s", biz.Description)
	}
	b.WriteString(" Answer customer questions helpfully and accurately using only the information provided below.")
	return b.String()
}

func businessContext(biz *business.Business, results []knowledge.Result) string {
	var b strings.Builder
	b.WriteString("Business information:\n")
	fmt.Fprintf(&b, "- Name: %s\n", biz.Name)
	if biz.Timezone != "" {
		fmt.Fprintf(&b, "- Timezone: %s\n", biz.Timezone)
	}
	writeContact(&b, biz.Contact)

	if len(results) == 0 {
		b.WriteString("\nNo specific business content matched this question.")
		return b.String()
	}

	b.WriteString("\nRelevant business content:\n")
	for i, r := range results {
		fmt.Fprintf(&b, "%d. [%s] %s\n", i+1, r.ContentType, sanitize(r.Content))
	}
	return strings.TrimRight(b.String(), "\n")
}

func writeContact(b *strings.Builder, c business.Contact) {
	if c.Phone != "" {
		fmt.Fprintf(b, "- Phone: %s\n", c.Phone)
	}
	if c.Email != "" {
		fmt.Fprintf(b, "- Email: %s\n", c.Email)
	}
	if c.Website != "" {
		fmt.Fprintf(b, "- Website: %s\n", c.Website)
	}
	if c.Address != "" {
		fmt.Fprintf(b, "- Address: %s\n", c.Address)
	}
}

func historySection(convo *session.Context) string {
	if convo == nil || len(convo.Messages) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("Recent conversation:\n")
	for _, m := range convo.Messages {
		role := "Customer"
		if m.Role == session.RoleAssistant {
			role = "Assistant"
		}
		fmt.Fprintf(&b, "%s: %s\n", role, sanitize(m.Content))
	}

	if len(convo.Summary.ExplainedFacts) > 0 {
		b.WriteString("\nAlready explained:\n")
		for _, f := range convo.Summary.ExplainedFacts {
			fmt.Fprintf(&b, "- %s\n", sanitize(f))
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func responseGuidelines(biz *business.Business) string {
	return strings.Join([]string{
		"Response guidelines:",
		"- Be concise and friendly.",
		"- Answer only from the business information above.",
		fmt.Sprintf("- If you don't know, say so and suggest contacting %s directly.", biz.Name),
	}, "\n")
}

func constraints(biz *business.Business) string {
	lines := []string{
		"Constraints:",
		"- Never invent menu items, prices, hours, or policies.",
		"- Never share contact details other than those listed above.",
	}
	if biz.Contact.Phone == "" && biz.Contact.Email == "" {
		lines = append(lines, "- Do not provide a phone number or email address; none is published.")
	}
	return strings.Join(lines, "\n")
}

// sanitize keeps injected content from escaping its prompt section.
func sanitize(s string) string {
	s = strings.NewReplacer("<", "", ">", "", "\r", " ", "\n", " ").Replace(s)
	return strings.TrimSpace(s)
}
