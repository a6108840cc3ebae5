// Package respond turns a raw model reply into the answer the API returns:
// it validates the text against the business record, scores confidence from
// the retrieval context, and attaches sources and follow-up suggestions.
package respond

import (
	"regexp"
	"strings"

	"github.com/helpdeck/helpdeck/internal/business"
	"github.com/helpdeck/helpdeck/internal/intent"
	"github.com/helpdeck/helpdeck/internal/knowledge"
	"github.com/helpdeck/helpdeck/internal/llm"
)

// Confidence weights. A successful generation contributes a fixed signal;
// the rest comes from the mean confidence of the retrieved context. A reply
// produced without any supporting context scores below the trust threshold
// most UIs use (0.5), which is the point.
const (
	modelSignal     = 0.9
	modelWeight     = 0.5
	retrievalWeight = 0.5

	// FallbackConfidence is reported when generation failed and the
	// scripted fallback text was served instead.
	FallbackConfidence = 0.3

	invalidPenalty = 0.5
)

// Source identifies a knowledge document that informed the answer.
type Source struct {
	ID         string  `json:"id"`
	Type       string  `json:"type"`
	Title      string  `json:"title,omitempty"`
	Snippet    string  `json:"snippet,omitempty"`
	Similarity float64 `json:"similarity"`
}

// Validation is the outcome of the heuristic response checks.
type Validation struct {
	Valid  bool     `json:"valid"`
	Issues []string `json:"issues,omitempty"`
}

// BusinessInfo is the subset of the tenant record exposed alongside answers.
type BusinessInfo struct {
	Name    string `json:"name"`
	Phone   string `json:"phone,omitempty"`
	Email   string `json:"email,omitempty"`
	Website string `json:"website,omitempty"`
	Address string `json:"address,omitempty"`
}

// Processed is the final shape of an answer.
type Processed struct {
	Text         string
	Confidence   float64
	Sources      []Source
	Suggestions  []string
	BusinessInfo BusinessInfo
	Validation   Validation
}

var (
	phonePattern = regexp.MustCompile(`\+?\d[\d\s().-]{6,}\d`)
	emailPattern = regexp.MustCompile(`[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}`)
)

// Process assembles the final answer from the model reply, the retrieval
// results that grounded it, the detected intent and the tenant record.
// It never fails: validation issues lower confidence instead of erroring,
// because by this point the caller has already committed to answering.
func Process(reply *llm.Reply, results []knowledge.Result, det intent.Result, biz *business.Business) Processed {
	p := Processed{
		Text:        reply.Text,
		Sources:     sources(results),
		Suggestions: SuggestionsFor(det.Intent),
		Validation:  validate(reply.Text, biz),
	}
	if biz != nil {
		p.BusinessInfo = BusinessInfo{
			Name:    biz.Name,
			Phone:   biz.Contact.Phone,
			Email:   biz.Contact.Email,
			Website: biz.Contact.Website,
			Address: biz.Contact.Address,
		}
	}

	if reply.Model == llm.FallbackModel {
		p.Confidence = FallbackConfidence
		return p
	}

	p.Confidence = modelWeight*modelSignal + retrievalWeight*meanConfidence(results)
	if !p.Validation.Valid {
		p.Confidence *= invalidPenalty
	}
	if p.Confidence > 1.0 {
		p.Confidence = 1.0
	}
	return p
}

func sources(results []knowledge.Result) []Source {
	if len(results) == 0 {
		return nil
	}
	out := make([]Source, 0, len(results))
	for _, r := range results {
		out = append(out, Source{
			ID:         r.Document.ContentID,
			Type:       r.Document.ContentType,
			Title:      r.Document.Metadata["title"],
			Snippet:    r.Snippet,
			Similarity: r.Similarity,
		})
	}
	return out
}

func meanConfidence(results []knowledge.Result) float64 {
	if len(results) == 0 {
		return 0
	}
	var sum float64
	for _, r := range results {
		sum += r.Confidence
	}
	return sum / float64(len(results))
}

// validate runs the heuristic checks. The contact check catches a model
// quoting a phone number or email that contradicts the tenant record,
// which happens when stale contact details survive in knowledge content.
func validate(text string, biz *business.Business) Validation {
	v := Validation{Valid: true}
	if strings.TrimSpace(text) == "" {
		v.Valid = false
		v.Issues = append(v.Issues, "response text is empty")
		return v
	}
	if biz == nil {
		return v
	}

	if biz.Contact.Phone != "" {
		want := digitsOnly(biz.Contact.Phone)
		for _, m := range phonePattern.FindAllString(text, -1) {
			got := digitsOnly(m)
			if len(got) >= 7 && got != want && !strings.HasSuffix(want, got) {
				v.Valid = false
				v.Issues = append(v.Issues, "response mentions a phone number that does not match the business record")
				break
			}
		}
	}
	if biz.Contact.Email != "" {
		for _, m := range emailPattern.FindAllString(text, -1) {
			if !strings.EqualFold(m, biz.Contact.Email) {
				v.Valid = false
				v.Issues = append(v.Issues, "response mentions an email address that does not match the business record")
				break
			}
		}
	}
	return v
}

func digitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}
