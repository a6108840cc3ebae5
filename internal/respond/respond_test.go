package respond

import (
	"strings"
	"testing"

	"github.com/helpdeck/helpdeck/internal/business"
	"github.com/helpdeck/helpdeck/internal/intent"
	"github.com/helpdeck/helpdeck/internal/knowledge"
	"github.com/helpdeck/helpdeck/internal/llm"
)

func testBusiness() *business.Business {
	return &business.Business{
		Name: "Pizza Palace",
		Contact: business.Contact{
			Phone: "+1 (555) 123-4567",
			Email: "hello@pizzapalace.example",
		},
	}
}

func menuResult(confidence float64) knowledge.Result {
	return knowledge.Result{
		Document: knowledge.Document{
			ContentType: knowledge.ContentTypeMenu,
			ContentID:   "item-42",
			Content:     "Margherita Pizza with fresh basil and mozzarella.",
			Metadata:    map[string]string{"title": "Margherita Pizza"},
		},
		Similarity: confidence - 0.05,
		Confidence: confidence,
		Snippet:    "Margherita Pizza with fresh basil",
	}
}

func TestProcess_GroundedAnswer(t *testing.T) {
	t.Parallel()

	reply := &llm.Reply{Text: "Our Margherita Pizza is the most popular choice!", Model: "googleai/gemini-2.5-flash"}
	det := intent.Result{Intent: intent.MenuInquiry, Confidence: 0.9}

	p := Process(reply, []knowledge.Result{menuResult(0.95)}, det, testBusiness())

	if p.Confidence <= 0.8 {
		t.Errorf("Confidence = %.2f, want > 0.8 for a well-grounded answer", p.Confidence)
	}
	if len(p.Sources) != 1 {
		t.Fatalf("Sources = %d, want 1", len(p.Sources))
	}
	if p.Sources[0].Title != "Margherita Pizza" {
		t.Errorf("source title = %q", p.Sources[0].Title)
	}
	if !p.Validation.Valid {
		t.Errorf("unexpected validation issues: %v", p.Validation.Issues)
	}
	if p.BusinessInfo.Name != "Pizza Palace" {
		t.Errorf("BusinessInfo.Name = %q", p.BusinessInfo.Name)
	}
}

func TestProcess_NoContextDegradesConfidence(t *testing.T) {
	t.Parallel()

	reply := &llm.Reply{Text: "I believe we open at 9.", Model: "googleai/gemini-2.5-flash"}
	p := Process(reply, nil, intent.Result{Intent: intent.HoursPolicy}, testBusiness())

	if p.Confidence >= 0.5 {
		t.Errorf("Confidence = %.2f, want < 0.5 without retrieval context", p.Confidence)
	}
	if p.Sources != nil {
		t.Errorf("Sources = %v, want none", p.Sources)
	}
}

func TestProcess_FallbackConfidence(t *testing.T) {
	t.Parallel()

	p := Process(llm.Fallback(), nil, intent.Result{Intent: intent.Unknown}, testBusiness())
	if p.Confidence != FallbackConfidence {
		t.Errorf("Confidence = %.2f, want %.2f", p.Confidence, FallbackConfidence)
	}
	if p.Text == "" {
		t.Error("fallback answer must keep its text")
	}
}

func TestProcess_ContactContradiction(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		text  string
		valid bool
	}{
		{"matching phone", "Call us at +1 (555) 123-4567 to book.", true},
		{"wrong phone", "Call us at 555-999-0000 to book.", false},
		{"matching email", "Email hello@pizzapalace.example for catering.", true},
		{"wrong email", "Email orders@otherplace.example for catering.", false},
		{"no contact info", "We open at 11am every day.", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			reply := &llm.Reply{Text: tt.text, Model: "googleai/gemini-2.5-flash"}
			p := Process(reply, []knowledge.Result{menuResult(0.9)}, intent.Result{Intent: intent.GeneralChat}, testBusiness())
			if p.Validation.Valid != tt.valid {
				t.Errorf("Valid = %v, want %v (issues: %v)", p.Validation.Valid, tt.valid, p.Validation.Issues)
			}
			if !tt.valid && p.Confidence >= 0.5 {
				t.Errorf("Confidence = %.2f, want penalty below 0.5", p.Confidence)
			}
		})
	}
}

func TestSuggestionsFor(t *testing.T) {
	t.Parallel()

	for _, in := range []intent.Intent{
		intent.MenuInquiry, intent.HoursPolicy, intent.Pricing,
		intent.DietaryRestriction, intent.Location, intent.Complaint,
		intent.OrderLookup, intent.OrderNew, intent.OrderCancel,
		intent.OrderModify, intent.OrderSupport,
		intent.GeneralChat, intent.Unknown,
	} {
		got := SuggestionsFor(in)
		if len(got) < 2 || len(got) > 4 {
			t.Errorf("%s: %d suggestions, want 2-4", in, len(got))
		}
		for _, s := range got {
			if strings.TrimSpace(s) == "" {
				t.Errorf("%s: empty suggestion", in)
			}
		}
	}
}
