package session

import (
	"strings"
	"testing"
)

func msgs(pairs ...[2]string) []Message {
	var out []Message
	seq := 1
	for _, p := range pairs {
		out = append(out,
			Message{Role: RoleUser, Content: p[0], SequenceNumber: seq},
			Message{Role: RoleAssistant, Content: p[1], SequenceNumber: seq + 1},
		)
		seq += 2
	}
	return out
}

func TestDeriveSummary(t *testing.T) {
	t.Parallel()

	history := msgs(
		[2]string{
			"What pizzas do you have?",
			"We offer Margherita, Pepperoni and Quattro Formaggi. All come in three sizes.",
		},
		[2]string{
			"Is the Margherita vegetarian?",
			"Yes, the Margherita is fully vegetarian. It contains tomato, mozzarella and basil.",
		},
	)

	sum := DeriveSummary(history)

	if sum.LastQuestion != "Is the Margherita vegetarian?" {
		t.Errorf("LastQuestion = %q", sum.LastQuestion)
	}
	if !strings.HasPrefix(sum.LastAnswer, "Yes, the Margherita") {
		t.Errorf("LastAnswer = %q", sum.LastAnswer)
	}

	if len(sum.Topics) == 0 {
		t.Fatal("expected topics to be extracted")
	}
	if sum.Topics[0] != "margherita" {
		t.Errorf("Topics[0] = %q, want most recent topic first (margherita)", sum.Topics[0])
	}

	if len(sum.ExplainedFacts) != 2 {
		t.Fatalf("ExplainedFacts = %d entries, want 2", len(sum.ExplainedFacts))
	}
	if !strings.HasPrefix(sum.ExplainedFacts[0], "Yes, the Margherita is fully vegetarian.") {
		t.Errorf("ExplainedFacts[0] = %q", sum.ExplainedFacts[0])
	}
}

func TestDeriveSummary_Empty(t *testing.T) {
	t.Parallel()

	sum := DeriveSummary(nil)
	if sum.LastQuestion != "" || sum.LastAnswer != "" {
		t.Error("empty history should produce an empty summary")
	}
	if len(sum.Topics) != 0 || len(sum.ExplainedFacts) != 0 {
		t.Error("empty history should have no topics or facts")
	}
}

func TestIsFollowUp(t *testing.T) {
	t.Parallel()

	withHistory := Summary{LastQuestion: "What pizzas do you have?"}

	tests := []struct {
		name  string
		query string
		sum   Summary
		want  bool
	}{
		{"pronoun opening", "Is it vegetarian?", withHistory, true},
		{"what about", "What about the pepperoni?", withHistory, true},
		{"does it", "Does it contain nuts?", withHistory, true},
		{"short question", "How much?", withHistory, true},
		{"fresh topic", "What are your opening hours on weekends?", withHistory, false},
		{"no history", "Is it vegetarian?", Summary{}, false},
		{"empty query", "", withHistory, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := IsFollowUp(tt.query, tt.sum); got != tt.want {
				t.Errorf("IsFollowUp(%q) = %v, want %v", tt.query, got, tt.want)
			}
		})
	}
}

func TestResolveFollowUp(t *testing.T) {
	t.Parallel()

	sum := Summary{
		LastQuestion: "Tell me about the margherita",
		Topics:       []string{"margherita", "pizza"},
	}

	t.Run("substitutes pronoun", func(t *testing.T) {
		t.Parallel()
		resolved, ok := ResolveFollowUp("Is it vegetarian?", sum)
		if !ok {
			t.Fatal("expected follow-up resolution")
		}
		if !strings.Contains(resolved, "margherita") {
			t.Errorf("resolved = %q, want topic substituted", resolved)
		}
	})

	t.Run("appends topic when no pronoun", func(t *testing.T) {
		t.Parallel()
		resolved, ok := ResolveFollowUp("How much?", sum)
		if !ok {
			t.Fatal("expected follow-up resolution")
		}
		if !strings.Contains(resolved, "margherita") {
			t.Errorf("resolved = %q, want topic appended", resolved)
		}
	})

	t.Run("leaves fresh topics alone", func(t *testing.T) {
		t.Parallel()
		q := "What are your opening hours on weekends?"
		resolved, ok := ResolveFollowUp(q, sum)
		if ok || resolved != q {
			t.Errorf("resolved = %q (ok=%v), want unchanged", resolved, ok)
		}
	})
}
