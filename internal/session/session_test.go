package session

import (
	"testing"
	"time"

	"github.com/helpdeck/helpdeck/internal/intent"
)

func TestIntentContextAdvance(t *testing.T) {
	t.Parallel()

	now := time.Now()
	prior := IntentContext{
		ActiveIntent:     intent.OrderLookup,
		IntentData:       map[string]string{"order_id": "A-1042"},
		ConversationStep: "awaiting_confirmation",
		UpdatedAt:        now.Add(-time.Minute),
	}

	t.Run("same intent keeps accumulated state", func(t *testing.T) {
		t.Parallel()
		got := prior.Advance(intent.OrderLookup, now)
		if got.ActiveIntent != intent.OrderLookup {
			t.Errorf("ActiveIntent = %s", got.ActiveIntent)
		}
		if got.IntentData["order_id"] != "A-1042" {
			t.Errorf("IntentData = %v, want order_id carried over", got.IntentData)
		}
		if got.ConversationStep != "awaiting_confirmation" {
			t.Errorf("ConversationStep = %q, want carried over", got.ConversationStep)
		}
		if !got.UpdatedAt.Equal(now) {
			t.Errorf("UpdatedAt = %v, want %v", got.UpdatedAt, now)
		}
	})

	t.Run("topic switch discards accumulated state", func(t *testing.T) {
		t.Parallel()
		got := prior.Advance(intent.MenuInquiry, now)
		if got.ActiveIntent != intent.MenuInquiry {
			t.Errorf("ActiveIntent = %s", got.ActiveIntent)
		}
		if got.IntentData != nil {
			t.Errorf("IntentData = %v, want nil after topic switch", got.IntentData)
		}
		if got.ConversationStep != "" {
			t.Errorf("ConversationStep = %q, want empty after topic switch", got.ConversationStep)
		}
	})

	t.Run("fresh context starts clean", func(t *testing.T) {
		t.Parallel()
		got := IntentContext{}.Advance(intent.HoursPolicy, now)
		if got.ActiveIntent != intent.HoursPolicy || got.IntentData != nil || got.ConversationStep != "" {
			t.Errorf("got %+v, want bare HOURS_POLICY state", got)
		}
	})
}
