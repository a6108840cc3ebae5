// Package session manages conversation sessions: time-bounded containers
// for a customer's exchange with a business, with rolling history and a
// derived context summary used to resolve follow-up questions.
//
// Lifecycle per session: absent -> active -> expired. An expired session is
// never reactivated; a new session row replaces it.
package session

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/helpdeck/helpdeck/internal/intent"
)

// DefaultTimeout is the sliding inactivity window. Each turn extends the
// session's expiry by this much.
const DefaultTimeout = 30 * time.Minute

// DefaultHistoryLimit is how many recent messages feed the context summary.
const DefaultHistoryLimit = 10

// Message roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Sentinel errors.
var (
	ErrNotFound = errors.New("session not found")
	ErrExpired  = errors.New("session expired")
)

// Session is one conversation between a customer and a business.
type Session struct {
	ID             uuid.UUID
	BusinessID     uuid.UUID
	Token          string
	CustomerID     string
	StartedAt      time.Time
	LastActivityAt time.Time
	ExpiresAt      time.Time
	IsActive       bool
	ContextSummary string
	IntentContext  IntentContext
	TurnCount      int
}

// IntentContext is the per-session intent state persisted between turns.
// IntentData and ConversationStep accumulate within one topic: slot values
// the customer already supplied and where they are in a multi-turn flow.
type IntentContext struct {
	ActiveIntent     intent.Intent     `json:"active_intent,omitempty"`
	IntentData       map[string]string `json:"intent_data,omitempty"`
	ConversationStep string            `json:"conversation_step,omitempty"`
	UpdatedAt        time.Time         `json:"updated_at,omitempty"`
}

// Advance returns the intent state after a turn classified as next.
// Continuing the same intent keeps the accumulated data and step; a topic
// switch discards them.
func (ic IntentContext) Advance(next intent.Intent, now time.Time) IntentContext {
	out := IntentContext{ActiveIntent: next, UpdatedAt: now}
	if next == ic.ActiveIntent {
		out.IntentData = ic.IntentData
		out.ConversationStep = ic.ConversationStep
	}
	return out
}

// Message is one utterance in a session.
type Message struct {
	ID             uuid.UUID
	SessionID      uuid.UUID
	Role           string
	Content        string
	SequenceNumber int
	CreatedAt      time.Time
}

// Context is the conversational state handed to the prompt builder:
// the last N messages plus a derived summary.
type Context struct {
	Session  *Session
	Messages []Message
	Summary  Summary
}

// Summary condenses recent history for follow-up detection and prompting.
type Summary struct {
	// Topics are noun-ish terms mentioned recently, most recent first.
	Topics []string

	// LastQuestion and LastAnswer are the most recent user/assistant pair.
	LastQuestion string
	LastAnswer   string

	// ExplainedFacts lists short statements the assistant already made,
	// so answers don't repeat themselves.
	ExplainedFacts []string
}

// Expired reports whether the session's expiry has passed at t.
func (s *Session) Expired(t time.Time) bool {
	return !t.Before(s.ExpiresAt)
}
