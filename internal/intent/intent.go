// Package intent classifies free-text customer queries into a fixed set of
// categories using keyword and regex heuristics. It is deliberately not ML:
// results are deterministic, explainable, and cheap enough to run on every
// query before the LLM is involved.
package intent

// Intent is a query category.
type Intent string

// Customer support intents, in priority order.
const (
	MenuInquiry        Intent = "MENU_INQUIRY"
	HoursPolicy        Intent = "HOURS_POLICY"
	Pricing            Intent = "PRICING"
	DietaryRestriction Intent = "DIETARY_RESTRICTION"
	Location           Intent = "LOCATION"
	Complaint          Intent = "COMPLAINT_FEEDBACK"
	GeneralChat        Intent = "GENERAL_CHAT"
	Unknown            Intent = "UNKNOWN"
)

// Order management intents, used by the order flow rather than the
// support pipeline.
const (
	OrderLookup  Intent = "ORDER_LOOKUP"
	OrderNew     Intent = "ORDER_NEW"
	OrderCancel  Intent = "ORDER_CANCEL"
	OrderModify  Intent = "ORDER_MODIFY"
	OrderSupport Intent = "ORDER_SUPPORT"
	OrderGeneral Intent = "ORDER_GENERAL"
)

// Result is the outcome of a classification.
type Result struct {
	Intent     Intent
	Confidence float64
	Reasoning  string

	// ShouldPersist reports whether the intent is solid enough to become
	// the session's active intent for follow-up detection.
	ShouldPersist bool
}

// Context carries the conversational state that classification may continue.
type Context struct {
	// ActiveIntent is the intent persisted from earlier turns, or empty.
	ActiveIntent Intent
}
