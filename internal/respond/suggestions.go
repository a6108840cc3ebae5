package respond

import "github.com/helpdeck/helpdeck/internal/intent"

// Canned follow-up suggestions per intent. Each set has between two and
// four entries so the UI can always render a suggestion row.
var suggestions = map[intent.Intent][]string{
	intent.MenuInquiry: {
		"What are today's specials?",
		"Do you have vegetarian options?",
		"What sides do you recommend?",
	},
	intent.HoursPolicy: {
		"Are you open on holidays?",
		"What is your reservation policy?",
		"Do you offer delivery?",
	},
	intent.Pricing: {
		"Do you have any combo deals?",
		"Is there a minimum order for delivery?",
	},
	intent.DietaryRestriction: {
		"Which dishes are gluten-free?",
		"Do you have vegan options?",
		"Can dishes be made without nuts?",
	},
	intent.Location: {
		"Is parking available nearby?",
		"How do I get there by public transport?",
	},
	intent.Complaint: {
		"How do I request a refund?",
		"Can I speak to a manager?",
	},
	intent.OrderLookup: {
		"Can I change my delivery address?",
		"How do I cancel my order?",
	},
	intent.OrderNew: {
		"What are today's specials?",
		"Is there a minimum order amount?",
		"How long does delivery take?",
	},
	intent.OrderCancel: {
		"What is your refund policy?",
		"Can I modify my order instead?",
	},
	intent.OrderModify: {
		"Can I add items to my order?",
		"How late can I still change my order?",
	},
	intent.OrderSupport: {
		"Where is my order right now?",
		"Can I speak to a manager?",
	},
}

var defaultSuggestions = []string{
	"What's on the menu?",
	"What are your opening hours?",
	"Where are you located?",
}

// SuggestionsFor returns the canned follow-up questions for an intent.
// Unknown and general-chat intents get a generic starter set.
func SuggestionsFor(in intent.Intent) []string {
	if s, ok := suggestions[in]; ok {
		return s
	}
	return defaultSuggestions
}
