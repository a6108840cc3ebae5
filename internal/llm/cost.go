package llm

import "strings"

// Blended per-token prices in USD, used for the cost estimate surfaced in
// usage metadata. These are rough midpoints of input/output pricing; the
// number is advisory, not a billing source.
var costPerToken = []struct {
	modelSubstring string
	usd            float64
}{
	{"gemini-2.5-pro", 5.00e-6},
	{"gemini-2.5-flash", 0.60e-6},
	{"gemini", 0.60e-6},
	{"gpt-4", 10.00e-6},
	{"gpt", 1.00e-6},
}

// defaultCostPerToken covers models missing from the table.
const defaultCostPerToken = 1.00e-6

// estimateCost converts a token count into an approximate USD cost for the
// given model. Deterministic: same model and count, same estimate.
func estimateCost(model string, tokens int) float64 {
	if tokens <= 0 {
		return 0
	}
	lower := strings.ToLower(model)
	for _, entry := range costPerToken {
		if strings.Contains(lower, entry.modelSubstring) {
			return float64(tokens) * entry.usd
		}
	}
	return float64(tokens) * defaultCostPerToken
}
