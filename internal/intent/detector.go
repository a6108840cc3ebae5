package intent

import (
	"fmt"
	"regexp"
)

// Classification confidence levels by rule tier.
const (
	explicitChangeConfidence = 0.9
	supportingConfidence     = 0.8
	unknownConfidence        = 0.5

	// keywordScoreDivisor converts a raw keyword hit count into a
	// confidence: min(score/3, 0.9).
	keywordScoreDivisor  = 3.0
	maxKeywordConfidence = 0.9
)

// rule binds an intent to the patterns that vote for it. Rules are evaluated
// in declaration order; on equal scores the earlier rule wins, which keeps
// classification deterministic.
type rule struct {
	intent   Intent
	patterns []*regexp.Regexp
}

// Detector classifies messages against an ordered rule set.
//
// Detector is immutable after construction and safe for concurrent use.
type Detector struct {
	rules          []rule
	explicitChange []*regexp.Regexp
	supporting     []*regexp.Regexp
	fallback       Intent
}

func compile(patterns ...string) []*regexp.Regexp {
	res := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		res = append(res, regexp.MustCompile(p))
	}
	return res
}

// NewDetector creates a Detector for the customer support intent set.
func NewDetector() *Detector {
	return &Detector{
		fallback: Unknown,
		explicitChange: compile(
			`(?i)^(actually|no wait|instead|forget (that|it)|never ?mind)[\s,]`,
			`(?i)^(different|another|new) (question|topic|thing)`,
			`(?i)(changing|switching) (the )?(subject|topic)`,
			`(?i)^let'?s talk about`,
		),
		supporting: compile(
			// Food items and dish names continuing a menu thread.
			`(?i)\b(pizza|burger|pasta|salad|sandwich|taco|sushi|dessert|appetizer|entree|combo|special)s?\b`,
			// Sizes and quantities.
			`(?i)\b(small|medium|large|extra large|half|whole|double)\b`,
			// Order references.
			`(?i)(#|\border\s*#?\s*)\d{3,}`,
		),
		rules: []rule{
			{MenuInquiry, compile(
				`(?i)\bmenu\b`,
				`(?i)what (do you|kind of food|dishes)`,
				`(?i)\b(serve|offer|sell)\b`,
				`(?i)\b(best|popular|recommend|special)s?\b`,
				`(?i)\b(pizza|burger|pasta|salad|sandwich|dish|food|drink|dessert)s?\b`,
			)},
			{HoursPolicy, compile(
				`(?i)\b(open|close|closing|opening)\b`,
				`(?i)\bhours?\b`,
				`(?i)\b(policy|policies|refund|return|reservation)s?\b`,
				`(?i)what time`,
				`(?i)\b(holiday|weekend|sunday|monday|tuesday|wednesday|thursday|friday|saturday)s?\b`,
			)},
			{Pricing, compile(
				`(?i)\b(price|prices|pricing|cost|costs)\b`,
				`(?i)how much`,
				`(?i)\b(cheap|expensive|afford|deal|discount|coupon)s?\b`,
				`(?i)\$\d`,
			)},
			{DietaryRestriction, compile(
				`(?i)\b(vegan|vegetarian|gluten[- ]?free|dairy[- ]?free|halal|kosher)\b`,
				`(?i)\b(allerg(y|ies|ic)|nut[- ]free|lactose)\b`,
				`(?i)\b(dietary|diet|calorie)s?\b`,
				`(?i)\bingredients?\b`,
			)},
			{Location, compile(
				`(?i)\b(where|location|address|directions)\b`,
				`(?i)\b(near|nearby|close to)\b`,
				`(?i)\b(parking|deliver|delivery area)\b`,
			)},
			{Complaint, compile(
				`(?i)\b(complaint|complain|disappointed|terrible|awful|worst)\b`,
				`(?i)\b(wrong|cold|late|missing|rude)\b`,
				`(?i)\b(refund|manager|unacceptable)\b`,
				`(?i)\b(feedback|review|suggest)\b`,
			)},
			{GeneralChat, compile(
				`(?i)^(hi|hello|hey|good (morning|afternoon|evening))\b`,
				`(?i)\b(thanks|thank you|bye|goodbye)\b`,
				`(?i)how are you`,
			)},
		},
	}
}

// NewOrderDetector creates a Detector for the order management intent set.
func NewOrderDetector() *Detector {
	return &Detector{
		fallback: OrderGeneral,
		explicitChange: compile(
			`(?i)^(actually|no wait|instead|forget (that|it)|never ?mind)[\s,]`,
			`(?i)^(different|another|new) (question|order|thing)`,
		),
		supporting: compile(
			`(?i)(#|\border\s*#?\s*)\d{3,}`,
			`(?i)\b(pizza|burger|pasta|salad|sandwich|combo)s?\b`,
		),
		rules: []rule{
			{OrderLookup, compile(
				`(?i)\b(where is|track|status|check)\b.*\border\b`,
				`(?i)\border\b.*\b(status|arrive|ready)\b`,
				`(?i)(#|\border\s*#?\s*)\d{3,}`,
			)},
			{OrderNew, compile(
				`(?i)\b(place|start|make|new)\b.*\border\b`,
				`(?i)^i('d| would) like to order`,
				`(?i)\b(order|get|want)\b.*\b(pizza|burger|pasta|salad|sandwich|combo)s?\b`,
			)},
			{OrderCancel, compile(
				`(?i)\bcancel\b`,
				`(?i)don'?t want\b.*\border\b`,
			)},
			{OrderModify, compile(
				`(?i)\b(change|modify|update|add to|remove from)\b.*\border\b`,
				`(?i)\border\b.*\b(change|modify|instead)\b`,
			)},
			{OrderSupport, compile(
				`(?i)\b(help|problem|issue|wrong|missing)\b`,
				`(?i)\b(refund|complaint)\b`,
			)},
		},
	}
}

// Detect classifies message, optionally continuing the state in ctx.
//
// Tiers, highest priority first:
//  1. Explicit topic-change phrasing forces reclassification at 0.9.
//  2. Short supporting detail (a dish name, a size, an order number) keeps
//     the session's active intent at 0.8.
//  3. Keyword scoring across all rules; confidence min(score/3, 0.9).
//
// A zero score across all rules yields the fallback intent at 0.5 with
// ShouldPersist=false.
func (d *Detector) Detect(message string, ctx Context) Result {
	if message == "" {
		return Result{
			Intent:     d.fallback,
			Confidence: unknownConfidence,
			Reasoning:  "empty message",
		}
	}

	// Tier 1: explicit intent change overrides any active intent.
	explicit := false
	for _, re := range d.explicitChange {
		if re.MatchString(message) {
			explicit = true
			break
		}
	}
	if explicit {
		if best, score := d.scoreRules(message); score > 0 {
			return Result{
				Intent:        best,
				Confidence:    explicitChangeConfidence,
				Reasoning:     "explicit topic change",
				ShouldPersist: true,
			}
		}
		return Result{
			Intent:     d.fallback,
			Confidence: unknownConfidence,
			Reasoning:  "explicit topic change with no recognizable target",
		}
	}

	// Tier 2: supporting detail continues the active intent.
	if ctx.ActiveIntent != "" && ctx.ActiveIntent != d.fallback {
		for _, re := range d.supporting {
			if re.MatchString(message) {
				return Result{
					Intent:        ctx.ActiveIntent,
					Confidence:    supportingConfidence,
					Reasoning:     "supporting detail for active topic",
					ShouldPersist: true,
				}
			}
		}
	}

	// Tier 3: keyword scoring.
	best, score := d.scoreRules(message)
	if score == 0 {
		return Result{
			Intent:     d.fallback,
			Confidence: unknownConfidence,
			Reasoning:  "no keyword matches",
		}
	}

	confidence := float64(score) / keywordScoreDivisor
	if confidence > maxKeywordConfidence {
		confidence = maxKeywordConfidence
	}
	return Result{
		Intent:        best,
		Confidence:    confidence,
		Reasoning:     fmt.Sprintf("%d keyword matches", score),
		ShouldPersist: true,
	}
}

// scoreRules counts pattern hits per rule and returns the winner.
// Ties go to the earlier-declared rule.
func (d *Detector) scoreRules(message string) (Intent, int) {
	bestIntent := d.fallback
	bestScore := 0
	for _, r := range d.rules {
		score := 0
		for _, re := range r.patterns {
			if re.MatchString(message) {
				score++
			}
		}
		if score > bestScore {
			bestScore = score
			bestIntent = r.intent
		}
	}
	return bestIntent, bestScore
}
