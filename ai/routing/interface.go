// Package routing classifies shopper messages into a fixed intent taxonomy.
package routing

import (
	"context"

	"github.com/hrygo/stylebot/ai/conversation"
)

// Intent represents the type of user intent.
type Intent string

const (
	IntentProductAdvice      Intent = "product_advice"
	IntentSizeRecommendation Intent = "size_recommendation"
	IntentStyleMatching      Intent = "style_matching"
	IntentOrderLookup        Intent = "order_lookup"
	IntentPolicyFAQ          Intent = "policy_faq"
	IntentAddToCart          Intent = "add_to_cart"
	IntentGeneral            Intent = "general"
)

// Intents lists the taxonomy in prompt order.
func Intents() []Intent {
	return []Intent{
		IntentProductAdvice,
		IntentSizeRecommendation,
		IntentStyleMatching,
		IntentOrderLookup,
		IntentPolicyFAQ,
		IntentAddToCart,
		IntentGeneral,
	}
}

// Valid reports whether i belongs to the taxonomy.
func (i Intent) Valid() bool {
	for _, known := range Intents() {
		if i == known {
			return true
		}
	}
	return false
}

// ParseIntent maps a raw label to an Intent, resolving unknown labels to general.
func ParseIntent(raw string) Intent {
	i := Intent(raw)
	if i.Valid() {
		return i
	}
	return IntentGeneral
}

// Classification sources.
const (
	SourceLLM      = "llm"
	SourceRule     = "rule"
	SourceFollowUp = "followup"
	SourceCache    = "cache"
)

// Slot names accepted in Result.ExtractedInfo.
const (
	SlotProductType = "product_type"
	SlotProductName = "product_name"
	SlotColor       = "color"
	SlotSize        = "size"
	SlotHeight      = "height"
	SlotWeight      = "weight"
	SlotBudget      = "budget"
	SlotStyle       = "style"
	SlotBrand       = "brand"
	SlotOccasion    = "occasion"
	SlotOrderID     = "order_id"
	SlotIsFollowUp  = "is_followup"

	SlotFollowUpTopic = "followup_topic"
)

var allowedSlots = map[string]bool{
	SlotProductType: true,
	SlotProductName: true,
	SlotColor:       true,
	SlotSize:        true,
	SlotHeight:      true,
	SlotWeight:      true,
	SlotBudget:      true,
	SlotStyle:       true,
	SlotBrand:       true,
	SlotOccasion:    true,
	SlotOrderID:     true,
	SlotIsFollowUp:  true,

	SlotFollowUpTopic: true,
}

// Result is the outcome of classifying one message.
type Result struct {
	ExtractedInfo map[string]any `json:"extracted_info"`
	Intent        Intent         `json:"intent"`
	Source        string         `json:"source,omitempty"`
	Confidence    float64        `json:"confidence"`
}

// IsFollowUp reports whether the message was resolved against earlier turns.
func (r *Result) IsFollowUp() bool {
	v, _ := r.ExtractedInfo[SlotIsFollowUp].(bool)
	return v
}

// Slot returns a string slot or "".
func (r *Result) Slot(name string) string {
	v, _ := r.ExtractedInfo[name].(string)
	return v
}

// IntentClassifier handles intent classification only.
type IntentClassifier interface {
	Classify(ctx context.Context, message string, history []conversation.Message) *Result
}
