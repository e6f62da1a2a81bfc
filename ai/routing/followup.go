package routing

import (
	"regexp"
	"strings"

	"github.com/hrygo/stylebot/ai/conversation"
)

// followUpPattern maps an elliptical question to the intent it implies when
// the shopper is already discussing a product.
type followUpPattern struct {
	re     *regexp.Regexp
	intent Intent
	topic  string
}

var followUpPatterns = []followUpPattern{
	{regexp.MustCompile(`^(còn hàng|hết hàng|có sẵn|còn không|còn ko|còn k)\b`), IntentProductAdvice, "stock"},
	{regexp.MustCompile(`(còn hàng|hết hàng|còn size|còn màu)( không| ko| k)?\??$`), IntentProductAdvice, "stock"},
	{regexp.MustCompile(`^(giá|bao nhiêu tiền|giá bao nhiêu|nhiêu tiền|bao tiền)`), IntentProductAdvice, "price"},
	{regexp.MustCompile(`(giá bao nhiêu|bao nhiêu tiền|giá sao)\??$`), IntentProductAdvice, "price"},
	{regexp.MustCompile(`^(màu|có màu|còn màu)\s*(gì|nào|khác)`), IntentProductAdvice, "color"},
	{regexp.MustCompile(`^(chất liệu|vải|chất)\s*(gì|thế nào|sao)`), IntentProductAdvice, "material"},
	{regexp.MustCompile(`^(size|cỡ)\s*(gì|nào|bao nhiêu)`), IntentSizeRecommendation, "size"},
	{regexp.MustCompile(`^(mình|em|tôi|tớ)?\s*mặc (size|cỡ) (nào|gì)`), IntentSizeRecommendation, "size"},
	{regexp.MustCompile(`^(phối|mặc) (với|cùng) (gì|cái gì)`), IntentStyleMatching, "styling"},
}

// maxFollowUpWords bounds how long an elliptical follow-up can be.
const maxFollowUpWords = 7

// productIntents are the intents after which a follow-up refers to a product.
var productIntents = map[string]bool{
	string(IntentProductAdvice):      true,
	string(IntentSizeRecommendation): true,
	string(IntentStyleMatching):      true,
	string(IntentAddToCart):          true,
}

// resolveFollowUp returns the intent implied by a short elliptical message,
// or nil when the message is not a follow-up or nothing was being discussed.
func resolveFollowUp(message string, history []conversation.Message) *Result {
	lower := strings.TrimSpace(normalizeInput(message))
	if lower == "" || len(strings.Fields(lower)) > maxFollowUpWords {
		return nil
	}
	if !discussingProduct(history) {
		return nil
	}

	for _, p := range followUpPatterns {
		if !p.re.MatchString(lower) {
			continue
		}
		info := ExtractSlots(message)
		info[SlotIsFollowUp] = true
		info[SlotFollowUpTopic] = p.topic
		return &Result{
			Intent:        p.intent,
			Confidence:    0.85,
			ExtractedInfo: info,
			Source:        SourceFollowUp,
		}
	}
	return nil
}

// discussingProduct reports whether the latest classified turn was about a
// product or an assistant turn referenced one.
func discussingProduct(history []conversation.Message) bool {
	for i := len(history) - 1; i >= 0; i-- {
		msg := history[i]
		if msg.Role == conversation.RoleAssistant {
			if _, ok := msg.Metadata[conversation.MetadataProductKey]; ok {
				return true
			}
		}
		if msg.Intent != "" {
			return productIntents[msg.Intent]
		}
	}
	return false
}
