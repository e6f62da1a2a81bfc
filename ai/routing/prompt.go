package routing

import (
	"fmt"
	"strings"

	"github.com/hrygo/stylebot/ai/conversation"
	"github.com/hrygo/stylebot/ai/core/llm"
)

const classifySystemPrompt = `Bạn là bộ phân loại ý định cho trợ lý bán hàng thời trang.
Phân loại tin nhắn cuối cùng của khách vào đúng một nhãn:
- product_advice: tìm, hỏi giá, tồn kho, màu, chất liệu của sản phẩm
- size_recommendation: chọn size, hỏi vừa không, cung cấp chiều cao cân nặng
- style_matching: phối đồ, mặc với gì, gợi ý outfit
- order_lookup: kiểm tra đơn hàng, trạng thái giao hàng
- policy_faq: đổi trả, bảo hành, phí ship, thanh toán
- add_to_cart: thêm sản phẩm vào giỏ, đặt mua
- general: chào hỏi, nói chuyện phiếm, không thuộc các nhãn trên

Quy tắc:
- Chỉ điền extracted_info bằng thông tin khách NÓI RÕ trong tin nhắn. Không tự suy đoán chiều cao, cân nặng hay ngân sách.
- Nếu tin nhắn ngắn và hỏi tiếp về sản phẩm đang bàn (ví dụ "còn hàng không", "size gì"), đặt is_followup = true.
- confidence là số từ 0 đến 1.`

// historyTurns is how many previous turns are sent with the message.
const historyTurns = 4

var classifySchema = &llm.ResponseSchema{
	Name:   "intent_classification",
	Strict: false,
	Schema: &llm.JSONSchema{
		Type: "object",
		Properties: map[string]*llm.JSONSchema{
			"intent": {
				Type: "string",
				Enum: intentLabels(),
			},
			"confidence": {
				Type:    "number",
				Minimum: llm.Float(0),
				Maximum: llm.Float(1),
			},
			"extracted_info": {
				Type:                 "object",
				Description:          "Slots stated by the user: product_type, product_name, color, size, height (cm), weight (kg), budget, style, brand, occasion, order_id, is_followup",
				AdditionalProperties: true,
			},
		},
		Required: []string{"intent", "confidence", "extracted_info"},
	},
}

func intentLabels() []string {
	labels := make([]string, 0, len(Intents()))
	for _, i := range Intents() {
		labels = append(labels, string(i))
	}
	return labels
}

func buildClassifyMessages(message string, history []conversation.Message) []llm.Message {
	msgs := []llm.Message{llm.SystemPrompt(classifySystemPrompt)}

	if len(history) > 0 {
		start := max(len(history)-historyTurns, 0)
		var b strings.Builder
		b.WriteString("Hội thoại trước đó:\n")
		for _, m := range history[start:] {
			fmt.Fprintf(&b, "%s: %s\n", m.Role, truncate(m.Content, 200))
		}
		msgs = append(msgs, llm.UserMessage(b.String()))
	}

	msgs = append(msgs, llm.UserMessage("Tin nhắn cần phân loại: "+message))
	return msgs
}
