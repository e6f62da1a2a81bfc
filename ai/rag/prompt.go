package rag

import (
	"fmt"
	"strings"

	"github.com/hrygo/stylebot/ai/internal/strutil"
	"github.com/hrygo/stylebot/ai/ranking"
)

// Fixed answers.
const (
	degradedAnswer      = "Xin lỗi bạn, hệ thống tìm kiếm sản phẩm đang bận. Bạn thử lại sau ít phút hoặc nhắn nhân viên tư vấn giúp mình nhé."
	errorAnswer         = "Xin lỗi bạn, mình đang gặp trục trặc khi xử lý câu hỏi. Bạn thử lại sau ít phút nhé."
	noProductAnswer     = "Hiện mình chưa tìm thấy sản phẩm phù hợp. Bạn mô tả thêm kiểu dáng, màu sắc hoặc tầm giá để mình tìm lại nhé."
	noPolicyAnswer      = "Mình chưa tìm thấy thông tin chính sách phù hợp. Bạn liên hệ hotline hoặc nhân viên tư vấn để được hỗ trợ nhé."
	orderGuidanceAnswer = "Bạn có thể xem trạng thái đơn tại mục \"Đơn hàng của tôi\" hoặc nhắn mã đơn cho nhân viên CSKH để được hỗ trợ nhanh nhất."
	greetingAnswer      = "Chào bạn! Mình là trợ lý mua sắm, mình có thể giúp bạn tìm sản phẩm, tư vấn size, phối đồ hoặc tra cứu đơn hàng."
)

const productSystemPrompt = `Bạn là nhân viên tư vấn thời trang của một cửa hàng trực tuyến Việt Nam.
Chỉ dùng thông tin sản phẩm được cung cấp, không bịa giá, màu, size hay tồn kho.
Trả lời ngắn gọn, thân thiện, xưng "mình" và gọi khách là "bạn".
Nếu khách hỏi về một sản phẩm cụ thể, tập trung vào sản phẩm đó.`

const policySystemPrompt = `Bạn là nhân viên chăm sóc khách hàng của một cửa hàng thời trang trực tuyến.
Chỉ trả lời dựa trên các đoạn chính sách được cung cấp. Nếu không có thông tin, hãy nói rõ và đề nghị khách liên hệ hotline.
Trả lời ngắn gọn bằng tiếng Việt.`

const generalSystemPrompt = `Bạn là trợ lý mua sắm của một cửa hàng thời trang trực tuyến Việt Nam.
Trò chuyện thân thiện, ngắn gọn bằng tiếng Việt và gợi ý khách hỏi về sản phẩm, size, phối đồ hoặc đơn hàng.`

// productFacts renders the grounded facts of one product.
func productFacts(p ranking.Product) string {
	var b strings.Builder
	b.WriteString(p.Name)
	if p.Brand.Name != "" {
		fmt.Fprintf(&b, " (%s)", p.Brand.Name)
	}
	if price := p.MinPrice(); price > 0 {
		fmt.Fprintf(&b, " - giá từ %s", formatVND(price))
	}
	if colors := p.Colors(); len(colors) > 0 {
		fmt.Fprintf(&b, " - màu: %s", strings.Join(colors, ", "))
	}
	if sizes := p.Sizes(); len(sizes) > 0 {
		fmt.Fprintf(&b, " - size: %s", strings.Join(sizes, ", "))
	}
	if p.Material != "" {
		fmt.Fprintf(&b, " - chất liệu: %s", p.Material)
	}
	if !p.InStock() {
		b.WriteString(" - tạm hết hàng")
	}
	return b.String()
}

func productUserPrompt(q string, scored []ranking.ScoredProduct) string {
	var b strings.Builder
	b.WriteString("Sản phẩm phù hợp:\n")
	for i, sp := range scored {
		fmt.Fprintf(&b, "%d. %s\n", i+1, productFacts(sp.Product))
		if sp.Product.Description != "" {
			fmt.Fprintf(&b, "   %s\n", strutil.Truncate(sp.Product.Description, 200))
		}
	}
	fmt.Fprintf(&b, "\nCâu hỏi của khách: %s", q)
	return b.String()
}

func productTemplateAnswer(t *turn, scored []ranking.ScoredProduct) string {
	if len(scored) == 1 {
		return "Thông tin sản phẩm: " + productFacts(scored[0].Product) + "."
	}
	var b strings.Builder
	if t.resp.Action == ActionShowSimilar {
		b.WriteString("Một số mẫu tương tự bạn có thể thích:")
	} else {
		b.WriteString("Mình gợi ý cho bạn một số mẫu:")
	}
	for i, sp := range scored {
		fmt.Fprintf(&b, "\n%d. %s", i+1, productFacts(sp.Product))
	}
	return b.String()
}

func policyUserPrompt(q string, docs []policyDoc) string {
	var b strings.Builder
	b.WriteString("Chính sách liên quan:\n")
	for _, d := range docs {
		if d.Title != "" {
			fmt.Fprintf(&b, "## %s\n", d.Title)
		}
		b.WriteString(strutil.Truncate(d.Content, 1000))
		b.WriteString("\n\n")
	}
	fmt.Fprintf(&b, "Câu hỏi của khách: %s", q)
	return b.String()
}
