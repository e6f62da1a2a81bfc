package rag

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hrygo/stylebot/ai/core/llm"
	"github.com/hrygo/stylebot/ai/internal/strutil"
	"github.com/hrygo/stylebot/ai/routing"
	"github.com/hrygo/stylebot/ai/vector"
)

// policyDoc is a store policy passage from the vector index.
type policyDoc struct {
	ID      string
	Title   string
	Content string
}

// policyFlow answers shipping, return and payment questions from policy
// documents.
func (s *Service) policyFlow(ctx context.Context, t *turn) error {
	if cached, ok := s.lookupCache(ctx, t); ok {
		t.resp.Answer = cached.Answer
		t.resp.Sources = cached.Sources
		t.resp.Cached = true
		return nil
	}

	matches, err := s.vectors.Search(ctx, t.query, vector.SearchOptions{
		Filter:          map[string]any{DocTypeKey: DocTypePolicy},
		TopK:            policyTopK,
		IncludeMetadata: true,
	})
	if err != nil {
		return err
	}

	docs := make([]policyDoc, 0, len(matches))
	for _, m := range matches {
		doc := policyDoc{ID: m.ID}
		doc.Title, _ = m.Metadata["title"].(string)
		doc.Content, _ = m.Metadata["content"].(string)
		if strings.TrimSpace(doc.Content) == "" {
			continue
		}
		docs = append(docs, doc)
	}
	if len(docs) == 0 {
		t.resp.Action = ActionContactStaff
		t.resp.Answer = noPolicyAnswer
		return nil
	}

	for _, d := range docs {
		t.resp.Sources = append(t.resp.Sources, d.ID)
	}
	t.resp.Answer = s.policyAnswer(ctx, t, docs)
	s.storeCache(ctx, t, &cachedAnswer{
		Intent:  t.resp.Intent,
		Answer:  t.resp.Answer,
		Sources: t.resp.Sources,
	})
	return nil
}

func (s *Service) policyAnswer(ctx context.Context, t *turn, docs []policyDoc) string {
	if s.llm != nil {
		answer, err := s.complete(ctx, []llm.Message{
			llm.SystemPrompt(policySystemPrompt),
			llm.UserMessage(policyUserPrompt(t.query, docs)),
		})
		if err == nil {
			return answer
		}
		slog.Warn("rag: policy answer generation failed, using top document", "error", err)
	}
	top := docs[0]
	if top.Title != "" {
		return top.Title + ": " + strutil.Truncate(top.Content, 400)
	}
	return strutil.Truncate(top.Content, 400)
}

// orderFlow reports order status through the order system.
func (s *Service) orderFlow(ctx context.Context, t *turn) error {
	orderID := t.intent.Slot(routing.SlotOrderID)
	if orderID == "" {
		orderID, _ = routing.ExtractSlots(t.message)[routing.SlotOrderID].(string)
	}

	if s.orders == nil {
		t.resp.Action = ActionContactStaff
		t.resp.Answer = orderGuidanceAnswer
		return nil
	}
	if orderID == "" {
		t.resp.Action = ActionAskOrderID
		t.resp.Answer = "Bạn cho mình xin mã đơn hàng (ví dụ DH12345) để mình kiểm tra nhé."
		return nil
	}

	order, err := s.orders.LookupOrder(ctx, t.userID, orderID)
	switch {
	case errors.Is(err, ErrOrderNotFound) || (err == nil && order == nil):
		t.resp.Action = ActionAskOrderID
		t.resp.Answer = fmt.Sprintf("Mình không tìm thấy đơn hàng %s. Bạn kiểm tra lại mã đơn giúp mình nhé.", orderID)
		return nil
	case err != nil:
		slog.Warn("rag: order lookup failed", "order_id", orderID, "error", err)
		t.resp.Degraded = true
		t.resp.Action = ActionContactStaff
		t.resp.Answer = orderGuidanceAnswer
		return nil
	}

	t.resp.Order = order
	t.resp.Answer = orderAnswer(order)
	return nil
}

func orderAnswer(o *Order) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Đơn hàng %s đang ở trạng thái: %s.", o.ID, orderStatusLabel(o.Status))
	if o.Carrier != "" && o.TrackingNo != "" {
		fmt.Fprintf(&b, " Đơn vị vận chuyển %s, mã vận đơn %s.", o.Carrier, o.TrackingNo)
	}
	if o.Total > 0 {
		fmt.Fprintf(&b, " Tổng tiền %s.", formatVND(o.Total))
	}
	return b.String()
}

var orderStatusLabels = map[string]string{
	"pending":    "chờ xác nhận",
	"confirmed":  "đã xác nhận",
	"packing":    "đang đóng gói",
	"shipping":   "đang giao",
	"delivered":  "đã giao",
	"cancelled":  "đã hủy",
	"returned":   "đã hoàn trả",
	"refunded":   "đã hoàn tiền",
	"processing": "đang xử lý",
}

func orderStatusLabel(status string) string {
	if label, ok := orderStatusLabels[strings.ToLower(status)]; ok {
		return label
	}
	return status
}

// cartFlow adds the anchor product to the cart. Without a cart port the
// response carries the action for the client to perform.
func (s *Service) cartFlow(ctx context.Context, t *turn) error {
	anchor := t.anchor()
	if anchor == nil {
		t.resp.Action = ActionAskProduct
		t.resp.Answer = "Bạn muốn thêm sản phẩm nào vào giỏ? Bạn gửi tên hoặc hỏi mình về sản phẩm trước nhé."
		return nil
	}
	t.resp.Product = anchor
	t.resp.Action = ActionAddToCart
	size := t.intent.Slot(routing.SlotSize)

	if s.cart == nil {
		t.resp.Answer = fmt.Sprintf("Bạn bấm \"Thêm vào giỏ\" để thêm %s nhé.", anchor.DisplayName())
		return nil
	}
	if err := s.cart.AddItem(ctx, t.userID, anchor.ID, size); err != nil {
		slog.Warn("rag: add to cart failed", "product_id", anchor.ID, "error", err)
		t.resp.Degraded = true
		t.resp.Answer = fmt.Sprintf("Mình chưa thêm được %s vào giỏ, bạn thử lại sau ít phút nhé.", anchor.DisplayName())
		return nil
	}

	if size != "" {
		t.resp.Answer = fmt.Sprintf("Mình đã thêm %s size %s vào giỏ hàng của bạn.", anchor.DisplayName(), size)
	} else {
		t.resp.Answer = fmt.Sprintf("Mình đã thêm %s vào giỏ hàng của bạn.", anchor.DisplayName())
	}
	return nil
}

// generalFlow handles greetings and small talk.
func (s *Service) generalFlow(ctx context.Context, t *turn) error {
	if s.llm != nil {
		messages := []llm.Message{llm.SystemPrompt(generalSystemPrompt)}
		messages = append(messages, historyMessages(t.conv.RecentMessages, 6)...)
		messages = append(messages, llm.UserMessage(t.message))
		answer, err := s.complete(ctx, messages)
		if err == nil {
			t.resp.Answer = answer
			return nil
		}
		slog.Warn("rag: small talk generation failed, using greeting", "error", err)
	}
	t.resp.Answer = greetingAnswer
	return nil
}
