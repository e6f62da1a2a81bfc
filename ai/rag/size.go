package rag

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/hrygo/stylebot/ai/conversation"
	"github.com/hrygo/stylebot/ai/ranking"
	"github.com/hrygo/stylebot/ai/routing"
)

// defaultSizeChart is used when the product carries no chart of its own.
var defaultSizeChart = []ranking.SizeRange{
	{Size: "S", HeightMin: 150, HeightMax: 160, WeightMin: 40, WeightMax: 50},
	{Size: "M", HeightMin: 160, HeightMax: 167, WeightMin: 50, WeightMax: 58},
	{Size: "L", HeightMin: 167, HeightMax: 172, WeightMin: 58, WeightMax: 65},
	{Size: "XL", HeightMin: 172, HeightMax: 177, WeightMin: 65, WeightMax: 73},
	{Size: "XXL", HeightMin: 177, WeightMin: 73},
}

// measurements are a shopper's stated height (cm) and weight (kg).
type measurements struct {
	height int
	weight int
}

func (m measurements) empty() bool {
	return m.height == 0 && m.weight == 0
}

// sizeFlow recommends a size for the anchor product, or for the default
// chart when nothing is anchored. Measurements are never guessed.
func (s *Service) sizeFlow(ctx context.Context, t *turn) error {
	m := statedMeasurements(t.message, t.intent.ExtractedInfo, t.conv.RecentMessages)
	anchor := t.anchor()
	t.resp.Product = anchor

	if m.empty() {
		t.resp.Action = ActionAskMeasures
		if anchor != nil {
			t.resp.Answer = fmt.Sprintf("Bạn cho mình xin chiều cao và cân nặng để mình tư vấn size %s chuẩn nhất nhé.", anchor.DisplayName())
		} else {
			t.resp.Answer = "Bạn cho mình xin chiều cao và cân nặng để mình tư vấn size chuẩn nhất nhé."
		}
		return nil
	}

	chart := defaultSizeChart
	var product *ranking.Product
	if anchor != nil {
		p, err := s.fetchProduct(ctx, anchor.ID)
		if err != nil {
			return err
		}
		if p != nil {
			product = p
			if len(p.SizeChart) > 0 {
				chart = p.SizeChart
			}
		}
	}

	size := recommendSize(chart, m)
	t.resp.RecommendedSize = size
	t.resp.Answer = sizeAnswer(m, size, anchor, product)
	return nil
}

// statedMeasurements reads height and weight from the current message, then
// the classifier slots, then earlier user turns.
func statedMeasurements(message string, slots map[string]any, recent []conversation.Message) measurements {
	var m measurements
	merge := func(info map[string]any) {
		if m.height == 0 {
			m.height = intSlot(info[routing.SlotHeight])
		}
		if m.weight == 0 {
			m.weight = intSlot(info[routing.SlotWeight])
		}
	}

	merge(routing.ExtractSlots(message))
	merge(slots)
	for i := len(recent) - 1; i >= 0 && (m.height == 0 || m.weight == 0); i-- {
		if recent[i].Role == conversation.RoleUser {
			merge(routing.ExtractSlots(recent[i].Content))
		}
	}
	return m
}

func intSlot(v any) int {
	switch n := v.(type) {
	case int:
		return n
	case float64:
		return int(math.Round(n))
	case string:
		i, _ := strconv.Atoi(strings.TrimSpace(n))
		return i
	}
	return 0
}

// recommendSize picks the larger of the height and weight sizes, so a fit
// is never too small on either measure.
func recommendSize(chart []ranking.SizeRange, m measurements) string {
	if len(chart) == 0 {
		return ""
	}
	idx := max(
		chartIndex(chart, m.height, func(r ranking.SizeRange) (int, int) { return r.HeightMin, r.HeightMax }),
		chartIndex(chart, m.weight, func(r ranking.SizeRange) (int, int) { return r.WeightMin, r.WeightMax }),
	)
	if idx < 0 {
		idx = 0
	}
	return chart[idx].Size
}

// chartIndex returns the first row whose upper bound covers v, the last row
// when v exceeds every bound, or -1 when v or the chart says nothing.
func chartIndex(chart []ranking.SizeRange, v int, bounds func(ranking.SizeRange) (int, int)) int {
	if v <= 0 {
		return -1
	}
	last := -1
	for i, r := range chart {
		lo, hi := bounds(r)
		if lo == 0 && hi == 0 {
			continue
		}
		last = i
		if hi == 0 || v <= hi {
			return i
		}
	}
	return last
}

func sizeAnswer(m measurements, size string, anchor *conversation.ProductRef, product *ranking.Product) string {
	var stated []string
	if m.height > 0 {
		stated = append(stated, fmt.Sprintf("cao %dcm", m.height))
	}
	if m.weight > 0 {
		stated = append(stated, fmt.Sprintf("nặng %dkg", m.weight))
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Với %s, ", strings.Join(stated, " và "))
	if anchor != nil {
		fmt.Fprintf(&b, "bạn mặc %s size %s là vừa nhé.", anchor.DisplayName(), size)
	} else {
		fmt.Fprintf(&b, "bạn mặc size %s là vừa nhé.", size)
	}

	if product != nil {
		sizes := product.Sizes()
		if len(sizes) > 0 && !anyEqual(sizes, []string{size}) {
			fmt.Fprintf(&b, " Hiện mẫu này chỉ còn size %s, bạn cân nhắc giúp mình nhé.", strings.Join(sizes, ", "))
		}
	}
	if m.height == 0 || m.weight == 0 {
		b.WriteString(" Nếu bạn cho mình thêm ")
		if m.height == 0 {
			b.WriteString("chiều cao")
		} else {
			b.WriteString("cân nặng")
		}
		b.WriteString(", mình sẽ tư vấn chính xác hơn.")
	}
	return b.String()
}
