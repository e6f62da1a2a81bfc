package rag

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hrygo/stylebot/ai/conversation"
	"github.com/hrygo/stylebot/ai/ranking"
	"github.com/hrygo/stylebot/ai/routing"
	"github.com/hrygo/stylebot/ai/vector"
)

func TestRecommendSize_DefaultChart(t *testing.T) {
	tests := []struct {
		name   string
		height int
		weight int
		want   string
	}{
		{"both in M", 165, 55, "M"},
		{"weight pushes up", 170, 70, "XL"},
		{"height only", 150, 0, "S"},
		{"weight only above chart", 0, 90, "XXL"},
		{"tall and light", 190, 45, "XXL"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := recommendSize(defaultSizeChart, measurements{height: tt.height, weight: tt.weight})
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRecommendSize_ClosedChart(t *testing.T) {
	chart := []ranking.SizeRange{
		{Size: "29", WeightMin: 50, WeightMax: 57},
		{Size: "30", WeightMin: 57, WeightMax: 63},
		{Size: "31", WeightMin: 63, WeightMax: 70},
	}
	assert.Equal(t, "31", recommendSize(chart, measurements{weight: 85}))
	assert.Equal(t, "29", recommendSize(chart, measurements{weight: 45}))
	// Height is absent from this chart.
	assert.Equal(t, "29", recommendSize(chart, measurements{height: 180}))
}

func TestStatedMeasurements(t *testing.T) {
	recent := []conversation.Message{
		{Role: conversation.RoleUser, Content: "mình cao 1m70"},
		{Role: conversation.RoleAssistant, Content: "Bạn nặng bao nhiêu kg?"},
	}
	m := statedMeasurements("nặng 62kg", nil, recent)
	assert.Equal(t, 170, m.height)
	assert.Equal(t, 62, m.weight)

	m = statedMeasurements("tư vấn size", map[string]any{routing.SlotHeight: float64(158)}, nil)
	assert.Equal(t, 158, m.height)
	assert.Zero(t, m.weight)

	assert.True(t, statedMeasurements("tư vấn size", map[string]any{}, nil).empty())
}

func TestChat_SizeAsksForMeasurements(t *testing.T) {
	h := newHarness(t, intentOf(routing.IntentSizeRecommendation, map[string]any{}), nil)
	h.anchor("u1", &conversation.ProductRef{ID: "p1", Name: "Áo thun basic trắng"})

	resp, err := h.svc.Chat(context.Background(), "u1", "tư vấn size", nil)
	require.NoError(t, err)
	assert.Equal(t, ActionAskMeasures, resp.Action)
	assert.Empty(t, resp.RecommendedSize)
	assert.NotContains(t, resp.ExtractedInfo, routing.SlotHeight)
	assert.NotContains(t, resp.ExtractedInfo, routing.SlotWeight)
	assert.Equal(t, 0, h.vectors.fetches)
}

func TestChat_SizeUsesProductChart(t *testing.T) {
	h := newHarness(t, intentOf(routing.IntentSizeRecommendation, nil), nil)
	jeans := vector.Record{
		ID: "j1",
		Metadata: map[string]any{
			DocTypeKey: DocTypeProduct,
			"name":     "Quần jean slim",
			"variants": []any{
				map[string]any{"size": "29", "stock": 3},
				map[string]any{"size": "30", "stock": 3},
			},
			"size_chart": []any{
				map[string]any{"size": "29", "weight_min": 50, "weight_max": 57},
				map[string]any{"size": "30", "weight_min": 57, "weight_max": 63},
				map[string]any{"size": "31", "weight_min": 63, "weight_max": 70},
			},
		},
	}
	h.vectors.docs = append(h.vectors.docs, jeans)
	h.anchor("u1", &conversation.ProductRef{ID: "j1", Name: "Quần jean slim"})

	resp, err := h.svc.Chat(context.Background(), "u1", "mình nặng 65kg mặc size nào", nil)
	require.NoError(t, err)
	assert.Equal(t, "31", resp.RecommendedSize)
	assert.Contains(t, resp.Answer, "Quần jean slim size 31")
	assert.Contains(t, resp.Answer, "29, 30")
	require.NotNil(t, resp.Product)
	assert.Equal(t, "j1", resp.Product.ID)
}

func TestChat_SizeWithoutAnchorUsesDefaultChart(t *testing.T) {
	h := newHarness(t, intentOf(routing.IntentSizeRecommendation, nil), nil)

	resp, err := h.svc.Chat(context.Background(), "u1", "cao 1m65 nặng 55kg thì mặc size gì", nil)
	require.NoError(t, err)
	assert.Equal(t, "M", resp.RecommendedSize)
	assert.Nil(t, resp.Product)
	assert.Equal(t, 0, h.vectors.fetches)
}
