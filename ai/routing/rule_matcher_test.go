package routing

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRuleMatcher_Match(t *testing.T) {
	matcher := NewRuleMatcher()

	tests := []struct {
		name   string
		input  string
		intent Intent
	}{
		{"order lookup", "Kiểm tra đơn hàng DH123456 giúp mình", IntentOrderLookup},
		{"add to cart", "Thêm vào giỏ giúp mình nhé", IntentAddToCart},
		{"policy", "Chính sách đổi trả thế nào?", IntentPolicyFAQ},
		{"size by keyword", "Mình cao 1m65 nặng 55kg mặc size nào", IntentSizeRecommendation},
		{"size by measurements", "mình cao 1m70", IntentSizeRecommendation},
		{"style", "Áo này phối với quần gì đẹp", IntentStyleMatching},
		{"product", "Tìm áo thun trắng dưới 300k", IntentProductAdvice},
		{"general", "Xin chào", IntentGeneral},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := matcher.Match(tt.input)
			assert.Equal(t, tt.intent, r.Intent)
			assert.LessOrEqual(t, r.Confidence, maxRuleConfidence)
			assert.Greater(t, r.Confidence, 0.0)
			assert.Equal(t, SourceRule, r.Source)
		})
	}
}

func TestExtractSlots(t *testing.T) {
	info := ExtractSlots("Mình cao 1m65 nặng 55kg mặc size M được không")
	assert.Equal(t, 165, info[SlotHeight])
	assert.Equal(t, 55, info[SlotWeight])
	assert.Equal(t, "M", info[SlotSize])

	info = ExtractSlots("Tìm áo thun trắng dưới 300k phong cách tối giản")
	assert.Equal(t, "áo thun", info[SlotProductType])
	assert.Equal(t, "trắng", info[SlotColor])
	assert.Equal(t, "300k", info[SlotBudget])
	assert.Equal(t, "tối giản", info[SlotStyle])

	info = ExtractSlots("đơn dh-99887 của mình")
	assert.Equal(t, "DH-99887", info[SlotOrderID])

	info = ExtractSlots("cao 170cm")
	assert.Equal(t, 170, info[SlotHeight])

	info = ExtractSlots("mình 1.65m nặng 55kg")
	assert.Equal(t, 165, info[SlotHeight])
	assert.Equal(t, 55, info[SlotWeight])

	info = ExtractSlots("xin chào")
	assert.Empty(t, info)
}

func TestParseHeight(t *testing.T) {
	tests := []struct {
		input string
		want  int
		ok    bool
	}{
		{"1m6", 160, true},
		{"1m65", 165, true},
		{"158cm", 158, true},
		{"cao 1.72", 172, true},
		{"cao 168", 168, true},
		{"1.65m", 165, true},
		{"cao 1.7m", 170, true},
		{"mình 1,7m nặng 60kg", 170, true},
		{"nặng 50", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, ok := parseHeight(tt.input)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestContainsWord(t *testing.T) {
	assert.True(t, containsWord("màu be nhạt", "be"))
	assert.False(t, containsWord("áo cho bé", "be"))
	assert.True(t, containsWord("áo trắng?", "trắng"))
	assert.False(t, containsWord("xanhdương", "xanh"))
}
