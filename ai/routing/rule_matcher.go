package routing

import (
	"regexp"
	"strconv"
	"strings"
)

// maxRuleConfidence caps keyword-based classifications.
const maxRuleConfidence = 0.6

// keywordRule maps trigger phrases to an intent. Rules are evaluated in
// order and the first rule with a hit wins.
type keywordRule struct {
	intent   Intent
	keywords []string
}

var keywordRules = []keywordRule{
	{IntentOrderLookup, []string{"đơn hàng", "mã đơn", "kiểm tra đơn", "tra đơn", "đơn của", "vận đơn", "giao tới đâu", "giao đến đâu", "đã giao chưa", "tracking"}},
	{IntentAddToCart, []string{"thêm vào giỏ", "cho vào giỏ", "bỏ vào giỏ", "bỏ giỏ", "add to cart", "đặt mua", "mua ngay", "chốt đơn", "lấy cho mình"}},
	{IntentPolicyFAQ, []string{"đổi trả", "đổi hàng", "trả hàng", "hoàn tiền", "bảo hành", "chính sách", "phí ship", "phí vận chuyển", "freeship", "miễn phí vận chuyển", "thanh toán", "cod", "giao hàng mất", "bao lâu thì nhận"}},
	{IntentSizeRecommendation, []string{"size nào", "size gì", "chọn size", "tư vấn size", "mặc size", "mặc vừa", "vừa không", "cỡ nào", "số đo", "vòng eo", "vòng ngực", "bảng size"}},
	{IntentStyleMatching, []string{"phối", "mix", "kết hợp", "đi với", "mặc với", "hợp với", "outfit", "set đồ", "phong cách"}},
	{IntentProductAdvice, []string{"áo", "quần", "váy", "đầm", "giày", "dép", "túi", "mũ", "nón", "khoác", "hoodie", "sơ mi", "jean", "tư vấn", "tìm", "mẫu", "giá", "còn hàng", "có bán", "sản phẩm"}},
}

var (
	heightPattern  = regexp.MustCompile(`(\d)\s*m\s*(\d{1,2})\b|\b(1[0-9]{2})\s*cm\b|\b(1[.,]\d{1,2})\s*m\b|\bcao\s*(1[0-9]{2}|1[.,]\d{1,2})\b`)
	weightPattern  = regexp.MustCompile(`\b(\d{2,3})\s*(?:kg|kí|ký|ki)(?:[^\p{L}]|$)|\bnặng\s*(\d{2,3})\b`)
	sizePattern    = regexp.MustCompile(`(?:size|cỡ)\s*(xxl|xl|xs|s|m|l|2xl|3xl|[2-4][0-9])(?:[\s,.?!]|$)`)
	orderIDPattern = regexp.MustCompile(`(?i)(?:^|[^\p{L}\d])((?:dh|đh|od)[-_]?\d{4,})\b|#(\d{4,})\b`)
	budgetPattern  = regexp.MustCompile(`\b(\d+(?:[.,]\d+)?)\s*(k|nghìn|ngàn|tr|triệu|đ|vnd)(?:[^\p{L}]|$)`)
)

var knownColors = []string{"trắng", "đen", "đỏ", "xanh dương", "xanh lá", "xanh navy", "xanh", "vàng", "hồng", "tím", "nâu", "be", "kem", "xám", "ghi", "cam", "bạc"}

var knownProductTypes = []string{"áo khoác", "áo sơ mi", "áo thun", "áo len", "áo polo", "hoodie", "áo", "quần jean", "quần tây", "quần short", "quần", "chân váy", "váy", "đầm", "giày", "dép", "túi", "mũ", "nón", "thắt lưng"}

var knownStyles = []string{"công sở", "thanh lịch", "năng động", "đường phố", "streetwear", "vintage", "tối giản", "minimalist", "thể thao", "dự tiệc", "cá tính", "nữ tính", "basic"}

// RuleMatcher is the deterministic keyword classifier used when the model
// call fails or returns an unusable result.
type RuleMatcher struct{}

// NewRuleMatcher creates a new rule matcher.
func NewRuleMatcher() *RuleMatcher {
	return &RuleMatcher{}
}

// Match classifies input by keyword rules. Confidence never exceeds
// maxRuleConfidence.
func (m *RuleMatcher) Match(input string) *Result {
	lower := normalizeInput(input)
	info := ExtractSlots(input)

	intent := IntentGeneral
	hits := 0
	for _, rule := range keywordRules {
		if n := countAny(lower, rule.keywords); n > 0 {
			intent, hits = rule.intent, n
			break
		}
	}

	// Body measurements without other cues mean the shopper wants a size.
	if intent == IntentGeneral || intent == IntentProductAdvice {
		if _, ok := info[SlotHeight]; ok {
			intent, hits = IntentSizeRecommendation, 1
		} else if _, ok := info[SlotWeight]; ok {
			intent, hits = IntentSizeRecommendation, 1
		}
	}

	return &Result{
		Intent:        intent,
		Confidence:    ruleConfidence(intent, hits),
		ExtractedInfo: info,
		Source:        SourceRule,
	}
}

func ruleConfidence(intent Intent, hits int) float64 {
	if intent == IntentGeneral {
		return 0.3
	}
	c := 0.45 + 0.05*float64(hits)
	if c > maxRuleConfidence {
		c = maxRuleConfidence
	}
	return c
}

// ExtractSlots pulls slots that are literally present in the message.
// Measurements are normalised to centimetres and kilograms.
func ExtractSlots(input string) map[string]any {
	lower := normalizeInput(input)
	info := map[string]any{}

	if h, ok := parseHeight(lower); ok {
		info[SlotHeight] = h
	}
	if m := weightPattern.FindStringSubmatch(lower); m != nil {
		raw := m[1]
		if raw == "" {
			raw = m[2]
		}
		if w, err := strconv.Atoi(raw); err == nil {
			info[SlotWeight] = w
		}
	}
	if m := sizePattern.FindStringSubmatch(lower); m != nil {
		info[SlotSize] = strings.ToUpper(m[1])
	}
	if m := orderIDPattern.FindStringSubmatch(input); m != nil {
		id := m[1]
		if id == "" {
			id = m[2]
		}
		info[SlotOrderID] = strings.ToUpper(id)
	}
	if m := budgetPattern.FindStringSubmatch(lower); m != nil {
		info[SlotBudget] = m[1] + m[2]
	}
	if c := firstContained(lower, knownColors); c != "" {
		info[SlotColor] = c
	}
	if p := firstContained(lower, knownProductTypes); p != "" {
		info[SlotProductType] = p
	}
	if s := firstContained(lower, knownStyles); s != "" {
		info[SlotStyle] = s
	}
	return info
}

// parseHeight understands "1m65", "165cm", "1.65m", "cao 165" and "cao 1.65".
func parseHeight(lower string) (int, bool) {
	m := heightPattern.FindStringSubmatch(lower)
	if m == nil {
		return 0, false
	}
	switch {
	case m[1] != "":
		meters, _ := strconv.Atoi(m[1])
		rest := m[2]
		if len(rest) == 1 {
			rest += "0"
		}
		cm, _ := strconv.Atoi(rest)
		return meters*100 + cm, true
	case m[3] != "":
		cm, _ := strconv.Atoi(m[3])
		return cm, true
	default:
		v := m[4]
		if v == "" {
			v = m[5]
		}
		v = strings.Replace(v, ",", ".", 1)
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, false
		}
		if f < 3 {
			f *= 100
		}
		return int(f + 0.5), true
	}
}

func firstContained(s string, candidates []string) string {
	for _, c := range candidates {
		if containsWord(s, c) {
			return c
		}
	}
	return ""
}

// containsWord matches whole words so "be" does not match "bé".
func containsWord(s, word string) bool {
	for idx := 0; ; {
		i := strings.Index(s[idx:], word)
		if i < 0 {
			return false
		}
		start := idx + i
		end := start + len(word)
		if (start == 0 || s[start-1] == ' ') && (end == len(s) || s[end] == ' ' || s[end] == ',' || s[end] == '?' || s[end] == '.') {
			return true
		}
		idx = start + 1
	}
}
