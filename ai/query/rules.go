package query

import (
	"regexp"
	"strings"
)

// RuleKind tags a rewrite rule with the strategy it belongs to.
type RuleKind string

const (
	KindPronoun  RuleKind = "pronoun_reference"
	KindPartial  RuleKind = "partial_query"
	KindFollowUp RuleKind = "followup_action"
)

// Follow-up actions.
const (
	ActionAddToCart   = "add_to_cart"
	ActionCompare     = "compare"
	ActionShowSimilar = "show_similar"
)

// Rule is one entry of the ordered rewrite table.
//
// Pronoun rules substitute the anchor product for every match of Pattern.
// Partial rules replace the whole query with Template, where {product} is the
// anchor name and {size} the captured size token. Follow-up rules only tag
// the query with Action.
type Rule struct {
	Pattern      *regexp.Regexp
	Kind         RuleKind
	Name         string
	Template     string
	Action       string
	NeedsProduct bool
	Extract      func(match []string) map[string]string
}

// pronouns are the Vietnamese demonstrative phrases resolved to the anchor
// product. Longer phrases come first so they win the alternation.
var pronouns = []string{
	"sản phẩm này", "sản phẩm đó", "sản phẩm kia",
	"cái này", "cái đó", "cái kia", "cái ấy",
	"mẫu này", "mẫu đó", "mẫu kia",
	"món này", "món đó",
	"chiếc này", "chiếc đó",
	"bộ này", "bộ đó",
	"em này", "em đó",
	"nó",
}

// boundary brackets a phrase with non-letter context, since RE2 word
// boundaries are ASCII-only.
func boundary(alternatives string) string {
	return `(?i)(^|[^\p{L}\p{N}])(` + alternatives + `)($|[^\p{L}\p{N}])`
}

func captureSize(m []string) map[string]string {
	return map[string]string{"size": strings.ToUpper(m[len(m)-1])}
}

// defaultRules is evaluated in order; the first applicable rule wins.
var defaultRules = []Rule{
	{
		Name:         "demonstrative",
		Kind:         KindPronoun,
		Pattern:      regexp.MustCompile(boundary(strings.Join(pronouns, "|"))),
		NeedsProduct: true,
	},

	{
		Name:         "size_available",
		Kind:         KindPartial,
		Pattern:      regexp.MustCompile(`(?i)^(?:còn\s+)?(?:size|cỡ)\s+(xxl|xl|xs|s|m|l|[2-4][0-9])(?:\s+(?:không|ko|k|hông))?\s*\??$`),
		Template:     "{product} còn size {size} không",
		NeedsProduct: true,
		Extract:      captureSize,
	},
	{
		Name:         "size_options",
		Kind:         KindPartial,
		Pattern:      regexp.MustCompile(`(?i)^(?:có\s+)?(?:size|cỡ)\s*(?:gì|nào|bao nhiêu)(?:\s+(?:vậy|thế|ạ))?\s*\??$`),
		Template:     "{product} có những size nào",
		NeedsProduct: true,
	},
	{
		Name:         "color_options",
		Kind:         KindPartial,
		Pattern:      regexp.MustCompile(`(?i)^(?:có\s+|còn\s+)?(?:màu|color)\s*(?:gì|nào|khác)?(?:\s+(?:không|ko|vậy|thế|ạ))?\s*\??$`),
		Template:     "{product} có màu gì",
		NeedsProduct: true,
	},
	{
		Name:         "price",
		Kind:         KindPartial,
		Pattern:      regexp.MustCompile(`(?i)^(?:giá|bao nhiêu tiền|giá bao nhiêu|nhiêu tiền|bao tiền)(?:\s+(?:vậy|thế|ạ|bao nhiêu))?\s*\??$`),
		Template:     "giá của {product} là bao nhiêu",
		NeedsProduct: true,
	},
	{
		Name:         "stock",
		Kind:         KindPartial,
		Pattern:      regexp.MustCompile(`(?i)^(?:còn hàng|còn không|còn ko|hết hàng chưa|có sẵn không)(?:\s+(?:không|ko|vậy|ạ))?\s*\??$`),
		Template:     "{product} còn hàng không",
		NeedsProduct: true,
	},
	{
		Name:         "material",
		Kind:         KindPartial,
		Pattern:      regexp.MustCompile(`(?i)^(?:chất liệu|vải|chất)\s*(?:gì|là gì|thế nào|ra sao)?(?:\s+(?:vậy|ạ))?\s*\??$`),
		Template:     "{product} làm từ chất liệu gì",
		NeedsProduct: true,
	},

	{
		Name:         "add_to_cart",
		Kind:         KindFollowUp,
		Pattern:      regexp.MustCompile(boundary(`thêm vào giỏ|cho vào giỏ|bỏ vào giỏ|bỏ giỏ|đặt mua|mua luôn|mua ngay|lấy luôn`)),
		Action:       ActionAddToCart,
		NeedsProduct: true,
	},
	{
		Name:         "buy",
		Kind:         KindFollowUp,
		Pattern:      regexp.MustCompile(`(?i)^mua(?:\s|$)`),
		Action:       ActionAddToCart,
		NeedsProduct: true,
	},
	{
		Name:         "compare",
		Kind:         KindFollowUp,
		Pattern:      regexp.MustCompile(boundary(`so sánh|khác gì|cái nào tốt hơn`)),
		Action:       ActionCompare,
		NeedsProduct: true,
	},
	{
		Name:         "show_similar",
		Kind:         KindFollowUp,
		Pattern:      regexp.MustCompile(boundary(`xem thêm|mẫu khác|mẫu tương tự|tương tự|cái khác`)),
		Action:       ActionShowSimilar,
		NeedsProduct: true,
	},
}

// DefaultRules returns a copy of the built-in rule table.
func DefaultRules() []Rule {
	return append([]Rule(nil), defaultRules...)
}
