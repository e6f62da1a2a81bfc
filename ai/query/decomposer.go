package query

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/hrygo/stylebot/ai/core/llm"
)

// SubQuery types.
const (
	TypeText        = "text"
	TypeProductType = "product_type"
	TypeColor       = "color"
	TypeSize        = "size"
	TypePrice       = "price"
	TypeBrand       = "brand"
	TypeStyle       = "style"
)

// Price operators. A price filter without an operator is a range.
const (
	OpLTE   = "lte"
	OpGTE   = "gte"
	OpEQ    = "eq"
	OpRange = "range"
)

// Execution strategies.
const (
	StrategySimple         = "simple"
	StrategySequential     = "sequential"
	StrategyParallelFilter = "parallel_filter"
)

var filterTypes = map[string]bool{
	TypeColor: true,
	TypeSize:  true,
	TypePrice: true,
	TypeBrand: true,
	TypeStyle: true,
}

// SubQuery is one typed component of a decomposed query. Price values are
// in đồng.
type SubQuery struct {
	Min      *float64 `json:"min,omitempty"`
	Max      *float64 `json:"max,omitempty"`
	Type     string   `json:"type"`
	Value    string   `json:"value,omitempty"`
	Operator string   `json:"operator,omitempty"`
	Price    float64  `json:"price,omitempty"`
}

// DecomposedQuery is the outcome of Decompose.
type DecomposedQuery struct {
	SubQueries        []SubQuery `json:"sub_queries"`
	ExecutionStrategy string     `json:"execution_strategy"`
	IsMultiIntent     bool       `json:"is_multi_intent"`
}

// Decomposer splits compound queries with the LLM. It never fails: any
// problem yields the single text sub-query.
type Decomposer struct {
	llm     llm.Service
	enabled bool
	timeout time.Duration
}

// NewDecomposer creates a decomposer. A nil service disables decomposition.
func NewDecomposer(service llm.Service, enabled bool) *Decomposer {
	return &Decomposer{
		llm:     service,
		enabled: enabled && service != nil,
		timeout: 10 * time.Second,
	}
}

// Enabled reports whether queries are sent to the model.
func (d *Decomposer) Enabled() bool {
	return d.enabled
}

// Simple returns the trivial decomposition of query.
func Simple(query string) *DecomposedQuery {
	return &DecomposedQuery{
		SubQueries:        []SubQuery{{Type: TypeText, Value: query}},
		ExecutionStrategy: StrategySimple,
	}
}

const decomposeSystemPrompt = `Bạn tách câu hỏi mua sắm thời trang thành loại sản phẩm và các bộ lọc.
Trả về product_type (chuỗi rỗng nếu không có) và filters.
Mỗi filter có type thuộc: color, size, price, brand, style.
Với price: value là số tiền khách nói (ví dụ "500k", "1tr"), operator là lte (dưới, tối đa), gte (trên, từ), eq, hoặc range kèm min và max.
Chỉ trích xuất thông tin khách nói rõ.`

var decomposeSchema = &llm.ResponseSchema{
	Name: "query_decomposition",
	Schema: &llm.JSONSchema{
		Type: "object",
		Properties: map[string]*llm.JSONSchema{
			"product_type": {Type: "string"},
			"filters": {
				Type: "array",
				Items: &llm.JSONSchema{
					Type: "object",
					Properties: map[string]*llm.JSONSchema{
						"type":     {Type: "string", Enum: []string{TypeColor, TypeSize, TypePrice, TypeBrand, TypeStyle}},
						"value":    {Type: "string"},
						"operator": {Type: "string", Enum: []string{OpLTE, OpGTE, OpEQ, OpRange}},
						"min":      {Type: "string"},
						"max":      {Type: "string"},
					},
					Required: []string{"type", "value"},
				},
			},
		},
		Required: []string{"product_type", "filters"},
	},
}

type rawFilter struct {
	Value    any    `json:"value"`
	Min      any    `json:"min"`
	Max      any    `json:"max"`
	Type     string `json:"type"`
	Operator string `json:"operator"`
}

type rawDecomposition struct {
	ProductType string      `json:"product_type"`
	Filters     []rawFilter `json:"filters"`
}

// Decompose extracts a product term and filters from query.
func (d *Decomposer) Decompose(ctx context.Context, query string) *DecomposedQuery {
	if !d.enabled || strings.TrimSpace(query) == "" {
		return Simple(query)
	}

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	content, _, err := d.llm.ChatJSON(ctx, []llm.Message{
		llm.SystemPrompt(decomposeSystemPrompt),
		llm.UserMessage(query),
	}, decomposeSchema)
	if err != nil {
		slog.Warn("query decomposition failed, using simple query", "error", err)
		return Simple(query)
	}

	result, err := parseDecomposition(content, query)
	if err != nil {
		slog.Warn("query decomposition rejected, using simple query", "error", err)
		return Simple(query)
	}
	return result
}

func parseDecomposition(content, query string) (*DecomposedQuery, error) {
	var raw rawDecomposition
	if err := json.Unmarshal([]byte(content), &raw); err != nil {
		return nil, fmt.Errorf("parse decomposition: %w", err)
	}

	var subs []SubQuery
	product := strings.TrimSpace(raw.ProductType)
	if product != "" {
		subs = append(subs, SubQuery{Type: TypeProductType, Value: product})
	}

	filters := 0
	for _, f := range raw.Filters {
		if !filterTypes[f.Type] {
			return nil, fmt.Errorf("unknown filter type %q", f.Type)
		}
		sub, ok, err := buildFilter(f)
		if err != nil {
			return nil, err
		}
		if ok {
			subs = append(subs, sub)
			filters++
		}
	}

	if len(subs) == 0 {
		return Simple(query), nil
	}

	out := &DecomposedQuery{SubQueries: subs}
	switch {
	case product != "" && filters > 0:
		out.IsMultiIntent = true
		out.ExecutionStrategy = StrategyParallelFilter
	case filters > 0:
		out.ExecutionStrategy = StrategySequential
	default:
		out.ExecutionStrategy = StrategySimple
	}
	return out, nil
}

func buildFilter(f rawFilter) (SubQuery, bool, error) {
	if f.Type != TypePrice {
		value, _ := f.Value.(string)
		value = strings.TrimSpace(value)
		if value == "" {
			return SubQuery{}, false, nil
		}
		return SubQuery{Type: f.Type, Value: value}, true, nil
	}

	sub := SubQuery{Type: TypePrice, Operator: f.Operator}
	if s, ok := f.Value.(string); ok {
		sub.Value = s
	}
	switch f.Operator {
	case OpLTE, OpGTE, OpEQ:
		p, ok := priceValue(f.Value)
		if !ok {
			return SubQuery{}, false, fmt.Errorf("invalid price %v", f.Value)
		}
		sub.Price = p
	case "", OpRange:
		sub.Operator = ""
		if f.Min != nil && f.Min != "" {
			p, ok := priceValue(f.Min)
			if !ok {
				return SubQuery{}, false, fmt.Errorf("invalid min price %v", f.Min)
			}
			sub.Min = &p
		}
		if f.Max != nil && f.Max != "" {
			p, ok := priceValue(f.Max)
			if !ok {
				return SubQuery{}, false, fmt.Errorf("invalid max price %v", f.Max)
			}
			sub.Max = &p
		}
		if sub.Min == nil && sub.Max == nil {
			return SubQuery{}, false, nil
		}
	default:
		return SubQuery{}, false, fmt.Errorf("unknown price operator %q", f.Operator)
	}
	return sub, true, nil
}

// Filters is the flattened view of a decomposition's filter sub-queries.
type Filters struct {
	Colors   []string `json:"colors,omitempty"`
	Sizes    []string `json:"sizes,omitempty"`
	Brands   []string `json:"brands,omitempty"`
	Styles   []string `json:"styles,omitempty"`
	PriceMin float64  `json:"price_min"`
	PriceMax float64  `json:"-"`
}

// HasPrice reports whether the price range is narrower than [0, +Inf).
func (f Filters) HasPrice() bool {
	return f.PriceMin > 0 || !math.IsInf(f.PriceMax, 1)
}

// Empty reports whether no filter is set.
func (f Filters) Empty() bool {
	return len(f.Colors) == 0 && len(f.Sizes) == 0 && len(f.Brands) == 0 && len(f.Styles) == 0 && !f.HasPrice()
}

// ExtractFilters projects the filter sub-queries. lte and gte set one bound,
// eq sets both, and a range defaults its missing bounds to [0, +Inf).
func ExtractFilters(d *DecomposedQuery) Filters {
	f := Filters{PriceMax: math.Inf(1)}
	if d == nil {
		return f
	}
	for _, s := range d.SubQueries {
		switch s.Type {
		case TypeColor:
			f.Colors = append(f.Colors, s.Value)
		case TypeSize:
			f.Sizes = append(f.Sizes, strings.ToUpper(s.Value))
		case TypeBrand:
			f.Brands = append(f.Brands, s.Value)
		case TypeStyle:
			f.Styles = append(f.Styles, s.Value)
		case TypePrice:
			switch s.Operator {
			case OpLTE:
				f.PriceMax = s.Price
			case OpGTE:
				f.PriceMin = s.Price
			case OpEQ:
				f.PriceMin, f.PriceMax = s.Price, s.Price
			default:
				if s.Min != nil {
					f.PriceMin = *s.Min
				}
				if s.Max != nil {
					f.PriceMax = *s.Max
				}
			}
		}
	}
	return f
}

// ExtractProductType returns the product term, or "".
func ExtractProductType(d *DecomposedQuery) string {
	if d == nil {
		return ""
	}
	for _, s := range d.SubQueries {
		if s.Type == TypeProductType {
			return s.Value
		}
	}
	return ""
}
