package ranking

import (
	"encoding/json"
	"math"
	"slices"
	"sort"
	"strings"
)

// Boost types.
const (
	BoostStyle  = "style"
	BoostSize   = "size"
	BoostBudget = "budget"
	BoostColor  = "color"
	BoostBrand  = "brand"
)

// Boost values.
const (
	styleBoost         = 0.30
	sizeBoost          = 0.15
	budgetPerfectBoost = 0.25
	budgetPartialBoost = 0.15
	colorBoost         = 0.20
	brandBoost         = 0.20
)

// DefaultBoostMax caps the cumulative score.
const DefaultBoostMax = 1.5

const baseScore = 1.0

// BudgetRange is an inclusive price range in đồng.
type BudgetRange struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// Preferences are the shopper signals used for boosting.
type Preferences struct {
	SizeHistory    map[string]string `json:"size_history,omitempty"`
	BudgetRange    *BudgetRange      `json:"budget_range,omitempty"`
	StyleProfile   []string          `json:"style_profile,omitempty"`
	FavoriteColors []string          `json:"favorite_colors,omitempty"`
	FavoriteBrands []string          `json:"favorite_brands,omitempty"`
}

// UserProfile is a shopper's personalization profile.
type UserProfile struct {
	UserID      string      `json:"user_id"`
	Preferences Preferences `json:"preferences"`
}

// Boost records one applied adjustment.
type Boost struct {
	Type   string  `json:"type"`
	Reason string  `json:"reason,omitempty"`
	Value  float64 `json:"value"`
}

// ScoredProduct is a product with its personalized score.
type ScoredProduct struct {
	Product           Product `json:"product"`
	Boosts            []Boost `json:"boosts"`
	PersonalizedScore float64 `json:"personalized_score"`
}

// Config configures the ranker.
type Config struct {
	Enabled  bool
	BoostMax float64
}

// Ranker applies personalized boosts.
type Ranker struct {
	enabled  bool
	boostMax float64
}

// NewRanker creates a ranker. A cap below the base score uses DefaultBoostMax.
func NewRanker(cfg Config) *Ranker {
	boostMax := cfg.BoostMax
	if boostMax < baseScore {
		boostMax = DefaultBoostMax
	}
	return &Ranker{enabled: cfg.Enabled, boostMax: boostMax}
}

// Enabled reports whether boosts are applied.
func (r *Ranker) Enabled() bool {
	return r.enabled
}

// Apply scores products and sorts them by score, descending. Ties keep
// their input order. A disabled ranker or a nil profile gives every
// product the neutral score.
func (r *Ranker) Apply(products []Product, profile *UserProfile) []ScoredProduct {
	scored := make([]ScoredProduct, 0, len(products))
	for _, p := range products {
		if !r.enabled || profile == nil {
			scored = append(scored, ScoredProduct{Product: p, PersonalizedScore: baseScore, Boosts: []Boost{}})
			continue
		}
		scored = append(scored, r.score(p, &profile.Preferences))
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].PersonalizedScore > scored[j].PersonalizedScore
	})
	return scored
}

func (r *Ranker) score(p Product, prefs *Preferences) ScoredProduct {
	boosts := []Boost{}

	if p.Style != "" && containsFold(prefs.StyleProfile, p.Style) {
		boosts = append(boosts, Boost{Type: BoostStyle, Value: styleBoost, Reason: "phong cách " + p.Style})
	}

	if want := prefs.SizeHistory[p.Category]; want != "" && containsFold(p.Sizes(), want) {
		boosts = append(boosts, Boost{Type: BoostSize, Value: sizeBoost, Reason: "có size " + want})
	}

	if b, ok := budgetBoost(p.Prices(), prefs.BudgetRange); ok {
		boosts = append(boosts, b)
	}

	for _, c := range p.Colors() {
		if containsFold(prefs.FavoriteColors, c) {
			boosts = append(boosts, Boost{Type: BoostColor, Value: colorBoost, Reason: "màu " + c})
			break
		}
	}

	if p.Brand.Name != "" && containsFold(prefs.FavoriteBrands, p.Brand.Name) {
		boosts = append(boosts, Boost{Type: BoostBrand, Value: brandBoost, Reason: "thương hiệu " + p.Brand.Name})
	}

	total := baseScore
	for _, b := range boosts {
		total += b.Value
	}
	return ScoredProduct{
		Product:           p,
		Boosts:            boosts,
		PersonalizedScore: math.Min(round4(total), r.boostMax),
	}
}

func budgetBoost(prices []float64, budget *BudgetRange) (Boost, bool) {
	if budget == nil || len(prices) == 0 {
		return Boost{}, false
	}
	upper := budget.Max
	if upper <= 0 {
		upper = math.Inf(1)
	}

	within := 0
	for _, p := range prices {
		if p >= budget.Min && p <= upper {
			within++
		}
	}
	switch {
	case within == len(prices):
		return Boost{Type: BoostBudget, Value: budgetPerfectBoost, Reason: "vừa ngân sách"}, true
	case within > 0:
		return Boost{Type: BoostBudget, Value: budgetPartialBoost, Reason: "một phần trong ngân sách"}, true
	}
	return Boost{}, false
}

func containsFold(list []string, s string) bool {
	s = strings.TrimSpace(s)
	return slices.ContainsFunc(list, func(v string) bool {
		return strings.EqualFold(strings.TrimSpace(v), s)
	})
}

func round4(v float64) float64 {
	return math.Round(v*1e4) / 1e4
}

// Insights summarises a ranking.
type Insights struct {
	BoostDistribution       map[string]int `json:"boost_distribution"`
	TotalProducts           int            `json:"total_products"`
	PersonalizedProducts    int            `json:"personalized_products"`
	AvgPersonalizationScore float64        `json:"avg_personalization_score"`
}

// MarshalJSON writes a NaN average as null.
func (in Insights) MarshalJSON() ([]byte, error) {
	type alias Insights
	out := struct {
		alias
		AvgPersonalizationScore *float64 `json:"avg_personalization_score"`
	}{alias: alias(in)}
	if !math.IsNaN(in.AvgPersonalizationScore) {
		out.AvgPersonalizationScore = &in.AvgPersonalizationScore
	}
	return json.Marshal(out)
}

// ExtractInsights counts personalized products and boost types. The average
// of an empty ranking is NaN.
func ExtractInsights(scored []ScoredProduct) Insights {
	in := Insights{
		TotalProducts:           len(scored),
		BoostDistribution:       map[string]int{},
		AvgPersonalizationScore: math.NaN(),
	}
	if len(scored) == 0 {
		return in
	}

	sum := 0.0
	for _, s := range scored {
		sum += s.PersonalizedScore
		if s.PersonalizedScore > baseScore {
			in.PersonalizedProducts++
		}
		for _, b := range s.Boosts {
			in.BoostDistribution[b.Type]++
		}
	}
	in.AvgPersonalizationScore = sum / float64(len(scored))
	return in
}
