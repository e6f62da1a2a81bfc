// Package ranking rescales retrieved products with a shopper's preference
// profile.
package ranking

import (
	"bytes"
	"encoding/json"
	"strings"

	"github.com/pkg/errors"

	"github.com/hrygo/stylebot/ai/internal/strutil"
)

// Brand is a product brand. Catalog metadata carries it either as a plain
// string or as an object with a name.
type Brand struct {
	Name string
}

// UnmarshalJSON accepts "Uniqlo", {"name":"Uniqlo"} and null.
func (b *Brand) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		b.Name = ""
		return nil
	}
	if data[0] == '"' {
		return json.Unmarshal(data, &b.Name)
	}
	var obj struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return errors.Wrap(err, "brand must be a string or an object with a name")
	}
	b.Name = obj.Name
	return nil
}

// MarshalJSON writes the brand as a plain string.
func (b Brand) MarshalJSON() ([]byte, error) {
	return json.Marshal(b.Name)
}

// Variant is one purchasable size/color combination.
type Variant struct {
	SKU   string  `json:"sku,omitempty"`
	Size  string  `json:"size,omitempty"`
	Color string  `json:"color,omitempty"`
	Price float64 `json:"price,omitempty"`
	Stock int     `json:"stock,omitempty"`
}

// SizeRange maps body measurements to a size. Zero bounds are open.
type SizeRange struct {
	Size      string `json:"size"`
	HeightMin int    `json:"height_min,omitempty"`
	HeightMax int    `json:"height_max,omitempty"`
	WeightMin int    `json:"weight_min,omitempty"`
	WeightMax int    `json:"weight_max,omitempty"`
}

// Product is the catalog view carried in vector metadata.
type Product struct {
	Brand       Brand       `json:"brand"`
	ID          string      `json:"id"`
	Name        string      `json:"name"`
	Category    string      `json:"category,omitempty"`
	Style       string      `json:"style,omitempty"`
	Description string      `json:"description,omitempty"`
	Material    string      `json:"material,omitempty"`
	ImageURL    string      `json:"image_url,omitempty"`
	Variants    []Variant   `json:"variants,omitempty"`
	SizeChart   []SizeRange `json:"size_chart,omitempty"`
	Price       float64     `json:"price,omitempty"`
	Score       float32     `json:"score,omitempty"`
}

// ProductFromMetadata decodes vector metadata into a Product. The id and
// retrieval score come from the match itself.
func ProductFromMetadata(id string, score float32, metadata map[string]any) (Product, error) {
	var p Product
	if len(metadata) > 0 {
		b, err := json.Marshal(metadata)
		if err != nil {
			return Product{}, errors.Wrap(err, "failed to marshal product metadata")
		}
		if err := json.Unmarshal(b, &p); err != nil {
			return Product{}, errors.Wrapf(err, "failed to decode product %s", id)
		}
	}
	p.ID = id
	p.Score = score
	return p, nil
}

// Document is the product text that gets embedded and reranked.
func (p *Product) Document() string {
	parts := []string{p.Name}
	for _, s := range []string{p.Category, p.Style, p.Brand.Name, p.Material, p.Description} {
		if s != "" {
			parts = append(parts, s)
		}
	}
	return strutil.Truncate(strings.Join(parts, ". "), 500)
}

// Prices returns the variant prices, or the product price when there are
// no priced variants.
func (p *Product) Prices() []float64 {
	prices := make([]float64, 0, len(p.Variants))
	for _, v := range p.Variants {
		if v.Price > 0 {
			prices = append(prices, v.Price)
		}
	}
	if len(prices) == 0 && p.Price > 0 {
		prices = append(prices, p.Price)
	}
	return prices
}

// MinPrice returns the lowest known price, or 0.
func (p *Product) MinPrice() float64 {
	prices := p.Prices()
	if len(prices) == 0 {
		return 0
	}
	lowest := prices[0]
	for _, v := range prices[1:] {
		lowest = min(lowest, v)
	}
	return lowest
}

// Sizes returns the distinct variant sizes in catalog order.
func (p *Product) Sizes() []string {
	return p.distinct(func(v Variant) string { return v.Size })
}

// Colors returns the distinct variant colors in catalog order.
func (p *Product) Colors() []string {
	return p.distinct(func(v Variant) string { return v.Color })
}

// InStock reports whether any variant has stock. Products without variants
// are assumed available.
func (p *Product) InStock() bool {
	if len(p.Variants) == 0 {
		return true
	}
	for _, v := range p.Variants {
		if v.Stock > 0 {
			return true
		}
	}
	return false
}

func (p *Product) distinct(field func(Variant) string) []string {
	seen := map[string]bool{}
	var out []string
	for _, v := range p.Variants {
		f := strings.TrimSpace(field(v))
		if f == "" || seen[strings.ToLower(f)] {
			continue
		}
		seen[strings.ToLower(f)] = true
		out = append(out, f)
	}
	return out
}
