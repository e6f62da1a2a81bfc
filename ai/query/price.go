package query

import (
	"math"
	"regexp"
	"strconv"
	"strings"
)

var pricePattern = regexp.MustCompile(`^(\d+(?:[.,]\d+)*)\s*(k|nghìn|ngàn|ng|tr|triệu|củ|m|đ|d|vnd|vnđ)?\s*(\d{1,3})?$`)

// ParsePrice normalises a Vietnamese price expression to đồng.
// "500k" is 500000, "1tr" and "1 triệu" are 1000000, "1tr5" is 1500000 and
// "450.000đ" is 450000.
func ParsePrice(s string) (float64, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.TrimSuffix(s, ".")
	m := pricePattern.FindStringSubmatch(s)
	if m == nil {
		return 0, false
	}
	number, unit, tail := m[1], m[2], m[3]

	var multiplier float64 = 1
	switch unit {
	case "k", "nghìn", "ngàn", "ng":
		multiplier = 1_000
	case "tr", "triệu", "củ", "m":
		multiplier = 1_000_000
	}

	value, ok := parseNumber(number, multiplier > 1)
	if !ok {
		return 0, false
	}

	// "1tr5" means 1.5 million; "2k5" means 2500.
	if tail != "" {
		if multiplier == 1 {
			return 0, false
		}
		frac, _ := strconv.ParseFloat("0."+tail, 64)
		value += frac
	}
	return math.Round(value * multiplier), true
}

// parseNumber accepts "450.000", "450,000" and, when a unit follows, decimal
// fractions like "1.5" or "1,5".
func parseNumber(s string, decimal bool) (float64, bool) {
	if decimal && strings.Count(s, ".")+strings.Count(s, ",") == 1 {
		parts := strings.FieldsFunc(s, func(r rune) bool { return r == '.' || r == ',' })
		if len(parts) == 2 && len(parts[1]) != 3 {
			v, err := strconv.ParseFloat(parts[0]+"."+parts[1], 64)
			return v, err == nil
		}
	}
	v, err := strconv.ParseFloat(strings.NewReplacer(".", "", ",", "").Replace(s), 64)
	return v, err == nil
}

// priceValue converts a decoded JSON value to đồng.
func priceValue(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, t >= 0
	case string:
		return ParsePrice(t)
	}
	return 0, false
}
