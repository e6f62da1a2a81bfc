package rag

import (
	"math"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// formatVND renders an amount in đồng with Vietnamese digit grouping,
// e.g. 1.250.000đ.
func formatVND(amount float64) string {
	p := message.NewPrinter(language.Vietnamese)
	return p.Sprintf("%d", int64(math.Round(amount))) + "đ"
}
