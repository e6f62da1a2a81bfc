package routing

import (
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/hrygo/stylebot/ai/internal/strutil"
)

// truncate truncates a string to maxLen characters (Unicode-safe).
func truncate(s string, maxLen int) string {
	return strutil.Truncate(s, maxLen)
}

// containsAny checks if s contains any of the patterns.
func containsAny(s string, patterns []string) bool {
	for _, p := range patterns {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}

// countAny counts how many patterns occur in s.
func countAny(s string, patterns []string) int {
	n := 0
	for _, p := range patterns {
		if strings.Contains(s, p) {
			n++
		}
	}
	return n
}

// normalizeInput composes Vietnamese diacritics (NFC), lowercases and
// collapses whitespace.
func normalizeInput(input string) string {
	return strings.Join(strings.Fields(strings.ToLower(norm.NFC.String(input))), " ")
}
