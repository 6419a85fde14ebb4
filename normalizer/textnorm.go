package normalizer

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// NormalizeText performs Unicode NFKC normalization, lower-cases and trims
// the input. Mentions and vocabulary labels go through the same function so
// that identical surface forms always compare equal.
func NormalizeText(text string) string {
	normed := norm.NFKC.String(text)
	normed = strings.ToLower(strings.TrimSpace(normed))
	// Collapse internal control characters except newlines and tabs.
	normed = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return r
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, normed)
	return normed
}

// NormalizeAll normalizes a slice of strings.
func NormalizeAll(texts []string) []string {
	out := make([]string, len(texts))
	for i, t := range texts {
		out[i] = NormalizeText(t)
	}
	return out
}
