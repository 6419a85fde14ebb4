package normalizer

import (
	"strings"
	"unicode"
)

// minFragmentLen is the shortest subword fragment the segmenter will accept.
// Single letters match almost any embedding vocabulary and drown the signal.
const minFragmentLen = 2

// Tokenize splits normalized text into word tokens. Letters and digits form
// tokens; everything else separates them, so "non-small-cell" yields three
// tokens and "IL-2" yields "il" and "2" after NormalizeText.
func Tokenize(text string) []string {
	return strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
}

// segmentLongest decomposes a token into known fragments by greedy
// longest-match from left to right. known reports whether a fragment exists
// in the embedding vocabulary. Runes that start no fragment of length >=
// minFragmentLen are skipped one at a time, so the result is deterministic
// for a fixed vocabulary. Returns nil when nothing matched.
func segmentLongest(token string, known func(string) bool) []string {
	runes := []rune(token)
	var frags []string
	for i := 0; i < len(runes); {
		matched := 0
		for end := len(runes); end-i >= minFragmentLen; end-- {
			if known(string(runes[i:end])) {
				matched = end - i
				break
			}
		}
		if matched == 0 {
			i++
			continue
		}
		frags = append(frags, string(runes[i:i+matched]))
		i += matched
	}
	return frags
}
