// Package tokens estimates encoder token counts and trims text to fit a
// model's input window.
package tokens

import (
	"strings"
	"unicode/utf8"
)

// charsPerToken is the usual ~4 characters per token for English text.
const charsPerToken = 4

// EstimateTokens provides a rough token count estimate for text.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	return (len(text) + charsPerToken - 1) / charsPerToken
}

// Truncate shortens text so that EstimateTokens(result) <= maxTokens. It cuts
// on a UTF-8 boundary and backs up to the last space when one is close, so
// words are not split. maxTokens <= 0 disables truncation.
func Truncate(text string, maxTokens int) (string, bool) {
	if maxTokens <= 0 || EstimateTokens(text) <= maxTokens {
		return text, false
	}
	limit := maxTokens * charsPerToken
	for limit > 0 && !utf8.RuneStart(text[limit]) {
		limit--
	}
	cut := text[:limit]
	if i := strings.LastIndexByte(cut, ' '); i > limit*3/4 {
		cut = cut[:i]
	}
	return strings.TrimRight(cut, " "), true
}
