package tokenizer

import (
	"strings"
	"unicode/utf8"
)

// CountTokens estimates the token count of text as the larger of a
// word-based guess (~4/3 tokens per word) and a character-based guess
// (~4 chars per token). Text without spaces, such as tables or CJK,
// defeats the word guess alone.
func CountTokens(text string) int {
	if strings.TrimSpace(text) == "" {
		return 0
	}
	byWords := len(strings.Fields(text)) * 4 / 3
	byChars := (utf8.RuneCountInString(text) + 3) / 4
	return max(byWords, byChars, 1)
}
