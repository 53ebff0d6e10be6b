package chatsync

import "unicode"

// runeWidth is how many ASCII letters or digits one token covers on average.
const runeWidth = 4

// EstimateTokens approximates the model token count of text. Words of ASCII
// letters and digits cost one token per four characters, rounded up.
// Punctuation and symbols cost one token each. Any other rune, such as CJK
// or emoji, is a token of its own. Whitespace is free.
func EstimateTokens(text string) int {
	tokens, word := 0, 0
	flush := func() {
		tokens += (word + runeWidth - 1) / runeWidth
		word = 0
	}
	for _, r := range text {
		switch {
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)):
			word++
		case unicode.IsSpace(r):
			flush()
		default:
			flush()
			tokens++
		}
	}
	flush()
	return tokens
}

// Tokens returns the token cost of m: the count recorded when it was created,
// or an estimate for messages stored without one.
func (m ChatMessage) Tokens() int {
	if m.TokenCount > 0 {
		return m.TokenCount
	}
	return EstimateTokens(m.Text)
}
