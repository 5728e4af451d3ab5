package analytics

import (
	"strings"
	"unicode"
)

// Tokenize splits message text into lowercase word tokens. Words are
// maximal runs of letters and digits; everything else (whitespace,
// punctuation, symbols) separates tokens. An empty token list is legal.
func Tokenize(text string) []string {
	if text == "" {
		return nil
	}

	lowered := strings.ToLower(text)
	return strings.FieldsFunc(lowered, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// uniqueTokens returns the distinct tokens in first-seen order.
func uniqueTokens(tokens []string) []string {
	if len(tokens) < 2 {
		return tokens
	}

	seen := make(map[string]struct{}, len(tokens))
	unique := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		if _, dup := seen[tok]; dup {
			continue
		}
		seen[tok] = struct{}{}
		unique = append(unique, tok)
	}
	return unique
}
