package scoring

import (
	"strings"
	"unicode"
)

// capitalIWithDot lower-cases to "i" followed by U+0307 under full Unicode
// case mapping; the combining dot is not a token character.
const capitalIWithDot = 'İ'

// Tokenize lower-cases text, replaces everything outside [a-z0-9] and
// whitespace with a space, and splits on runs of whitespace.
func Tokenize(text string) []string {
	var b strings.Builder
	b.Grow(len(text))
	for _, r := range text {
		if r == capitalIWithDot {
			b.WriteString("i ")
			continue
		}
		switch r = unicode.ToLower(r); {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', unicode.IsSpace(r):
			b.WriteRune(r)
		default:
			b.WriteByte(' ')
		}
	}
	return strings.Fields(b.String())
}
