package sgm

import "unicode"

// Token is a whitespace-delimited run of the stripped text.
// Begin and End are character offsets; End is inclusive like the APF offsets.
type Token struct {
	Text  string
	Begin int
	End   int
}

// Tokenize splits text into runs of non-space characters.
func Tokenize(text string) []Token {
	var tokens []Token
	start := -1
	pos := 0
	var buf []rune
	for _, r := range text {
		if unicode.IsSpace(r) {
			if start >= 0 {
				tokens = append(tokens, Token{Text: string(buf), Begin: start, End: pos - 1})
				start = -1
				buf = buf[:0]
			}
		} else {
			if start < 0 {
				start = pos
			}
			buf = append(buf, r)
		}
		pos++
	}
	if start >= 0 {
		tokens = append(tokens, Token{Text: string(buf), Begin: start, End: pos - 1})
	}
	return tokens
}
