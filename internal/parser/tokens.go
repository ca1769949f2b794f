package parser

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

type tokenKind int

const (
	tokWord tokenKind = iota
	tokNumber
	tokSymbol
	tokPunct
)

type token struct {
	kind   tokenKind
	text   string
	lower  string
	start  int // byte offsets into the original text
	end    int
	glued  bool // no whitespace before this token
	inDate bool
}

func isCurrencySymbol(r rune) bool {
	switch r {
	case '$', '€', '₾', '₴', '₮':
		return true
	}
	return false
}

// tokenize splits text into words, numbers (with inner separators, e.g.
// 1,200.50), currency symbols and single punctuation runes.
func tokenize(text string) []token {
	var toks []token
	space := true
	i := 0
	for i < len(text) {
		r, size := utf8.DecodeRuneInString(text[i:])
		if unicode.IsSpace(r) {
			space = true
			i += size
			continue
		}

		start := i
		kind := tokPunct
		switch {
		case unicode.IsDigit(r):
			kind = tokNumber
			i = scanNumber(text, i)
		case unicode.IsLetter(r):
			kind = tokWord
			i = scanWord(text, i)
		case isCurrencySymbol(r):
			kind = tokSymbol
			i += size
		default:
			i += size
		}

		t := token{kind: kind, text: text[start:i], start: start, end: i, glued: !space && len(toks) > 0}
		t.lower = strings.ToLower(t.text)
		toks = append(toks, t)
		space = false
	}
	return toks
}

func scanNumber(text string, i int) int {
	for {
		for i < len(text) && text[i] >= '0' && text[i] <= '9' {
			i++
		}
		if i+1 < len(text) && (text[i] == '.' || text[i] == ',') && text[i+1] >= '0' && text[i+1] <= '9' {
			i++
			continue
		}
		return i
	}
}

// scanWord consumes letters, digits and inner joiners. A currency marker
// glued to a number (USD50) ends at the first digit.
func scanWord(text string, i int) int {
	start := i
	for i < len(text) {
		r, size := utf8.DecodeRuneInString(text[i:])
		if unicode.IsDigit(r) {
			if _, ok := currencyMarkers[strings.ToLower(text[start:i])]; ok {
				return i
			}
		}
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			i += size
			continue
		}
		if r == '\'' || r == '&' || r == '-' {
			if next, _ := utf8.DecodeRuneInString(text[i+size:]); unicode.IsLetter(next) {
				i += size
				continue
			}
		}
		return i
	}
	return i
}
