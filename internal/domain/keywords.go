package domain

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const (
	maxKeywords      = 60
	minKeywordPrefix = 2
)

// SearchKeywords builds the prefix/bigram keyword set of a product name:
// every prefix of every word from two letters up, plus adjacent word pairs.
// Accents are folded so "crème" matches "creme".
func SearchKeywords(name string) []string {
	words := keywordTokens(name)
	seen := make(map[string]bool)
	var out []string
	add := func(k string) bool {
		if seen[k] {
			return true
		}
		if len(out) >= maxKeywords {
			return false
		}
		seen[k] = true
		out = append(out, k)
		return true
	}

	for _, w := range words {
		if !add(w) {
			return out
		}
	}
	for i := 0; i+1 < len(words); i++ {
		if !add(words[i] + " " + words[i+1]) {
			return out
		}
	}
	for _, w := range words {
		r := []rune(w)
		for n := minKeywordPrefix; n < len(r); n++ {
			if !add(string(r[:n])) {
				return out
			}
		}
	}
	return out
}

func keywordTokens(name string) []string {
	folded, _, err := transform.String(transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC), name)
	if err != nil {
		folded = name
	}
	fields := strings.FieldsFunc(strings.ToLower(folded), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := fields[:0]
	for _, f := range fields {
		if len([]rune(f)) >= minKeywordPrefix {
			out = append(out, f)
		}
	}
	return out
}
