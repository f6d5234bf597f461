package resolve

import (
	"strings"
	"unicode"
)

// trigrams returns the pg_trgm trigram set of s: each alphanumeric word is
// lower-cased and padded with two leading spaces and one trailing space.
func trigrams(s string) map[string]struct{} {
	out := make(map[string]struct{})
	words := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, w := range words {
		padded := []rune("  " + w + " ")
		for i := 0; i+3 <= len(padded); i++ {
			out[string(padded[i:i+3])] = struct{}{}
		}
	}
	return out
}

// Similarity is the trigram Jaccard similarity of a and b in [0,1], matching
// pg_trgm's similarity().
func Similarity(a, b string) float64 {
	ta, tb := trigrams(a), trigrams(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}
	shared := 0
	for g := range ta {
		if _, ok := tb[g]; ok {
			shared++
		}
	}
	return float64(shared) / float64(len(ta)+len(tb)-shared)
}

// containsWords reports whether every token of needle appears as a
// contiguous run of whole tokens in hay.
func containsWords(hay, needle string) bool {
	h, n := strings.Fields(hay), strings.Fields(needle)
	if len(n) == 0 || len(n) > len(h) {
		return false
	}
outer:
	for i := 0; i+len(n) <= len(h); i++ {
		for j := range n {
			if h[i+j] != n[j] {
				continue outer
			}
		}
		return true
	}
	return false
}
