package resolve

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// legalSuffixes are trailing tokens dropped from supplier names. They are
// matched after punctuation is stripped, so "S/A" and "S.A." arrive as "SA".
var legalSuffixes = map[string]bool{
	"LTDA": true, "ME": true, "EPP": true, "EIRELI": true, "MEI": true, "SA": true,
	"LLC": true, "INC": true, "INCORPORATED": true, "CORP": true, "CORPORATION": true,
	"LTD": true, "LIMITED": true, "LP": true, "LLP": true, "PLC": true, "CO": true,
}

var (
	multiSpaceRe = regexp.MustCompile(`\s{2,}`)
	nonDigitRe   = regexp.MustCompile(`\D`)
)

var punctuation = strings.NewReplacer(
	",", "",
	".", "",
	"'", "",
	"\"", "",
	"/", "",
	"&", " E ",
	"-", " ",
	"(", " ",
	")", " ",
)

// FoldAccents removes combining marks: "Feijão Açaí" becomes "Feijao Acai".
func FoldAccents(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		return s
	}
	return out
}

// NormalizeName standardizes a supplier name for matching by:
//  1. Trimming whitespace and folding accents
//  2. Converting to uppercase
//  3. Stripping punctuation
//  4. Removing trailing legal suffixes (LTDA, ME, EIRELI, S/A, LLC, ...)
//  5. Collapsing multiple spaces into single spaces
//
// A name made only of suffixes keeps its last token.
func NormalizeName(name string) string {
	name = CanonicalKey(name)
	if name == "" {
		return ""
	}

	tokens := strings.Fields(name)
	for len(tokens) > 1 && legalSuffixes[tokens[len(tokens)-1]] {
		tokens = tokens[:len(tokens)-1]
	}
	return strings.Join(tokens, " ")
}

// CanonicalKey is the catalog identity of a product name: accent-folded,
// upper-cased, punctuation-free and single-spaced. Unlike NormalizeName it
// keeps every token.
func CanonicalKey(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return ""
	}
	name = strings.ToUpper(FoldAccents(name))
	name = punctuation.Replace(name)
	name = multiSpaceRe.ReplaceAllString(name, " ")
	return strings.TrimSpace(name)
}

// NormalizeTaxID keeps only the digits of a tax id (CNPJ/CPF or EIN).
func NormalizeTaxID(taxID string) string {
	return nonDigitRe.ReplaceAllString(taxID, "")
}
