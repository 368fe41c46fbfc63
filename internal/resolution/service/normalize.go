package service

import (
	"strings"
	"unicode"

	"github.com/agext/levenshtein"
)

// legalSuffixes are corporate-form tails stripped before comparing names, so
// "Acme Corp" and "ACME CORPORATION S.L." compare on the same stem.
var legalSuffixes = []string{
	"SOCIEDAD LIMITADA", "SOCIEDAD ANONIMA",
	"CORPORATION", "INCORPORATED", "LIMITED", "COMPANY",
	"SLU", "SL", "SA", "SAU", "CB", "CORP", "INC", "LTD", "LLC", "GMBH", "CO",
}

// NormalizeName case-folds, drops punctuation, collapses whitespace and
// strips trailing legal-form suffixes.
func NormalizeName(name string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(strings.TrimSpace(name)) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
		case unicode.IsSpace(r):
			b.WriteRune(' ')
		}
	}
	fields := strings.Fields(b.String())

	for changed := true; changed && len(fields) > 1; {
		changed = false
		for _, suffix := range legalSuffixes {
			width := len(strings.Fields(suffix))
			if width >= len(fields) {
				continue
			}
			tail := strings.Join(fields[len(fields)-width:], " ")
			if tail == suffix {
				fields = fields[:len(fields)-width]
				changed = true
				break
			}
		}
	}
	return strings.Join(fields, " ")
}

// NormalizeTaxID strips punctuation and spacing and uppercases, mirroring how
// identity is stored on the registry.
func NormalizeTaxID(taxID string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(strings.TrimSpace(taxID)) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Similarity scores two already-normalized names in [0, 1].
func Similarity(a, b string) float64 {
	if a == "" || b == "" {
		return 0
	}
	if a == b {
		return 1
	}
	return levenshtein.Match(a, b, nil)
}
