package markets

import (
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// outcomeAliases maps normalized outcome labels, as exchange metadata
// spells them, onto the two canonical sides.
var outcomeAliases = map[string]Side{
	"yes":   Yes,
	"up":    Yes,
	"over":  Yes,
	"no":    No,
	"down":  No,
	"under": No,
}

// NormalizeOutcome lowercases, strips diacritics and whitespace, then
// resolves the label through the alias map. ok is false for labels
// that map to neither side.
func NormalizeOutcome(label string) (Side, bool) {
	s := stripDiacritics(label)
	s = strings.ToLower(strings.TrimSpace(s))
	side, ok := outcomeAliases[s]
	return side, ok
}

func stripDiacritics(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range norm.NFD.String(s) {
		if !unicode.Is(unicode.Mn, r) { // Mn = Mark, Nonspacing (combining accents)
			b.WriteRune(r)
		}
	}
	return b.String()
}
