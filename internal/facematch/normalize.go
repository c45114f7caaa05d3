package facematch

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// RemoveDiacritics removes diacritical marks from a string (e.g., "Jiří" -> "Jiri").
func RemoveDiacritics(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	result, _, _ := transform.String(t, s)
	return result
}

// NormalizeName normalizes a display name for comparison
// (lowercase, no diacritics, dashes and underscores as spaces, collapsed whitespace).
func NormalizeName(name string) string {
	name = RemoveDiacritics(name)
	name = strings.ToLower(name)
	name = strings.NewReplacer("-", " ", "_", " ").Replace(name)
	return strings.Join(strings.Fields(name), " ")
}

// NameMatches reports whether query is a substring of the identity's user id or
// display name after normalization. An empty query matches everything.
func NameMatches(s IdentitySummary, query string) bool {
	q := NormalizeName(query)
	if q == "" {
		return true
	}
	return strings.Contains(NormalizeName(s.Name), q) || strings.Contains(NormalizeName(s.UserID), q)
}
