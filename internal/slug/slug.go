// Package slug turns entity names into URL path segments.
package slug

import (
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const maxLength = 80

// Make lowercases name, strips accents and joins the remaining letters and
// digits with single dashes. A name with nothing usable becomes "untitled".
func Make(name string) string {
	stripped, _, err := transform.String(
		transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC),
		name,
	)
	if err != nil {
		stripped = name
	}

	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(stripped) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			dash = false
		case b.Len() > 0 && !dash:
			b.WriteByte('-')
			dash = true
		}
	}
	out := strings.TrimRight(b.String(), "-")
	if r := []rune(out); len(r) > maxLength {
		out = strings.TrimRight(string(r[:maxLength]), "-")
	}
	if out == "" {
		return "untitled"
	}
	return out
}

// Unique returns base, or base with the lowest numeric suffix for which
// taken reports false.
func Unique(base string, taken func(candidate string) (bool, error)) (string, error) {
	candidate := base
	for i := 2; ; i++ {
		exists, err := taken(candidate)
		if err != nil {
			return "", err
		}
		if !exists {
			return candidate, nil
		}
		candidate = base + "-" + strconv.Itoa(i)
	}
}
