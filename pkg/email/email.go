// Package email derives display names for accounts registered with only an
// address.
package email

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Placeholder fills a name part that cannot be derived.
const Placeholder = "User"

// NamesFromAddress splits the local part of addr on '.', '_' and '-' and
// returns the first and last pieces capitalized. A "+tag" suffix is ignored.
func NamesFromAddress(addr string) (first, last string) {
	local, _, _ := strings.Cut(addr, "@")
	local, _, _ = strings.Cut(local, "+")

	parts := strings.FieldsFunc(local, func(r rune) bool {
		return r == '.' || r == '_' || r == '-'
	})
	switch len(parts) {
	case 0:
		return Placeholder, Placeholder
	case 1:
		return title(parts[0]), Placeholder
	default:
		return title(parts[0]), title(parts[len(parts)-1])
	}
}

func title(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToUpper(r)) + s[size:]
}
