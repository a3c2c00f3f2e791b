package interfaces

import (
	"unicode"

	"github.com/google/uuid"
)

func isHrefSafe(ident string) bool {
	if ident == "" {
		return false
	}
	for _, c := range ident {
		switch {
		case c == '_', c == '.', c == '-', c == '+':
		case unicode.IsLetter(c), unicode.IsDigit(c):
		default:
			return false
		}
	}
	return true
}

// GenerateHref returns the ident itself when it is safe as a file or URL
// path segment and a random UUID otherwise.
func GenerateHref(ident string) string {
	if isHrefSafe(ident) {
		return ident
	}
	return RandomHref()
}

// RandomHref returns a fresh random href without extension.
func RandomHref() string {
	return uuid.NewString()
}
