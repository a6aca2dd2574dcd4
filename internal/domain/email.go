package domain

import (
	"net/mail"
	"strings"
)

const maxEmailLength = 254

// ValidEmail reports whether s is a bare address (no display name) of at
// most 254 characters whose domain part contains a dot.
func ValidEmail(s string) bool {
	if s == "" || len(s) > maxEmailLength {
		return false
	}
	parsed, err := mail.ParseAddress(s)
	if err != nil || parsed.Address != s {
		return false
	}
	return strings.Contains(s[strings.LastIndex(s, "@"):], ".")
}
