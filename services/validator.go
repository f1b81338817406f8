package services

import "regexp"

// whitespace is the Unicode space set the dashboard's client-side check uses; RE2's \s is ASCII-only.
// Stored addresses were accepted under that definition, so it must not drift.
const whitespace = `\t\n\v\f\r \x{00a0}\x{1680}\x{2000}-\x{200a}\x{2028}\x{2029}\x{202f}\x{205f}\x{3000}\x{feff}`

var emailRegex = regexp.MustCompile(`^[^@` + whitespace + `]+@[^@` + whitespace + `]+\.[^@` + whitespace + `]+$`)

// IsValidEmail reports whether s has the shape local@domain.tld with no whitespace
// and no second '@'. Deliberately permissive; not RFC 5322.
func IsValidEmail(s string) bool {
	return emailRegex.MatchString(s)
}
