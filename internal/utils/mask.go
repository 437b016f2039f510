package utils

import "strings"

// MaskSecret hides a credential for logging. Only long secrets keep their first and last two
// characters.
func MaskSecret(s string) string {
	switch {
	case s == "":
		return ""
	case len(s) < 12:
		return "****"
	default:
		return s[:2] + strings.Repeat("*", 4) + s[len(s)-2:]
	}
}
