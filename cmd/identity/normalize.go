package identity

import "strings"

// NormalizeUsername canonicalizes a username for case-insensitive uniqueness.
// The display form keeps its original case.
func NormalizeUsername(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// NormalizeEmail performs case-insensitive canonicalization.
func NormalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
