package pii

import (
	"regexp"
	"strings"
)

var (
	phoneStripRe = regexp.MustCompile(`[^0-9+]+`)
	spaceRe      = regexp.MustCompile(`\s+`)
)

// Normalize canonicalizes a raw value for hashing so that trivially
// different spellings produce the same token.
func Normalize(prefix, value string) string {
	trimmed := strings.TrimSpace(value)
	switch strings.ToUpper(prefix) {
	case "EID", "IPA":
		return strings.ToLower(trimmed)
	case "PHN":
		return phoneStripRe.ReplaceAllString(trimmed, "")
	case "NAM", "ADR":
		return strings.ToLower(strings.TrimSpace(spaceRe.ReplaceAllString(trimmed, " ")))
	default:
		return strings.ToLower(trimmed)
	}
}
