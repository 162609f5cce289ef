// Package textnorm provides deterministic tokenization for small text
// snippets that feed rule-based normalization and candidate matching. It
// keeps email- and URL-like fragments intact and avoids heavy NLP
// dependencies.
package textnorm

import (
	"regexp"
	"strings"
)

// tokenPattern keeps emails, URL fragments, and alphanumerics together.
var tokenPattern = regexp.MustCompile(`[A-Za-z0-9][A-Za-z0-9@._'-]*`)

const stripSet = `'"-._`

// Tokens splits text into lowercase tokens, trimming stray punctuation and
// removing duplicates while preserving first-seen order. Tokens shorter than
// minLen after cleaning are dropped.
func Tokens(text string, minLen int) []string {
	if text == "" {
		return nil
	}
	raw := tokenPattern.FindAllString(text, -1)
	cleaned := make([]string, 0, len(raw))
	for _, t := range raw {
		t = strings.Trim(strings.ToLower(t), stripSet)
		if len(t) >= minLen && t != "" {
			cleaned = append(cleaned, t)
		}
	}
	return dedupe(cleaned)
}

// FieldTokens tokenizes several fields into one deduplicated token list.
func FieldTokens(fields []string, minLen int) []string {
	var all []string
	for _, f := range fields {
		all = append(all, Tokens(f, minLen)...)
	}
	return dedupe(all)
}

func dedupe(tokens []string) []string {
	if len(tokens) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(tokens))
	ordered := make([]string, 0, len(tokens))
	for _, t := range tokens {
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		ordered = append(ordered, t)
	}
	return ordered
}
