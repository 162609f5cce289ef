// Package detect extracts scam indicators from free text with rule-based
// regular expressions. Extracted values are raw PII and must be handed to the
// vault for tokenization before they leave the ingestion path.
package detect

import (
	"net"
	"regexp"
	"strings"
)

// DetectorName identifies this extractor in tokenization audit records.
const DetectorName = "rules"

var (
	emailRe   = regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)
	urlRe     = regexp.MustCompile(`https?://[^\s<>"']+`)
	ipRe      = regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`)
	phoneRe   = regexp.MustCompile(`\+?\d[\d\s().\-]{6,18}\d`)
	asnRe     = regexp.MustCompile(`\bAS\d{1,10}\b`)
	ethRe     = regexp.MustCompile(`\b0x[0-9a-fA-F]{40}\b`)
	btcRe     = regexp.MustCompile(`\b(?:bc1[a-z0-9]{20,}|[13][a-km-zA-HJ-NP-Z1-9]{25,34})\b`)
	ibanRe    = regexp.MustCompile(`\b[A-Z]{2}\d{2}[A-Z0-9]{11,30}\b`)
	accountRe = regexp.MustCompile(`\b\d{8,17}\b`)

	ipShapeRe = regexp.MustCompile(`^(?:\d{1,3}\.){3}\d{1,3}$`)
)

// Entities holds extracted indicator values grouped by entity type. Keys
// follow the vault's entity-type vocabulary.
type Entities map[string][]string

// Extract runs every rule against text and returns the deduplicated matches
// per entity type. Empty groups are omitted.
func Extract(text string) Entities {
	if strings.TrimSpace(text) == "" {
		return Entities{}
	}

	out := Entities{}
	add := func(entityType string, values []string) {
		if cleaned := dedupe(values); len(cleaned) > 0 {
			out[entityType] = cleaned
		}
	}

	add("email", emailRe.FindAllString(text, -1))
	add("url", urlRe.FindAllString(text, -1))
	add("asn", asnRe.FindAllString(text, -1))

	var ips []string
	for _, m := range ipRe.FindAllString(text, -1) {
		if net.ParseIP(m) != nil {
			ips = append(ips, m)
		}
	}
	add("ip_address", ips)

	var wallets []string
	wallets = append(wallets, ethRe.FindAllString(text, -1)...)
	wallets = append(wallets, btcRe.FindAllString(text, -1)...)
	add("crypto_wallet", wallets)

	// Phone candidates overlap numerically with account numbers and dotted
	// IPs; a match is only a phone when it carries formatting or a leading
	// plus and is not IP-shaped.
	var phones []string
	for _, m := range phoneRe.FindAllString(text, -1) {
		if ipShapeRe.MatchString(m) {
			continue
		}
		if strings.ContainsAny(m, "+() -.") && digitCount(m) >= 7 && digitCount(m) <= 15 {
			phones = append(phones, m)
		}
	}
	add("phone", phones)

	var banks []string
	banks = append(banks, ibanRe.FindAllString(text, -1)...)
	for _, m := range accountRe.FindAllString(text, -1) {
		if !containedIn(m, ips) && !containedIn(m, phones) {
			banks = append(banks, m)
		}
	}
	add("bank_account", banks)

	return out
}

// Merge folds other's values into e, deduplicating per entity type.
func (e Entities) Merge(other Entities) Entities {
	for entityType, values := range other {
		e[entityType] = dedupe(append(e[entityType], values...))
	}
	return e
}

func digitCount(s string) int {
	n := 0
	for _, r := range s {
		if r >= '0' && r <= '9' {
			n++
		}
	}
	return n
}

func containedIn(needle string, haystack []string) bool {
	for _, h := range haystack {
		if strings.Contains(h, needle) {
			return true
		}
	}
	return false
}

func dedupe(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
