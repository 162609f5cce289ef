package pii

import (
	"fmt"
	"net"
	"net/mail"
	"net/url"
	"regexp"
	"strings"
)

// PrefixUnknown is assigned when no entity type mapping exists.
const PrefixUnknown = "UNK"

// entityPrefixes maps extracted entity types to vault prefix codes.
var entityPrefixes = map[string]string{
	"email":         "EID",
	"phone":         "PHN",
	"ip_address":    "IPA",
	"asn":           "ASN",
	"bank_account":  "BAN",
	"crypto_wallet": "WLT",
	"wallet":        "WLT",
	"url":           "DOC",
	"browser_agent": "BFP",
	"name":          "NAM",
	"address":       "ADR",
	"dob":           "DOB",
}

// Validator reports whether a normalized value is plausible for its prefix.
type Validator func(normalized string) error

var (
	digitsRe   = regexp.MustCompile(`^[0-9]+$`)
	walletRe   = regexp.MustCompile(`^(0x[0-9a-f]{40}|[13][a-km-zA-HJ-NP-Z1-9]{25,34}|bc1[a-z0-9]{20,})$`)
	asnRe      = regexp.MustCompile(`^(as)?[0-9]{1,10}$`)
	phoneMinRe = regexp.MustCompile(`[0-9]`)
)

// validators is the per-prefix validation registry. Prefixes without an
// entry accept any non-empty normalized value.
var validators = map[string]Validator{
	"EID": func(v string) error {
		if _, err := mail.ParseAddress(v); err != nil {
			return fmt.Errorf("not a valid email address")
		}
		return nil
	},
	"PHN": func(v string) error {
		if len(phoneMinRe.FindAllString(v, -1)) < 7 {
			return fmt.Errorf("phone number needs at least 7 digits")
		}
		return nil
	},
	"IPA": func(v string) error {
		if net.ParseIP(v) == nil {
			return fmt.Errorf("not a valid IP address")
		}
		return nil
	},
	"ASN": func(v string) error {
		if !asnRe.MatchString(v) {
			return fmt.Errorf("not a valid ASN")
		}
		return nil
	},
	"BAN": func(v string) error {
		if !digitsRe.MatchString(strings.ReplaceAll(v, " ", "")) {
			return fmt.Errorf("bank account must be numeric")
		}
		return nil
	},
	"WLT": func(v string) error {
		if !walletRe.MatchString(v) && !walletRe.MatchString(strings.ToLower(v)) {
			return fmt.Errorf("not a recognized wallet address")
		}
		return nil
	},
	"DOC": func(v string) error {
		u, err := url.Parse(v)
		if err != nil || u.Host == "" && !strings.Contains(v, ".") {
			return fmt.Errorf("not a valid URL")
		}
		return nil
	},
}

// ResolvePrefix returns the vault prefix code for an entity type.
func ResolvePrefix(entityType string) string {
	normalized := strings.ToLower(strings.TrimSpace(entityType))
	if normalized == "" {
		return PrefixUnknown
	}
	if prefix, ok := entityPrefixes[normalized]; ok {
		return prefix
	}
	return PrefixUnknown
}

// ValidatePrefix checks the prefix shape itself (three uppercase letters).
func ValidatePrefix(prefix string) error {
	if len(prefix) != 3 {
		return fmt.Errorf("%w: prefix %q must be exactly 3 characters", ErrInvalidValue, prefix)
	}
	for _, r := range prefix {
		if r < 'A' || r > 'Z' {
			return fmt.Errorf("%w: prefix %q must be uppercase A-Z", ErrInvalidValue, prefix)
		}
	}
	return nil
}

// validate runs the registered validator for prefix against a normalized
// value. Unregistered prefixes only require a non-empty value.
func validate(prefix, normalized string) error {
	if normalized == "" {
		return fmt.Errorf("%w: empty value after normalization", ErrInvalidValue)
	}
	if fn, ok := validators[prefix]; ok {
		if err := fn(normalized); err != nil {
			return fmt.Errorf("%w: prefix %s: %v", ErrInvalidValue, prefix, err)
		}
	}
	return nil
}
