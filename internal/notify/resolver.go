// Package notify resolves recipients, formats status/change messages, and
// dispatches them with per-recipient failure isolation.
package notify

import (
	"encoding/json"
	"strings"
)

// AddressSuffix is the channel addressing domain appended to bare numbers.
const AddressSuffix = "s.whatsapp.net"

const defaultCountryCode = "91"

// DefaultFallback is the address list used when recipient input is empty or
// malformed; resolution never fails the caller.
var DefaultFallback = []string{
	"918123573669@" + AddressSuffix,
	"918423003490@" + AddressSuffix,
}

// Resolver normalizes raw recipient input into channel addresses.
type Resolver struct {
	countryCode string
	fallback    []string
}

func NewResolver(countryCode string, fallback []string) *Resolver {
	if strings.TrimSpace(countryCode) == "" {
		countryCode = defaultCountryCode
	}
	if len(fallback) == 0 {
		fallback = DefaultFallback
	}
	return &Resolver{countryCode: countryCode, fallback: fallback}
}

// Resolve parses a JSON-array or comma-separated list of phone-like tokens.
//
// Tokens are stripped to digits; empty results are dropped; tokens without an
// explicit channel suffix get the default country code prefixed and the suffix
// appended. Duplicates are kept (a caller may double-list on purpose). The
// fallback list is returned for empty or malformed input.
func (r *Resolver) Resolve(raw string) []string {
	tokens, ok := splitTokens(raw)
	if !ok || len(tokens) == 0 {
		return append([]string(nil), r.fallback...)
	}

	out := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		tok = strings.TrimSpace(tok)
		if strings.Contains(tok, "@") {
			// Already a full address.
			out = append(out, tok)
			continue
		}
		digits := stripNonDigits(tok)
		if digits == "" {
			continue
		}
		out = append(out, r.Address(digits))
	}
	if len(out) == 0 {
		return append([]string(nil), r.fallback...)
	}
	return out
}

// Address turns a digit string into a channel address. The country code is
// always prefixed: tracked numbers are stored as bare 10-digit locals.
func (r *Resolver) Address(digits string) string {
	return r.countryCode + digits + "@" + AddressSuffix
}

func splitTokens(raw string) ([]string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, false
	}
	if strings.HasPrefix(raw, "[") {
		var arr []string
		if err := json.Unmarshal([]byte(raw), &arr); err != nil {
			return nil, false
		}
		return arr, true
	}
	return strings.Split(raw, ","), true
}

func stripNonDigits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// StripNonDigits is exported for sender-identity matching (admin allow-list).
func StripNonDigits(s string) string { return stripNonDigits(s) }
