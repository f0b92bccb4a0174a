package auth

import (
	"regexp"
	"strings"
)

// emailPattern is a mailbox-syntax check: dotted or quoted local part,
// followed by either a bracketed IPv4 literal or dotted labels ending in a
// TLD of at least two letters.
var emailPattern = regexp.MustCompile(`^(([^<>()\[\]\\.,;:\s@"]+(\.[^<>()\[\]\\.,;:\s@"]+)*)|(".+"))@((\[[0-9]{1,3}\.[0-9]{1,3}\.[0-9]{1,3}\.[0-9]{1,3}\])|(([a-zA-Z0-9-]+\.)+[a-zA-Z]{2,}))$`)

// DefaultCodes is the built-in shared-secret allow-list. Deployments override
// it via config.
var DefaultCodes = []string{"246811", "909912", "812311", "657832"}

// Policy gates access with an email syntax check and a fixed set of access
// codes. It is a shared-secret gate, not per-user security: no rate limiting,
// no partial matching.
type Policy struct {
	codes map[string]struct{}
}

// NewPolicy builds a policy from an access-code allow-list. An empty list
// falls back to DefaultCodes.
func NewPolicy(codes []string) *Policy {
	if len(codes) == 0 {
		codes = DefaultCodes
	}
	set := make(map[string]struct{}, len(codes))
	for _, c := range codes {
		set[strings.TrimSpace(c)] = struct{}{}
	}
	return &Policy{codes: set}
}

// ValidEmail reports whether s is a syntactically valid mailbox address.
// Surrounding whitespace is trimmed and the check is case-insensitive.
func (p *Policy) ValidEmail(s string) bool {
	return emailPattern.MatchString(strings.ToLower(strings.TrimSpace(s)))
}

// AuthorizedCode reports exact membership of s in the allow-list.
func (p *Policy) AuthorizedCode(s string) bool {
	_, ok := p.codes[strings.TrimSpace(s)]
	return ok
}

// NormalizeEmail returns the canonical form used as the stored identity.
func NormalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
