// Package id mints the opaque identifiers the service hands out and checks
// the ones clients send.
package id

import (
	"encoding/hex"
	"strings"

	"github.com/google/uuid"
)

const (
	PrefixProposal   = "prop_"
	PrefixDiagnostic = "diag_"
)

// New returns prefix followed by 32 lowercase hex characters.
func New(prefix string) string {
	u := uuid.New()
	return prefix + hex.EncodeToString(u[:])
}

// Has reports whether s looks like an id minted by New with this prefix.
func Has(s, prefix string) bool {
	rest, ok := strings.CutPrefix(s, prefix)
	return ok && isHex32(rest)
}

// ValidRequestID accepts a client request id: a hyphenated RFC 4122 UUID
// (versions 1 to 5) or 32 hex characters. Case is ignored.
func ValidRequestID(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	if isHex32(s) {
		return true
	}
	if len(s) != 36 {
		return false
	}
	u, err := uuid.Parse(s)
	if err != nil || u.Variant() != uuid.RFC4122 {
		return false
	}
	v := u.Version()
	return v >= 1 && v <= 5
}

func isHex32(s string) bool {
	if len(s) != 32 {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
