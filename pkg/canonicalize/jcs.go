// Package canonicalize renders resolve tickets as RFC 8785 (JSON
// Canonicalization Scheme) bytes and hashes them for signing.
//
// Canonical form: object keys sorted by UTF-16 code units, no insignificant
// whitespace, strings minimally escaped (no HTML escaping), numbers in the
// ECMAScript shortest round-trip form. A confidence of 0.9 renders as 0.9,
// 1.0 renders as 1, 0.25 renders as 0.25.
package canonicalize

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/gowebpki/jcs"

	"github.com/Mindburn-Labs/arbiter/pkg/contracts"
)

// JCS returns the RFC 8785 canonical JSON representation of v. Struct json
// tags are honoured; the output of json.Marshal is re-serialized canonically.
func JCS(v any) ([]byte, error) {
	intermediate, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("jcs: pre-marshal failed: %w", err)
	}
	return Raw(intermediate)
}

// Raw canonicalizes an already serialized JSON document.
func Raw(data []byte) ([]byte, error) {
	out, err := jcs.Transform(data)
	if err != nil {
		return nil, fmt.Errorf("jcs: transform failed: %w", err)
	}
	return out, nil
}

// Ticket canonicalizes a resolve ticket. A nil ViolatedRules is rendered as
// an empty array so the same logical ticket always has one byte form.
func Ticket(t contracts.ResolveTicket) ([]byte, error) {
	if t.ViolatedRules == nil {
		t.ViolatedRules = []string{}
	}
	return JCS(t)
}

// Digest is SHA-256 over the canonical bytes.
func Digest(canonical []byte) [sha256.Size]byte {
	return sha256.Sum256(canonical)
}

// TicketDigest canonicalizes and hashes t in one step.
func TicketDigest(t contracts.ResolveTicket) ([sha256.Size]byte, error) {
	b, err := Ticket(t)
	if err != nil {
		return [sha256.Size]byte{}, err
	}
	return Digest(b), nil
}

// HashBytes computes the SHA-256 hash of raw bytes as lowercase hex.
func HashBytes(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// CanonicalHash returns the hex digest of the canonical representation of v.
func CanonicalHash(v any) (string, error) {
	b, err := JCS(v)
	if err != nil {
		return "", err
	}
	return HashBytes(b), nil
}
