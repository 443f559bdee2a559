// Package crypto signs resolve tickets with Ed25519 and verifies signed
// tickets without any server-side state.
package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"

	"github.com/Mindburn-Labs/arbiter/pkg/canonicalize"
	"github.com/Mindburn-Labs/arbiter/pkg/contracts"
)

// ErrInvalidKey is matched by every *KeyError.
var ErrInvalidKey = errors.New("crypto: invalid signing key")

// MinMasterSecret is the shortest master secret DeriveSigner accepts.
const MinMasterSecret = 32

const hkdfSalt = "arbiter-ticket-signing-v1"

// KeyError reports unusable key material. It is fatal at start-up: a process
// that cannot load its key must not issue tickets.
type KeyError struct {
	Reason string
	Err    error
}

func (e *KeyError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("crypto: invalid signing key: %s: %v", e.Reason, e.Err)
	}
	return "crypto: invalid signing key: " + e.Reason
}

func (e *KeyError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrInvalidKey) match any KeyError.
func (e *KeyError) Is(target error) bool { return target == ErrInvalidKey }

// Signer holds the arbiter's Ed25519 key. The key is read-only after
// construction, so a Signer is safe for concurrent use until Close.
type Signer struct {
	priv ed25519.PrivateKey
	pub  ed25519.PublicKey
}

// GenerateSigner creates a signer with a fresh random key.
func GenerateSigner() (*Signer, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, &KeyError{Reason: "key generation failed", Err: err}
	}
	return NewSignerFromKey(priv)
}

// NewSignerFromKey wraps an existing private key.
func NewSignerFromKey(priv ed25519.PrivateKey) (*Signer, error) {
	if len(priv) != ed25519.PrivateKeySize {
		return nil, &KeyError{Reason: fmt.Sprintf("private key is %d bytes, want %d", len(priv), ed25519.PrivateKeySize)}
	}
	key := make(ed25519.PrivateKey, ed25519.PrivateKeySize)
	copy(key, priv)
	return &Signer{priv: key, pub: key.Public().(ed25519.PublicKey)}, nil
}

// NewSignerFromHex loads a key from hex. Both a 32-byte seed and a 64-byte
// seed||public key are accepted; for the latter the public half must match.
func NewSignerFromHex(s string) (*Signer, error) {
	raw, err := hex.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return nil, &KeyError{Reason: "secret key is not hex", Err: err}
	}
	defer zero(raw)

	switch len(raw) {
	case ed25519.SeedSize:
		return NewSignerFromKey(ed25519.NewKeyFromSeed(raw))
	case ed25519.PrivateKeySize:
		derived := ed25519.NewKeyFromSeed(raw[:ed25519.SeedSize])
		defer zero(derived)
		if !derived.Public().(ed25519.PublicKey).Equal(ed25519.PublicKey(raw[ed25519.SeedSize:])) {
			return nil, &KeyError{Reason: "public half does not match seed"}
		}
		return NewSignerFromKey(derived)
	default:
		return nil, &KeyError{Reason: fmt.Sprintf("secret key is %d bytes, want %d or %d", len(raw), ed25519.SeedSize, ed25519.PrivateKeySize)}
	}
}

// DeriveSigner derives a signing key from a master secret with HKDF-SHA256.
// Distinct labels yield unrelated keys, so one master can serve several
// arbiter deployments.
func DeriveSigner(master []byte, label string) (*Signer, error) {
	if len(master) < MinMasterSecret {
		return nil, &KeyError{Reason: fmt.Sprintf("master secret is %d bytes, want at least %d", len(master), MinMasterSecret)}
	}
	if label == "" {
		return nil, &KeyError{Reason: "empty derivation label"}
	}
	r := hkdf.New(sha256.New, master, []byte(hkdfSalt), []byte(label))
	seed := make([]byte, ed25519.SeedSize)
	defer zero(seed)
	if _, err := io.ReadFull(r, seed); err != nil {
		return nil, &KeyError{Reason: "HKDF derivation failed", Err: err}
	}
	return NewSignerFromKey(ed25519.NewKeyFromSeed(seed))
}

// PublicKey returns the verifying key as lowercase hex.
func (s *Signer) PublicKey() string {
	return hex.EncodeToString(s.pub)
}

// SeedHex exports the 32-byte seed. Only keygen should need this.
func (s *Signer) SeedHex() string {
	return hex.EncodeToString(s.priv.Seed())
}

// Sign canonicalizes t, hashes it and signs the digest. Ed25519 is
// deterministic, so the same ticket always yields the same signature.
func (s *Signer) Sign(t contracts.ResolveTicket) (*contracts.SignedTicket, error) {
	if s.priv == nil {
		return nil, errors.New("crypto: signer is closed")
	}
	body := t.Clone()
	if body.ViolatedRules == nil {
		body.ViolatedRules = []string{}
	}
	digest, err := canonicalize.TicketDigest(body)
	if err != nil {
		return nil, fmt.Errorf("crypto: canonicalize ticket: %w", err)
	}
	sig := ed25519.Sign(s.priv, digest[:])
	return &contracts.SignedTicket{
		Ticket:        body,
		ArbiterPubKey: s.PublicKey(),
		Signature:     hex.EncodeToString(sig),
	}, nil
}

// Close zeroes the private key. Sign fails afterwards.
func (s *Signer) Close() error {
	zero(s.priv)
	s.priv = nil
	return nil
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
