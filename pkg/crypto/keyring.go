package crypto

import (
	"crypto/ed25519"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/Mindburn-Labs/arbiter/pkg/contracts"
)

// TrustedKeys is a consumer-side allowlist of arbiter public keys. Keys may
// be added and revoked at runtime to support rotation.
type TrustedKeys struct {
	mu   sync.RWMutex
	keys map[string]struct{}
}

// NewTrustedKeys builds an allowlist from hex public keys.
func NewTrustedKeys(pubKeys ...string) (*TrustedKeys, error) {
	k := &TrustedKeys{keys: make(map[string]struct{})}
	for _, p := range pubKeys {
		if err := k.Add(p); err != nil {
			return nil, err
		}
	}
	return k, nil
}

// Add trusts a hex public key.
func (k *TrustedKeys) Add(pubHex string) error {
	norm := strings.ToLower(strings.TrimSpace(pubHex))
	raw, err := hex.DecodeString(norm)
	if err != nil {
		return &KeyError{Reason: "public key is not hex", Err: err}
	}
	if len(raw) != ed25519.PublicKeySize {
		return &KeyError{Reason: fmt.Sprintf("public key is %d bytes, want %d", len(raw), ed25519.PublicKeySize)}
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	k.keys[norm] = struct{}{}
	return nil
}

// Revoke stops trusting a key.
func (k *TrustedKeys) Revoke(pubHex string) {
	k.mu.Lock()
	defer k.mu.Unlock()
	delete(k.keys, strings.ToLower(strings.TrimSpace(pubHex)))
}

// Trusted reports whether pubHex is on the allowlist.
func (k *TrustedKeys) Trusted(pubHex string) bool {
	k.mu.RLock()
	defer k.mu.RUnlock()
	_, ok := k.keys[strings.ToLower(pubHex)]
	return ok
}

// Keys lists trusted keys in sorted order.
func (k *TrustedKeys) Keys() []string {
	k.mu.RLock()
	defer k.mu.RUnlock()
	out := make([]string, 0, len(k.keys))
	for p := range k.keys {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Verify is crypto.Verify restricted to allowlisted keys.
func (k *TrustedKeys) Verify(signed *contracts.SignedTicket) bool {
	if signed == nil || !k.Trusted(signed.ArbiterPubKey) {
		return false
	}
	return Verify(signed)
}
