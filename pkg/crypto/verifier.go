package crypto

import (
	"bytes"
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/Mindburn-Labs/arbiter/pkg/canonicalize"
	"github.com/Mindburn-Labs/arbiter/pkg/contracts"
)

// Verify reports whether signed carries a valid arbiter signature over its
// ticket. It is a pure function: expiry and nonce reuse are the consumer's
// concern. Any malformed input yields false.
//
// A signed ticket always carries violated_rules as an array. A nil slice
// (decoded from JSON null) fails here exactly as it fails VerifyJSON.
func Verify(signed *contracts.SignedTicket) bool {
	if signed == nil || signed.Ticket.ViolatedRules == nil {
		return false
	}
	digest, err := canonicalize.TicketDigest(signed.Ticket)
	if err != nil {
		return false
	}
	return verifyDigest(signed.ArbiterPubKey, signed.Signature, digest)
}

// envelope mirrors SignedTicket but keeps the ticket bytes as received.
type envelope struct {
	Ticket        json.RawMessage `json:"ticket"`
	ArbiterPubKey string          `json:"arbiter_pubkey"`
	Signature     string          `json:"ed25519_signature"`
}

// VerifyJSON verifies a serialized SignedTicket. The ticket object is
// canonicalized exactly as received, so an added, dropped or retyped field
// breaks the signature even when a typed decode would have hidden it.
func VerifyJSON(raw []byte) bool {
	var env envelope
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&env); err != nil {
		return false
	}
	if dec.More() {
		return false
	}
	body := bytes.TrimSpace(env.Ticket)
	if len(body) == 0 || body[0] != '{' {
		return false
	}
	canonical, err := canonicalize.Raw(body)
	if err != nil {
		return false
	}
	return verifyDigest(env.ArbiterPubKey, env.Signature, canonicalize.Digest(canonical))
}

// DecodeSigned parses a serialized SignedTicket, rejecting unknown fields at
// either level.
func DecodeSigned(raw []byte) (*contracts.SignedTicket, error) {
	var st contracts.SignedTicket
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&st); err != nil {
		return nil, err
	}
	return &st, nil
}

func verifyDigest(pubHex, sigHex string, digest [sha256.Size]byte) bool {
	pub, err := hex.DecodeString(pubHex)
	if err != nil || len(pub) != ed25519.PublicKeySize {
		return false
	}
	sig, err := hex.DecodeString(sigHex)
	if err != nil || len(sig) != ed25519.SignatureSize {
		return false
	}
	return ed25519.Verify(ed25519.PublicKey(pub), digest[:], sig)
}
