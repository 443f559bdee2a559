package crypto

import (
	"crypto/ed25519"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/arbiter/pkg/contracts"
)

func ticket() contracts.ResolveTicket {
	return contracts.ResolveTicket{
		Schema:        contracts.TicketSchema,
		DealID:        "deal-1",
		Outcome:       contracts.OutcomeRefund,
		ReasonShort:   "seller never shipped",
		RationaleCID:  "bafkreih",
		ViolatedRules: []string{"non_delivery"},
		Confidence:    0.82,
		Nonce:         "4815162342",
		ExpiresAtUTC:  "2026-03-02T12:00:00Z",
	}
}

func newSigner(t *testing.T) *Signer {
	t.Helper()
	s, err := GenerateSigner()
	require.NoError(t, err)
	return s
}

func TestSignVerify_RoundTrip(t *testing.T) {
	s := newSigner(t)
	signed, err := s.Sign(ticket())
	require.NoError(t, err)

	assert.Equal(t, s.PublicKey(), signed.ArbiterPubKey)
	assert.Len(t, signed.Signature, 2*ed25519.SignatureSize)
	assert.True(t, Verify(signed))
}

func TestSign_Deterministic(t *testing.T) {
	s := newSigner(t)
	a, err := s.Sign(ticket())
	require.NoError(t, err)
	b, err := s.Sign(ticket())
	require.NoError(t, err)
	assert.Equal(t, a.Signature, b.Signature)
}

func TestSign_NilRulesSignedAsEmpty(t *testing.T) {
	s := newSigner(t)
	tk := ticket()
	tk.ViolatedRules = nil
	signed, err := s.Sign(tk)
	require.NoError(t, err)
	assert.NotNil(t, signed.Ticket.ViolatedRules)

	raw, err := json.Marshal(signed)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"violated_rules":[]`)
	assert.True(t, VerifyJSON(raw))
}

func TestVerify_NullRulesRejectedByBothPaths(t *testing.T) {
	s := newSigner(t)
	tk := ticket()
	tk.ViolatedRules = []string{}
	signed, err := s.Sign(tk)
	require.NoError(t, err)

	raw, err := json.Marshal(signed)
	require.NoError(t, err)
	decoded, err := DecodeSigned(raw)
	require.NoError(t, err)
	assert.True(t, VerifyJSON(raw))
	assert.True(t, Verify(decoded))

	nulled := []byte(strings.Replace(string(raw), `"violated_rules":[]`, `"violated_rules":null`, 1))
	require.NotEqual(t, raw, nulled)
	decoded, err = DecodeSigned(nulled)
	require.NoError(t, err)
	assert.False(t, VerifyJSON(nulled))
	assert.False(t, Verify(decoded))
}

func TestVerify_ClonedTicketStillVerifies(t *testing.T) {
	s := newSigner(t)
	tk := ticket()
	tk.ViolatedRules = nil
	signed, err := s.Sign(tk)
	require.NoError(t, err)

	cp := *signed
	cp.Ticket = signed.Ticket.Clone()
	assert.NotNil(t, cp.Ticket.ViolatedRules)
	assert.True(t, Verify(&cp))
}

func TestVerify_Tampered(t *testing.T) {
	s := newSigner(t)
	signed, err := s.Sign(ticket())
	require.NoError(t, err)
	otherKey := newSigner(t).PublicKey()

	mutations := map[string]func(*contracts.SignedTicket){
		"outcome":    func(st *contracts.SignedTicket) { st.Ticket.Outcome = contracts.OutcomeRelease },
		"deal":       func(st *contracts.SignedTicket) { st.Ticket.DealID = "deal-2" },
		"reason":     func(st *contracts.SignedTicket) { st.Ticket.ReasonShort += "." },
		"confidence": func(st *contracts.SignedTicket) { st.Ticket.Confidence = 0.83 },
		"nonce":      func(st *contracts.SignedTicket) { st.Ticket.Nonce = "4815162343" },
		"expiry":     func(st *contracts.SignedTicket) { st.Ticket.ExpiresAtUTC = "2026-03-03T12:00:00Z" },
		"rules":      func(st *contracts.SignedTicket) { st.Ticket.ViolatedRules = nil },
		"cid":        func(st *contracts.SignedTicket) { st.Ticket.RationaleCID = "" },
		"schema":     func(st *contracts.SignedTicket) { st.Ticket.Schema = "v2" },
		"signature": func(st *contracts.SignedTicket) {
			b, _ := hex.DecodeString(st.Signature)
			b[0] ^= 0x01
			st.Signature = hex.EncodeToString(b)
		},
		"key": func(st *contracts.SignedTicket) { st.ArbiterPubKey = otherKey },
	}
	for name, mutate := range mutations {
		t.Run(name, func(t *testing.T) {
			cp := *signed
			cp.Ticket = signed.Ticket.Clone()
			mutate(&cp)
			assert.False(t, Verify(&cp))
		})
	}
}

func TestVerify_MalformedNeverPanics(t *testing.T) {
	s := newSigner(t)
	signed, err := s.Sign(ticket())
	require.NoError(t, err)

	cases := map[string]contracts.SignedTicket{
		"non-hex key": {Ticket: signed.Ticket, ArbiterPubKey: "zz", Signature: signed.Signature},
		"short key":   {Ticket: signed.Ticket, ArbiterPubKey: "abcd", Signature: signed.Signature},
		"non-hex sig": {Ticket: signed.Ticket, ArbiterPubKey: signed.ArbiterPubKey, Signature: "xyz"},
		"short sig":   {Ticket: signed.Ticket, ArbiterPubKey: signed.ArbiterPubKey, Signature: "00ff"},
		"empty":       {},
		"odd hex":     {Ticket: signed.Ticket, ArbiterPubKey: signed.ArbiterPubKey[1:], Signature: signed.Signature},
		"long sig":    {Ticket: signed.Ticket, ArbiterPubKey: signed.ArbiterPubKey, Signature: signed.Signature + "00"},
	}
	for name, st := range cases {
		st := st
		t.Run(name, func(t *testing.T) {
			assert.NotPanics(t, func() { assert.False(t, Verify(&st)) })
		})
	}
	assert.False(t, Verify(nil))
}

func TestVerify_UppercaseHexAccepted(t *testing.T) {
	s := newSigner(t)
	signed, err := s.Sign(ticket())
	require.NoError(t, err)
	signed.ArbiterPubKey = strings.ToUpper(signed.ArbiterPubKey)
	signed.Signature = strings.ToUpper(signed.Signature)
	assert.True(t, Verify(signed))
}

func TestVerifyJSON(t *testing.T) {
	s := newSigner(t)
	signed, err := s.Sign(ticket())
	require.NoError(t, err)
	raw, err := json.Marshal(signed)
	require.NoError(t, err)

	assert.True(t, VerifyJSON(raw))

	var generic map[string]any
	require.NoError(t, json.Unmarshal(raw, &generic))

	t.Run("extra ticket field", func(t *testing.T) {
		m := cloneMap(t, generic)
		m["ticket"].(map[string]any)["bonus"] = "x"
		assert.False(t, VerifyJSON(mustJSON(t, m)))
	})
	t.Run("missing ticket field", func(t *testing.T) {
		m := cloneMap(t, generic)
		delete(m["ticket"].(map[string]any), "rationale_cid")
		assert.False(t, VerifyJSON(mustJSON(t, m)))
	})
	t.Run("retyped nonce", func(t *testing.T) {
		m := cloneMap(t, generic)
		m["ticket"].(map[string]any)["nonce"] = 4815162342
		assert.False(t, VerifyJSON(mustJSON(t, m)))
	})
	t.Run("unknown envelope field", func(t *testing.T) {
		m := cloneMap(t, generic)
		m["extra"] = true
		assert.False(t, VerifyJSON(mustJSON(t, m)))
	})
	t.Run("reordered whitespace is fine", func(t *testing.T) {
		pretty, err := json.MarshalIndent(generic, "", "   ")
		require.NoError(t, err)
		assert.True(t, VerifyJSON(pretty))
	})
	for _, junk := range []string{"", "null", "[]", `{"ticket":null}`, `{"ticket":"x"}`, "{"} {
		assert.False(t, VerifyJSON([]byte(junk)), junk)
	}
}

func TestDecodeSigned(t *testing.T) {
	s := newSigner(t)
	signed, err := s.Sign(ticket())
	require.NoError(t, err)
	raw, err := json.Marshal(signed)
	require.NoError(t, err)

	back, err := DecodeSigned(raw)
	require.NoError(t, err)
	assert.Equal(t, signed, back)

	_, err = DecodeSigned([]byte(`{"ticket":{"extra":1}}`))
	assert.Error(t, err)
}

func TestNewSignerFromHex(t *testing.T) {
	s := newSigner(t)
	seed := s.SeedHex()

	fromSeed, err := NewSignerFromHex(seed)
	require.NoError(t, err)
	assert.Equal(t, s.PublicKey(), fromSeed.PublicKey())

	full, err := NewSignerFromHex("  " + seed + s.PublicKey() + "\n")
	require.NoError(t, err)
	assert.Equal(t, s.PublicKey(), full.PublicKey())

	other := newSigner(t)
	_, err = NewSignerFromHex(seed + other.PublicKey())
	var ke *KeyError
	require.ErrorAs(t, err, &ke)
	assert.Contains(t, ke.Reason, "public half")

	for _, bad := range []string{"", "nothex", "abcd", seed + "00"} {
		_, err := NewSignerFromHex(bad)
		assert.True(t, errors.Is(err, ErrInvalidKey), bad)
	}
}

func TestDeriveSigner(t *testing.T) {
	master := []byte(strings.Repeat("m", MinMasterSecret))

	a, err := DeriveSigner(master, "arbiter-eu")
	require.NoError(t, err)
	again, err := DeriveSigner(master, "arbiter-eu")
	require.NoError(t, err)
	b, err := DeriveSigner(master, "arbiter-us")
	require.NoError(t, err)

	assert.Equal(t, a.PublicKey(), again.PublicKey())
	assert.NotEqual(t, a.PublicKey(), b.PublicKey())

	_, err = DeriveSigner(master[:MinMasterSecret-1], "x")
	assert.ErrorIs(t, err, ErrInvalidKey)
	_, err = DeriveSigner(master, "")
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestClose(t *testing.T) {
	s := newSigner(t)
	pub := s.PublicKey()
	require.NoError(t, s.Close())
	_, err := s.Sign(ticket())
	assert.Error(t, err)
	assert.Equal(t, pub, s.PublicKey())
}

func TestTrustedKeys(t *testing.T) {
	s := newSigner(t)
	signed, err := s.Sign(ticket())
	require.NoError(t, err)

	keys, err := NewTrustedKeys()
	require.NoError(t, err)
	assert.False(t, keys.Verify(signed))

	require.NoError(t, keys.Add(strings.ToUpper(s.PublicKey())))
	assert.True(t, keys.Trusted(s.PublicKey()))
	assert.True(t, keys.Verify(signed))
	assert.Equal(t, []string{s.PublicKey()}, keys.Keys())

	keys.Revoke(s.PublicKey())
	assert.False(t, keys.Verify(signed))

	_, err = NewTrustedKeys("abcd")
	assert.ErrorIs(t, err, ErrInvalidKey)
	assert.False(t, keys.Verify(nil))
}

func cloneMap(t *testing.T, m map[string]any) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(mustJSON(t, m), &out))
	return out
}

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}
