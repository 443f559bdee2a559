package acceptance

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/arbiter/pkg/contracts"
	"github.com/Mindburn-Labs/arbiter/pkg/crypto"
)

var issuedAt = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func signedTicket(t *testing.T, s *crypto.Signer, nonce string) *contracts.SignedTicket {
	t.Helper()
	st, err := s.Sign(contracts.ResolveTicket{
		Schema:        contracts.TicketSchema,
		DealID:        "deal-" + nonce,
		Outcome:       contracts.OutcomeRelease,
		ReasonShort:   "tracking confirms delivery",
		ViolatedRules: []string{"delivery_confirmed"},
		Confidence:    0.95,
		Nonce:         nonce,
		ExpiresAtUTC:  issuedAt.Add(24 * time.Hour).Format(contracts.TicketTimeLayout),
	})
	require.NoError(t, err)
	return st
}

func acceptorAt(store NonceStore, now time.Time, opts ...Option) *Acceptor {
	return NewAcceptor(store, append(opts, WithClock(func() time.Time { return now }))...)
}

func TestAccept_HappyPathThenReplay(t *testing.T) {
	s, err := crypto.GenerateSigner()
	require.NoError(t, err)
	st := signedTicket(t, s, "101")
	a := acceptorAt(NewMemoryStore(), issuedAt.Add(time.Hour))

	got, err := a.Accept(context.Background(), st)
	require.NoError(t, err)
	assert.Equal(t, contracts.OutcomeRelease, got.Outcome)

	_, err = a.Accept(context.Background(), st)
	assert.ErrorIs(t, err, ErrReplay)
}

func TestAccept_Expired(t *testing.T) {
	s, err := crypto.GenerateSigner()
	require.NoError(t, err)
	st := signedTicket(t, s, "102")
	store := NewMemoryStore()

	_, err = acceptorAt(store, issuedAt.Add(24*time.Hour)).Accept(context.Background(), st)
	assert.ErrorIs(t, err, ErrExpired)
	assert.Equal(t, 0, store.Len(), "expired ticket must not consume its nonce")

	_, err = acceptorAt(store, issuedAt.Add(24*time.Hour-time.Second)).Accept(context.Background(), st)
	assert.NoError(t, err)
}

func TestAccept_InvalidSignature(t *testing.T) {
	s, err := crypto.GenerateSigner()
	require.NoError(t, err)
	st := signedTicket(t, s, "103")
	st.Ticket.Outcome = contracts.OutcomeRefund
	store := NewMemoryStore()

	_, err = acceptorAt(store, issuedAt).Accept(context.Background(), st)
	assert.ErrorIs(t, err, ErrInvalidSignature)
	assert.Equal(t, 0, store.Len())

	_, err = acceptorAt(store, issuedAt).Accept(context.Background(), nil)
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestAccept_TrustedKeys(t *testing.T) {
	trusted, err := crypto.GenerateSigner()
	require.NoError(t, err)
	rogue, err := crypto.GenerateSigner()
	require.NoError(t, err)
	keys, err := crypto.NewTrustedKeys(trusted.PublicKey())
	require.NoError(t, err)
	a := acceptorAt(NewMemoryStore(), issuedAt, WithTrustedKeys(keys))

	_, err = a.Accept(context.Background(), signedTicket(t, rogue, "104"))
	assert.ErrorIs(t, err, ErrUntrustedKey)

	_, err = a.Accept(context.Background(), signedTicket(t, trusted, "104"))
	assert.NoError(t, err)
}

func TestAccept_NoncesAreScopedPerArbiter(t *testing.T) {
	a1, err := crypto.GenerateSigner()
	require.NoError(t, err)
	a2, err := crypto.GenerateSigner()
	require.NoError(t, err)
	acc := acceptorAt(NewMemoryStore(), issuedAt)

	_, err = acc.Accept(context.Background(), signedTicket(t, a1, "105"))
	require.NoError(t, err)
	_, err = acc.Accept(context.Background(), signedTicket(t, a2, "105"))
	assert.NoError(t, err)
}

func TestAcceptJSON(t *testing.T) {
	s, err := crypto.GenerateSigner()
	require.NoError(t, err)
	raw, err := json.Marshal(signedTicket(t, s, "106"))
	require.NoError(t, err)
	a := acceptorAt(NewMemoryStore(), issuedAt)

	_, err = a.AcceptJSON(context.Background(), raw)
	require.NoError(t, err)
	_, err = a.AcceptJSON(context.Background(), raw)
	assert.ErrorIs(t, err, ErrReplay)

	_, err = a.AcceptJSON(context.Background(), []byte(`{"ticket":{}}`))
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestAccept_ConcurrentRedeemOnce(t *testing.T) {
	s, err := crypto.GenerateSigner()
	require.NoError(t, err)
	st := signedTicket(t, s, "107")
	a := acceptorAt(NewMemoryStore(), issuedAt)

	var ok atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := a.Accept(context.Background(), st); err == nil {
				ok.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), ok.Load())
}

func TestMemoryStore_PrunesExpired(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	r := Redemption{ArbiterPubKey: "AB", Nonce: "1", ExpiresAt: issuedAt.Add(time.Hour), RedeemedAt: issuedAt}

	fresh, err := store.Redeem(ctx, r)
	require.NoError(t, err)
	assert.True(t, fresh)

	r.ArbiterPubKey = "ab"
	fresh, err = store.Redeem(ctx, r)
	require.NoError(t, err)
	assert.False(t, fresh, "key comparison is case-insensitive")

	_, err = store.Redeem(ctx, Redemption{ArbiterPubKey: "ab", Nonce: "2", ExpiresAt: issuedAt.Add(3 * time.Hour), RedeemedAt: issuedAt.Add(2 * time.Hour)})
	require.NoError(t, err)
	assert.Equal(t, 1, store.Len())
	assert.NoError(t, store.Close())
}
