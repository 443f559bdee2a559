// Package acceptance implements the checks a ticket consumer performs before
// acting on a resolve ticket: a valid signature from a trusted arbiter, an
// unexpired ticket, and a nonce that has never been redeemed.
package acceptance

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/Mindburn-Labs/arbiter/pkg/contracts"
	"github.com/Mindburn-Labs/arbiter/pkg/crypto"
	"github.com/Mindburn-Labs/arbiter/pkg/ticket"
)

var (
	ErrInvalidSignature = errors.New("acceptance: invalid signature")
	ErrUntrustedKey     = errors.New("acceptance: arbiter key not trusted")
	ErrExpired          = errors.New("acceptance: ticket expired")
	ErrReplay           = errors.New("acceptance: nonce already redeemed")
)

// Redemption is one consumed nonce.
type Redemption struct {
	ArbiterPubKey string
	Nonce         string
	DealID        string
	ExpiresAt     time.Time
	RedeemedAt    time.Time
}

// NonceStore records redeemed nonces per arbiter key. Redeem must be atomic:
// of two concurrent calls for the same key and nonce, exactly one reports
// true.
type NonceStore interface {
	Redeem(ctx context.Context, r Redemption) (bool, error)
	Close() error
}

// Acceptor runs the consumer-side checks.
type Acceptor struct {
	keys   *crypto.TrustedKeys
	store  NonceStore
	now    func() time.Time
	logger *slog.Logger
}

// Option configures an Acceptor.
type Option func(*Acceptor)

// WithTrustedKeys restricts acceptance to allowlisted arbiter keys. Without
// it any correctly signed ticket is accepted.
func WithTrustedKeys(k *crypto.TrustedKeys) Option {
	return func(a *Acceptor) { a.keys = k }
}

// WithClock overrides the acceptor's clock.
func WithClock(now func() time.Time) Option {
	return func(a *Acceptor) { a.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *Acceptor) { a.logger = l }
}

// NewAcceptor returns an acceptor recording nonces in store.
func NewAcceptor(store NonceStore, opts ...Option) *Acceptor {
	a := &Acceptor{
		store:  store,
		now:    time.Now,
		logger: slog.Default().With("component", "acceptance"),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Accept checks signed and, if every check passes, redeems its nonce. The
// nonce is only consumed once the signature and expiry checks have passed.
func (a *Acceptor) Accept(ctx context.Context, signed *contracts.SignedTicket) (*contracts.ResolveTicket, error) {
	if !crypto.Verify(signed) {
		return nil, ErrInvalidSignature
	}
	return a.redeem(ctx, signed)
}

// AcceptJSON is Accept for a serialized ticket. The signature is checked on
// the bytes as received.
func (a *Acceptor) AcceptJSON(ctx context.Context, raw []byte) (*contracts.ResolveTicket, error) {
	if !crypto.VerifyJSON(raw) {
		return nil, ErrInvalidSignature
	}
	signed, err := crypto.DecodeSigned(raw)
	if err != nil {
		return nil, ErrInvalidSignature
	}
	return a.redeem(ctx, signed)
}

func (a *Acceptor) redeem(ctx context.Context, signed *contracts.SignedTicket) (*contracts.ResolveTicket, error) {
	t := signed.Ticket
	if a.keys != nil && !a.keys.Trusted(signed.ArbiterPubKey) {
		return nil, ErrUntrustedKey
	}

	now := a.now().UTC()
	if ticket.Expired(t, now) {
		return nil, fmt.Errorf("%w: expired at %s", ErrExpired, t.ExpiresAtUTC)
	}
	exp, err := t.ExpiresAt()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExpired, err)
	}

	fresh, err := a.store.Redeem(ctx, Redemption{
		ArbiterPubKey: signed.ArbiterPubKey,
		Nonce:         t.Nonce,
		DealID:        t.DealID,
		ExpiresAt:     exp,
		RedeemedAt:    now,
	})
	if err != nil {
		return nil, fmt.Errorf("acceptance: record nonce: %w", err)
	}
	if !fresh {
		a.logger.WarnContext(ctx, "replayed ticket rejected",
			"deal_id", t.DealID,
			"nonce", t.Nonce,
			"arbiter_pubkey", signed.ArbiterPubKey,
		)
		return nil, ErrReplay
	}

	a.logger.InfoContext(ctx, "ticket accepted",
		"deal_id", t.DealID,
		"outcome", t.Outcome,
		"nonce", t.Nonce,
	)
	out := t.Clone()
	return &out, nil
}
