// Package ticket stamps resolve tickets with the two fields that make each
// one unique and time-bounded: a nonce and an absolute expiry.
package ticket

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"strconv"
	"time"

	"github.com/Mindburn-Labs/arbiter/pkg/contracts"
)

// DefaultValidity is how long a ticket stays redeemable.
const DefaultValidity = 24 * time.Hour

// NonceSource yields nonces as base-10 strings matching ^[0-9]+$.
type NonceSource interface {
	Next() (string, error)
}

// RandomNonces draws 63-bit nonces from crypto/rand so they parse as a signed
// or unsigned 64-bit integer on-chain.
type RandomNonces struct{}

// Next implements NonceSource.
func (RandomNonces) Next() (string, error) {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", fmt.Errorf("ticket: read random nonce: %w", err)
	}
	n := binary.BigEndian.Uint64(b[:]) >> 1
	return strconv.FormatUint(n, 10), nil
}

// Stamp is a fresh nonce and expiry pair.
type Stamp struct {
	Nonce     string
	ExpiresAt time.Time
}

// ExpiresAtUTC renders the expiry in ticket wire format.
func (s Stamp) ExpiresAtUTC() string {
	return s.ExpiresAt.UTC().Format(contracts.TicketTimeLayout)
}

// Builder attaches stamps to ticket bodies.
type Builder struct {
	validity time.Duration
	now      func() time.Time
	nonces   NonceSource
}

// Option configures a Builder.
type Option func(*Builder)

// WithValidity sets the validity window.
func WithValidity(d time.Duration) Option {
	return func(b *Builder) { b.validity = d }
}

// WithClock overrides the wall clock.
func WithClock(now func() time.Time) Option {
	return func(b *Builder) { b.now = now }
}

// WithNonceSource overrides the nonce generator.
func WithNonceSource(src NonceSource) Option {
	return func(b *Builder) { b.nonces = src }
}

// NewBuilder returns a builder with a 24h validity window and random nonces.
func NewBuilder(opts ...Option) *Builder {
	b := &Builder{
		validity: DefaultValidity,
		now:      time.Now,
		nonces:   RandomNonces{},
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Validity returns the configured window.
func (b *Builder) Validity() time.Duration { return b.validity }

// Stamp draws a nonce and fixes the expiry at now + validity, truncated to
// whole seconds.
func (b *Builder) Stamp() (Stamp, error) {
	nonce, err := b.nonces.Next()
	if err != nil {
		return Stamp{}, err
	}
	return Stamp{
		Nonce:     nonce,
		ExpiresAt: b.now().UTC().Add(b.validity).Truncate(time.Second),
	}, nil
}

// Build returns a copy of body carrying a fresh stamp. Two builds of the same
// body never yield the same ticket.
func (b *Builder) Build(body contracts.ResolveTicket) (contracts.ResolveTicket, error) {
	s, err := b.Stamp()
	if err != nil {
		return contracts.ResolveTicket{}, err
	}
	out := body.Clone()
	out.Nonce = s.Nonce
	out.ExpiresAtUTC = s.ExpiresAtUTC()
	return out, nil
}

// Expired reports whether t is stale at now. A ticket is stale from its
// expiry instant onwards; an unparseable expiry counts as stale.
func Expired(t contracts.ResolveTicket, now time.Time) bool {
	exp, err := t.ExpiresAt()
	if err != nil {
		return true
	}
	return !now.Before(exp)
}
