package contracts

import (
	"fmt"
	"time"
)

// TicketSchema is the only schema identifier a resolve ticket may carry.
const TicketSchema = "https://schemas.mindburn.org/arbiter/resolve-ticket/v1"

// TicketTimeLayout is the wire format of ExpiresAtUTC.
const TicketTimeLayout = "2006-01-02T15:04:05Z"

// MaxReasonLength bounds ReasonShort, counted in code points. ReasonShort is
// always NFC.
const MaxReasonLength = 200

// ResolveTicket is the decision record covered by the arbiter signature.
// Field order here is informational only; the signed form is the canonical
// JSON produced by package canonicalize.
type ResolveTicket struct {
	Schema        string   `json:"schema"`
	DealID        string   `json:"deal_id"`
	Outcome       Outcome  `json:"outcome"`
	ReasonShort   string   `json:"reason_short"`
	RationaleCID  string   `json:"rationale_cid"`
	ViolatedRules []string `json:"violated_rules"`
	Confidence    float64  `json:"confidence"`
	Nonce         string   `json:"nonce"`
	ExpiresAtUTC  string   `json:"expires_at_utc"`
}

// ExpiresAt parses ExpiresAtUTC.
func (t *ResolveTicket) ExpiresAt() (time.Time, error) {
	ts, err := time.Parse(TicketTimeLayout, t.ExpiresAtUTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("contracts: bad expires_at_utc %q: %w", t.ExpiresAtUTC, err)
	}
	return ts, nil
}

// Clone returns a deep copy so callers can mutate without touching a signed value.
func (t ResolveTicket) Clone() ResolveTicket {
	if t.ViolatedRules != nil {
		t.ViolatedRules = append(make([]string, 0, len(t.ViolatedRules)), t.ViolatedRules...)
	}
	return t
}

// SignedTicket is the wire artifact: ticket, issuing key and detached signature.
// It carries no server-side state; verification is a pure function of it.
type SignedTicket struct {
	Ticket        ResolveTicket `json:"ticket"`
	ArbiterPubKey string        `json:"arbiter_pubkey"`
	Signature     string        `json:"ed25519_signature"`
}
