// Package normalize turns an untrusted candidate verdict into a resolve ticket
// body, or rejects it. It bounds the shape of the verdict; it does not
// re-derive the policy decision.
package normalize

import (
	"fmt"
	"log/slog"
	"math"
	"regexp"
	"time"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"

	"github.com/Mindburn-Labs/arbiter/pkg/contracts"
	"github.com/Mindburn-Labs/arbiter/pkg/policy"
)

var noncePattern = regexp.MustCompile(`^[0-9]+$`)

// UnknownRuleHook receives rule identifiers that are not in the policy table.
type UnknownRuleHook func(dealID, ruleID string)

// Normalizer validates candidates against the ticket contract.
type Normalizer struct {
	table         *policy.Table
	logger        *slog.Logger
	onUnknownRule UnknownRuleHook
}

// Option configures a Normalizer.
type Option func(*Normalizer)

// WithLogger sets the audit logger.
func WithLogger(l *slog.Logger) Option {
	return func(n *Normalizer) { n.logger = l }
}

// WithUnknownRuleHook registers a callback for unknown rule identifiers.
func WithUnknownRuleHook(h UnknownRuleHook) Option {
	return func(n *Normalizer) { n.onUnknownRule = h }
}

// New returns a normalizer bound to table.
func New(table *policy.Table, opts ...Option) *Normalizer {
	n := &Normalizer{
		table:  table,
		logger: slog.Default().With("component", "normalize"),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Normalize checks candidate and assembles the ticket body for dispute with
// the given nonce and expiry. Rejections are *ValidationError.
//
// The reason must already be in Unicode NFC; it is signed byte for byte and
// its length is counted in code points. Nothing in a candidate is rewritten.
func (n *Normalizer) Normalize(candidate *contracts.CandidateVerdict, dispute contracts.Dispute, nonce string, expiry time.Time) (*contracts.ResolveTicket, error) {
	if candidate == nil {
		return nil, &ValidationError{Code: ErrCodeMalformedCandidate, Message: "candidate is nil"}
	}
	if dispute.ID == "" {
		return nil, &ValidationError{Code: ErrCodeMissingDeal, Field: "deal_id", Message: "dispute has no identifier"}
	}

	if !candidate.Outcome.Valid() {
		return nil, &ValidationError{
			Code:    ErrCodeBadOutcome,
			Field:   "outcome",
			Message: fmt.Sprintf("outcome %q is not one of RELEASE, REFUND", candidate.Outcome),
		}
	}

	reason := candidate.Reason
	if reason == "" {
		return nil, &ValidationError{Code: ErrCodeEmptyReason, Field: "reason", Message: "reason is empty"}
	}
	if !norm.NFC.IsNormalString(reason) {
		return nil, &ValidationError{Code: ErrCodeReasonNotNFC, Field: "reason", Message: "reason is not in Unicode NFC"}
	}
	if count := utf8.RuneCountInString(reason); count > contracts.MaxReasonLength {
		return nil, &ValidationError{
			Code:    ErrCodeReasonTooLong,
			Field:   "reason",
			Message: fmt.Sprintf("reason has %d characters, limit is %d", count, contracts.MaxReasonLength),
		}
	}

	c := candidate.Confidence
	if math.IsNaN(c) || c < 0 || c > 1 {
		return nil, &ValidationError{
			Code:    ErrCodeConfidenceRange,
			Field:   "confidence",
			Message: fmt.Sprintf("confidence %v is outside [0,1]", c),
		}
	}

	if !noncePattern.MatchString(nonce) {
		return nil, &ValidationError{Code: ErrCodeBadStamp, Field: "nonce", Message: fmt.Sprintf("nonce %q is not a decimal integer", nonce)}
	}
	if expiry.IsZero() {
		return nil, &ValidationError{Code: ErrCodeBadStamp, Field: "expires_at_utc", Message: "expiry is not set"}
	}

	rules := make([]string, 0, len(candidate.ViolatedRules))
	for _, id := range candidate.ViolatedRules {
		if !n.table.Has(id) {
			n.flagUnknownRule(dispute.ID, id)
		}
		rules = append(rules, id)
	}

	return &contracts.ResolveTicket{
		Schema:        contracts.TicketSchema,
		DealID:        dispute.ID,
		Outcome:       candidate.Outcome,
		ReasonShort:   reason,
		RationaleCID:  candidate.RationaleReference,
		ViolatedRules: rules,
		Confidence:    c,
		Nonce:         nonce,
		ExpiresAtUTC:  expiry.UTC().Truncate(time.Second).Format(contracts.TicketTimeLayout),
	}, nil
}

func (n *Normalizer) flagUnknownRule(dealID, ruleID string) {
	n.logger.Warn("candidate references rule outside policy table",
		"deal_id", dealID,
		"rule_id", ruleID,
		"policy_version", n.table.Version(),
	)
	if n.onUnknownRule != nil {
		n.onUnknownRule(dealID, ruleID)
	}
}
