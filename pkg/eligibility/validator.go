// Package eligibility gates whether a dispute may be arbitrated at all. It runs
// before any evidence analysis and never retries: every failure is a caller
// mistake, not a transient condition.
package eligibility

import (
	"fmt"
	"time"

	"github.com/Mindburn-Labs/arbiter/pkg/contracts"
	"github.com/Mindburn-Labs/arbiter/pkg/policy"
)

// Error codes, one per precondition.
const (
	ErrCodeEmptyDisputeID = "ELIGIBILITY_EMPTY_DISPUTE_ID"
	ErrCodeNoEvidence     = "ELIGIBILITY_NO_EVIDENCE"
	ErrCodeNotDisputed    = "ELIGIBILITY_NOT_DISPUTED"
	ErrCodeWindowOpen     = "ELIGIBILITY_WINDOW_OPEN"
)

// EligibilityError reports the first failed precondition.
type EligibilityError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *EligibilityError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Assessment is returned for an eligible dispute. Decision is the policy's
// advisory reading of the evidence; it does not bind the analyzer.
type Assessment struct {
	Facts    policy.Facts
	Decision policy.Decision
}

// Validator checks dispute preconditions against a fixed policy table.
type Validator struct {
	table         *policy.Table
	enforceWindow bool
	now           func() time.Time
}

// Option configures a Validator.
type Option func(*Validator)

// WithClock overrides the wall clock.
func WithClock(now func() time.Time) Option {
	return func(v *Validator) { v.now = now }
}

// WithDisputeWindow toggles the "dispute window has closed" check. It is on
// by default.
func WithDisputeWindow(enforce bool) Option {
	return func(v *Validator) { v.enforceWindow = enforce }
}

// NewValidator returns a validator bound to table.
func NewValidator(table *policy.Table, opts ...Option) *Validator {
	v := &Validator{
		table:         table,
		enforceWindow: true,
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Validate runs the checks in order and stops at the first violation:
// dispute id, evidence presence, status, then the dispute window.
func (v *Validator) Validate(d contracts.Dispute, evidence []contracts.EvidenceItem) (*Assessment, error) {
	if d.ID == "" {
		return nil, &EligibilityError{Code: ErrCodeEmptyDisputeID, Message: "empty dispute identifier"}
	}
	if len(evidence) == 0 {
		return nil, &EligibilityError{Code: ErrCodeNoEvidence, Message: "no evidence supplied"}
	}
	if !d.Status.Valid() {
		return nil, &EligibilityError{
			Code:    ErrCodeNotDisputed,
			Message: fmt.Sprintf("unknown dispute status %q", d.Status),
		}
	}
	if d.Status != contracts.StatusDisputed {
		return nil, &EligibilityError{
			Code:    ErrCodeNotDisputed,
			Message: fmt.Sprintf("dispute status is %q, want %q", d.Status, contracts.StatusDisputed),
		}
	}
	if v.enforceWindow && v.now().Before(d.DisputeBy) {
		return nil, &EligibilityError{Code: ErrCodeWindowOpen, Message: "dispute window not yet closed"}
	}

	facts := policy.FactsFrom(d, evidence)
	return &Assessment{
		Facts:    facts,
		Decision: v.table.Decide(facts),
	}, nil
}
