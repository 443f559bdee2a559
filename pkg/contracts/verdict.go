package contracts

// Outcome is the settlement direction of a verdict.
type Outcome string

const (
	// OutcomeRelease settles in favour of the seller.
	OutcomeRelease Outcome = "RELEASE"
	// OutcomeRefund settles in favour of the buyer.
	OutcomeRefund Outcome = "REFUND"
)

// Valid reports whether o is exactly one of the two admissible outcomes.
func (o Outcome) Valid() bool {
	return o == OutcomeRelease || o == OutcomeRefund
}

// CandidateVerdict is a proposal from an external analyzer. Nothing in it is
// trusted until it has passed the normalizer.
type CandidateVerdict struct {
	Outcome            Outcome  `json:"outcome"`
	Reason             string   `json:"reason"`
	RationaleReference string   `json:"rationale_reference,omitempty"`
	Rationale          string   `json:"rationale,omitempty"`
	ViolatedRules      []string `json:"violated_rules,omitempty"`
	Confidence         float64  `json:"confidence"`
}
