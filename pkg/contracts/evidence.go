package contracts

import "time"

// Role identifies which party submitted a piece of evidence.
type Role string

const (
	RoleSeller Role = "seller"
	RoleBuyer  Role = "buyer"
)

// EvidenceItem is a single attachment on a dispute. The content itself lives in
// a content-addressed store; only its identifier travels with the dispute.
type EvidenceItem struct {
	CID           string    `json:"cid"`
	Type          string    `json:"type"` // evidence tag, e.g. "tracking", "photo"
	Description   string    `json:"description"`
	Submitter     Role      `json:"submitter"`
	SubmittedAt   time.Time `json:"submitted_at"`
	ExtractedText string    `json:"extracted_text,omitempty"`
}
