package contracts

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// DisputeStatus is the escrow lifecycle state of a deal.
type DisputeStatus string

const (
	StatusInit     DisputeStatus = "Init"
	StatusFunded   DisputeStatus = "Funded"
	StatusDisputed DisputeStatus = "Disputed"
	StatusResolved DisputeStatus = "Resolved"
	StatusReleased DisputeStatus = "Released"
	StatusRefunded DisputeStatus = "Refunded"
)

var knownStatuses = map[DisputeStatus]bool{
	StatusInit:     true,
	StatusFunded:   true,
	StatusDisputed: true,
	StatusResolved: true,
	StatusReleased: true,
	StatusRefunded: true,
}

// Valid reports whether s is one of the fixed lifecycle states.
func (s DisputeStatus) Valid() bool {
	return knownStatuses[s]
}

// ParseDisputeStatus accepts the canonical spelling, case-insensitively.
func ParseDisputeStatus(raw string) (DisputeStatus, error) {
	if s := DisputeStatus(raw); s.Valid() {
		return s, nil
	}
	for s := range knownStatuses {
		if strings.EqualFold(string(s), raw) {
			return s, nil
		}
	}
	return "", fmt.Errorf("contracts: unknown dispute status %q", raw)
}

// Dispute is the escrow deal under arbitration. It is owned by the caller.
type Dispute struct {
	ID        string          `json:"deal_id"`
	Seller    string          `json:"seller"`
	Buyer     string          `json:"buyer"`
	Amount    decimal.Decimal `json:"amount"`
	Asset     string          `json:"asset"`
	DisputeBy time.Time       `json:"dispute_by"`
	FeeRate   decimal.Decimal `json:"fee_rate"`
	CreatedAt time.Time       `json:"created_at"`
	Status    DisputeStatus   `json:"status"`
}
