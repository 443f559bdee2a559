package normalize

import "fmt"

// Validation error codes.
const (
	ErrCodeMalformedCandidate = "VALIDATION_MALFORMED_CANDIDATE"
	ErrCodeBadOutcome         = "VALIDATION_BAD_OUTCOME"
	ErrCodeEmptyReason        = "VALIDATION_EMPTY_REASON"
	ErrCodeReasonTooLong      = "VALIDATION_REASON_TOO_LONG"
	ErrCodeReasonNotNFC       = "VALIDATION_REASON_NOT_NFC"
	ErrCodeConfidenceRange    = "VALIDATION_CONFIDENCE_OUT_OF_RANGE"
	ErrCodeBadStamp           = "VALIDATION_BAD_STAMP"
	ErrCodeMissingDeal        = "VALIDATION_MISSING_DEAL"
)

// ValidationError rejects a candidate verdict. The normalizer never repairs a
// candidate, so there is no partially-accepted state.
type ValidationError struct {
	Code    string `json:"code"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s (field: %s)", e.Code, e.Message, e.Field)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}
