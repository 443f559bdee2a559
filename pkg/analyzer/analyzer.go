// Package analyzer obtains candidate verdicts from external reasoning
// services. Everything an analyzer returns is untrusted and must pass
// normalize.Normalizer before it can reach a ticket.
package analyzer

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"golang.org/x/text/unicode/norm"

	"github.com/Mindburn-Labs/arbiter/pkg/contracts"
	"github.com/Mindburn-Labs/arbiter/pkg/policy"
)

// ErrAnalysisUnavailable is returned once retries are exhausted or the
// backend cannot be reached at all.
var ErrAnalysisUnavailable = errors.New("analyzer: analysis unavailable")

// Request is the context handed to an analyzer.
type Request struct {
	Dispute  contracts.Dispute
	Evidence []contracts.EvidenceItem
	Policy   *policy.Table
	Decision *policy.Decision // advisory; may be nil
}

// Analyzer proposes a verdict for a dispute.
type Analyzer interface {
	Analyze(ctx context.Context, req Request) (*contracts.CandidateVerdict, error)
	Name() string
}

// HTTPError is a non-2xx response from an analyzer backend.
type HTTPError struct {
	Provider   string
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("%s: unexpected status %d: %s", e.Provider, e.StatusCode, e.Body)
}

// Temporary reports whether the request may succeed if repeated.
func (e *HTTPError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// Static returns the same proposal for every dispute.
type Static struct {
	Verdict contracts.CandidateVerdict
}

// Analyze implements Analyzer.
func (s Static) Analyze(ctx context.Context, _ Request) (*contracts.CandidateVerdict, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	v := s.Verdict
	v.ViolatedRules = append([]string(nil), s.Verdict.ViolatedRules...)
	return &v, nil
}

// Name implements Analyzer.
func (Static) Name() string { return "static" }

// Advisory proposes whatever the policy table decides on its own. It needs no
// network access and is the offline default.
type Advisory struct{}

// Analyze implements Analyzer.
func (Advisory) Analyze(ctx context.Context, req Request) (*contracts.CandidateVerdict, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if req.Policy == nil {
		return nil, errors.New("analyzer: advisory analysis needs a policy table")
	}
	d := req.Decision
	if d == nil {
		dec := req.Policy.Decide(policy.FactsFrom(req.Dispute, req.Evidence))
		d = &dec
	}

	v := &contracts.CandidateVerdict{
		Outcome:    d.Rule.Outcome,
		Reason:     truncateRunes(norm.NFC.String(d.Rule.Condition), contracts.MaxReasonLength),
		Rationale:  fmt.Sprintf("policy %s@%s matched rule %s (precedence %d)", req.Policy.Name(), req.Policy.Version(), d.Rule.ID, d.Rule.Precedence),
		Confidence: 0.9,
	}
	if d.Fallback {
		v.Confidence = 0.5
	} else {
		v.ViolatedRules = []string{d.Rule.ID}
	}
	if v.Reason == "" {
		v.Reason = d.Rule.ID
	}
	return v, nil
}

// Name implements Analyzer.
func (Advisory) Name() string { return "advisory" }

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
