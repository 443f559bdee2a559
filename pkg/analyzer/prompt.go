package analyzer

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Mindburn-Labs/arbiter/pkg/contracts"
)

const systemPrompt = `You are an impartial escrow arbiter. Decide whether escrowed funds are
released to the seller (RELEASE) or refunded to the buyer (REFUND).
Apply the policy rules in precedence order: the highest-precedence rule whose
required evidence is present and credible decides the outcome.
Answer with a single JSON object and nothing else:
{"outcome":"RELEASE"|"REFUND","reason":"<at most 200 characters>","rationale":"<full reasoning>","violated_rules":["<rule id>"],"confidence":<number between 0 and 1>}`

type promptRule struct {
	ID               string   `json:"id"`
	Precedence       int      `json:"precedence"`
	Condition        string   `json:"condition"`
	Outcome          string   `json:"outcome"`
	RequiredEvidence []string `json:"required_evidence,omitempty"`
}

type promptContext struct {
	Policy struct {
		Name    string       `json:"name"`
		Version string       `json:"version"`
		Rules   []promptRule `json:"rules"`
	} `json:"policy"`
	AdvisoryRule string                   `json:"advisory_rule,omitempty"`
	Dispute      contracts.Dispute        `json:"dispute"`
	Evidence     []contracts.EvidenceItem `json:"evidence"`
}

// userPrompt renders the request as a JSON document for the model.
func userPrompt(req Request) (string, error) {
	var pc promptContext
	if req.Policy != nil {
		pc.Policy.Name = req.Policy.Name()
		pc.Policy.Version = req.Policy.Version()
		for _, r := range req.Policy.Rules() {
			pc.Policy.Rules = append(pc.Policy.Rules, promptRule{
				ID:               r.ID,
				Precedence:       r.Precedence,
				Condition:        r.Condition,
				Outcome:          string(r.Outcome),
				RequiredEvidence: r.RequiredEvidence,
			})
		}
	}
	if req.Decision != nil {
		pc.AdvisoryRule = req.Decision.Rule.ID
	}
	pc.Dispute = req.Dispute
	pc.Evidence = req.Evidence

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(pc); err != nil {
		return "", fmt.Errorf("analyzer: render prompt: %w", err)
	}
	return "Dispute context:\n" + buf.String(), nil
}

// extractJSON strips markdown fences and surrounding prose from a model reply.
func extractJSON(content string) string {
	s := strings.TrimSpace(content)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
		s = strings.TrimSpace(s)
	}
	if strings.HasPrefix(s, "{") {
		return s
	}
	start, end := strings.Index(s, "{"), strings.LastIndex(s, "}")
	if start >= 0 && end > start {
		return s[start : end+1]
	}
	return s
}
