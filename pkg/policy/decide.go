package policy

import (
	"sort"
	"strings"

	"github.com/Mindburn-Labs/arbiter/pkg/contracts"
)

// Facts is the evidence summary a rule is matched against.
type Facts struct {
	Tags   []string
	Roles  []string
	Text   string
	Amount float64
}

// FactsFrom summarises a dispute and its evidence. Tags and roles are
// de-duplicated and sorted so the summary is independent of evidence order.
func FactsFrom(d contracts.Dispute, evidence []contracts.EvidenceItem) Facts {
	tags := make(map[string]bool)
	roles := make(map[string]bool)
	var text []string
	for _, e := range evidence {
		if e.Type != "" {
			tags[strings.ToLower(e.Type)] = true
		}
		if e.Submitter != "" {
			roles[string(e.Submitter)] = true
		}
		if e.Description != "" {
			text = append(text, e.Description)
		}
		if e.ExtractedText != "" {
			text = append(text, e.ExtractedText)
		}
	}
	return Facts{
		Tags:   sortedKeys(tags),
		Roles:  sortedKeys(roles),
		Text:   strings.ToLower(strings.Join(text, "\n")),
		Amount: d.Amount.InexactFloat64(),
	}
}

// Decision is the advisory result of matching facts against the table.
type Decision struct {
	Rule      Rule
	Satisfied []Rule // every satisfied rule, highest precedence first
	Fallback  bool   // true when only the default rule applied
}

// Decide returns the highest-precedence rule whose evidence requirements and
// guard are met by f, falling back to the default rule.
func (t *Table) Decide(f Facts) Decision {
	have := make(map[string]bool, len(f.Tags))
	for _, tag := range f.Tags {
		have[strings.ToLower(tag)] = true
	}

	var satisfied []Rule
	for _, r := range t.rules {
		if r.IsDefault() {
			continue
		}
		if !coversAll(have, r.RequiredEvidence) {
			continue
		}
		if g := t.guards[r.ID]; g != nil && !g.holds(f) {
			continue
		}
		satisfied = append(satisfied, cloneRule(r))
	}

	if len(satisfied) == 0 {
		def := t.Default()
		return Decision{Rule: def, Satisfied: []Rule{def}, Fallback: true}
	}
	return Decision{Rule: satisfied[0], Satisfied: satisfied}
}

func coversAll(have map[string]bool, required []string) bool {
	for _, tag := range required {
		if !have[strings.ToLower(tag)] {
			return false
		}
	}
	return true
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
