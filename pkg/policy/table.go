// Package policy holds the versioned, precedence-ordered rule table that
// defines which verdicts are admissible and how competing rules are ranked.
//
// A Table is immutable once built. A new policy version replaces the old one
// wholesale; rules are never edited in place.
package policy

import (
	"fmt"
	"sort"

	"github.com/Masterminds/semver/v3"

	"github.com/Mindburn-Labs/arbiter/pkg/contracts"
)

// Rule maps a named trigger condition to an outcome and a precedence rank.
type Rule struct {
	ID               string            `yaml:"id" json:"id"`
	Precedence       int               `yaml:"precedence" json:"precedence"` // Higher wins
	Condition        string            `yaml:"condition" json:"condition"`
	Outcome          contracts.Outcome `yaml:"outcome" json:"outcome"`
	RequiredEvidence []string          `yaml:"required_evidence,omitempty" json:"required_evidence,omitempty"`
	When             string            `yaml:"when,omitempty" json:"when,omitempty"` // Optional CEL guard
}

// IsDefault reports whether the rule is a catch-all (no evidence required).
func (r Rule) IsDefault() bool {
	return len(r.RequiredEvidence) == 0
}

// Table is an immutable, validated policy version.
type Table struct {
	name    string
	version *semver.Version
	rules   []Rule // sorted by precedence, descending
	byID    map[string]int
	guards  map[string]*guard
}

// NewTable validates rules and returns the table. Validation enforces:
//   - a semantic version
//   - unique, non-empty rule ids
//   - pairwise distinct precedences
//   - outcomes in {RELEASE, REFUND}
//   - exactly one rule without required evidence, ranked lowest
func NewTable(name, version string, rules []Rule) (*Table, error) {
	v, err := semver.NewVersion(version)
	if err != nil {
		return nil, fmt.Errorf("policy: invalid version %q: %w", version, err)
	}
	if len(rules) == 0 {
		return nil, fmt.Errorf("policy: %s@%s has no rules", name, version)
	}

	sorted := make([]Rule, len(rules))
	for i, r := range rules {
		sorted[i] = cloneRule(r)
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Precedence > sorted[j].Precedence
	})

	t := &Table{
		name:    name,
		version: v,
		rules:   sorted,
		byID:    make(map[string]int, len(sorted)),
		guards:  make(map[string]*guard),
	}

	seenPrecedence := make(map[int]string, len(sorted))
	defaults := 0
	for i, r := range sorted {
		if r.ID == "" {
			return nil, fmt.Errorf("policy: rule at rank %d has empty id", i)
		}
		if _, dup := t.byID[r.ID]; dup {
			return nil, fmt.Errorf("policy: duplicate rule id %q", r.ID)
		}
		if other, dup := seenPrecedence[r.Precedence]; dup {
			return nil, fmt.Errorf("policy: rules %q and %q share precedence %d", other, r.ID, r.Precedence)
		}
		if !r.Outcome.Valid() {
			return nil, fmt.Errorf("policy: rule %q has invalid outcome %q", r.ID, r.Outcome)
		}
		if r.IsDefault() {
			defaults++
		}
		if r.When != "" {
			g, err := compileGuard(r.When)
			if err != nil {
				return nil, fmt.Errorf("policy: rule %q: %w", r.ID, err)
			}
			t.guards[r.ID] = g
		}
		t.byID[r.ID] = i
		seenPrecedence[r.Precedence] = r.ID
	}

	if defaults != 1 {
		return nil, fmt.Errorf("policy: expected exactly one default rule without required evidence, found %d", defaults)
	}
	if last := sorted[len(sorted)-1]; !last.IsDefault() {
		return nil, fmt.Errorf("policy: default rule must have the lowest precedence, %q ranks below it", last.ID)
	}
	if def := sorted[len(sorted)-1]; t.guards[def.ID] != nil {
		return nil, fmt.Errorf("policy: default rule %q must not carry a guard", def.ID)
	}

	return t, nil
}

// Name returns the policy name.
func (t *Table) Name() string { return t.name }

// Version returns the semantic version string of the table.
func (t *Table) Version() string { return t.version.String() }

// SemVer returns the parsed version.
func (t *Table) SemVer() *semver.Version { return t.version }

// Rules returns the rules sorted by descending precedence. The slice is a copy.
func (t *Table) Rules() []Rule {
	out := make([]Rule, len(t.rules))
	for i, r := range t.rules {
		out[i] = cloneRule(r)
	}
	return out
}

// ByID looks a rule up by identifier.
func (t *Table) ByID(id string) (Rule, bool) {
	i, ok := t.byID[id]
	if !ok {
		return Rule{}, false
	}
	return cloneRule(t.rules[i]), true
}

// Has reports whether id names a rule of this table.
func (t *Table) Has(id string) bool {
	_, ok := t.byID[id]
	return ok
}

// Default returns the catch-all rule.
func (t *Table) Default() Rule {
	return cloneRule(t.rules[len(t.rules)-1])
}

// Resolve picks the winning rule among ids by precedence. Unknown ids are
// ignored; ok is false when none of them is known.
func (t *Table) Resolve(ids []string) (Rule, bool) {
	best := -1
	for _, id := range ids {
		i, ok := t.byID[id]
		if !ok {
			continue
		}
		// rules are sorted descending, so a lower index wins
		if best == -1 || i < best {
			best = i
		}
	}
	if best == -1 {
		return Rule{}, false
	}
	return cloneRule(t.rules[best]), true
}

func cloneRule(r Rule) Rule {
	if r.RequiredEvidence != nil {
		r.RequiredEvidence = append([]string(nil), r.RequiredEvidence...)
	}
	return r
}
