package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
)

// TypologyRule is a named suspicious-behaviour pattern. Rules are
// configuration data: loaded at startup (or hot-reloaded), read-only
// during scoring.
type TypologyRule struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`

	// Predicate is a CEL expression over the evidence features and
	// customer profile. It must evaluate to a bool.
	Predicate string `json:"predicate"`

	// Contribution is the base score this rule adds when it matches.
	Contribution int `json:"contribution"`

	// Rationale is a human-readable template explaining the match.
	// Tokens like {tx_count} and {total_amount} are substituted with
	// the feature values observed during scoring.
	Rationale string `json:"rationale"`

	Enabled bool `json:"enabled"`
}

// RuleSet is one immutable, versioned collection of typology rules.
// A scoring call binds to exactly one RuleSet snapshot for its whole
// execution; concurrent reloads never affect in-flight scoring.
type RuleSet struct {
	// Version is the SHA-256 of the canonical rule JSON. Identical
	// rule content always yields an identical version, so historical
	// score results remain reproducible against the rule-set that
	// produced them.
	Version string `json:"version"`

	Rules []TypologyRule `json:"rules"`

	// HighRiskCountries feeds the high_risk_dest_count feature.
	// Versioned with the rules: changing the corridor list changes
	// the rule-set version.
	HighRiskCountries []string `json:"highRiskCountries,omitempty"`
}

// ruleSetDigest is the canonical form hashed into the version stamp.
type ruleSetDigest struct {
	Rules             []TypologyRule `json:"rules"`
	HighRiskCountries []string       `json:"highRiskCountries"`
}

// NewRuleSet builds a version-stamped rule set from rule content.
// Rules are sorted by ID so the version is independent of source
// ordering.
func NewRuleSet(rules []TypologyRule, highRiskCountries []string) (*RuleSet, error) {
	sorted := make([]TypologyRule, len(rules))
	copy(sorted, rules)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	countries := make([]string, len(highRiskCountries))
	copy(countries, highRiskCountries)
	sort.Strings(countries)

	canonical, err := json.Marshal(ruleSetDigest{
		Rules:             sorted,
		HighRiskCountries: countries,
	})
	if err != nil {
		return nil, err
	}

	sum := sha256.Sum256(canonical)

	return &RuleSet{
		Version:           hex.EncodeToString(sum[:]),
		Rules:             sorted,
		HighRiskCountries: countries,
	}, nil
}

// EnabledRules returns the enabled subset in ID order.
func (rs *RuleSet) EnabledRules() []TypologyRule {
	out := make([]TypologyRule, 0, len(rs.Rules))
	for _, r := range rs.Rules {
		if r.Enabled {
			out = append(out, r)
		}
	}
	return out
}
