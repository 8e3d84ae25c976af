package domain

// TypologyMatch records one rule that matched during a scoring run.
type TypologyMatch struct {
	RuleID       string `json:"ruleId"`
	Name         string `json:"name"`
	Contribution int    `json:"contribution"`
	Rationale    string `json:"rationale"`
}

// ScoreResult is the output of one scoring run. It is deterministic:
// same evidence + same rule-set version produce an identical result,
// so it deliberately carries no timestamps or random identifiers.
type ScoreResult struct {
	// Score is the capped additive aggregate, clamped to [0, 100].
	Score int `json:"score"`

	// RawScore is the pre-clamp sum of matched contributions.
	RawScore int `json:"rawScore"`

	// Matches is ordered by contribution descending, then rule ID
	// ascending. Never source insertion order.
	Matches []TypologyMatch `json:"matches"`

	// RuleSetVersion stamps which rule-set produced this result.
	RuleSetVersion string `json:"ruleSetVersion"`
}

// MaxScore is the clamp ceiling for aggregated scores.
const MaxScore = 100

// TypologyIDs returns the matched rule IDs in display order.
func (r *ScoreResult) TypologyIDs() []string {
	ids := make([]string, len(r.Matches))
	for i, m := range r.Matches {
		ids[i] = m.RuleID
	}
	return ids
}
