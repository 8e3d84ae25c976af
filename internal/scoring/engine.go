// Package scoring provides the CEL-Go based typology scoring engine.
package scoring

import (
	"fmt"
	"sort"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"

	"github.com/opensource-finance/harrier/internal/domain"
)

// Engine compiles typology rule sets into evaluable snapshots. The
// engine itself holds no rules; a compiled Snapshot is immutable and
// safe for concurrent use.
type Engine struct {
	env *cel.Env
}

// NewEngine creates a scoring engine with the feature vocabulary
// available to rule predicates.
func NewEngine() (*Engine, error) {
	env, err := cel.NewEnv(
		cel.Variable("tx_count", cel.IntType),
		cel.Variable("total_amount", cel.DoubleType),
		cel.Variable("max_amount", cel.DoubleType),
		cel.Variable("min_amount", cel.DoubleType),
		cel.Variable("avg_amount", cel.DoubleType),
		cel.Variable("inbound_count", cel.IntType),
		cel.Variable("outbound_count", cel.IntType),
		cel.Variable("inbound_total", cel.DoubleType),
		cel.Variable("outbound_total", cel.DoubleType),
		cel.Variable("span_hours", cel.DoubleType),
		cel.Variable("channels", cel.ListType(cel.StringType)),
		cel.Variable("origin_countries", cel.ListType(cel.StringType)),
		cel.Variable("dest_countries", cel.ListType(cel.StringType)),
		cel.Variable("high_risk_dest_count", cel.IntType),
		cel.Variable("cash_count", cel.IntType),
		cel.Variable("wire_count", cel.IntType),
		cel.Variable("distinct_origin_accounts", cel.IntType),
		cel.Variable("narration", cel.StringType),
		cel.Variable("risk_tier", cel.StringType),
		cel.Variable("account_age_months", cel.IntType),
		cel.Variable("avg_monthly_volume", cel.DoubleType),
		cel.Variable("occupation", cel.StringType),
		cel.Variable("business_type", cel.StringType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Engine{env: env}, nil
}

// compiledRule pairs a typology rule with its compiled CEL program.
type compiledRule struct {
	rule    domain.TypologyRule
	program cel.Program
}

// Snapshot is an immutable compiled rule set. Scores produced against
// the same snapshot and the same evidence are identical regardless of
// when or where they are computed.
type Snapshot struct {
	ruleSet *domain.RuleSet
	rules   []compiledRule // sorted by rule ID
}

// Version returns the content hash of the underlying rule set.
func (s *Snapshot) Version() string { return s.ruleSet.Version }

// RuleSet returns the underlying rule set.
func (s *Snapshot) RuleSet() *domain.RuleSet { return s.ruleSet }

// RuleCount returns the number of enabled, compiled rules.
func (s *Snapshot) RuleCount() int { return len(s.rules) }

// Compile validates and compiles every enabled rule in the set. A
// single bad predicate fails the whole compilation; a snapshot is
// either fully usable or not produced at all.
func (e *Engine) Compile(rs *domain.RuleSet) (*Snapshot, error) {
	enabled := rs.EnabledRules()
	compiled := make([]compiledRule, 0, len(enabled))

	for _, rule := range enabled {
		if rule.ID == "" {
			return nil, fmt.Errorf("rule with empty id")
		}
		if rule.Contribution <= 0 || rule.Contribution > domain.MaxScore {
			return nil, fmt.Errorf("rule %s: contribution must be in (0, %d], got %d", rule.ID, domain.MaxScore, rule.Contribution)
		}

		ast, issues := e.env.Compile(rule.Predicate)
		if issues != nil && issues.Err() != nil {
			return nil, fmt.Errorf("failed to compile rule %s: %w", rule.ID, issues.Err())
		}
		if ast.OutputType() != cel.BoolType {
			return nil, fmt.Errorf("rule %s: predicate must return bool, got %s", rule.ID, ast.OutputType())
		}

		program, err := e.env.Program(ast)
		if err != nil {
			return nil, fmt.Errorf("failed to create program for rule %s: %w", rule.ID, err)
		}

		compiled = append(compiled, compiledRule{rule: rule, program: program})
	}

	sort.Slice(compiled, func(i, j int) bool {
		return compiled[i].rule.ID < compiled[j].rule.ID
	})

	return &Snapshot{ruleSet: rs, rules: compiled}, nil
}

// Score evaluates an evidence bundle against a compiled snapshot. It
// is a pure function of its inputs: no clock, no randomness, no
// external lookups. An empty bundle is valid and scores zero.
func Score(snap *Snapshot, evidence []domain.TransactionEvidence, profile *domain.CustomerProfile) (*domain.ScoreResult, error) {
	features, err := extractFeatures(evidence, profile, snap.ruleSet.HighRiskCountries)
	if err != nil {
		return nil, err
	}

	// An empty bundle scores zero no matter what the rule set says.
	// Rules are configuration; a profile-only predicate never opens a
	// case without transactions behind it.
	if len(evidence) == 0 {
		return &domain.ScoreResult{
			Matches:        make([]domain.TypologyMatch, 0),
			RuleSetVersion: snap.ruleSet.Version,
		}, nil
	}

	matches := make([]domain.TypologyMatch, 0)
	raw := 0

	for _, cr := range snap.rules {
		out, _, err := cr.program.Eval(features)
		if err != nil {
			return nil, fmt.Errorf("rule %s: evaluation failed: %w", cr.rule.ID, err)
		}
		hit, ok := out.(types.Bool)
		if !ok {
			return nil, fmt.Errorf("rule %s: predicate returned %T, want bool", cr.rule.ID, out)
		}
		if !bool(hit) {
			continue
		}

		raw += cr.rule.Contribution
		matches = append(matches, domain.TypologyMatch{
			RuleID:       cr.rule.ID,
			Name:         cr.rule.Name,
			Contribution: cr.rule.Contribution,
			Rationale:    renderRationale(cr.rule.Rationale, features),
		})
	}

	// Contribution descending, rule ID ascending on ties.
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Contribution != matches[j].Contribution {
			return matches[i].Contribution > matches[j].Contribution
		}
		return matches[i].RuleID < matches[j].RuleID
	})

	score := raw
	if score > domain.MaxScore {
		score = domain.MaxScore
	}

	return &domain.ScoreResult{
		Score:          score,
		RawScore:       raw,
		Matches:        matches,
		RuleSetVersion: snap.ruleSet.Version,
	}, nil
}
