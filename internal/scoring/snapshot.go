package scoring

import (
	"encoding/json"
	"fmt"
	"os"
	"sync/atomic"

	"github.com/opensource-finance/harrier/internal/domain"
)

// Registry holds the active compiled snapshot and supports hot reload.
// Swaps are atomic: a scoring call that already fetched a snapshot
// keeps using it; the next call sees the new one.
type Registry struct {
	engine  *Engine
	current atomic.Pointer[Snapshot]
}

// NewRegistry creates a registry with the given rule set loaded.
func NewRegistry(engine *Engine, rs *domain.RuleSet) (*Registry, error) {
	r := &Registry{engine: engine}
	if err := r.Reload(rs); err != nil {
		return nil, err
	}
	return r, nil
}

// Current returns the active snapshot.
func (r *Registry) Current() *Snapshot {
	return r.current.Load()
}

// Reload compiles a rule set and swaps it in. On compile failure the
// previous snapshot stays active.
func (r *Registry) Reload(rs *domain.RuleSet) error {
	snap, err := r.engine.Compile(rs)
	if err != nil {
		return err
	}
	r.current.Store(snap)
	return nil
}

// ruleFile is the on-disk rule configuration format.
type ruleFile struct {
	Rules             []domain.TypologyRule `json:"rules"`
	HighRiskCountries []string              `json:"highRiskCountries"`
}

// LoadRuleFile reads a JSON rule file and builds a versioned rule set.
func LoadRuleFile(path string) (*domain.RuleSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rule file: %w", err)
	}

	var rf ruleFile
	if err := json.Unmarshal(data, &rf); err != nil {
		return nil, fmt.Errorf("failed to parse rule file %s: %w", path, err)
	}
	if len(rf.Rules) == 0 {
		return nil, fmt.Errorf("rule file %s contains no rules", path)
	}

	return domain.NewRuleSet(rf.Rules, rf.HighRiskCountries)
}
