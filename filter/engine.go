package filter

import (
	"sort"
	"sync"

	"shadowrunner/capture"
)

// Engine evaluates prioritized rules to decide which interactions are worth
// keeping. Evaluation order is descending priority; rules sharing a
// priority keep their insertion order, so ties are never ambiguous.
type Engine struct {
	mu    sync.RWMutex
	rules []*Rule
}

// NewEngine returns an engine with no rules. With no rules every
// interaction is captured.
func NewEngine() *Engine {
	return &Engine{}
}

// NewDefaultEngine returns an engine loaded with the stock rule set.
func NewDefaultEngine() *Engine {
	e := NewEngine()
	for _, r := range DefaultRules() {
		e.AddRule(r)
	}
	return e
}

// AddRule registers r, replacing any rule with the same name, and re-sorts
// the rule list by priority.
func (e *Engine) AddRule(r *Rule) {
	if r == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.removeLocked(r.Name)
	e.rules = append(e.rules, r)
	sort.SliceStable(e.rules, func(i, j int) bool {
		return e.rules[i].Priority > e.rules[j].Priority
	})
}

// RemoveRule drops the named rule. It reports whether a rule was removed.
func (e *Engine) RemoveRule(name string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.removeLocked(name)
}

func (e *Engine) removeLocked(name string) bool {
	for i, r := range e.rules {
		if r.Name == name {
			e.rules = append(e.rules[:i], e.rules[i+1:]...)
			return true
		}
	}
	return false
}

// EnableRule activates the named rule. It reports whether the rule exists.
func (e *Engine) EnableRule(name string) bool {
	return e.setActive(name, true)
}

// DisableRule deactivates the named rule without removing it.
func (e *Engine) DisableRule(name string) bool {
	return e.setActive(name, false)
}

func (e *Engine) setActive(name string, active bool) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, r := range e.rules {
		if r.Name == name {
			r.active = active
			return true
		}
	}
	return false
}

// Rules returns the current rule list in evaluation order.
func (e *Engine) Rules() []*Rule {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]*Rule, len(e.rules))
	copy(out, e.rules)
	return out
}

// ShouldCapture reports whether ix passes the rule set. The first active
// matching exclude rule vetoes immediately. An include match keeps the
// tentative verdict true but evaluation continues, so a lower-priority
// exclude can still veto. With no matching rule the interaction is kept.
func (e *Engine) ShouldCapture(ix *capture.CapturedInteraction) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.evaluate(ix, nil)
}

// evaluate walks rules in priority order. counts, when non-nil, receives a
// tally per matched rule name. Rules after an exclude short-circuit are not
// counted, mirroring what evaluation actually touched.
func (e *Engine) evaluate(ix *capture.CapturedInteraction, counts map[string]int) bool {
	for _, r := range e.rules {
		if !r.active || !r.Matches(ix) {
			continue
		}
		if counts != nil {
			counts[r.Name]++
		}
		if r.Action == Exclude {
			return false
		}
	}
	return true
}

// Statistics summarizes a filter audit over a batch of interactions:
// how many would be captured versus excluded, and which rules matched how
// often. The audit does not alter engine state.
type Statistics struct {
	Total       int            `json:"total"`
	Captured    int            `json:"captured"`
	Excluded    int            `json:"excluded"`
	RuleMatches map[string]int `json:"rule_matches"`
}

// Statistics audits the given interactions against the current rule set.
func (e *Engine) Statistics(ixs []*capture.CapturedInteraction) Statistics {
	e.mu.RLock()
	defer e.mu.RUnlock()
	stats := Statistics{RuleMatches: make(map[string]int)}
	for _, ix := range ixs {
		stats.Total++
		if e.evaluate(ix, stats.RuleMatches) {
			stats.Captured++
		} else {
			stats.Excluded++
		}
	}
	return stats
}
