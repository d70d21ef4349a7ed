// Package rules provides the versioned rule catalog and evaluator.
package rules

import (
	"fmt"

	"github.com/openrisk/kestrel/internal/domain"
)

// Rule is the closed capability interface every detection rule implements.
// Predicates must be pure: no side effects, no I/O, deterministic for a given
// transaction, snapshot, and chain analysis.
type Rule interface {
	ID() string
	Category() domain.Category
	Weight() float64

	// Evaluate reports whether the rule fires. An error is contained to this
	// rule and never blanks out the rest of the evaluation.
	Evaluate(tx *domain.Transaction, snap *domain.ContextSnapshot, chains *domain.ChainAnalysis) (bool, error)

	// Explain produces the plain-language explanation recorded verbatim in
	// the audit record when the rule fires.
	Explain(tx *domain.Transaction, snap *domain.ContextSnapshot) string
}

// Predicate is the evaluation function of a predicateRule.
type Predicate func(tx *domain.Transaction, snap *domain.ContextSnapshot, chains *domain.ChainAnalysis) (bool, error)

// predicateRule adapts a pure function into a Rule.
type predicateRule struct {
	id       string
	category domain.Category
	weight   float64
	explain  string
	fn       Predicate
}

func newPredicateRule(spec domain.RuleSpec, explain string, fn Predicate) Rule {
	return &predicateRule{
		id:       spec.ID,
		category: spec.Category,
		weight:   spec.Weight,
		explain:  explain,
		fn:       fn,
	}
}

func (r *predicateRule) ID() string                { return r.id }
func (r *predicateRule) Category() domain.Category { return r.category }
func (r *predicateRule) Weight() float64           { return r.weight }

func (r *predicateRule) Evaluate(tx *domain.Transaction, snap *domain.ContextSnapshot, chains *domain.ChainAnalysis) (bool, error) {
	return r.fn(tx, snap, chains)
}

func (r *predicateRule) Explain(tx *domain.Transaction, snap *domain.ContextSnapshot) string {
	return r.explain
}

// Constructor builds a Rule from its spec. Registered per built-in rule ID.
type Constructor func(spec domain.RuleSpec) (Rule, error)

var registry = map[string]Constructor{}

func register(id string, c Constructor) {
	if _, dup := registry[id]; dup {
		panic(fmt.Sprintf("rules: duplicate registration for %q", id))
	}
	registry[id] = c
}

// Build resolves a rule spec into a Rule: CEL expression rules compile their
// expression, built-in rules come from the registry. Unknown IDs are
// configuration errors.
func Build(spec domain.RuleSpec) (Rule, error) {
	if spec.ID == "" {
		return nil, domain.ConfigErrorf("rule spec missing id")
	}
	if spec.Weight <= 0 {
		return nil, domain.ConfigErrorf("rule %s: weight must be positive", spec.ID)
	}
	if spec.Expression != "" {
		return NewCELRule(spec)
	}
	c, ok := registry[spec.ID]
	if !ok {
		return nil, domain.ConfigErrorf("unknown rule id %q and no expression given", spec.ID)
	}
	return c(spec)
}
