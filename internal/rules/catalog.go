package rules

import (
	"errors"
	"fmt"

	"github.com/openrisk/kestrel/internal/domain"
)

// Catalog is the ordered, versioned set of active rules. It is immutable
// after construction; swapping rule sets means building a new catalog.
type Catalog struct {
	version     string
	rules       []Rule
	totalWeight float64
}

// NewCatalog validates and compiles a rule set. A rule set whose enabled
// weights sum to zero is a fatal configuration error: it would make every
// score undefined, so it is rejected at startup rather than per transaction.
func NewCatalog(rs *domain.RuleSet) (*Catalog, error) {
	if rs == nil || rs.Version == "" {
		return nil, domain.ConfigErrorf("rule set version is required")
	}

	c := &Catalog{version: rs.Version}
	for _, spec := range rs.Rules {
		if !spec.Enabled {
			continue
		}
		rule, err := Build(spec)
		if err != nil {
			return nil, fmt.Errorf("rule set %s: %w", rs.Version, err)
		}
		c.rules = append(c.rules, rule)
		c.totalWeight += rule.Weight()
	}

	if c.totalWeight <= 0 {
		return nil, domain.ConfigErrorf("rule set %s has zero total weight", rs.Version)
	}
	return c, nil
}

// Version returns the rule-set version this catalog was built from.
func (c *Catalog) Version() string { return c.version }

// TotalWeight is the static sum of active rule weights for this version.
func (c *Catalog) TotalWeight() float64 { return c.totalWeight }

// Len returns the number of active rules.
func (c *Catalog) Len() int { return len(c.rules) }

// EvaluateAll runs every rule in catalog order. Deterministic and free of
// side effects: identical inputs always produce the identical triggered list.
// A predicate error is recorded against its rule and evaluation continues.
func (c *Catalog) EvaluateAll(tx *domain.Transaction, snap *domain.ContextSnapshot, chains *domain.ChainAnalysis) ([]domain.TriggeredRule, []domain.RuleError) {
	var triggered []domain.TriggeredRule
	var ruleErrs []domain.RuleError

	for _, rule := range c.rules {
		fired, err := rule.Evaluate(tx, snap, chains)
		if err != nil {
			ruleErrs = append(ruleErrs, domain.RuleError{
				RuleID: rule.ID(),
				Error:  fmt.Errorf("%w: %v", domain.ErrRuleEvaluation, err).Error(),
			})
			continue
		}
		if !fired {
			continue
		}
		triggered = append(triggered, domain.TriggeredRule{
			RuleID:      rule.ID(),
			Category:    rule.Category(),
			Weight:      rule.Weight(),
			Explanation: rule.Explain(tx, snap),
		})
	}
	return triggered, ruleErrs
}

// IsConfigError reports whether an error from catalog construction is a
// configuration problem (as opposed to an environmental one).
func IsConfigError(err error) bool {
	return errors.Is(err, domain.ErrConfiguration)
}
