package domain

// Category is a reporting label for a rule. Categories carry no ordering or
// evaluation semantics.
type Category string

const (
	CategoryGeneric         Category = "generic"
	CategoryPayroll         Category = "payroll"
	CategoryBeneficiary     Category = "beneficiary"
	CategoryAccountTakeover Category = "account-takeover"
	CategoryCheck           Category = "check"
	CategoryChain           Category = "chain"
	CategoryOddHours        Category = "odd-hours"
	CategoryGeographic      Category = "geographic"
)

// RuleSpec configures one rule within a rule set.
type RuleSpec struct {
	ID       string   `json:"id"`
	Category Category `json:"category"`
	Weight   float64  `json:"weight"`
	Enabled  bool     `json:"enabled"`

	// Params are rule-specific tuning knobs (thresholds, windows).
	Params map[string]float64 `json:"params,omitempty"`

	// Expression, when set, defines a CEL rule instead of a built-in one.
	Expression string `json:"expression,omitempty"`
}

// Param returns a named parameter or the given default.
func (r *RuleSpec) Param(name string, def float64) float64 {
	if v, ok := r.Params[name]; ok {
		return v
	}
	return def
}

// RuleSet is the versioned, immutable rule configuration active at evaluation
// time. Scores are reconstructible only against the exact version that
// produced them, so the version and total weight travel with every
// RiskAssessment.
type RuleSet struct {
	Version string     `json:"version"`
	Rules   []RuleSpec `json:"rules"`

	Thresholds DecisionThresholds `json:"thresholds"`

	// ChainBlendWeight is the share of the final score contributed by chain
	// suspicion when chains are present. The remainder stays with the rule
	// score (rule-score dominant by default).
	ChainBlendWeight float64 `json:"chainBlendWeight"`

	// ModelBlendWeight is the share reserved for an optional secondary model
	// score. Zero disables model blending entirely.
	ModelBlendWeight float64 `json:"modelBlendWeight"`
}

// TotalWeight is the static sum of enabled rule weights. It is fixed per
// rule-set version.
func (rs *RuleSet) TotalWeight() float64 {
	var total float64
	for _, r := range rs.Rules {
		if r.Enabled {
			total += r.Weight
		}
	}
	return total
}

// DecisionThresholds holds the cost-benefit constants of the decision engine.
type DecisionThresholds struct {
	// HighValueOverride forces manual review at or above this amount.
	HighValueOverride float64 `json:"highValueOverride"`

	// Block is the risk score above which a transaction is blocked outright.
	Block float64 `json:"block"`

	// AnalystHourlyRate and AvgReviewMinutes define the review cost:
	// reviewCost = rate * minutes / 60.
	AnalystHourlyRate float64 `json:"analystHourlyRate"`
	AvgReviewMinutes  float64 `json:"avgReviewMinutes"`
}

// ReviewCost is the fixed cost of one manual review.
func (t DecisionThresholds) ReviewCost() float64 {
	return t.AnalystHourlyRate * t.AvgReviewMinutes / 60
}

// DefaultThresholds returns the stock decision constants.
func DefaultThresholds() DecisionThresholds {
	return DecisionThresholds{
		HighValueOverride: 50000,
		Block:             0.8,
		AnalystHourlyRate: 75,
		AvgReviewMinutes:  15,
	}
}
