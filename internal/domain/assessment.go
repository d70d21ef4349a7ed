package domain

import "time"

// Decision is the terminal disposition for a transaction. Every evaluation
// produces exactly one.
type Decision string

const (
	DecisionAutoApprove  Decision = "AUTO_APPROVE"
	DecisionManualReview Decision = "MANUAL_REVIEW"
	DecisionBlock        Decision = "BLOCK"
)

// TriggeredRule is the output of one rule firing during an evaluation.
type TriggeredRule struct {
	RuleID      string   `json:"ruleId"`
	Category    Category `json:"category"`
	Weight      float64  `json:"weight"`
	Explanation string   `json:"explanation"`
}

// RuleError records a predicate failure contained to a single rule.
type RuleError struct {
	RuleID string `json:"ruleId"`
	Error  string `json:"error"`
}

// CostBenefit holds the economics behind a decision.
type CostBenefit struct {
	ReviewCost   float64 `json:"reviewCost"`
	ExpectedLoss float64 `json:"expectedLoss"`
	NetBenefit   float64 `json:"netBenefit"`
}

// RiskAssessment is the append-only audit record for one evaluation.
// It carries everything needed to justify the decision without inspecting
// logs: triggered rules with explanations, chain findings, cost-benefit
// figures, and any incompleteness flags. TotalPossibleWeight accompanies the
// score so it stays reconstructible after rule-set changes.
type RiskAssessment struct {
	ID             string `json:"id"`
	TxID           string `json:"txId"`
	AccountID      string `json:"accountId"`
	RuleSetVersion string `json:"ruleSetVersion"`

	RiskScore  float64 `json:"riskScore"`
	RuleScore  float64 `json:"ruleScore"`
	ChainScore float64 `json:"chainScore"`

	TotalPossibleWeight float64 `json:"totalPossibleWeight"`

	Decision     Decision `json:"decision"`
	ReviewReason string   `json:"reviewReason,omitempty"`

	Triggered  []TriggeredRule `json:"triggeredRules"`
	RuleErrors []RuleError     `json:"ruleErrors,omitempty"`
	Chains     *ChainAnalysis  `json:"chains,omitempty"`

	CostBenefit CostBenefit `json:"costBenefit"`

	Incomplete       bool   `json:"incomplete"`
	IncompleteReason string `json:"incompleteReason,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
}

// AssessmentFilter selects assessments for audit queries.
type AssessmentFilter struct {
	TxID      string
	AccountID string
	Decision  Decision
	From      time.Time
	To        time.Time
	Limit     int
}
