// Package decision turns a risk score into a terminal disposition.
package decision

import (
	"fmt"

	"github.com/openrisk/kestrel/internal/domain"
)

// Outcome is the full result of one decision pass: the disposition, the
// reason behind it, and the economics that justified it.
type Outcome struct {
	Decision    domain.Decision
	Reason      string
	CostBenefit domain.CostBenefit
}

// Engine applies the decision ladder: incomplete evaluations fail closed,
// high-value transactions always get human eyes, scores above the block
// threshold are stopped outright, and everything else is decided on
// expected loss versus review cost.
type Engine struct {
	thresholds domain.DecisionThresholds
}

func New(t domain.DecisionThresholds) (*Engine, error) {
	if t.HighValueOverride <= 0 {
		return nil, domain.ConfigErrorf("high value override must be positive, got %f", t.HighValueOverride)
	}
	if t.Block <= 0 || t.Block > 1 {
		return nil, domain.ConfigErrorf("block threshold %f out of (0, 1]", t.Block)
	}
	if t.ReviewCost() <= 0 {
		return nil, domain.ConfigErrorf("review cost must be positive (rate %f, minutes %f)", t.AnalystHourlyRate, t.AvgReviewMinutes)
	}
	return &Engine{thresholds: t}, nil
}

// Decide evaluates one transaction and score. It always produces exactly
// one decision and always fills in the cost-benefit figures, including for
// overrides, so every audit record carries the economics.
func (e *Engine) Decide(tx *domain.Transaction, riskScore float64, incomplete bool, incompleteReason string) Outcome {
	cb := domain.CostBenefit{
		ReviewCost:   e.thresholds.ReviewCost(),
		ExpectedLoss: tx.Amount * riskScore,
	}
	cb.NetBenefit = cb.ExpectedLoss - cb.ReviewCost

	if incomplete {
		reason := "evaluation incomplete"
		if incompleteReason != "" {
			reason = fmt.Sprintf("evaluation incomplete: %s", incompleteReason)
		}
		return Outcome{Decision: domain.DecisionManualReview, Reason: reason, CostBenefit: cb}
	}

	if tx.Amount >= e.thresholds.HighValueOverride {
		return Outcome{
			Decision:    domain.DecisionManualReview,
			Reason:      fmt.Sprintf("amount %.2f meets high-value override %.2f", tx.Amount, e.thresholds.HighValueOverride),
			CostBenefit: cb,
		}
	}

	if riskScore > e.thresholds.Block {
		return Outcome{
			Decision:    domain.DecisionBlock,
			Reason:      fmt.Sprintf("risk score %.4f exceeds block threshold %.2f", riskScore, e.thresholds.Block),
			CostBenefit: cb,
		}
	}

	if cb.ExpectedLoss > cb.ReviewCost {
		return Outcome{
			Decision:    domain.DecisionManualReview,
			Reason:      fmt.Sprintf("expected loss %.2f exceeds review cost %.2f", cb.ExpectedLoss, cb.ReviewCost),
			CostBenefit: cb,
		}
	}

	return Outcome{Decision: domain.DecisionAutoApprove, CostBenefit: cb}
}
