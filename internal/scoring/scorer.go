// Package scoring combines triggered rule weights and chain suspicion into
// a single normalized risk score.
package scoring

import (
	"context"
	"log/slog"
	"math"

	"github.com/openrisk/kestrel/internal/domain"
)

// ModelScorer is an optional secondary scorer (e.g. a trained model served
// out of process). A failing model never fails the evaluation.
type ModelScorer interface {
	Score(ctx context.Context, tx *domain.Transaction, snap *domain.ContextSnapshot) (float64, error)
}

// Breakdown is the decomposed result of one scoring pass. All components
// are in [0, 1].
type Breakdown struct {
	RuleScore  float64
	ChainScore float64
	ModelScore float64
	RiskScore  float64
}

// Scorer normalizes triggered weight against the rule set's total possible
// weight and blends in chain suspicion when chains are present. The rule
// score stays dominant.
type Scorer struct {
	totalWeight float64
	chainBlend  float64
	modelBlend  float64

	model  ModelScorer
	logger *slog.Logger
}

// New builds a scorer for one rule-set version. A rule set whose enabled
// weights sum to zero cannot produce meaningful scores and is rejected.
func New(rs *domain.RuleSet, model ModelScorer, logger *slog.Logger) (*Scorer, error) {
	total := rs.TotalWeight()
	if total <= 0 {
		return nil, domain.ConfigErrorf("rule set %s has zero total weight", rs.Version)
	}
	if rs.ChainBlendWeight < 0 || rs.ChainBlendWeight > 1 {
		return nil, domain.ConfigErrorf("chain blend weight %f out of range", rs.ChainBlendWeight)
	}
	if rs.ModelBlendWeight < 0 || rs.ModelBlendWeight > 1 {
		return nil, domain.ConfigErrorf("model blend weight %f out of range", rs.ModelBlendWeight)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scorer{
		totalWeight: total,
		chainBlend:  rs.ChainBlendWeight,
		modelBlend:  rs.ModelBlendWeight,
		model:       model,
		logger:      logger,
	}, nil
}

// TotalWeight is the denominator of the rule score, fixed per rule-set
// version.
func (s *Scorer) TotalWeight() float64 { return s.totalWeight }

// Score computes the risk breakdown for one evaluation. Identical inputs
// always produce the identical breakdown.
func (s *Scorer) Score(ctx context.Context, tx *domain.Transaction, snap *domain.ContextSnapshot, triggered []domain.TriggeredRule, chains *domain.ChainAnalysis) Breakdown {
	var sum float64
	for _, tr := range triggered {
		sum += tr.Weight
	}

	b := Breakdown{
		RuleScore: clamp01(sum / s.totalWeight),
	}
	b.RiskScore = b.RuleScore

	if chains != nil && chains.HasFindings() && s.chainBlend > 0 {
		b.ChainScore = clamp01(chains.MaxSuspicion)
		b.RiskScore = (1-s.chainBlend)*b.RuleScore + s.chainBlend*b.ChainScore
	}

	if s.model != nil && s.modelBlend > 0 {
		ms, err := s.model.Score(ctx, tx, snap)
		if err != nil {
			s.logger.Warn("model scorer failed, continuing with rule score",
				"tx_id", tx.ID, "error", err)
		} else {
			b.ModelScore = clamp01(ms)
			b.RiskScore = (1-s.modelBlend)*b.RiskScore + s.modelBlend*b.ModelScore
		}
	}

	b.RiskScore = clamp01(b.RiskScore)
	return b
}

func clamp01(v float64) float64 {
	return math.Min(1.0, math.Max(0.0, v))
}
