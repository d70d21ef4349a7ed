// Package pipeline orchestrates one transaction evaluation end to end:
// snapshot, rules, chains, scoring, decision, and the audit commit.
package pipeline

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/openrisk/kestrel/internal/chain"
	"github.com/openrisk/kestrel/internal/decision"
	"github.com/openrisk/kestrel/internal/domain"
	"github.com/openrisk/kestrel/internal/metrics"
	"github.com/openrisk/kestrel/internal/rules"
	"github.com/openrisk/kestrel/internal/scoring"
	"github.com/openrisk/kestrel/internal/signal"
)

var tracer = otel.Tracer("kestrel-pipeline")

// bundle is one immutable rule-set view: catalog, scorer, and decision
// engine built from the same version. Evaluations load the bundle once so
// a concurrent reload never mixes versions mid-flight.
type bundle struct {
	catalog *rules.Catalog
	scorer  *scoring.Scorer
	engine  *decision.Engine
}

func buildBundle(rs *domain.RuleSet, model scoring.ModelScorer, logger *slog.Logger) (*bundle, error) {
	catalog, err := rules.NewCatalog(rs)
	if err != nil {
		return nil, err
	}
	scorer, err := scoring.New(rs, model, logger)
	if err != nil {
		return nil, err
	}
	engine, err := decision.New(rs.Thresholds)
	if err != nil {
		return nil, err
	}
	return &bundle{catalog: catalog, scorer: scorer, engine: engine}, nil
}

// Pipeline evaluates transactions against one rule-set version. Stages run
// in a fixed order so identical inputs always produce identical assessments.
type Pipeline struct {
	aggregator *signal.Aggregator
	analyzer   *chain.Analyzer

	current atomic.Pointer[bundle]
	model   scoring.ModelScorer

	repo domain.Repository
	bus  domain.EventBus

	maxRetries uint64
	logger     *slog.Logger
}

// New wires the evaluation stages together around an initial rule set.
// The bus and model are optional; everything else is required.
func New(
	aggregator *signal.Aggregator,
	analyzer *chain.Analyzer,
	rs *domain.RuleSet,
	model scoring.ModelScorer,
	repo domain.Repository,
	bus domain.EventBus,
	maxRetries int,
	logger *slog.Logger,
) (*Pipeline, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if maxRetries < 0 {
		maxRetries = 0
	}

	b, err := buildBundle(rs, model, logger)
	if err != nil {
		return nil, err
	}

	p := &Pipeline{
		aggregator: aggregator,
		analyzer:   analyzer,
		model:      model,
		repo:       repo,
		bus:        bus,
		maxRetries: uint64(maxRetries),
		logger:     logger,
	}
	p.current.Store(b)
	return p, nil
}

// Reload atomically swaps in a new rule-set version. The incoming set is
// fully validated before the swap; in-flight evaluations finish on the
// version they started with.
func (p *Pipeline) Reload(rs *domain.RuleSet) error {
	b, err := buildBundle(rs, p.model, p.logger)
	if err != nil {
		return err
	}
	old := p.current.Swap(b)
	p.logger.Info("rule set reloaded",
		"version", rs.Version,
		"previous_version", old.catalog.Version(),
		"rules", b.catalog.Len(),
	)
	return nil
}

// Version returns the active rule-set version.
func (p *Pipeline) Version() string {
	return p.current.Load().catalog.Version()
}

// Evaluate runs one transaction through the pipeline and commits the audit
// record. Returning without error means the assessment is durably stored;
// a store failure at the commit point fails the whole evaluation.
func (p *Pipeline) Evaluate(ctx context.Context, tx *domain.Transaction) (*domain.RiskAssessment, error) {
	start := time.Now()

	ctx, span := tracer.Start(ctx, "pipeline.evaluate")
	defer span.End()

	p.normalize(tx)
	span.SetAttributes(
		attribute.String("tx.id", tx.ID),
		attribute.String("tx.account_id", tx.AccountID),
		attribute.Float64("tx.amount", tx.Amount),
	)

	// Persist the transaction up front so it is durable and queryable even
	// when the evaluation later fails. The aggregator and chain analyzer
	// both exclude the in-flight transaction by id.
	if err := p.saveTransaction(ctx, tx); err != nil {
		p.logger.Warn("transaction save failed, continuing evaluation",
			"tx_id", tx.ID, "error", err)
	}

	b := p.current.Load()

	snap := p.stageSnapshot(ctx, tx)
	analysis := p.stageChains(ctx, tx)
	triggered, ruleErrors := p.stageRules(ctx, b, tx, snap, analysis)
	breakdown := b.scorer.Score(ctx, tx, snap, triggered, analysis)

	incomplete, reason := incompleteness(snap, analysis)
	outcome := b.engine.Decide(tx, breakdown.RiskScore, incomplete, reason)

	assessment := &domain.RiskAssessment{
		ID:                  uuid.New().String(),
		TxID:                tx.ID,
		AccountID:           tx.AccountID,
		RuleSetVersion:      b.catalog.Version(),
		RiskScore:           breakdown.RiskScore,
		RuleScore:           breakdown.RuleScore,
		ChainScore:          breakdown.ChainScore,
		TotalPossibleWeight: b.scorer.TotalWeight(),
		Decision:            outcome.Decision,
		ReviewReason:        outcome.Reason,
		Triggered:           triggered,
		RuleErrors:          ruleErrors,
		CostBenefit:         outcome.CostBenefit,
		Incomplete:          incomplete,
		IncompleteReason:    reason,
		CreatedAt:           time.Now().UTC(),
	}
	if analysis != nil && (analysis.HasFindings() || analysis.Incomplete) {
		assessment.Chains = analysis
	}

	if err := p.commit(ctx, assessment); err != nil {
		p.logger.Error("assessment commit failed",
			"tx_id", tx.ID, "error", err)
		return nil, err
	}

	p.record(assessment, start)
	p.publish(ctx, assessment)

	p.logger.Info("transaction evaluated",
		"tx_id", tx.ID,
		"account_id", tx.AccountID,
		"decision", assessment.Decision,
		"risk_score", assessment.RiskScore,
		"rules_triggered", len(triggered),
		"chain_findings", len(triggeredChainFindings(analysis)),
		"incomplete", incomplete,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return assessment, nil
}

func (p *Pipeline) normalize(tx *domain.Transaction) {
	if tx.ID == "" {
		tx.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if tx.Timestamp.IsZero() {
		tx.Timestamp = now
	}
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = now
	}
}

func (p *Pipeline) saveTransaction(ctx context.Context, tx *domain.Transaction) error {
	err := p.repo.SaveTransaction(ctx, tx)
	if err == nil {
		return nil
	}
	// Re-evaluation of a known transaction is fine.
	if existing, getErr := p.repo.GetTransaction(ctx, tx.ID); getErr == nil && existing != nil {
		return nil
	}
	return err
}

func (p *Pipeline) stageSnapshot(ctx context.Context, tx *domain.Transaction) *domain.ContextSnapshot {
	ctx, span := tracer.Start(ctx, "pipeline.snapshot")
	defer span.End()
	defer observeStage("snapshot", time.Now())

	return p.aggregator.Snapshot(ctx, tx)
}

func (p *Pipeline) stageChains(ctx context.Context, tx *domain.Transaction) *domain.ChainAnalysis {
	ctx, span := tracer.Start(ctx, "pipeline.chains")
	defer span.End()
	defer observeStage("chains", time.Now())

	analysis := p.analyzer.Analyze(ctx, tx)
	for _, f := range analysis.Findings {
		metrics.ChainFindingsTotal.WithLabelValues(string(f.Pattern)).Inc()
	}
	return analysis
}

func (p *Pipeline) stageRules(ctx context.Context, b *bundle, tx *domain.Transaction, snap *domain.ContextSnapshot, analysis *domain.ChainAnalysis) ([]domain.TriggeredRule, []domain.RuleError) {
	_, span := tracer.Start(ctx, "pipeline.rules")
	defer span.End()
	defer observeStage("rules", time.Now())

	triggered, ruleErrors := b.catalog.EvaluateAll(tx, snap, analysis)
	for _, tr := range triggered {
		metrics.RulesTriggeredTotal.WithLabelValues(tr.RuleID).Inc()
	}
	for _, re := range ruleErrors {
		metrics.RuleErrorsTotal.WithLabelValues(re.RuleID).Inc()
		p.logger.Warn("rule evaluation failed, skipping rule",
			"tx_id", tx.ID, "rule_id", re.RuleID, "error", re.Error)
	}
	return triggered, ruleErrors
}

// commit persists the assessment with bounded retry. This is the single
// commit point of an evaluation.
func (p *Pipeline) commit(ctx context.Context, a *domain.RiskAssessment) error {
	ctx, span := tracer.Start(ctx, "pipeline.commit")
	defer span.End()
	defer observeStage("commit", time.Now())

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), p.maxRetries),
		ctx,
	)
	return backoff.Retry(func() error {
		err := p.repo.SaveAssessment(ctx, a)
		if err == nil {
			return nil
		}
		if domain.IsTransient(err) {
			return err
		}
		return backoff.Permanent(err)
	}, policy)
}

func (p *Pipeline) publish(ctx context.Context, a *domain.RiskAssessment) {
	if p.bus == nil {
		return
	}
	payload, err := json.Marshal(a)
	if err != nil {
		return
	}
	if err := p.bus.Publish(ctx, domain.TopicAssessment, payload); err != nil {
		p.logger.Error("failed to publish assessment",
			"assessment_id", a.ID, "error", err)
	}
	if a.Decision != domain.DecisionAutoApprove {
		if err := p.bus.Publish(ctx, domain.TopicAlert, payload); err != nil {
			p.logger.Error("failed to publish alert",
				"assessment_id", a.ID, "error", err)
		}
	}
}

func (p *Pipeline) record(a *domain.RiskAssessment, start time.Time) {
	metrics.EvaluationsTotal.WithLabelValues(string(a.Decision)).Inc()
	metrics.EvaluationDuration.Observe(time.Since(start).Seconds())
	if a.Incomplete {
		metrics.IncompleteEvaluationsTotal.Inc()
	}
}

// incompleteness merges the degraded-state flags of the snapshot and the
// chain analysis into one fail-closed signal.
func incompleteness(snap *domain.ContextSnapshot, analysis *domain.ChainAnalysis) (bool, string) {
	switch {
	case snap != nil && snap.Incomplete:
		return true, snap.IncompleteReason
	case analysis != nil && analysis.Incomplete:
		return true, "chain analysis unavailable"
	default:
		return false, ""
	}
}

func triggeredChainFindings(analysis *domain.ChainAnalysis) []domain.ChainFinding {
	if analysis == nil {
		return nil
	}
	return analysis.Findings
}

func observeStage(stage string, start time.Time) {
	metrics.StageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
}
