package chain

import (
	"context"
	"log/slog"
	"math"

	"github.com/cenkalti/backoff/v4"

	"github.com/openrisk/kestrel/internal/domain"
)

// Pattern base suspicion levels. Adjustments accumulate on top and the
// result is clamped to [0, 1].
const (
	baseCreditRefundTransfer = 0.7
	baseLayering             = 0.8
	baseRapidReversal        = 0.6
)

const (
	// layering: a consolidation debit must recover this share of the
	// preceding small credits to count.
	consolidationLow  = 0.7
	consolidationHigh = 1.3

	// minimum small credits feeding a consolidation.
	minLayeringCredits = 2
)

// Analyzer scans an account's recent transactions for structured
// movement patterns: credit-refund-transfer sequences, layering followed by
// consolidation, and rapid reversals.
type Analyzer struct {
	repo domain.Repository
	cfg  domain.ChainConfig

	maxRetries uint64
	logger     *slog.Logger
}

func NewAnalyzer(repo domain.Repository, cfg domain.ChainConfig, maxRetries int, logger *slog.Logger) *Analyzer {
	if logger == nil {
		logger = slog.Default()
	}
	if maxRetries < 0 {
		maxRetries = 0
	}
	return &Analyzer{
		repo:       repo,
		cfg:        cfg,
		maxRetries: uint64(maxRetries),
		logger:     logger,
	}
}

// Analyze inspects the transactions of tx's account within the configured
// window ending at tx.Timestamp. It never returns an error: when history
// cannot be fetched the analysis is marked Incomplete so the caller can
// fail closed.
func (a *Analyzer) Analyze(ctx context.Context, tx *domain.Transaction) *domain.ChainAnalysis {
	analysis := &domain.ChainAnalysis{}

	since := tx.Timestamp.Add(-a.cfg.Window)
	var history []*domain.Transaction
	err := a.retry(ctx, func() error {
		var err error
		history, err = a.repo.GetTransactionsByAccount(ctx, tx.AccountID, since, tx.Timestamp)
		return err
	})
	if err != nil {
		a.logger.Warn("chain history fetch failed, marking analysis incomplete",
			"account_id", tx.AccountID, "error", err)
		analysis.Incomplete = true
		return analysis
	}

	g := buildGraph(history, tx.ID)

	findings := a.scanCreditRefundTransfer(g)
	findings = append(findings, a.scanLayering(g)...)
	findings = append(findings, a.scanRapidReversals(g)...)

	for i := range findings {
		f := &findings[i]
		// span must be strictly inside the window
		if f.SpanHours >= a.cfg.Window.Hours() {
			continue
		}
		a.score(f)
		analysis.Findings = append(analysis.Findings, *f)
		if f.Suspicion > analysis.MaxSuspicion {
			analysis.MaxSuspicion = f.Suspicion
		}
		switch f.Pattern {
		case domain.PatternCreditRefundTransfer:
			analysis.CreditRefundCount++
		case domain.PatternLayeringConsolidation:
			analysis.LayeringCount++
		case domain.PatternRapidReversal:
			analysis.RapidReversalCount++
		}
	}
	return analysis
}

func (a *Analyzer) retry(ctx context.Context, op func() error) error {
	wrapped := func() error {
		err := op()
		if err != nil && !domain.IsTransient(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	bo := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), a.maxRetries), ctx)
	return backoff.Retry(wrapped, bo)
}

// scanCreditRefundTransfer finds credit -> refund -> transfer sequences.
// Three monotonic cursors over the per-kind index slices keep the scan
// linear in the windowed transaction count.
func (a *Analyzer) scanCreditRefundTransfer(g *graph) []domain.ChainFinding {
	var findings []domain.ChainFinding
	ri, ti := 0, 0
	for _, ci := range g.credits {
		credit := g.nodes[ci]

		ri = g.firstAfter(g.refunds, ri, credit.timestamp)
		if ri >= len(g.refunds) {
			break
		}
		refund := g.nodes[g.refunds[ri]]

		ti = g.firstAfter(g.transfers, ti, refund.timestamp)
		if ti >= len(g.transfers) {
			break
		}
		transfer := g.nodes[g.transfers[ti]]

		findings = append(findings, domain.ChainFinding{
			TransactionIDs:    []string{credit.id, refund.id, transfer.id},
			Pattern:           domain.PatternCreditRefundTransfer,
			SpanHours:         transfer.timestamp.Sub(credit.timestamp).Hours(),
			TotalAmount:       credit.amount + refund.amount + transfer.amount,
			CounterpartyCount: countParties(credit, refund, transfer),
		})
	}
	return findings
}

// scanLayering finds runs of small incoming credits followed by a debit that
// consolidates roughly their total. A prefix cursor over credits keeps the
// accumulation linear.
func (a *Analyzer) scanLayering(g *graph) []domain.ChainFinding {
	var findings []domain.ChainFinding

	ci := 0
	var (
		smallIDs     []int
		smallSum     float64
		smallParties map[string]struct{}
	)
	smallParties = make(map[string]struct{})

	for _, di := range g.debits {
		debit := g.nodes[di]
		if debit.kind != kindTransfer {
			continue
		}

		// absorb all small credits that precede this debit
		for ci < len(g.credits) && g.nodes[g.credits[ci]].timestamp.Before(debit.timestamp) {
			c := g.nodes[g.credits[ci]]
			if c.amount <= a.cfg.SmallAmountThreshold {
				smallIDs = append(smallIDs, g.credits[ci])
				smallSum += c.amount
				if c.counterparty != "" {
					smallParties[c.counterparty] = struct{}{}
				}
			}
			ci++
		}

		if len(smallIDs) < minLayeringCredits || smallSum <= 0 {
			continue
		}
		ratio := debit.amount / smallSum
		if ratio < consolidationLow || ratio > consolidationHigh {
			continue
		}

		ids := make([]string, 0, len(smallIDs)+1)
		first := g.nodes[smallIDs[0]]
		for _, idx := range smallIDs {
			ids = append(ids, g.nodes[idx].id)
		}
		ids = append(ids, debit.id)

		parties := len(smallParties)
		if debit.counterparty != "" {
			if _, seen := smallParties[debit.counterparty]; !seen {
				parties++
			}
		}

		findings = append(findings, domain.ChainFinding{
			TransactionIDs:    ids,
			Pattern:           domain.PatternLayeringConsolidation,
			SpanHours:         debit.timestamp.Sub(first.timestamp).Hours(),
			TotalAmount:       smallSum + debit.amount,
			CounterpartyCount: parties,
		})
	}
	return findings
}

// scanRapidReversals pairs each credit with the first outgoing movement that
// follows it within the rapid window.
func (a *Analyzer) scanRapidReversals(g *graph) []domain.ChainFinding {
	var findings []domain.ChainFinding
	di := 0
	for _, ci := range g.credits {
		credit := g.nodes[ci]

		di = g.firstAfter(g.debits, di, credit.timestamp)
		if di >= len(g.debits) {
			break
		}
		out := g.nodes[g.debits[di]]
		gap := out.timestamp.Sub(credit.timestamp)
		if gap >= a.cfg.RapidWindow {
			continue
		}

		findings = append(findings, domain.ChainFinding{
			TransactionIDs:    []string{credit.id, out.id},
			Pattern:           domain.PatternRapidReversal,
			SpanHours:         gap.Hours(),
			TotalAmount:       credit.amount + out.amount,
			CounterpartyCount: countParties(credit, out),
		})
	}
	return findings
}

// score assigns a suspicion level: the pattern base plus adjustments for
// chain length, time compression relative to the window, and counterparty
// diversity, clamped to [0, 1].
func (a *Analyzer) score(f *domain.ChainFinding) {
	var s float64
	switch f.Pattern {
	case domain.PatternCreditRefundTransfer:
		s = baseCreditRefundTransfer
	case domain.PatternLayeringConsolidation:
		s = baseLayering
	case domain.PatternRapidReversal:
		s = baseRapidReversal
	}

	if len(f.TransactionIDs) >= 4 {
		s += 0.1
	}
	if len(f.TransactionIDs) >= 5 {
		s += 0.1
	}

	windowHours := a.cfg.Window.Hours()
	if windowHours > 0 {
		compression := f.SpanHours / windowHours
		if compression < a.cfg.RapidWindow.Hours()/windowHours {
			s += 0.1
		}
		if compression < 2.0/windowHours {
			s += 0.1
		}
	}

	if f.CounterpartyCount >= 3 {
		s += 0.1
	}

	f.Suspicion = math.Min(1.0, math.Max(0.0, s))
}

func countParties(nodes ...node) int {
	seen := make(map[string]struct{}, len(nodes))
	for _, n := range nodes {
		if n.counterparty != "" {
			seen[n.counterparty] = struct{}{}
		}
	}
	return len(seen)
}
