package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/openrisk/kestrel/internal/chain"
	"github.com/openrisk/kestrel/internal/domain"
	"github.com/openrisk/kestrel/internal/repository"
	"github.com/openrisk/kestrel/internal/rules"
	"github.com/openrisk/kestrel/internal/signal"
)

func newTestRepo(t *testing.T) domain.Repository {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "pipeline-test-*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()
	t.Cleanup(func() { os.Remove(tmpPath) })

	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: tmpPath,
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	return repo
}

func newTestPipeline(t *testing.T, repo domain.Repository) *Pipeline {
	t.Helper()

	aggregator := signal.NewAggregator(repo, nil, domain.AggregatorConfig{
		LookbackDays: 90,
		MinSamples:   3,
		MaxRetries:   1,
	})
	analyzer := chain.NewAnalyzer(repo, domain.ChainConfig{
		Window:               72 * time.Hour,
		SmallAmountThreshold: 100,
		RapidWindow:          6 * time.Hour,
	}, 1, slog.Default())

	p, err := New(aggregator, analyzer, rules.DefaultRuleSet(), nil, repo, nil, 1, slog.Default())
	if err != nil {
		t.Fatalf("failed to build pipeline: %v", err)
	}
	return p
}

func seedBenignHistory(t *testing.T, repo domain.Repository, account string, now time.Time) {
	t.Helper()
	for i := 0; i < 10; i++ {
		tx := &domain.Transaction{
			ID:             fmt.Sprintf("hist-%s-%d", account, i),
			AccountID:      account,
			CounterpartyID: "cp-regular",
			Type:           "transfer",
			Amount:         100,
			Currency:       "USD",
			Timestamp:      now.Add(-time.Duration(i+1) * 7 * 24 * time.Hour),
			CreatedAt:      now,
		}
		if err := repo.SaveTransaction(context.Background(), tx); err != nil {
			t.Fatalf("failed to seed history: %v", err)
		}
	}
}

func TestEvaluateBenignTransaction(t *testing.T) {
	repo := newTestRepo(t)
	p := newTestPipeline(t, repo)
	ctx := context.Background()

	now := time.Now().UTC()
	seedBenignHistory(t, repo, "acc-001", now)

	tx := &domain.Transaction{
		ID:             "tx-benign",
		AccountID:      "acc-001",
		CounterpartyID: "cp-regular",
		Type:           "transfer",
		Amount:         105,
		Currency:       "USD",
		Timestamp:      now,
	}

	assessment, err := p.Evaluate(ctx, tx)
	if err != nil {
		t.Fatalf("evaluation failed: %v", err)
	}

	if assessment.Decision != domain.DecisionAutoApprove {
		t.Errorf("expected AUTO_APPROVE, got %s (reason: %s)", assessment.Decision, assessment.ReviewReason)
	}
	if assessment.Incomplete {
		t.Error("benign evaluation should not be incomplete")
	}
	if assessment.RuleSetVersion == "" {
		t.Error("assessment missing rule set version")
	}
	if assessment.TotalPossibleWeight <= 0 {
		t.Error("assessment missing total possible weight")
	}

	t.Run("AuditRecordPersisted", func(t *testing.T) {
		stored, err := repo.GetAssessmentByTransaction(ctx, "tx-benign")
		if err != nil {
			t.Fatalf("assessment not found: %v", err)
		}
		if stored.ID != assessment.ID {
			t.Errorf("stored assessment id mismatch: %s vs %s", stored.ID, assessment.ID)
		}
		if stored.RiskScore != assessment.RiskScore {
			t.Errorf("stored risk score mismatch: %f vs %f", stored.RiskScore, assessment.RiskScore)
		}
	})

	t.Run("TransactionPersisted", func(t *testing.T) {
		if _, err := repo.GetTransaction(ctx, "tx-benign"); err != nil {
			t.Errorf("transaction not stored: %v", err)
		}
	})
}

func TestEvaluateHighValueOverride(t *testing.T) {
	repo := newTestRepo(t)
	p := newTestPipeline(t, repo)
	ctx := context.Background()

	now := time.Now().UTC()
	seedBenignHistory(t, repo, "acc-002", now)

	tx := &domain.Transaction{
		ID:        "tx-high-value",
		AccountID: "acc-002",
		Type:      "wire",
		Amount:    60000,
		Currency:  "USD",
		Timestamp: now,
	}

	assessment, err := p.Evaluate(ctx, tx)
	if err != nil {
		t.Fatalf("evaluation failed: %v", err)
	}
	if assessment.Decision != domain.DecisionManualReview {
		t.Errorf("expected MANUAL_REVIEW for high value, got %s", assessment.Decision)
	}
	if assessment.ReviewReason == "" {
		t.Error("expected a review reason")
	}
}

func TestEvaluateGeneratesIDs(t *testing.T) {
	repo := newTestRepo(t)
	p := newTestPipeline(t, repo)

	tx := &domain.Transaction{
		AccountID: "acc-003",
		Type:      "transfer",
		Amount:    50,
		Currency:  "USD",
	}

	assessment, err := p.Evaluate(context.Background(), tx)
	if err != nil {
		t.Fatalf("evaluation failed: %v", err)
	}
	if tx.ID == "" {
		t.Error("transaction id not generated")
	}
	if assessment.ID == "" {
		t.Error("assessment id not generated")
	}
	if tx.Timestamp.IsZero() {
		t.Error("transaction timestamp not defaulted")
	}
}

func TestEvaluateSameTransactionTwice(t *testing.T) {
	repo := newTestRepo(t)
	p := newTestPipeline(t, repo)
	ctx := context.Background()

	tx := &domain.Transaction{
		ID:        "tx-repeat",
		AccountID: "acc-004",
		Type:      "transfer",
		Amount:    50,
		Currency:  "USD",
		Timestamp: time.Now().UTC(),
	}

	first, err := p.Evaluate(ctx, tx)
	if err != nil {
		t.Fatalf("first evaluation failed: %v", err)
	}
	second, err := p.Evaluate(ctx, tx)
	if err != nil {
		t.Fatalf("second evaluation failed: %v", err)
	}
	if first.ID == second.ID {
		t.Error("each evaluation must produce its own audit record")
	}
	if first.Decision != second.Decision {
		t.Errorf("decision changed between identical evaluations: %s vs %s", first.Decision, second.Decision)
	}
}

// failingHistoryRepo simulates a history store outage while the audit store
// stays reachable.
type failingHistoryRepo struct {
	domain.Repository
}

func (r *failingHistoryRepo) GetTransactionsByAccount(ctx context.Context, accountID string, since, until time.Time) ([]*domain.Transaction, error) {
	return nil, domain.DataAccessErrorf("history store unavailable")
}

func TestEvaluateFailsClosed(t *testing.T) {
	repo := newTestRepo(t)
	wrapped := &failingHistoryRepo{Repository: repo}
	p := newTestPipeline(t, wrapped)

	tx := &domain.Transaction{
		ID:        "tx-degraded",
		AccountID: "acc-005",
		Type:      "transfer",
		Amount:    10,
		Currency:  "USD",
		Timestamp: time.Now().UTC(),
	}

	assessment, err := p.Evaluate(context.Background(), tx)
	if err != nil {
		t.Fatalf("evaluation failed: %v", err)
	}
	if assessment.Decision != domain.DecisionManualReview {
		t.Errorf("degraded evaluation must fail closed to MANUAL_REVIEW, got %s", assessment.Decision)
	}
	if !assessment.Incomplete {
		t.Error("assessment should be marked incomplete")
	}
	if assessment.IncompleteReason == "" {
		t.Error("assessment should carry the incompleteness reason")
	}

	t.Run("RecordStillCommitted", func(t *testing.T) {
		stored, err := repo.GetAssessmentByTransaction(context.Background(), "tx-degraded")
		if err != nil {
			t.Fatalf("incomplete assessment not persisted: %v", err)
		}
		if !stored.Incomplete {
			t.Error("persisted record lost the incomplete flag")
		}
	})
}

func TestEvaluateCommitFailure(t *testing.T) {
	repo := newTestRepo(t)
	wrapped := &failingAuditRepo{Repository: repo}
	p := newTestPipeline(t, wrapped)

	tx := &domain.Transaction{
		ID:        "tx-no-commit",
		AccountID: "acc-006",
		Type:      "transfer",
		Amount:    10,
		Currency:  "USD",
		Timestamp: time.Now().UTC(),
	}

	if _, err := p.Evaluate(context.Background(), tx); err == nil {
		t.Fatal("evaluation must fail when the audit commit fails")
	}
}

type failingAuditRepo struct {
	domain.Repository
}

func (r *failingAuditRepo) SaveAssessment(ctx context.Context, a *domain.RiskAssessment) error {
	return domain.DataAccessErrorf("audit store unavailable")
}
