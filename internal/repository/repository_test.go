package repository

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/openrisk/kestrel/internal/domain"
)

func newTestRepo(t *testing.T) domain.Repository {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "repo-test-*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()
	t.Cleanup(func() { os.Remove(tmpPath) })

	repo, err := New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: tmpPath,
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	return repo
}

func TestTransactionRoundTrip(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Second)
	tx := &domain.Transaction{
		ID:             "tx-001",
		AccountID:      "acc-001",
		CounterpartyID: "cp-001",
		Type:           "transfer",
		Amount:         1250.50,
		Currency:       "USD",
		Timestamp:      now,
		CreatedAt:      now,
		Metadata: map[string]interface{}{
			"check_number": "1042",
		},
	}

	if err := repo.SaveTransaction(ctx, tx); err != nil {
		t.Fatalf("failed to save transaction: %v", err)
	}

	got, err := repo.GetTransaction(ctx, "tx-001")
	if err != nil {
		t.Fatalf("failed to get transaction: %v", err)
	}
	if got.AccountID != "acc-001" || got.Amount != 1250.50 {
		t.Errorf("unexpected transaction: %+v", got)
	}
	if got.MetaString("check_number") != "1042" {
		t.Errorf("metadata not preserved: %+v", got.Metadata)
	}

	t.Run("NotFound", func(t *testing.T) {
		_, err := repo.GetTransaction(ctx, "missing")
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound, got %v", err)
		}
	})
}

func TestTransactionsByAccountWindow(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		tx := &domain.Transaction{
			ID:             fmt.Sprintf("tx-%d", i),
			AccountID:      "acc-001",
			CounterpartyID: "cp-001",
			Type:           "transfer",
			Amount:         100,
			Currency:       "USD",
			Timestamp:      base.Add(time.Duration(i) * time.Hour),
			CreatedAt:      base,
		}
		if err := repo.SaveTransaction(ctx, tx); err != nil {
			t.Fatalf("failed to save transaction: %v", err)
		}
	}

	// [base+1h, base+4h) should contain tx-1, tx-2, tx-3 but not tx-4
	got, err := repo.GetTransactionsByAccount(ctx, "acc-001", base.Add(time.Hour), base.Add(4*time.Hour))
	if err != nil {
		t.Fatalf("failed to query transactions: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 transactions, got %d", len(got))
	}
	for i := 1; i < len(got); i++ {
		if got[i].Timestamp.Before(got[i-1].Timestamp) {
			t.Errorf("transactions not ordered ascending")
		}
	}
	if got[0].ID != "tx-1" || got[2].ID != "tx-3" {
		t.Errorf("wrong window contents: %s..%s", got[0].ID, got[2].ID)
	}
}

func TestChangeEvents(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Second)
	ev := &domain.ChangeEvent{
		ID:          "ev-001",
		SubjectID:   "acc-001",
		SubjectType: domain.SubjectAccount,
		ChangeType:  "bank_details",
		Source:      "email",
		Verified:    false,
		Timestamp:   now.Add(-48 * time.Hour),
	}
	if err := repo.SaveChangeEvent(ctx, ev); err != nil {
		t.Fatalf("failed to save change event: %v", err)
	}

	events, err := repo.GetChangeEvents(ctx, "acc-001", domain.SubjectAccount, now.Add(-30*24*time.Hour))
	if err != nil {
		t.Fatalf("failed to get change events: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0].Source != "email" || events[0].Verified {
		t.Errorf("unexpected event: %+v", events[0])
	}

	t.Run("SubjectTypeIsolation", func(t *testing.T) {
		events, err := repo.GetChangeEvents(ctx, "acc-001", domain.SubjectDevice, now.Add(-30*24*time.Hour))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(events) != 0 {
			t.Errorf("expected no device events, got %d", len(events))
		}
	})
}

func TestRuleSetVersioning(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	v1 := &domain.RuleSet{
		Version: "v1",
		Rules: []domain.RuleSpec{
			{ID: "high_amount", Category: domain.CategoryGeneric, Weight: 1.0, Enabled: true},
		},
		Thresholds:       domain.DefaultThresholds(),
		ChainBlendWeight: 0.3,
	}
	if err := repo.SaveRuleSet(ctx, v1); err != nil {
		t.Fatalf("failed to save rule set: %v", err)
	}

	v2 := &domain.RuleSet{
		Version: "v2",
		Rules: []domain.RuleSpec{
			{ID: "high_amount", Category: domain.CategoryGeneric, Weight: 2.0, Enabled: true},
			{ID: "new_counterparty", Category: domain.CategoryGeneric, Weight: 1.0, Enabled: true},
		},
		Thresholds:       domain.DefaultThresholds(),
		ChainBlendWeight: 0.3,
	}
	if err := repo.SaveRuleSet(ctx, v2); err != nil {
		t.Fatalf("failed to save rule set: %v", err)
	}

	t.Run("ActiveIsLatest", func(t *testing.T) {
		active, err := repo.GetActiveRuleSet(ctx)
		if err != nil {
			t.Fatalf("failed to get active rule set: %v", err)
		}
		if active.Version != "v2" {
			t.Errorf("expected active v2, got %s", active.Version)
		}
		if active.TotalWeight() != 3.0 {
			t.Errorf("expected total weight 3.0, got %f", active.TotalWeight())
		}
	})

	t.Run("OldVersionStillReadable", func(t *testing.T) {
		rs, err := repo.GetRuleSet(ctx, "v1")
		if err != nil {
			t.Fatalf("failed to get v1: %v", err)
		}
		if len(rs.Rules) != 1 || rs.Rules[0].Weight != 1.0 {
			t.Errorf("v1 contents changed: %+v", rs.Rules)
		}
	})

	t.Run("ListVersions", func(t *testing.T) {
		versions, err := repo.ListRuleSetVersions(ctx)
		if err != nil {
			t.Fatalf("failed to list versions: %v", err)
		}
		if len(versions) != 2 {
			t.Errorf("expected 2 versions, got %d", len(versions))
		}
	})
}

func TestAssessmentAuditTrail(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Second)
	a := &domain.RiskAssessment{
		ID:                  "as-001",
		TxID:                "tx-001",
		AccountID:           "acc-001",
		RuleSetVersion:      "v1",
		RiskScore:           0.42,
		RuleScore:           0.42,
		TotalPossibleWeight: 10.0,
		Decision:            domain.DecisionManualReview,
		ReviewReason:        "expected loss exceeds review cost",
		Triggered: []domain.TriggeredRule{
			{RuleID: "high_amount", Category: domain.CategoryGeneric, Weight: 1.0, Explanation: "amount exceeds 10000"},
		},
		RuleErrors: []domain.RuleError{
			{RuleID: "custom_rule", Error: "division by zero"},
		},
		Chains: &domain.ChainAnalysis{
			MaxSuspicion: 0.7,
			Findings: []domain.ChainFinding{
				{TransactionIDs: []string{"a", "b", "c"}, Pattern: domain.PatternCreditRefundTransfer, Suspicion: 0.7},
			},
			CreditRefundCount: 1,
		},
		CostBenefit: domain.CostBenefit{ReviewCost: 18.75, ExpectedLoss: 1800, NetBenefit: 1781.25},
		CreatedAt:   now,
	}

	if err := repo.SaveAssessment(ctx, a); err != nil {
		t.Fatalf("failed to save assessment: %v", err)
	}

	t.Run("GetByID", func(t *testing.T) {
		got, err := repo.GetAssessment(ctx, "as-001")
		if err != nil {
			t.Fatalf("failed to get assessment: %v", err)
		}
		if got.Decision != domain.DecisionManualReview {
			t.Errorf("expected MANUAL_REVIEW, got %s", got.Decision)
		}
		if got.TotalPossibleWeight != 10.0 {
			t.Errorf("expected total weight 10.0, got %f", got.TotalPossibleWeight)
		}
		if len(got.Triggered) != 1 || got.Triggered[0].RuleID != "high_amount" {
			t.Errorf("triggered rules not preserved: %+v", got.Triggered)
		}
		if len(got.RuleErrors) != 1 {
			t.Errorf("rule errors not preserved: %+v", got.RuleErrors)
		}
		if got.Chains == nil || got.Chains.MaxSuspicion != 0.7 {
			t.Errorf("chain analysis not preserved: %+v", got.Chains)
		}
		if got.CostBenefit.NetBenefit != 1781.25 {
			t.Errorf("cost benefit not preserved: %+v", got.CostBenefit)
		}
	})

	t.Run("GetByTransaction", func(t *testing.T) {
		got, err := repo.GetAssessmentByTransaction(ctx, "tx-001")
		if err != nil {
			t.Fatalf("failed to get assessment by tx: %v", err)
		}
		if got.ID != "as-001" {
			t.Errorf("expected as-001, got %s", got.ID)
		}
	})

	t.Run("ListByDecision", func(t *testing.T) {
		list, err := repo.ListAssessments(ctx, domain.AssessmentFilter{
			Decision: domain.DecisionManualReview,
		})
		if err != nil {
			t.Fatalf("failed to list assessments: %v", err)
		}
		if len(list) != 1 {
			t.Errorf("expected 1 assessment, got %d", len(list))
		}

		list, err = repo.ListAssessments(ctx, domain.AssessmentFilter{
			Decision: domain.DecisionBlock,
		})
		if err != nil {
			t.Fatalf("failed to list assessments: %v", err)
		}
		if len(list) != 0 {
			t.Errorf("expected no BLOCK assessments, got %d", len(list))
		}
	})
}
