package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/openrisk/kestrel/internal/bus"
	"github.com/openrisk/kestrel/internal/cache"
	"github.com/openrisk/kestrel/internal/chain"
	"github.com/openrisk/kestrel/internal/domain"
	"github.com/openrisk/kestrel/internal/pipeline"
	"github.com/openrisk/kestrel/internal/repository"
	"github.com/openrisk/kestrel/internal/rules"
	"github.com/openrisk/kestrel/internal/signal"
)

func newTestWorker(t *testing.T) (*Worker, domain.Repository, domain.EventBus) {
	t.Helper()

	tmpFile, err := os.CreateTemp("", "worker-test-*.db")
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

	b := bus.NewChannelBus(16)
	t.Cleanup(func() { b.Close() })

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

	p, err := pipeline.New(aggregator, analyzer, rules.DefaultRuleSet(), nil, repo, b, 1, slog.Default())
	if err != nil {
		t.Fatalf("failed to build pipeline: %v", err)
	}

	w := NewWorker(b, p, cache.NewLRUCache(100), slog.Default())
	t.Cleanup(func() { w.Stop() })
	return w, repo, b
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met within deadline")
}

func TestWorkerProcessesIngestedTransaction(t *testing.T) {
	w, repo, b := newTestWorker(t)
	ctx := context.Background()

	if err := w.Start(); err != nil {
		t.Fatalf("failed to start worker: %v", err)
	}

	tx := domain.Transaction{
		ID:             "tx-async-001",
		AccountID:      "acc-async",
		CounterpartyID: "cp-1",
		Type:           "transfer",
		Amount:         120,
		Currency:       "USD",
		Timestamp:      time.Now().UTC(),
	}
	payload, _ := json.Marshal(tx)
	if err := b.Publish(ctx, domain.TopicTransactionIngested, payload); err != nil {
		t.Fatalf("failed to publish: %v", err)
	}

	waitFor(t, func() bool { return w.GetStats().Processed == 1 })

	assessment, err := repo.GetAssessmentByTransaction(ctx, "tx-async-001")
	if err != nil {
		t.Fatalf("expected persisted assessment: %v", err)
	}
	if assessment.Decision == "" {
		t.Error("expected a decision on the assessment")
	}
}

func TestWorkerSkipsRedeliveredTransaction(t *testing.T) {
	w, _, b := newTestWorker(t)
	ctx := context.Background()

	if err := w.Start(); err != nil {
		t.Fatalf("failed to start worker: %v", err)
	}

	tx := domain.Transaction{
		ID:        "tx-redelivered",
		AccountID: "acc-redeliver",
		Type:      "transfer",
		Amount:    250,
		Currency:  "USD",
		Timestamp: time.Now().UTC(),
	}
	payload, _ := json.Marshal(tx)
	for i := 0; i < 3; i++ {
		if err := b.Publish(ctx, domain.TopicTransactionIngested, payload); err != nil {
			t.Fatalf("failed to publish: %v", err)
		}
	}

	waitFor(t, func() bool { return w.GetStats().Deduplicated == 2 })

	stats := w.GetStats()
	if stats.Processed != 1 {
		t.Errorf("expected exactly 1 evaluation across redeliveries, got %d", stats.Processed)
	}
	if stats.Failed != 0 {
		t.Errorf("expected no failures, got %d", stats.Failed)
	}
}

func TestWorkerDropsInvalidMessage(t *testing.T) {
	w, _, b := newTestWorker(t)
	ctx := context.Background()

	if err := w.Start(); err != nil {
		t.Fatalf("failed to start worker: %v", err)
	}

	if err := b.Publish(ctx, domain.TopicTransactionIngested, []byte("{not json")); err != nil {
		t.Fatalf("failed to publish: %v", err)
	}
	if err := b.Publish(ctx, domain.TopicTransactionIngested, []byte(`{"id":"tx-bad","amount":0}`)); err != nil {
		t.Fatalf("failed to publish: %v", err)
	}

	waitFor(t, func() bool { return w.GetStats().Failed == 2 })

	if got := w.GetStats().Processed; got != 0 {
		t.Errorf("expected 0 processed, got %d", got)
	}
}

func TestWorkerStats(t *testing.T) {
	w, _, _ := newTestWorker(t)

	if err := w.Start(); err != nil {
		t.Fatalf("failed to start worker: %v", err)
	}
	stats := w.GetStats()
	if stats.SubscriptionCount != 1 {
		t.Errorf("expected 1 subscription, got %d", stats.SubscriptionCount)
	}

	if err := w.Stop(); err != nil {
		t.Fatalf("failed to stop worker: %v", err)
	}
	if got := w.GetStats().SubscriptionCount; got != 0 {
		t.Errorf("expected 0 subscriptions after stop, got %d", got)
	}
}
