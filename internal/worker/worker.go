// Package worker consumes ingested transactions from the event bus and runs
// them through the evaluation pipeline, for deployments that feed Kestrel
// asynchronously instead of (or alongside) the HTTP API.
package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/openrisk/kestrel/internal/domain"
	"github.com/openrisk/kestrel/internal/pipeline"
)

// dedupWindow bounds how long a transaction id is remembered for redelivery
// suppression. The bus delivers at least once; the window covers broker
// redelivery horizons comfortably.
const dedupWindow = time.Hour

// Worker subscribes to the transaction-ingested topic and evaluates each
// message through the pipeline. Results are published by the pipeline itself.
type Worker struct {
	bus      domain.EventBus
	pipeline *pipeline.Pipeline
	cache    domain.Cache
	logger   *slog.Logger

	subscriptions []domain.Subscription
	processed     atomic.Int64
	failed        atomic.Int64
	deduplicated  atomic.Int64

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// NewWorker creates an async worker. The cache backs redelivery suppression
// and is shared across nodes in distributed deployments; nil disables it.
func NewWorker(bus domain.EventBus, p *pipeline.Pipeline, cache domain.Cache, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:      bus,
		pipeline: p,
		cache:    cache,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start subscribes to the ingestion topic.
func (w *Worker) Start() error {
	sub, err := w.bus.Subscribe(w.ctx, domain.TopicTransactionIngested, w.handleMessage)
	if err != nil {
		return err
	}
	w.subscriptions = append(w.subscriptions, sub)

	w.logger.Info("worker started", "topic", domain.TopicTransactionIngested)
	return nil
}

func (w *Worker) handleMessage(ctx context.Context, msg *domain.Message) error {
	var tx domain.Transaction
	if err := json.Unmarshal(msg.Payload, &tx); err != nil {
		w.failed.Add(1)
		w.logger.Error("failed to parse transaction message",
			"message_id", msg.ID, "error", err)
		return err
	}
	if tx.AccountID == "" || tx.Amount <= 0 {
		w.failed.Add(1)
		w.logger.Error("invalid transaction message, dropping",
			"message_id", msg.ID, "tx_id", tx.ID)
		return nil
	}

	if w.seenBefore(ctx, tx.ID) {
		w.deduplicated.Add(1)
		w.logger.Debug("redelivered transaction skipped",
			"message_id", msg.ID, "tx_id", tx.ID)
		return nil
	}

	assessment, err := w.pipeline.Evaluate(ctx, &tx)
	if err != nil {
		w.failed.Add(1)
		w.logger.Error("async evaluation failed",
			"tx_id", tx.ID, "error", err)
		return err
	}

	w.processed.Add(1)
	w.logger.Debug("transaction processed",
		"tx_id", tx.ID,
		"decision", assessment.Decision,
		"risk_score", assessment.RiskScore,
	)
	return nil
}

// seenBefore records the transaction id in a windowed counter and reports
// whether an earlier delivery already claimed it. Counter errors fail open:
// evaluating twice beats silently evaluating never.
func (w *Worker) seenBefore(ctx context.Context, txID string) bool {
	if w.cache == nil || txID == "" {
		return false
	}
	n, err := w.cache.IncrementCounter(ctx, "ingested:"+txID, dedupWindow)
	if err != nil {
		w.logger.Warn("dedup counter unavailable, evaluating anyway",
			"tx_id", txID, "error", err)
		return false
	}
	return n > 1
}

// Stop unsubscribes and waits for in-flight handlers.
func (w *Worker) Stop() error {
	w.cancel()

	for _, sub := range w.subscriptions {
		if err := sub.Unsubscribe(); err != nil {
			w.logger.Error("failed to unsubscribe",
				"topic", sub.Topic(), "error", err)
		}
	}
	w.subscriptions = nil

	w.wg.Wait()

	w.logger.Info("worker stopped")
	return nil
}

// Stats holds worker counters.
type Stats struct {
	SubscriptionCount int   `json:"subscriptionCount"`
	Processed         int64 `json:"processed"`
	Failed            int64 `json:"failed"`
	Deduplicated      int64 `json:"deduplicated"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Processed:         w.processed.Load(),
		Failed:            w.failed.Load(),
		Deduplicated:      w.deduplicated.Load(),
	}
}
