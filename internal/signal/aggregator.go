// Package signal builds per-evaluation context snapshots from an account's
// committed history.
package signal

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"log/slog"
	"math"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/openrisk/kestrel/internal/domain"
)

// Aggregator turns a transaction and its account id into a ContextSnapshot.
// All velocity windows are computed in a single ordered pass over the
// account's history; the in-flight transaction is excluded from every signal.
type Aggregator struct {
	repo  domain.Repository
	cache domain.Cache
	cfg   domain.AggregatorConfig
}

// NewAggregator creates a signal aggregator. The cache is optional.
func NewAggregator(repo domain.Repository, cache domain.Cache, cfg domain.AggregatorConfig) *Aggregator {
	if cfg.LookbackDays <= 0 {
		cfg.LookbackDays = 90
	}
	if cfg.MinSamples <= 0 {
		cfg.MinSamples = 3
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	return &Aggregator{repo: repo, cache: cache, cfg: cfg}
}

// Snapshot computes the context snapshot for a transaction. It never returns
// an error: when the underlying stores stay unreachable after bounded
// retries, the snapshot comes back with Incomplete set so the caller can
// fail closed.
func (a *Aggregator) Snapshot(ctx context.Context, tx *domain.Transaction) *domain.ContextSnapshot {
	asOf := tx.Timestamp
	if asOf.IsZero() {
		asOf = time.Now().UTC()
	}

	snap := &domain.ContextSnapshot{
		AccountID: tx.AccountID,
		AsOf:      asOf,
		Velocity:  make(map[time.Duration]domain.WindowStats, len(domain.VelocityWindows)),
	}

	if cached := a.cachedSnapshot(ctx, tx, asOf); cached != nil {
		return cached
	}

	lookback := time.Duration(a.cfg.LookbackDays) * 24 * time.Hour
	since := asOf.Add(-lookback)

	history, err := a.fetchHistory(ctx, tx.AccountID, since, asOf)
	if err != nil {
		slog.Warn("history read failed after retries",
			"account_id", tx.AccountID,
			"error", err,
		)
		snap.Incomplete = true
		snap.IncompleteReason = "transaction history unavailable"
		return snap
	}

	a.scanHistory(snap, tx, history)

	if err := a.addChangeSummaries(ctx, snap, tx, history, since); err != nil {
		slog.Warn("change history read failed after retries",
			"account_id", tx.AccountID,
			"error", err,
		)
		snap.Incomplete = true
		snap.IncompleteReason = "change history unavailable"
		return snap
	}

	snap.GeoRisk = tx.MetaBool("geo_risk")
	snap.DeviceRisk = tx.MetaBool("device_risk")

	a.storeSnapshot(ctx, tx, asOf, snap)

	return snap
}

// scanHistory fills every velocity window, the rolling amount statistics,
// flow ratios, counterparty and duplicate-check signals in one ordered pass.
func (a *Aggregator) scanHistory(snap *domain.ContextSnapshot, tx *domain.Transaction, history []*domain.Transaction) {
	var (
		mean, m2       float64
		samples        int
		creditTotal    float64
		debitTotal     float64
		seenParty      bool
		partyPayments  int
		partyCountries map[string]bool
		party30d       map[string]bool
		intlSeen       bool
	)

	checkNumber := tx.MetaString("check_number")
	routing := tx.MetaString("routing_number")
	txType := strings.ToLower(tx.Type)
	country := tx.Country()
	hour := snap.AsOf.Hour()

	for _, h := range history {
		if h.ID == tx.ID {
			continue // never count the in-flight transaction
		}
		age := snap.AsOf.Sub(h.Timestamp)
		if age < 0 {
			continue
		}

		snap.HistoryDepth++
		credit := h.IsCredit()

		for _, w := range domain.VelocityWindows {
			if age >= w {
				continue
			}
			ws := snap.Velocity[w]
			ws.Count++
			ws.Sum += h.Amount
			if credit {
				ws.CreditCount++
				ws.CreditSum += h.Amount
			} else {
				ws.DebitCount++
				ws.DebitSum += h.Amount
			}
			snap.Velocity[w] = ws
		}

		if age < domain.Window168h {
			if credit {
				creditTotal += h.Amount
			} else {
				debitTotal += h.Amount
			}
		}

		// Welford's incremental mean/variance over same-type amounts.
		if strings.ToLower(h.Type) == txType {
			samples++
			delta := h.Amount - mean
			mean += delta / float64(samples)
			m2 += delta * (h.Amount - mean)
		}

		if h.CounterpartyID != "" && h.CounterpartyID == tx.CounterpartyID {
			seenParty = true
		}

		if checkNumber != "" &&
			h.MetaString("check_number") == checkNumber &&
			h.MetaString("routing_number") == routing &&
			h.Amount == tx.Amount {
			snap.DuplicateCheckCount++
		}

		if age < domain.Window1h && isCheckDeposit(h) {
			snap.ChecksLastHour++
			snap.ChecksLastHourSum += h.Amount
		}

		if h.Timestamp.Hour() == hour {
			snap.SameHourCount++
		}
		if age < domain.Window168h && domain.IsOddHour(h.Timestamp) {
			snap.OddHoursCount++
			snap.OddHoursSum += h.Amount
		}

		if h.IsDebit() {
			hc := h.Country()
			if hc != "" && hc != domain.HomeCountry {
				intlSeen = true
			}
			if hc != "" && h.CounterpartyID != "" && h.CounterpartyID == tx.CounterpartyID {
				if partyCountries == nil {
					partyCountries = make(map[string]bool)
				}
				partyCountries[hc] = true
				if age < 30*24*time.Hour {
					if party30d == nil {
						party30d = make(map[string]bool)
					}
					party30d[hc] = true
				}
			}
			if h.CounterpartyID != "" && h.CounterpartyID == tx.CounterpartyID {
				partyPayments++
			}
		}
	}

	snap.SampleCount = samples
	if samples >= a.cfg.MinSamples {
		snap.AmountMean = mean
		snap.AmountStddev = math.Sqrt(m2 / float64(samples))
	} else {
		// Sparse or absent history: statistics are explicitly undefined,
		// never silently zero.
		snap.InsufficientHistory = true
	}

	if creditTotal > 0 {
		snap.FlowThroughRatio = debitTotal / creditTotal
	}

	snap.NewCounterparty = tx.CounterpartyID != "" && !seenParty

	snap.OddHours = domain.IsOddHour(snap.AsOf)
	snap.Weekend = domain.IsWeekend(snap.AsOf)

	snap.Country = country
	snap.HighRiskCountry = country != "" && domain.HighRiskCountries[country]
	snap.ElevatedRiskCountry = country != "" && domain.ElevatedRiskCountries[country]
	snap.CounterpartyCountries30d = len(party30d)
	if tx.IsDebit() && country != "" {
		// Routing-pattern signals need an established history for the
		// counterparty; below MinSamples payments no pattern exists.
		if partyPayments >= a.cfg.MinSamples && len(partyCountries) > 0 {
			snap.NewCountryForCounterparty = !partyCountries[country]
			snap.DomesticOnlyCounterparty = len(partyCountries) == 1 && partyCountries[domain.HomeCountry]
		}
		snap.FirstInternational = country != domain.HomeCountry && !intlSeen
	}
}

func (a *Aggregator) addChangeSummaries(ctx context.Context, snap *domain.ContextSnapshot, tx *domain.Transaction, history []*domain.Transaction, since time.Time) error {
	var err error
	snap.AccountChange, err = a.changeSummary(ctx, tx.AccountID, domain.SubjectAccount, snap.AsOf, history, since)
	if err != nil {
		return err
	}
	snap.DeviceChange, err = a.changeSummary(ctx, tx.AccountID, domain.SubjectDevice, snap.AsOf, history, since)
	if err != nil {
		return err
	}
	if tx.CounterpartyID != "" {
		snap.BeneficiaryChange, err = a.changeSummary(ctx, tx.CounterpartyID, domain.SubjectBeneficiary, snap.AsOf, history, since)
		if err != nil {
			return err
		}
	}
	return nil
}

// changeSummary condenses the change events of one subject into the fields
// rules consume: recency, verification, request channel, and whether any
// money has moved out since the change.
func (a *Aggregator) changeSummary(ctx context.Context, subjectID, subjectType string, asOf time.Time, history []*domain.Transaction, since time.Time) (domain.ChangeSummary, error) {
	events, err := a.fetchChanges(ctx, subjectID, subjectType, since)
	if err != nil {
		return domain.ChangeSummary{}, err
	}

	sum := domain.ChangeSummary{DaysSince: -1}
	var latest *domain.ChangeEvent
	for _, ev := range events {
		if ev.Timestamp.After(asOf) {
			continue
		}
		sum.CountInWindow++
		if latest == nil || ev.Timestamp.After(latest.Timestamp) {
			latest = ev
		}
	}
	if latest == nil {
		return sum, nil
	}

	sum.Seen = true
	sum.DaysSince = asOf.Sub(latest.Timestamp).Hours() / 24
	sum.Verified = latest.Verified
	sum.Source = latest.Source

	sum.FirstMovementAfter = true
	for _, h := range history {
		if h.IsDebit() && h.Timestamp.After(latest.Timestamp) {
			sum.FirstMovementAfter = false
			break
		}
	}
	return sum, nil
}

func (a *Aggregator) fetchHistory(ctx context.Context, accountID string, since, until time.Time) ([]*domain.Transaction, error) {
	var history []*domain.Transaction
	err := a.retry(ctx, func() error {
		var err error
		history, err = a.repo.GetTransactionsByAccount(ctx, accountID, since, until)
		return err
	})
	return history, err
}

func (a *Aggregator) fetchChanges(ctx context.Context, subjectID, subjectType string, since time.Time) ([]*domain.ChangeEvent, error) {
	var events []*domain.ChangeEvent
	err := a.retry(ctx, func() error {
		var err error
		events, err = a.repo.GetChangeEvents(ctx, subjectID, subjectType, since)
		return err
	})
	return events, err
}

// retry runs op with exponential backoff, bounded by MaxRetries. Only
// transient errors are retried; logical errors surface immediately.
func (a *Aggregator) retry(ctx context.Context, op func() error) error {
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(a.cfg.MaxRetries)),
		ctx,
	)
	return backoff.Retry(func() error {
		err := op()
		if err == nil {
			return nil
		}
		if domain.IsTransient(err) {
			return err
		}
		return backoff.Permanent(err)
	}, policy)
}

func (a *Aggregator) snapshotKey(tx *domain.Transaction, asOf time.Time) string {
	// Bucket by minute so concurrent evaluations of the same account reuse
	// work without serving stale windows. The transaction-specific inputs
	// fold into the key: a different payment in the same bucket must never
	// inherit another transaction's duplicate-check or counterparty verdicts.
	h := fnv.New64a()
	fmt.Fprintf(h, "%s|%s|%s|%.2f|%s|%t|%t",
		tx.CounterpartyID,
		tx.MetaString("check_number"),
		tx.MetaString("routing_number"),
		tx.Amount,
		tx.Country(),
		tx.MetaBool("geo_risk"),
		tx.MetaBool("device_risk"),
	)
	return fmt.Sprintf("snapshot:%s:%s:%d:%x",
		tx.AccountID, strings.ToLower(tx.Type), asOf.Unix()/60, h.Sum64())
}

func (a *Aggregator) cachedSnapshot(ctx context.Context, tx *domain.Transaction, asOf time.Time) *domain.ContextSnapshot {
	if a.cache == nil || a.cfg.SnapshotTTL <= 0 {
		return nil
	}
	raw, err := a.cache.Get(ctx, a.snapshotKey(tx, asOf))
	if err != nil || raw == nil {
		return nil
	}
	var snap snapshotEnvelope
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil
	}
	return snap.toSnapshot()
}

func (a *Aggregator) storeSnapshot(ctx context.Context, tx *domain.Transaction, asOf time.Time, snap *domain.ContextSnapshot) {
	if a.cache == nil || a.cfg.SnapshotTTL <= 0 || snap.Incomplete {
		return
	}
	raw, err := json.Marshal(newSnapshotEnvelope(snap))
	if err != nil {
		return
	}
	_ = a.cache.Set(ctx, a.snapshotKey(tx, asOf), raw, a.cfg.SnapshotTTL)
}

func isCheckDeposit(tx *domain.Transaction) bool {
	return strings.ToLower(tx.Type) == "check_deposit" || tx.MetaString("check_number") != ""
}
