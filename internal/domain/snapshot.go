package domain

import "time"

// Velocity windows. All snapshot velocity maps are keyed by these.
const (
	Window1h   = time.Hour
	Window6h   = 6 * time.Hour
	Window24h  = 24 * time.Hour
	Window168h = 168 * time.Hour
)

// VelocityWindows lists the trailing windows in ascending order.
var VelocityWindows = []time.Duration{Window1h, Window6h, Window24h, Window168h}

// WindowStats holds cumulative counters for one trailing window.
type WindowStats struct {
	Count       int     `json:"count"`
	Sum         float64 `json:"sum"`
	CreditCount int     `json:"creditCount"`
	CreditSum   float64 `json:"creditSum"`
	DebitCount  int     `json:"debitCount"`
	DebitSum    float64 `json:"debitSum"`
}

// ChangeSummary summarizes the most recent change event for one subject type.
type ChangeSummary struct {
	// DaysSince is the age of the most recent change in days.
	// Negative when no change exists (see Seen).
	DaysSince float64 `json:"daysSince"`
	Seen      bool    `json:"seen"`
	Verified  bool    `json:"verified"`
	Source    string  `json:"source"`
	// CountInWindow is the number of changes within the snapshot lookback.
	CountInWindow int `json:"countInWindow"`
	// FirstMovementAfter is true when no money has moved since the change,
	// i.e. the current transaction would be the first one after it.
	FirstMovementAfter bool `json:"firstMovementAfter"`
}

// ContextSnapshot is the derived, per-evaluation bundle of historical and
// behavioral signals for one account. It is never mutated after construction
// and is recomputed for every evaluation.
type ContextSnapshot struct {
	AccountID string    `json:"accountId"`
	AsOf      time.Time `json:"asOf"`

	// Velocity counters per trailing window, keyed by VelocityWindows.
	Velocity map[time.Duration]WindowStats `json:"-"`

	// Rolling amount statistics over the lookback window for transactions
	// of the same type as the one under evaluation.
	AmountMean   float64 `json:"amountMean"`
	AmountStddev float64 `json:"amountStddev"`
	SampleCount  int     `json:"sampleCount"`

	// HistoryDepth is the total number of historical transactions seen in
	// the lookback window regardless of type.
	HistoryDepth int `json:"historyDepth"`

	// InsufficientHistory marks accounts with no or sparse same-type history.
	// Rules must treat statistics as undefined when set, rather than as zero.
	InsufficientHistory bool `json:"insufficientHistory"`

	// Change summaries per subject type.
	AccountChange     ChangeSummary `json:"accountChange"`
	BeneficiaryChange ChangeSummary `json:"beneficiaryChange"`
	DeviceChange      ChangeSummary `json:"deviceChange"`

	// FlowThroughRatio is outgoing total divided by incoming total over the
	// 168h window. Zero when nothing came in.
	FlowThroughRatio float64 `json:"flowThroughRatio"`

	NewCounterparty bool `json:"newCounterparty"`

	// DuplicateCheckCount is the number of prior deposits in the lookback
	// sharing the same check number, amount, and routing number.
	DuplicateCheckCount int `json:"duplicateCheckCount"`
	// ChecksLastHour counts check deposits in the trailing hour.
	ChecksLastHour    int     `json:"checksLastHour"`
	ChecksLastHourSum float64 `json:"checksLastHourSum"`

	GeoRisk    bool `json:"geoRisk"`
	DeviceRisk bool `json:"deviceRisk"`

	// Timing signals. OddHours marks the late-night window; SameHourCount is
	// the number of historical transactions in the same hour of day as AsOf.
	OddHours      bool `json:"oddHours"`
	Weekend       bool `json:"weekend"`
	SameHourCount int  `json:"sameHourCount"`
	// Odd-hours history over the 168h window, excluding the in-flight
	// transaction.
	OddHoursCount int     `json:"oddHoursCount"`
	OddHoursSum   float64 `json:"oddHoursSum"`

	// Geographic signals, derived from metadata country codes. Counterparty
	// routing history only considers outgoing payments.
	Country                   string `json:"country,omitempty"`
	HighRiskCountry           bool   `json:"highRiskCountry"`
	ElevatedRiskCountry       bool   `json:"elevatedRiskCountry"`
	NewCountryForCounterparty bool   `json:"newCountryForCounterparty"`
	// DomesticOnlyCounterparty is set when the counterparty has an
	// established payment history routed exclusively to HomeCountry.
	DomesticOnlyCounterparty bool `json:"domesticOnlyCounterparty"`
	// FirstInternational marks the account's first outgoing payment that
	// leaves HomeCountry.
	FirstInternational bool `json:"firstInternational"`
	// CounterpartyCountries30d counts distinct countries this counterparty
	// was paid through in the trailing 30 days.
	CounterpartyCountries30d int `json:"counterpartyCountries30d"`

	// Incomplete is set when data access failed after bounded retries.
	// Consumers must fail closed rather than treating the snapshot as empty.
	Incomplete       bool   `json:"incomplete"`
	IncompleteReason string `json:"incompleteReason,omitempty"`
}

// AmountDeviation returns how many standard deviations the given amount sits
// from the rolling mean. When history is insufficient or the stddev collapses
// to zero, the ratio against the mean (floored at 0.01) is used instead so the
// value stays defined for dormant accounts.
func (s *ContextSnapshot) AmountDeviation(amount float64) float64 {
	if s.InsufficientHistory {
		return 0
	}
	if s.AmountStddev > 0 {
		d := amount - s.AmountMean
		if d < 0 {
			d = -d
		}
		return d / s.AmountStddev
	}
	mean := s.AmountMean
	if mean < 0.01 {
		mean = 0.01
	}
	d := amount - s.AmountMean
	if d < 0 {
		d = -d
	}
	return d / mean
}

// Window returns the stats for a trailing window, zero-valued when absent.
func (s *ContextSnapshot) Window(w time.Duration) WindowStats {
	if s.Velocity == nil {
		return WindowStats{}
	}
	return s.Velocity[w]
}
