package domain

// ChainPattern identifies a money-movement pattern detected by the chain
// analyzer.
type ChainPattern string

const (
	// PatternCreditRefundTransfer is a layering chain: credit received,
	// refund issued, funds transferred onward to a different party.
	PatternCreditRefundTransfer ChainPattern = "credit_refund_transfer"

	// PatternLayeringConsolidation is structuring: many small credits
	// consolidated by one larger debit.
	PatternLayeringConsolidation ChainPattern = "layering_consolidation"

	// PatternRapidReversal is a fast credit followed by a reversal,
	// typical of account testing.
	PatternRapidReversal ChainPattern = "rapid_reversal"
)

// ChainFinding is one detected transaction chain. Built fresh per evaluation
// window, never persisted as a live structure.
type ChainFinding struct {
	TransactionIDs    []string     `json:"transactionIds"`
	Pattern           ChainPattern `json:"pattern"`
	Suspicion         float64      `json:"suspicion"`
	SpanHours         float64      `json:"spanHours"`
	TotalAmount       float64      `json:"totalAmount"`
	CounterpartyCount int          `json:"counterpartyCount"`
}

// ChainAnalysis aggregates all findings for one evaluation window.
// Overlapping matches across patterns are recorded independently since each
// carries distinct evidentiary weight.
type ChainAnalysis struct {
	Findings []ChainFinding `json:"findings,omitempty"`

	MaxSuspicion float64 `json:"maxSuspicion"`

	CreditRefundCount  int `json:"creditRefundCount"`
	LayeringCount      int `json:"layeringCount"`
	RapidReversalCount int `json:"rapidReversalCount"`

	// Incomplete is set when the windowed history could not be read.
	Incomplete bool `json:"incomplete"`
}

// HasFindings reports whether any pattern matched.
func (c *ChainAnalysis) HasFindings() bool {
	return c != nil && len(c.Findings) > 0
}

// TotalCount returns the number of matches across all patterns.
func (c *ChainAnalysis) TotalCount() int {
	if c == nil {
		return 0
	}
	return len(c.Findings)
}
