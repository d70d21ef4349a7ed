package domain

import (
	"strings"
	"time"
)

// Direction of money movement relative to the account under evaluation.
type Direction string

const (
	DirectionCredit Direction = "credit"
	DirectionDebit  Direction = "debit"
)

// Transaction represents an incoming transaction to be evaluated.
// Immutable once created.
type Transaction struct {
	ID             string `json:"id"`
	AccountID      string `json:"accountId"`
	CounterpartyID string `json:"counterpartyId"`

	// Transaction type (e.g., "transfer", "payroll", "check_deposit", "refund")
	Type string `json:"type"`

	// Direction is credit (incoming) or debit (outgoing). When empty it is
	// inferred from Type via InferDirection.
	Direction Direction `json:"direction,omitempty"`

	Amount   float64 `json:"amount"`
	Currency string  `json:"currency"`

	Timestamp time.Time `json:"timestamp"`
	CreatedAt time.Time `json:"createdAt"`

	// Optional metadata (check number, routing number, geo/device hints, ...)
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

var creditTypes = map[string]bool{
	"credit":   true,
	"deposit":  true,
	"incoming": true,
}

var debitTypes = map[string]bool{
	"debit":      true,
	"transfer":   true,
	"wire":       true,
	"ach":        true,
	"payment":    true,
	"payroll":    true,
	"withdrawal": true,
	"outgoing":   true,
	"refund":     true,
	"reversal":   true,
}

// InferDirection resolves the effective direction of a transaction.
// An explicit Direction wins; otherwise the type decides, and unknown
// types fall back to debit since outgoing movement is the risk-bearing case.
func (t *Transaction) InferDirection() Direction {
	if t.Direction == DirectionCredit || t.Direction == DirectionDebit {
		return t.Direction
	}
	typ := strings.ToLower(t.Type)
	if creditTypes[typ] {
		return DirectionCredit
	}
	if debitTypes[typ] {
		return DirectionDebit
	}
	return DirectionDebit
}

// IsCredit reports whether the transaction moves money into the account.
func (t *Transaction) IsCredit() bool { return t.InferDirection() == DirectionCredit }

// IsDebit reports whether the transaction moves money out of the account.
func (t *Transaction) IsDebit() bool { return t.InferDirection() == DirectionDebit }

// MetaString returns a string metadata field, or "" when absent.
func (t *Transaction) MetaString(key string) string {
	if t.Metadata == nil {
		return ""
	}
	if v, ok := t.Metadata[key].(string); ok {
		return v
	}
	return ""
}

// countryKeys are the metadata fields carrying a destination country, in
// lookup order.
var countryKeys = []string{"country", "country_code", "bank_country", "destination_country"}

// Country returns the ISO 3166-1 alpha-2 destination country from metadata,
// or "" when none is present.
func (t *Transaction) Country() string {
	for _, k := range countryKeys {
		v := t.MetaString(k)
		if v == "" {
			continue
		}
		v = strings.ToUpper(v)
		if len(v) > 2 {
			v = v[:2]
		}
		return v
	}
	return ""
}

// MetaBool returns a boolean metadata field, or false when absent.
func (t *Transaction) MetaBool(key string) bool {
	if t.Metadata == nil {
		return false
	}
	if v, ok := t.Metadata[key].(bool); ok {
		return v
	}
	return false
}

// ChangeEvent is an account, beneficiary, or device change record consumed
// from the change-history store.
type ChangeEvent struct {
	ID          string    `json:"id"`
	SubjectID   string    `json:"subjectId"`
	SubjectType string    `json:"subjectType"` // "account", "beneficiary", "device"
	ChangeType  string    `json:"changeType"`  // e.g., "bank_details", "phone", "email"
	Source      string    `json:"source"`      // e.g., "portal", "email", "phone", "fax"
	Verified    bool      `json:"verified"`
	Timestamp   time.Time `json:"timestamp"`
}

// Change subject types.
const (
	SubjectAccount     = "account"
	SubjectBeneficiary = "beneficiary"
	SubjectDevice      = "device"
)

// SuspiciousChangeSources are request channels commonly abused in business
// email compromise: anything that bypasses the authenticated portal.
var SuspiciousChangeSources = map[string]bool{
	"email": true,
	"phone": true,
	"fax":   true,
}
