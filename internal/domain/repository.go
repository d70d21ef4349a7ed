// Package domain defines the core types and interfaces for Kestrel.
package domain

import (
	"context"
	"time"
)

// Repository defines the interface for data persistence.
type Repository interface {
	// Transaction history. GetTransactionsByAccount returns committed
	// transactions for an account within [since, until), ordered by
	// timestamp ascending.
	SaveTransaction(ctx context.Context, tx *Transaction) error
	GetTransaction(ctx context.Context, txID string) (*Transaction, error)
	GetTransactionsByAccount(ctx context.Context, accountID string, since, until time.Time) ([]*Transaction, error)

	// Change-history store: account/beneficiary/device change events for a
	// subject within a window, ordered by timestamp ascending.
	SaveChangeEvent(ctx context.Context, ev *ChangeEvent) error
	GetChangeEvents(ctx context.Context, subjectID, subjectType string, since time.Time) ([]*ChangeEvent, error)

	// Rule-set configuration, versioned.
	SaveRuleSet(ctx context.Context, rs *RuleSet) error
	GetRuleSet(ctx context.Context, version string) (*RuleSet, error)
	GetActiveRuleSet(ctx context.Context) (*RuleSet, error)
	ListRuleSetVersions(ctx context.Context) ([]string, error)

	// Audit store. SaveAssessment is the commit point of an evaluation:
	// persist-or-fail as one unit, never partial.
	SaveAssessment(ctx context.Context, a *RiskAssessment) error
	GetAssessment(ctx context.Context, id string) (*RiskAssessment, error)
	GetAssessmentByTransaction(ctx context.Context, txID string) (*RiskAssessment, error)
	ListAssessments(ctx context.Context, f AssessmentFilter) ([]*RiskAssessment, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string

	// SQLite specific
	SQLitePath string

	// PostgreSQL specific
	PostgresHost     string
	PostgresPort     int
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}
