// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/openrisk/kestrel/internal/domain"
)

var (
	ErrNotFound     = domain.ErrNotFound
	ErrInvalidInput = errors.New("invalid input")
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, domain.ConfigErrorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	// Run migrations
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// SaveTransaction stores a transaction in the history store.
func (r *SQLRepository) SaveTransaction(ctx context.Context, tx *domain.Transaction) error {
	if tx.ID == "" {
		return fmt.Errorf("%w: transaction id is required", ErrInvalidInput)
	}

	metadata, _ := json.Marshal(tx.Metadata)

	query := `
		INSERT INTO transactions (
			id, account_id, counterparty_id, type, direction,
			amount, currency, timestamp, created_at, metadata
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		tx.ID, tx.AccountID, tx.CounterpartyID,
		tx.Type, string(tx.Direction),
		tx.Amount, tx.Currency,
		tx.Timestamp, tx.CreatedAt,
		string(metadata),
	)
	if err != nil {
		return domain.DataAccessErrorf("save transaction: %v", err)
	}
	return nil
}

// GetTransaction retrieves a transaction by ID.
func (r *SQLRepository) GetTransaction(ctx context.Context, txID string) (*domain.Transaction, error) {
	query := `
		SELECT id, account_id, counterparty_id, type, direction,
		       amount, currency, timestamp, created_at, metadata
		FROM transactions
		WHERE id = ?
	`

	tx, err := scanTransaction(r.db.QueryRowContext(ctx, r.rebind(query), txID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, domain.DataAccessErrorf("get transaction: %v", err)
	}
	return tx, nil
}

// GetTransactionsByAccount retrieves an account's transactions within
// [since, until), ordered by timestamp ascending.
func (r *SQLRepository) GetTransactionsByAccount(ctx context.Context, accountID string, since, until time.Time) ([]*domain.Transaction, error) {
	query := `
		SELECT id, account_id, counterparty_id, type, direction,
		       amount, currency, timestamp, created_at, metadata
		FROM transactions
		WHERE account_id = ?
		  AND timestamp >= ?
		  AND timestamp < ?
		ORDER BY timestamp ASC
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), accountID, since, until)
	if err != nil {
		return nil, domain.DataAccessErrorf("query transactions: %v", err)
	}
	defer rows.Close()

	var transactions []*domain.Transaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, domain.DataAccessErrorf("scan transaction: %v", err)
		}
		transactions = append(transactions, tx)
	}

	if err := rows.Err(); err != nil {
		return nil, domain.DataAccessErrorf("iterate transactions: %v", err)
	}
	return transactions, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row rowScanner) (*domain.Transaction, error) {
	var tx domain.Transaction
	var direction, metadata string

	if err := row.Scan(
		&tx.ID, &tx.AccountID, &tx.CounterpartyID,
		&tx.Type, &direction,
		&tx.Amount, &tx.Currency,
		&tx.Timestamp, &tx.CreatedAt,
		&metadata,
	); err != nil {
		return nil, err
	}

	tx.Direction = domain.Direction(direction)
	if metadata != "" && metadata != "null" {
		json.Unmarshal([]byte(metadata), &tx.Metadata)
	}
	return &tx, nil
}

// SaveChangeEvent stores an account, beneficiary, or device change record.
func (r *SQLRepository) SaveChangeEvent(ctx context.Context, ev *domain.ChangeEvent) error {
	if ev.ID == "" {
		return fmt.Errorf("%w: change event id is required", ErrInvalidInput)
	}

	verified := 0
	if ev.Verified {
		verified = 1
	}

	query := `
		INSERT INTO change_events (
			id, subject_id, subject_type, change_type, source, verified, timestamp
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		ev.ID, ev.SubjectID, ev.SubjectType,
		ev.ChangeType, ev.Source, verified, ev.Timestamp,
	)
	if err != nil {
		return domain.DataAccessErrorf("save change event: %v", err)
	}
	return nil
}

// GetChangeEvents retrieves change events for a subject since the given
// time, ordered by timestamp ascending.
func (r *SQLRepository) GetChangeEvents(ctx context.Context, subjectID, subjectType string, since time.Time) ([]*domain.ChangeEvent, error) {
	query := `
		SELECT id, subject_id, subject_type, change_type, source, verified, timestamp
		FROM change_events
		WHERE subject_id = ? AND subject_type = ? AND timestamp >= ?
		ORDER BY timestamp ASC
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), subjectID, subjectType, since)
	if err != nil {
		return nil, domain.DataAccessErrorf("query change events: %v", err)
	}
	defer rows.Close()

	var events []*domain.ChangeEvent
	for rows.Next() {
		var ev domain.ChangeEvent
		var verified int

		if err := rows.Scan(
			&ev.ID, &ev.SubjectID, &ev.SubjectType,
			&ev.ChangeType, &ev.Source, &verified, &ev.Timestamp,
		); err != nil {
			return nil, domain.DataAccessErrorf("scan change event: %v", err)
		}

		ev.Verified = verified == 1
		events = append(events, &ev)
	}

	if err := rows.Err(); err != nil {
		return nil, domain.DataAccessErrorf("iterate change events: %v", err)
	}
	return events, nil
}

// SaveRuleSet stores a rule set version and marks it active. Any previously
// active version is deactivated in the same transaction.
func (r *SQLRepository) SaveRuleSet(ctx context.Context, rs *domain.RuleSet) error {
	if rs.Version == "" {
		return fmt.Errorf("%w: rule set version is required", ErrInvalidInput)
	}

	rules, err := json.Marshal(rs.Rules)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	thresholds, _ := json.Marshal(rs.Thresholds)

	now := time.Now().UTC()

	dbTx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.DataAccessErrorf("begin rule set save: %v", err)
	}
	defer dbTx.Rollback()

	if _, err := dbTx.ExecContext(ctx, r.rebind(`UPDATE rule_sets SET active = 0, updated_at = ? WHERE active = 1`), now); err != nil {
		return domain.DataAccessErrorf("deactivate rule sets: %v", err)
	}

	query := `
		INSERT INTO rule_sets (
			version, rules, thresholds, chain_blend_weight, model_blend_weight,
			active, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, 1, ?, ?)
		ON CONFLICT(version) DO UPDATE SET
			rules = excluded.rules,
			thresholds = excluded.thresholds,
			chain_blend_weight = excluded.chain_blend_weight,
			model_blend_weight = excluded.model_blend_weight,
			active = 1,
			updated_at = excluded.updated_at
	`

	if _, err := dbTx.ExecContext(ctx, r.rebind(query),
		rs.Version, string(rules), string(thresholds),
		rs.ChainBlendWeight, rs.ModelBlendWeight,
		now, now,
	); err != nil {
		return domain.DataAccessErrorf("save rule set: %v", err)
	}

	if err := dbTx.Commit(); err != nil {
		return domain.DataAccessErrorf("commit rule set save: %v", err)
	}
	return nil
}

// GetRuleSet retrieves a rule set by version.
func (r *SQLRepository) GetRuleSet(ctx context.Context, version string) (*domain.RuleSet, error) {
	query := `
		SELECT version, rules, thresholds, chain_blend_weight, model_blend_weight
		FROM rule_sets
		WHERE version = ?
	`
	return r.queryRuleSet(ctx, query, version)
}

// GetActiveRuleSet retrieves the currently active rule set.
func (r *SQLRepository) GetActiveRuleSet(ctx context.Context) (*domain.RuleSet, error) {
	query := `
		SELECT version, rules, thresholds, chain_blend_weight, model_blend_weight
		FROM rule_sets
		WHERE active = 1
		ORDER BY updated_at DESC
		LIMIT 1
	`
	return r.queryRuleSet(ctx, query)
}

func (r *SQLRepository) queryRuleSet(ctx context.Context, query string, args ...any) (*domain.RuleSet, error) {
	var rs domain.RuleSet
	var rules, thresholds string

	err := r.db.QueryRowContext(ctx, r.rebind(query), args...).Scan(
		&rs.Version, &rules, &thresholds,
		&rs.ChainBlendWeight, &rs.ModelBlendWeight,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, domain.DataAccessErrorf("get rule set: %v", err)
	}

	if err := json.Unmarshal([]byte(rules), &rs.Rules); err != nil {
		return nil, domain.ConfigErrorf("parse rule set %s: %v", rs.Version, err)
	}
	if err := json.Unmarshal([]byte(thresholds), &rs.Thresholds); err != nil {
		return nil, domain.ConfigErrorf("parse thresholds for %s: %v", rs.Version, err)
	}

	return &rs, nil
}

// ListRuleSetVersions lists all stored rule set versions, newest first.
func (r *SQLRepository) ListRuleSetVersions(ctx context.Context) ([]string, error) {
	query := `SELECT version FROM rule_sets ORDER BY created_at DESC`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, domain.DataAccessErrorf("list rule set versions: %v", err)
	}
	defer rows.Close()

	var versions []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, domain.DataAccessErrorf("scan rule set version: %v", err)
		}
		versions = append(versions, v)
	}

	return versions, rows.Err()
}

// SaveAssessment stores an assessment. This is the commit point of an
// evaluation: the row is written in full or not at all.
func (r *SQLRepository) SaveAssessment(ctx context.Context, a *domain.RiskAssessment) error {
	if a.ID == "" {
		return fmt.Errorf("%w: assessment id is required", ErrInvalidInput)
	}

	triggered, _ := json.Marshal(a.Triggered)
	ruleErrors, _ := json.Marshal(a.RuleErrors)
	costBenefit, _ := json.Marshal(a.CostBenefit)

	chains := ""
	if a.Chains != nil {
		b, _ := json.Marshal(a.Chains)
		chains = string(b)
	}

	incomplete := 0
	if a.Incomplete {
		incomplete = 1
	}

	query := `
		INSERT INTO assessments (
			id, tx_id, account_id, rule_set_version,
			risk_score, rule_score, chain_score, total_possible_weight,
			decision, review_reason, triggered, rule_errors, chains,
			cost_benefit, incomplete, incomplete_reason, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		a.ID, a.TxID, a.AccountID, a.RuleSetVersion,
		a.RiskScore, a.RuleScore, a.ChainScore, a.TotalPossibleWeight,
		string(a.Decision), a.ReviewReason,
		string(triggered), string(ruleErrors), chains,
		string(costBenefit), incomplete, a.IncompleteReason,
		a.CreatedAt,
	)
	if err != nil {
		return domain.DataAccessErrorf("save assessment: %v", err)
	}
	return nil
}

// GetAssessment retrieves an assessment by ID.
func (r *SQLRepository) GetAssessment(ctx context.Context, id string) (*domain.RiskAssessment, error) {
	query := assessmentSelect + ` WHERE id = ?`

	a, err := scanAssessment(r.db.QueryRowContext(ctx, r.rebind(query), id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, domain.DataAccessErrorf("get assessment: %v", err)
	}
	return a, nil
}

// GetAssessmentByTransaction retrieves the latest assessment for a
// transaction.
func (r *SQLRepository) GetAssessmentByTransaction(ctx context.Context, txID string) (*domain.RiskAssessment, error) {
	query := assessmentSelect + ` WHERE tx_id = ? ORDER BY created_at DESC LIMIT 1`

	a, err := scanAssessment(r.db.QueryRowContext(ctx, r.rebind(query), txID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, domain.DataAccessErrorf("get assessment by transaction: %v", err)
	}
	return a, nil
}

// ListAssessments retrieves assessments matching the filter, newest first.
func (r *SQLRepository) ListAssessments(ctx context.Context, f domain.AssessmentFilter) ([]*domain.RiskAssessment, error) {
	query := assessmentSelect + ` WHERE 1 = 1`
	var args []any

	if f.TxID != "" {
		query += ` AND tx_id = ?`
		args = append(args, f.TxID)
	}
	if f.AccountID != "" {
		query += ` AND account_id = ?`
		args = append(args, f.AccountID)
	}
	if f.Decision != "" {
		query += ` AND decision = ?`
		args = append(args, string(f.Decision))
	}
	if !f.From.IsZero() {
		query += ` AND created_at >= ?`
		args = append(args, f.From)
	}
	if !f.To.IsZero() {
		query += ` AND created_at < ?`
		args = append(args, f.To)
	}

	query += ` ORDER BY created_at DESC`

	limit := f.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT %d`, limit)

	rows, err := r.db.QueryContext(ctx, r.rebind(query), args...)
	if err != nil {
		return nil, domain.DataAccessErrorf("query assessments: %v", err)
	}
	defer rows.Close()

	var assessments []*domain.RiskAssessment
	for rows.Next() {
		a, err := scanAssessment(rows)
		if err != nil {
			return nil, domain.DataAccessErrorf("scan assessment: %v", err)
		}
		assessments = append(assessments, a)
	}

	if err := rows.Err(); err != nil {
		return nil, domain.DataAccessErrorf("iterate assessments: %v", err)
	}
	return assessments, nil
}

const assessmentSelect = `
	SELECT id, tx_id, account_id, rule_set_version,
	       risk_score, rule_score, chain_score, total_possible_weight,
	       decision, review_reason, triggered, rule_errors, chains,
	       cost_benefit, incomplete, incomplete_reason, created_at
	FROM assessments`

func scanAssessment(row rowScanner) (*domain.RiskAssessment, error) {
	var a domain.RiskAssessment
	var decision string
	var triggered, ruleErrors, chains, costBenefit string
	var incomplete int

	if err := row.Scan(
		&a.ID, &a.TxID, &a.AccountID, &a.RuleSetVersion,
		&a.RiskScore, &a.RuleScore, &a.ChainScore, &a.TotalPossibleWeight,
		&decision, &a.ReviewReason,
		&triggered, &ruleErrors, &chains,
		&costBenefit, &incomplete, &a.IncompleteReason,
		&a.CreatedAt,
	); err != nil {
		return nil, err
	}

	a.Decision = domain.Decision(decision)
	a.Incomplete = incomplete == 1

	json.Unmarshal([]byte(triggered), &a.Triggered)
	if ruleErrors != "" && ruleErrors != "null" {
		json.Unmarshal([]byte(ruleErrors), &a.RuleErrors)
	}
	if chains != "" {
		var c domain.ChainAnalysis
		if err := json.Unmarshal([]byte(chains), &c); err == nil {
			a.Chains = &c
		}
	}
	json.Unmarshal([]byte(costBenefit), &a.CostBenefit)

	return &a, nil
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, fmt.Sprintf("%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}
