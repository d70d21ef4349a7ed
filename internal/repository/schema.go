package repository

// Schema definitions for the Kestrel database.
// Compatible with both SQLite and PostgreSQL.

const schemaTransactions = `
CREATE TABLE IF NOT EXISTS transactions (
    id TEXT PRIMARY KEY,
    account_id TEXT NOT NULL,
    counterparty_id TEXT NOT NULL,
    type TEXT NOT NULL,
    direction TEXT NOT NULL DEFAULT '',
    amount REAL NOT NULL,
    currency TEXT NOT NULL,
    timestamp TIMESTAMP NOT NULL,
    created_at TIMESTAMP NOT NULL,
    metadata TEXT
);

CREATE INDEX IF NOT EXISTS idx_transactions_account ON transactions(account_id, timestamp);
CREATE INDEX IF NOT EXISTS idx_transactions_counterparty ON transactions(counterparty_id);
CREATE INDEX IF NOT EXISTS idx_transactions_timestamp ON transactions(timestamp);
`

const schemaChangeEvents = `
CREATE TABLE IF NOT EXISTS change_events (
    id TEXT PRIMARY KEY,
    subject_id TEXT NOT NULL,
    subject_type TEXT NOT NULL,
    change_type TEXT NOT NULL,
    source TEXT NOT NULL DEFAULT '',
    verified INTEGER NOT NULL DEFAULT 0,
    timestamp TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_change_events_subject ON change_events(subject_id, subject_type, timestamp);
`

const schemaRuleSets = `
CREATE TABLE IF NOT EXISTS rule_sets (
    version TEXT PRIMARY KEY,
    rules TEXT NOT NULL,
    thresholds TEXT NOT NULL,
    chain_blend_weight REAL NOT NULL DEFAULT 0.3,
    model_blend_weight REAL NOT NULL DEFAULT 0,
    active INTEGER NOT NULL DEFAULT 0,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_rule_sets_active ON rule_sets(active);
`

const schemaAssessments = `
CREATE TABLE IF NOT EXISTS assessments (
    id TEXT PRIMARY KEY,
    tx_id TEXT NOT NULL,
    account_id TEXT NOT NULL,
    rule_set_version TEXT NOT NULL,
    risk_score REAL NOT NULL,
    rule_score REAL NOT NULL,
    chain_score REAL NOT NULL,
    total_possible_weight REAL NOT NULL,
    decision TEXT NOT NULL,
    review_reason TEXT,
    triggered TEXT NOT NULL,
    rule_errors TEXT,
    chains TEXT,
    cost_benefit TEXT NOT NULL,
    incomplete INTEGER NOT NULL DEFAULT 0,
    incomplete_reason TEXT,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_assessments_tx ON assessments(tx_id);
CREATE INDEX IF NOT EXISTS idx_assessments_account ON assessments(account_id, created_at);
CREATE INDEX IF NOT EXISTS idx_assessments_decision ON assessments(decision, created_at);
CREATE INDEX IF NOT EXISTS idx_assessments_created ON assessments(created_at);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaTransactions,
		schemaChangeEvents,
		schemaRuleSets,
		schemaAssessments,
	}
}
