package repository

// Schema definitions for the PesaGuard database.
// Compatible with both SQLite and PostgreSQL.

const schemaBusinesses = `
CREATE TABLE IF NOT EXISTS businesses (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    short_code TEXT NOT NULL UNIQUE,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_businesses_short_code ON businesses(short_code);
`

const schemaTransactions = `
CREATE TABLE IF NOT EXISTS transactions (
    id TEXT PRIMARY KEY,
    business_id TEXT NOT NULL,
    transaction_id TEXT NOT NULL,
    type TEXT NOT NULL,
    amount REAL NOT NULL,
    short_code TEXT NOT NULL,
    bill_ref_number TEXT,
    invoice_number TEXT,
    org_account_balance REAL,
    third_party_trans_id TEXT,
    msisdn TEXT NOT NULL,
    first_name TEXT,
    middle_name TEXT,
    last_name TEXT,
    trans_time TIMESTAMP NOT NULL,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_transactions_business ON transactions(business_id);
CREATE INDEX IF NOT EXISTS idx_transactions_customer ON transactions(business_id, msisdn);
CREATE INDEX IF NOT EXISTS idx_transactions_trans_time ON transactions(business_id, trans_time);
`

const schemaPatterns = `
CREATE TABLE IF NOT EXISTS fraud_patterns (
    id TEXT PRIMARY KEY,
    pattern_type TEXT NOT NULL,
    name TEXT NOT NULL,
    description TEXT,
    expression TEXT,
    weight REAL NOT NULL DEFAULT 0,
    active INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_fraud_patterns_active ON fraud_patterns(active);
`

const schemaAssessments = `
CREATE TABLE IF NOT EXISTS fraud_assessments (
    id TEXT PRIMARY KEY,
    business_id TEXT NOT NULL,
    transaction_id TEXT NOT NULL UNIQUE,
    score REAL NOT NULL,
    model_score REAL NOT NULL DEFAULT 0,
    blended_score REAL NOT NULL DEFAULT 0,
    risk_level TEXT NOT NULL,
    flagged INTEGER NOT NULL DEFAULT 0,
    factors TEXT NOT NULL,
    assessed_at TIMESTAMP NOT NULL,
    reviewed INTEGER NOT NULL DEFAULT 0,
    reviewed_by TEXT,
    reviewed_at TIMESTAMP,
    notes TEXT
);

CREATE INDEX IF NOT EXISTS idx_assessments_business ON fraud_assessments(business_id);
CREATE INDEX IF NOT EXISTS idx_assessments_flagged ON fraud_assessments(flagged, reviewed);
CREATE INDEX IF NOT EXISTS idx_assessments_score ON fraud_assessments(score);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaBusinesses,
		schemaTransactions,
		schemaPatterns,
		schemaAssessments,
	}
}
