package repository

// Schema definitions for the Kestrel database.
// Compatible with both SQLite and PostgreSQL.

// openStatusSQL must match domain.OpenStatuses.
const openStatusSQL = `'new', 'acknowledged', 'in_progress'`

const schemaInsights = `
CREATE TABLE IF NOT EXISTS insights (
    id TEXT PRIMARY KEY,
    fingerprint TEXT NOT NULL,
    module TEXT NOT NULL,
    entity_type TEXT NOT NULL,
    entity_id TEXT NOT NULL,
    entity_name TEXT NOT NULL DEFAULT '',
    rule_id TEXT NOT NULL,
    title TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    severity TEXT NOT NULL,
    category TEXT NOT NULL,
    actual_value DOUBLE PRECISION NOT NULL DEFAULT 0,
    expected_value DOUBLE PRECISION NOT NULL DEFAULT 0,
    variance DOUBLE PRECISION NOT NULL DEFAULT 0,
    recommended_actions TEXT NOT NULL DEFAULT '[]',
    owner TEXT NOT NULL DEFAULT '',
    assigned_to TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL,
    resolved_at TIMESTAMP,
    resolved_by TEXT NOT NULL DEFAULT '',
    resolution_notes TEXT NOT NULL DEFAULT '',
    first_seen_at TIMESTAMP NOT NULL,
    last_seen_at TIMESTAMP NOT NULL,
    occurrence_count INTEGER NOT NULL DEFAULT 1,
    tags TEXT NOT NULL DEFAULT '[]',
    metadata TEXT NOT NULL DEFAULT '{}',
    ml_score DOUBLE PRECISION,
    llm_summary TEXT NOT NULL DEFAULT '',
    created_by TEXT NOT NULL DEFAULT '',
    updated_by TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_insights_open_fingerprint
    ON insights(fingerprint) WHERE status IN ('new', 'acknowledged', 'in_progress');
CREATE INDEX IF NOT EXISTS idx_insights_fingerprint_status ON insights(fingerprint, status);
CREATE INDEX IF NOT EXISTS idx_insights_entity ON insights(module, entity_id, status);
CREATE INDEX IF NOT EXISTS idx_insights_severity ON insights(severity, status, first_seen_at);
CREATE INDEX IF NOT EXISTS idx_insights_owner ON insights(owner, status);
`

const schemaBudgets = `
CREATE TABLE IF NOT EXISTS budgets (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL DEFAULT '',
    code TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL,
    owner TEXT NOT NULL DEFAULT '',
    total_amount DOUBLE PRECISION NOT NULL DEFAULT 0,
    spent_amount DOUBLE PRECISION NOT NULL DEFAULT 0,
    start_date TIMESTAMP,
    end_date TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_budgets_status ON budgets(status);
`

const schemaPromotions = `
CREATE TABLE IF NOT EXISTS promotions (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL DEFAULT '',
    code TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL,
    owner TEXT NOT NULL DEFAULT '',
    customer_id TEXT NOT NULL DEFAULT '',
    product_id TEXT NOT NULL DEFAULT '',
    budget_id TEXT NOT NULL DEFAULT '',
    planned_spend DOUBLE PRECISION NOT NULL DEFAULT 0,
    actual_spend DOUBLE PRECISION NOT NULL DEFAULT 0,
    planned_volume DOUBLE PRECISION NOT NULL DEFAULT 0,
    actual_volume DOUBLE PRECISION NOT NULL DEFAULT 0,
    incremental_revenue DOUBLE PRECISION NOT NULL DEFAULT 0,
    start_date TIMESTAMP,
    end_date TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_promotions_status ON promotions(status);
CREATE INDEX IF NOT EXISTS idx_promotions_customer_product ON promotions(customer_id, product_id, status);
`

const schemaClaims = `
CREATE TABLE IF NOT EXISTS claims (
    id TEXT PRIMARY KEY,
    number TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL,
    owner TEXT NOT NULL DEFAULT '',
    customer_id TEXT NOT NULL DEFAULT '',
    promotion_id TEXT NOT NULL DEFAULT '',
    amount DOUBLE PRECISION NOT NULL DEFAULT 0,
    approved_amount DOUBLE PRECISION NOT NULL DEFAULT 0,
    document_count INTEGER NOT NULL DEFAULT 0,
    submitted_at TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_claims_status ON claims(status);
CREATE INDEX IF NOT EXISTS idx_claims_customer ON claims(customer_id);
`

const schemaDeductions = `
CREATE TABLE IF NOT EXISTS deductions (
    id TEXT PRIMARY KEY,
    number TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL,
    owner TEXT NOT NULL DEFAULT '',
    customer_id TEXT NOT NULL DEFAULT '',
    amount DOUBLE PRECISION NOT NULL DEFAULT 0,
    matched_amount DOUBLE PRECISION NOT NULL DEFAULT 0,
    deduction_date TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_deductions_status ON deductions(status);
CREATE INDEX IF NOT EXISTS idx_deductions_customer ON deductions(customer_id);
`

const schemaTradeSpends = `
CREATE TABLE IF NOT EXISTS trade_spends (
    id TEXT PRIMARY KEY,
    code TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL,
    owner TEXT NOT NULL DEFAULT '',
    customer_id TEXT NOT NULL DEFAULT '',
    amount DOUBLE PRECISION NOT NULL DEFAULT 0,
    accrued_amount DOUBLE PRECISION NOT NULL DEFAULT 0,
    period_start TIMESTAMP,
    period_end TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_trade_spends_status ON trade_spends(status);
`

const schemaKAMWallets = `
CREATE TABLE IF NOT EXISTS kam_wallets (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL,
    owner TEXT NOT NULL DEFAULT '',
    allocated_amount DOUBLE PRECISION NOT NULL DEFAULT 0,
    utilized_amount DOUBLE PRECISION NOT NULL DEFAULT 0,
    committed_amount DOUBLE PRECISION NOT NULL DEFAULT 0,
    expiry_date TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_kam_wallets_status ON kam_wallets(status);
`

const schemaSales = `
CREATE TABLE IF NOT EXISTS sales (
    id TEXT PRIMARY KEY,
    customer_id TEXT NOT NULL,
    sale_date TIMESTAMP NOT NULL,
    net_amount DOUBLE PRECISION NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_sales_customer_date ON sales(customer_id, sale_date);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaInsights,
		schemaBudgets,
		schemaPromotions,
		schemaClaims,
		schemaDeductions,
		schemaTradeSpends,
		schemaKAMWallets,
		schemaSales,
	}
}
