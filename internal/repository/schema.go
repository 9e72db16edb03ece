package repository

// Schema definitions for the Kestrel database.
// Compatible with both SQLite and PostgreSQL.

const schemaMerchants = `
CREATE TABLE IF NOT EXISTS merchants (
    merchant_id TEXT PRIMARY KEY,
    business_name TEXT NOT NULL,
    business_type TEXT NOT NULL,
    registration_date TIMESTAMP NOT NULL,
    business_model TEXT NOT NULL,
    product_category TEXT NOT NULL,
    average_ticket_size REAL NOT NULL,
    gst_status INTEGER NOT NULL DEFAULT 0,
    epfo_registered INTEGER NOT NULL DEFAULT 0,
    registered_address TEXT NOT NULL,
    city TEXT NOT NULL,
    state TEXT NOT NULL,
    reported_revenue REAL NOT NULL,
    employee_count INTEGER NOT NULL,
    bank_account TEXT NOT NULL
);
`

const schemaTransactions = `
CREATE TABLE IF NOT EXISTS transactions (
    transaction_id TEXT PRIMARY KEY,
    merchant_id TEXT NOT NULL,
    receiver_merchant_id TEXT NOT NULL,
    timestamp TIMESTAMP NOT NULL,
    amount REAL NOT NULL,
    payment_method TEXT NOT NULL,
    status TEXT NOT NULL,
    platform TEXT NOT NULL,
    product_category TEXT NOT NULL,
    customer_id TEXT NOT NULL,
    device_id TEXT NOT NULL,
    customer_location TEXT NOT NULL,
    velocity_flag INTEGER NOT NULL DEFAULT 0,
    amount_flag INTEGER NOT NULL DEFAULT 0,
    time_flag INTEGER NOT NULL DEFAULT 0,
    device_flag INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_transactions_merchant ON transactions(merchant_id, timestamp);
CREATE INDEX IF NOT EXISTS idx_transactions_receiver ON transactions(receiver_merchant_id);
CREATE INDEX IF NOT EXISTS idx_transactions_status ON transactions(status);
`

const schemaRiskMetrics = `
CREATE TABLE IF NOT EXISTS risk_metrics (
    id TEXT PRIMARY KEY,
    merchant_id TEXT NOT NULL,
    timestamp TIMESTAMP NOT NULL,
    window_start TIMESTAMP NOT NULL,
    window_end TIMESTAMP NOT NULL,
    transaction_count INTEGER NOT NULL,
    late_night_score REAL NOT NULL,
    sudden_spike_score REAL NOT NULL,
    velocity_abuse_score REAL NOT NULL,
    device_switching_score REAL NOT NULL,
    location_hopping_score REAL NOT NULL,
    payment_cycling_score REAL NOT NULL,
    round_amount_score REAL NOT NULL,
    customer_concentration_score REAL NOT NULL,
    composite_risk_score REAL NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_risk_metrics_merchant ON risk_metrics(merchant_id, timestamp);
`

// schemaSummaries holds one derived row per merchant and day; recomputation
// upserts on the primary key.
const schemaSummaries = `
CREATE TABLE IF NOT EXISTS transaction_summaries (
    merchant_id TEXT NOT NULL,
    date TIMESTAMP NOT NULL,
    txn_count INTEGER NOT NULL,
    total_volume REAL NOT NULL,
    avg_amount REAL NOT NULL,
    max_amount REAL NOT NULL,
    min_amount REAL NOT NULL,
    unique_customers INTEGER NOT NULL,
    unique_payment_methods INTEGER NOT NULL,
    PRIMARY KEY (merchant_id, date)
);
`

const schemaTimelineEvents = `
CREATE TABLE IF NOT EXISTS timeline_events (
    id TEXT PRIMARY KEY,
    merchant_id TEXT NOT NULL,
    event_type TEXT NOT NULL,
    timestamp TIMESTAMP NOT NULL,
    details TEXT NOT NULL,
    severity TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL,
    processed INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_timeline_events_merchant ON timeline_events(merchant_id, timestamp);
CREATE INDEX IF NOT EXISTS idx_timeline_events_type ON timeline_events(merchant_id, event_type);
`

const schemaRuleConfigs = `
CREATE TABLE IF NOT EXISTS rule_configs (
    id TEXT NOT NULL,
    name TEXT NOT NULL,
    description TEXT,
    version TEXT NOT NULL,
    expression TEXT NOT NULL,
    bands TEXT NOT NULL,
    weight REAL NOT NULL DEFAULT 1.0,
    enabled INTEGER NOT NULL DEFAULT 1,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    PRIMARY KEY (id, version)
);

CREATE INDEX IF NOT EXISTS idx_rule_configs_enabled ON rule_configs(enabled);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaMerchants,
		schemaTransactions,
		schemaRiskMetrics,
		schemaSummaries,
		schemaTimelineEvents,
		schemaRuleConfigs,
	}
}
