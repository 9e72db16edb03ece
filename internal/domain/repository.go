package domain

import (
	"context"
	"time"
)

// Repository defines the interface for data persistence.
type Repository interface {
	// Merchant operations
	SaveMerchants(ctx context.Context, merchants []*Merchant) error
	GetMerchant(ctx context.Context, merchantID string) (*Merchant, error)
	GetMerchants(ctx context.Context, ids []string) ([]*Merchant, error)
	ListMerchants(ctx context.Context, offset, limit int) ([]*Merchant, error)

	// Transaction operations
	SaveTransactions(ctx context.Context, txs []*Transaction) error
	GetTransaction(ctx context.Context, txID string) (*Transaction, error)
	ListTransactions(ctx context.Context, offset, limit int) ([]*Transaction, error)
	GetMerchantTransactions(ctx context.Context, merchantID string, filter TransactionFilter) ([]*Transaction, error)

	// NormalizeLegacyStatuses rewrites stored "completed" statuses to "success".
	NormalizeLegacyStatuses(ctx context.Context) (int64, error)

	// Risk metrics
	SaveRiskMetrics(ctx context.Context, m *RiskMetrics) error
	GetLatestRiskMetrics(ctx context.Context, merchantID string) (*RiskMetrics, error)
	ListRiskMetrics(ctx context.Context, merchantID string, since time.Time) ([]*RiskMetrics, error)

	// Daily summaries (upsert on merchant + date)
	SaveSummaries(ctx context.Context, summaries []*TransactionSummary) error
	ListSummaries(ctx context.Context, merchantID string, r TimeRange) ([]*TransactionSummary, error)

	// Timeline events
	SaveTimelineEvents(ctx context.Context, events []*TimelineEvent) error
	ListTimelineEvents(ctx context.Context, filter TimelineFilter) ([]*TimelineEvent, error)
	MarkTimelineEventProcessed(ctx context.Context, eventID string) error

	// Rule configuration operations
	SaveRuleConfig(ctx context.Context, rule *RuleConfig) error
	ListRuleConfigs(ctx context.Context) ([]*RuleConfig, error)

	Ping(ctx context.Context) error
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string

	// SQLite specific. SQLitePath ":memory:" keeps the database in process.
	SQLitePath        string
	SQLiteJournalMode string        // WAL when empty
	SQLiteBusyTimeout time.Duration // 5s when zero

	// PostgreSQL specific
	PostgresHost     string
	PostgresPort     int
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string // disable when empty

	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration

	// ConnectTimeout bounds the startup ping (10s when zero).
	ConnectTimeout time.Duration
}
