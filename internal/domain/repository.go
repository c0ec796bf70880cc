// Package domain defines the core interfaces and types for Kestrel.
package domain

import (
	"context"
	"time"
)

// InsightRepository persists insights and enforces the open-fingerprint invariant.
type InsightRepository interface {
	// UpsertInsight atomically refreshes the open insight for payload.Fingerprint,
	// or creates a new one when none is open. The bool is true when a record was created.
	UpsertInsight(ctx context.Context, payload *InsightPayload, seenAt time.Time) (*Insight, bool, error)

	GetInsight(ctx context.Context, id string) (*Insight, error)
	ListInsights(ctx context.Context, filter InsightFilter) (*InsightPage, error)
	SummarizeInsights(ctx context.Context) (*InsightSummary, error)
	// TopInsights returns open insights for a module, most severe and most recent first.
	TopInsights(ctx context.Context, module string, limit int) ([]*Insight, error)

	// Lifecycle transitions
	Acknowledge(ctx context.Context, id, actor string) (*Insight, error)
	Assign(ctx context.Context, id, actor, assignee string) (*Insight, error)
	Resolve(ctx context.Context, id, actor, notes string) (*Insight, error)
	Dismiss(ctx context.Context, id, actor, notes string) (*Insight, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// EntityStore is the read side of the business entity stores.
type EntityStore interface {
	// FindLiveEntities returns at most limit non-terminal entities of a module.
	FindLiveEntities(ctx context.Context, module string, limit int) ([]Entity, error)

	// FindEntityByID returns ErrNotFound when the entity does not exist.
	FindEntityByID(ctx context.Context, module string, id string) (Entity, error)
}

// ClaimStats summarizes a customer's claim history.
type ClaimStats struct {
	Count         int     `json:"count"`
	AverageAmount float64 `json:"averageAmount"`
	InvalidRate   float64 `json:"invalidRate"`
}

// DeductionStats summarizes a customer's deduction history.
type DeductionStats struct {
	Count         int     `json:"count"`
	AverageAmount float64 `json:"averageAmount"`
}

// StatsSource provides the historical aggregates the context builder needs.
type StatsSource interface {
	// AverageBudgetUtilization returns mean spent/total across live budgets and how many contributed.
	AverageBudgetUtilization(ctx context.Context) (float64, int, error)

	// CountOverlappingPromotions counts other live promotions for the same customer and
	// product whose date range intersects p's.
	CountOverlappingPromotions(ctx context.Context, p *Promotion) (int, error)

	CustomerClaimStats(ctx context.Context, customerID string) (ClaimStats, error)
	CustomerDeductionStats(ctx context.Context, customerID string) (DeductionStats, error)

	// NetSales returns the customer's net sales in [from, to] and whether any sales rows exist.
	NetSales(ctx context.Context, customerID string, from, to time.Time) (float64, bool, error)
}

// Notifier receives every newly created insight.
type Notifier interface {
	InsightCreated(ctx context.Context, insight *Insight) error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string `json:"driver" yaml:"driver" toml:"driver"`

	// SQLite specific
	SQLitePath string `json:"sqlitePath" yaml:"sqlite_path" toml:"sqlite_path"`

	// PostgreSQL specific
	PostgresHost     string `json:"postgresHost" yaml:"postgres_host" toml:"postgres_host"`
	PostgresPort     int    `json:"postgresPort" yaml:"postgres_port" toml:"postgres_port"`
	PostgresUser     string `json:"postgresUser" yaml:"postgres_user" toml:"postgres_user"`
	PostgresPassword string `json:"-" yaml:"postgres_password" toml:"postgres_password"`
	PostgresDB       string `json:"postgresDb" yaml:"postgres_db" toml:"postgres_db"`
	PostgresSSLMode  string `json:"postgresSslMode" yaml:"postgres_ssl_mode" toml:"postgres_ssl_mode"`

	// Connection pool settings
	MaxOpenConns       int `json:"maxOpenConns" yaml:"max_open_conns" toml:"max_open_conns"`
	MaxIdleConns       int `json:"maxIdleConns" yaml:"max_idle_conns" toml:"max_idle_conns"`
	ConnMaxLifetimeSec int `json:"connMaxLifetimeSec" yaml:"conn_max_lifetime_sec" toml:"conn_max_lifetime_sec"`
}
