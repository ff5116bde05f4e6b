// Package domain defines the core interfaces and types for creditsight.
package domain

import (
	"context"
	"time"
)

// Repository defines the interface for report and rule-set persistence.
// All methods require tenantID for strict multi-tenancy isolation.
// Writes are best effort: analysis never depends on them succeeding.
type Repository interface {
	// Report operations
	SaveReport(ctx context.Context, tenantID string, report *Report) error
	GetReport(ctx context.Context, tenantID string, reportID string) (*Report, error)
	ListReports(ctx context.Context, tenantID string, limit int) ([]*ReportSummary, error)

	// Rule set operations
	SaveRuleSet(ctx context.Context, tenantID string, set *RuleSet) error
	GetLatestRuleSet(ctx context.Context, tenantID string) (*RuleSet, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// ReportSummary is the listing view of a stored report.
type ReportSummary struct {
	ID            string    `json:"id"`
	TenantID      string    `json:"tenantId"`
	SubjectName   string    `json:"subjectName"`
	RiskLevel     RiskLevel `json:"riskLevel"`
	ImpactScore   float64   `json:"impactScore"`
	TotalInsights int       `json:"totalInsights"`
	CreatedAt     time.Time `json:"createdAt"`
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
