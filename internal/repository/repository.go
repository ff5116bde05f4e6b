// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/opensource-finance/creditsight/internal/domain"
)

var (
	ErrNotFound     = errors.New("record not found")
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
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 && cfg.SQLitePath != memoryPath {
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

// SaveReport stores a report with tenant isolation. Saving an existing id
// replaces the stored report.
func (r *SQLRepository) SaveReport(ctx context.Context, tenantID string, report *domain.Report) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	if report == nil || report.ID == "" {
		return fmt.Errorf("%w: report id is required", ErrInvalidInput)
	}

	body, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}

	subject, _ := report.PersonalInfo["name"].(string)

	query := `
		INSERT INTO reports (
			id, tenant_id, subject_name, risk_level, impact_score,
			total_insights, created_at, body
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			subject_name = excluded.subject_name,
			risk_level = excluded.risk_level,
			impact_score = excluded.impact_score,
			total_insights = excluded.total_insights,
			body = excluded.body
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		report.ID, tenantID, subject,
		string(report.RiskLevel), report.ImpactScore,
		report.TotalInsights, report.GeneratedAt,
		string(body),
	)
	return err
}

// GetReport retrieves a report by ID with tenant isolation.
func (r *SQLRepository) GetReport(ctx context.Context, tenantID string, reportID string) (*domain.Report, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT body
		FROM reports
		WHERE tenant_id = ? AND id = ?
	`

	var body string
	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID, reportID).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var report domain.Report
	if err := json.Unmarshal([]byte(body), &report); err != nil {
		return nil, fmt.Errorf("failed to decode report: %w", err)
	}
	report.TenantID = tenantID
	return &report, nil
}

// ListReports returns the most recent report summaries for a tenant.
func (r *SQLRepository) ListReports(ctx context.Context, tenantID string, limit int) ([]*domain.ReportSummary, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, tenant_id, subject_name, risk_level, impact_score, total_insights, created_at
		FROM reports
		WHERE tenant_id = ?
		ORDER BY created_at DESC, id
		LIMIT ?
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query), tenantID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var summaries []*domain.ReportSummary
	for rows.Next() {
		var s domain.ReportSummary
		var risk string

		if err := rows.Scan(
			&s.ID, &s.TenantID, &s.SubjectName, &risk,
			&s.ImpactScore, &s.TotalInsights, &s.CreatedAt,
		); err != nil {
			return nil, err
		}

		s.RiskLevel = domain.RiskLevel(risk)
		summaries = append(summaries, &s)
	}

	return summaries, rows.Err()
}

// SaveRuleSet stores a versioned rule set with tenant isolation.
func (r *SQLRepository) SaveRuleSet(ctx context.Context, tenantID string, set *domain.RuleSet) error {
	if tenantID == "" {
		return fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}
	if set == nil || set.ID == "" {
		return fmt.Errorf("%w: rule set id is required", ErrInvalidInput)
	}

	rules, err := json.Marshal(set.Rules)
	if err != nil {
		return fmt.Errorf("failed to encode rules: %w", err)
	}

	query := `
		INSERT INTO rule_sets (id, tenant_id, version, rules, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (id, tenant_id) DO UPDATE SET
			version = excluded.version,
			rules = excluded.rules,
			created_at = excluded.created_at
	`

	_, err = r.db.ExecContext(ctx, r.rebind(query),
		set.ID, tenantID, set.Version, string(rules), set.CreatedAt,
	)
	return err
}

// GetLatestRuleSet returns the most recently stored rule set for a tenant.
func (r *SQLRepository) GetLatestRuleSet(ctx context.Context, tenantID string) (*domain.RuleSet, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenantID is required", ErrInvalidInput)
	}

	query := `
		SELECT id, tenant_id, version, rules, created_at
		FROM rule_sets
		WHERE tenant_id = ?
		ORDER BY created_at DESC
		LIMIT 1
	`

	var set domain.RuleSet
	var rules string

	err := r.db.QueryRowContext(ctx, r.rebind(query), tenantID).Scan(
		&set.ID, &set.TenantID, &set.Version, &rules, &set.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(rules), &set.Rules); err != nil {
		return nil, fmt.Errorf("failed to decode rules: %w", err)
	}
	return &set, nil
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

	// Convert ? to $1, $2, etc.
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
