package repository

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/opensource-finance/creditsight/internal/domain"
)

func TestSQLiteRepository(t *testing.T) {
	// Create temp database file
	tmpFile, err := os.CreateTemp("", "creditsight-test-*.db")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	tmpPath := tmpFile.Name()
	tmpFile.Close()
	defer os.Remove(tmpPath)

	cfg := domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: tmpPath,
	}

	repo, err := New(cfg)
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	defer repo.Close()

	ctx := context.Background()
	tenantID := "tenant-001"
	now := time.Now().UTC().Truncate(time.Second)

	t.Run("Ping", func(t *testing.T) {
		if err := repo.Ping(ctx); err != nil {
			t.Errorf("Ping failed: %v", err)
		}
	})

	t.Run("SaveAndGetReport", func(t *testing.T) {
		report := &domain.Report{
			ID:            "report-001",
			GeneratedAt:   now,
			PersonalInfo:  map[string]any{"name": "TAN AH KOW"},
			TotalInsights: 1,
			ImpactScore:   160,
			RiskLevel:     domain.RiskHigh,
			CountsBySeverity: map[domain.Severity]int{
				domain.SeverityHigh: 1,
			},
			Insights: []domain.Insight{
				{Label: "⚫ Legal Risk", Message: "1 active case", Severity: domain.SeverityHigh, RuleID: "LEG-001"},
			},
		}

		if err := repo.SaveReport(ctx, tenantID, report); err != nil {
			t.Fatalf("SaveReport failed: %v", err)
		}

		retrieved, err := repo.GetReport(ctx, tenantID, "report-001")
		if err != nil {
			t.Fatalf("GetReport failed: %v", err)
		}

		if retrieved.RiskLevel != domain.RiskHigh {
			t.Errorf("expected RiskLevel HIGH, got %s", retrieved.RiskLevel)
		}
		if retrieved.TenantID != tenantID {
			t.Errorf("expected TenantID %s, got %s", tenantID, retrieved.TenantID)
		}
		if len(retrieved.Insights) != 1 || retrieved.Insights[0].RuleID != "LEG-001" {
			t.Errorf("unexpected insights %+v", retrieved.Insights)
		}

		// Saving again replaces the stored report.
		report.TotalInsights = 2
		if err := repo.SaveReport(ctx, tenantID, report); err != nil {
			t.Fatalf("second SaveReport failed: %v", err)
		}
		retrieved, _ = repo.GetReport(ctx, tenantID, "report-001")
		if retrieved.TotalInsights != 2 {
			t.Errorf("expected replaced report, got %d insights", retrieved.TotalInsights)
		}
	})

	t.Run("ListReports", func(t *testing.T) {
		second := &domain.Report{
			ID:           "report-002",
			GeneratedAt:  now.Add(time.Minute),
			PersonalInfo: map[string]any{"name": "LIM MEI LING"},
			RiskLevel:    domain.RiskMinimal,
		}
		if err := repo.SaveReport(ctx, tenantID, second); err != nil {
			t.Fatalf("SaveReport failed: %v", err)
		}

		summaries, err := repo.ListReports(ctx, tenantID, 10)
		if err != nil {
			t.Fatalf("ListReports failed: %v", err)
		}
		if len(summaries) != 2 {
			t.Fatalf("expected 2 summaries, got %d", len(summaries))
		}
		if summaries[0].ID != "report-002" {
			t.Errorf("expected newest first, got %s", summaries[0].ID)
		}
		if summaries[1].SubjectName != "TAN AH KOW" {
			t.Errorf("expected subject TAN AH KOW, got %s", summaries[1].SubjectName)
		}

		limited, _ := repo.ListReports(ctx, tenantID, 1)
		if len(limited) != 1 {
			t.Errorf("expected 1 summary with limit, got %d", len(limited))
		}
	})

	t.Run("TenantIsolation", func(t *testing.T) {
		_, err := repo.GetReport(ctx, "tenant-002", "report-001")
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("expected ErrNotFound across tenants, got: %v", err)
		}

		summaries, err := repo.ListReports(ctx, "tenant-002", 10)
		if err != nil {
			t.Fatalf("ListReports failed: %v", err)
		}
		if len(summaries) != 0 {
			t.Errorf("expected no summaries for other tenant, got %d", len(summaries))
		}
	})

	t.Run("SaveAndGetRuleSet", func(t *testing.T) {
		older := &domain.RuleSet{
			ID:        "rules-v1",
			Version:   "2025.1",
			CreatedAt: now,
			Rules: []domain.Rule{
				{ID: "UTIL-001", Label: "🔴 High Utilization", Group: domain.GroupUtilization, Condition: "creditutilizationratio >= 90", Priority: "high"},
			},
		}
		newer := &domain.RuleSet{
			ID:        "rules-v2",
			Version:   "2025.2",
			CreatedAt: now.Add(time.Hour),
			Rules: []domain.Rule{
				{ID: "UTIL-001", Label: "🔴 High Utilization", Group: domain.GroupUtilization, Condition: "creditutilizationratio >= 85", Priority: "high"},
				{ID: "LEG-001", Label: "⚫ Legal Risk", Group: domain.GroupLegalFinancial, Condition: "legal_cases_active > 0", Priority: "critical"},
			},
		}

		for _, set := range []*domain.RuleSet{older, newer} {
			if err := repo.SaveRuleSet(ctx, tenantID, set); err != nil {
				t.Fatalf("SaveRuleSet failed: %v", err)
			}
		}

		latest, err := repo.GetLatestRuleSet(ctx, tenantID)
		if err != nil {
			t.Fatalf("GetLatestRuleSet failed: %v", err)
		}
		if latest.Version != "2025.2" {
			t.Errorf("expected version 2025.2, got %s", latest.Version)
		}
		if len(latest.Rules) != 2 || latest.Rules[0].Condition != "creditutilizationratio >= 85" {
			t.Errorf("unexpected rules %+v", latest.Rules)
		}
	})

	t.Run("InvalidInput", func(t *testing.T) {
		if err := repo.SaveReport(ctx, "", &domain.Report{ID: "x"}); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput for empty tenant, got: %v", err)
		}
		if err := repo.SaveReport(ctx, tenantID, &domain.Report{}); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput for empty id, got: %v", err)
		}
		if err := repo.SaveRuleSet(ctx, tenantID, nil); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput for nil rule set, got: %v", err)
		}
	})

	t.Run("NotFound", func(t *testing.T) {
		_, err := repo.GetReport(ctx, tenantID, "nonexistent")
		if err != ErrNotFound {
			t.Errorf("expected ErrNotFound, got: %v", err)
		}

		_, err = repo.GetLatestRuleSet(ctx, "tenant-empty")
		if err != ErrNotFound {
			t.Errorf("expected ErrNotFound, got: %v", err)
		}
	})
}

func TestUnsupportedDriver(t *testing.T) {
	cfg := domain.RepositoryConfig{
		Driver: "mysql",
	}

	_, err := New(cfg)
	if err == nil {
		t.Error("expected error for unsupported driver")
	}
}

func TestRebind(t *testing.T) {
	repo := &SQLRepository{driver: "postgres"}

	tests := []struct {
		input    string
		expected string
	}{
		{"SELECT * FROM t WHERE id = ?", "SELECT * FROM t WHERE id = $1"},
		{"INSERT INTO t (a, b) VALUES (?, ?)", "INSERT INTO t (a, b) VALUES ($1, $2)"},
		{"SELECT * FROM t", "SELECT * FROM t"},
	}

	for _, tt := range tests {
		result := repo.rebind(tt.input)
		if result != tt.expected {
			t.Errorf("rebind(%q) = %q, want %q", tt.input, result, tt.expected)
		}
	}
}

func TestInMemorySQLite(t *testing.T) {
	repo, err := New(domain.RepositoryConfig{Driver: "sqlite", SQLitePath: ":memory:", MaxOpenConns: 10})
	if err != nil {
		t.Fatalf("failed to open in-memory repository: %v", err)
	}
	defer repo.Close()

	// Migrations and queries must share the single in-memory connection.
	if _, err := repo.ListReports(context.Background(), "tenant-mem", 10); err != nil {
		t.Errorf("expected migrated schema, got %v", err)
	}
}

func TestPostgresDSN(t *testing.T) {
	dsn := postgresDSN(domain.RepositoryConfig{
		PostgresHost:     "db.internal",
		PostgresUser:     "creditsight",
		PostgresPassword: "p@ss word's",
	})

	want := `host=db.internal port=5432 user=creditsight password='p@ss word\'s' dbname=creditsight sslmode=disable application_name=creditsight`
	if dsn != want {
		t.Errorf("postgresDSN() = %q, want %q", dsn, want)
	}
}
