// Package analysis runs one credit report end to end: rules, aggregation,
// caching, persistence and event publication.
package analysis

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/opensource-finance/creditsight/internal/aggregate"
	"github.com/opensource-finance/creditsight/internal/bus"
	"github.com/opensource-finance/creditsight/internal/domain"
	"github.com/opensource-finance/creditsight/internal/normalize"
	"github.com/opensource-finance/creditsight/internal/rules"
)

var (
	// ErrEmptyReport is returned when there is nothing to analyze.
	ErrEmptyReport = errors.New("report has no records")

	// ErrNotFound is returned by Get when no report exists for the id.
	ErrNotFound = errors.New("report not found")
)

var tracer = otel.Tracer("creditsight-analysis")

// Request is one analysis run.
type Request struct {
	TenantID string
	ReportID string
	TraceID  string
	Data     *domain.NormalizedReport
}

// ReportObserver is notified of every generated report.
type ReportObserver interface {
	ObserveReport(report *domain.Report)
}

// Config tunes the service.
type Config struct {
	// ReportTTL is how long finished reports stay cached. Zero disables caching.
	ReportTTL time.Duration

	Observer ReportObserver
}

// Service wires the engine to the storage and messaging layers.
// Repository, cache and bus are optional; a nil dependency is skipped.
type Service struct {
	engine     *rules.Engine
	aggregator *aggregate.Aggregator
	normalizer *normalize.Normalizer
	repo       domain.Repository
	cache      domain.Cache
	bus        domain.EventBus
	reportTTL  time.Duration
	observer   ReportObserver
}

// NewService creates an analysis service.
func NewService(engine *rules.Engine, normalizer *normalize.Normalizer, repo domain.Repository, cache domain.Cache, eventBus domain.EventBus, cfg Config) *Service {
	return &Service{
		engine:     engine,
		aggregator: aggregate.New(),
		normalizer: normalizer,
		repo:       repo,
		cache:      cache,
		bus:        eventBus,
		reportTTL:  cfg.ReportTTL,
		observer:   cfg.Observer,
	}
}

// Engine returns the rule engine.
func (s *Service) Engine() *rules.Engine {
	return s.engine
}

// Decode parses a request body into normalized records.
func (s *Service) Decode(body []byte) (*domain.NormalizedReport, error) {
	return s.normalizer.Decode(body)
}

// Analyze processes one normalized report for a tenant.
func (s *Service) Analyze(ctx context.Context, tenantID string, data *domain.NormalizedReport) (*domain.Report, error) {
	return s.Run(ctx, &Request{TenantID: tenantID, Data: data})
}

// AnalyzeExtracted normalizes extracted bureau fields and analyzes the result.
func (s *Service) AnalyzeExtracted(ctx context.Context, tenantID string, ex *normalize.Extracted) (*domain.Report, error) {
	return s.Analyze(ctx, tenantID, s.normalizer.Normalize(ex))
}

// Run executes a request. Identical input under an unchanged rule set is
// served from cache unless the caller pinned a report id.
func (s *Service) Run(ctx context.Context, req *Request) (*domain.Report, error) {
	if req.Data == nil || len(req.Data.Records) == 0 {
		return nil, ErrEmptyReport
	}

	ctx, span := tracer.Start(ctx, "analysis.run",
		trace.WithAttributes(
			attribute.String("tenant.id", req.TenantID),
			attribute.Int("report.records", len(req.Data.Records)),
		),
	)
	defer span.End()

	key, keyErr := s.inputKey(req.Data)
	if keyErr != nil {
		slog.Warn("failed to hash report input", "error", keyErr)
	}

	if req.ReportID == "" && keyErr == nil {
		if cached := s.cached(ctx, req.TenantID, key); cached != nil {
			span.SetAttributes(attribute.Bool("cache.hit", true), attribute.String("report.id", cached.ID))
			return cached, nil
		}
	}

	insights, diag := s.engine.Process(ctx, req.Data)
	if err := ctx.Err(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "cancelled")
		return nil, fmt.Errorf("analysis cancelled: %w", err)
	}

	report := s.aggregator.Aggregate(ctx, &aggregate.Input{
		TenantID:     req.TenantID,
		ReportID:     req.ReportID,
		PersonalInfo: req.Data.PersonalInfo,
		Insights:     insights,
		Diagnostics:  diag,
	})

	span.SetAttributes(
		attribute.String("report.id", report.ID),
		attribute.String("report.risk_level", string(report.RiskLevel)),
		attribute.Int("report.insights", report.TotalInsights),
	)

	if s.observer != nil {
		s.observer.ObserveReport(report)
	}

	s.store(ctx, report, key, keyErr == nil)
	s.publish(ctx, req, report)

	slog.Info("report generated",
		"report_id", report.ID,
		"tenant_id", req.TenantID,
		"trace_id", req.TraceID,
		"risk_level", report.RiskLevel,
		"impact_score", report.ImpactScore,
		"insights", report.TotalInsights,
		"skipped", diag.Skipped(),
		"duration_ms", diag.DurationMs,
	)
	return report, nil
}

// Get returns a finished report from cache, then from the repository.
func (s *Service) Get(ctx context.Context, tenantID, reportID string) (*domain.Report, error) {
	if r := s.cached(ctx, tenantID, idKey(reportID)); r != nil {
		return r, nil
	}
	if s.repo == nil {
		return nil, ErrNotFound
	}
	r, err := s.repo.GetReport(ctx, tenantID, reportID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	return r, nil
}

// List returns stored report summaries, newest first.
func (s *Service) List(ctx context.Context, tenantID string, limit int) ([]*domain.ReportSummary, error) {
	if s.repo == nil {
		return nil, nil
	}
	return s.repo.ListReports(ctx, tenantID, limit)
}

// inputKey fingerprints the input together with the loaded rules so a rule
// reload never serves a stale report. Map keys marshal sorted.
func (s *Service) inputKey(data *domain.NormalizedReport) (string, error) {
	h := sha256.New()
	if err := json.NewEncoder(h).Encode(data); err != nil {
		return "", err
	}
	for _, cr := range s.engine.Rules() {
		fmt.Fprintf(h, "%s\x00%s\x00%s\x00%s\x00", cr.Rule.ID, cr.Rule.Condition, cr.Template, cr.Recommendation)
	}
	return "report:input:" + hex.EncodeToString(h.Sum(nil)), nil
}

func idKey(reportID string) string {
	return "report:id:" + reportID
}

func (s *Service) cached(ctx context.Context, tenantID, key string) *domain.Report {
	if s.cache == nil || s.reportTTL <= 0 {
		return nil
	}
	raw, err := s.cache.Get(ctx, tenantID, key)
	if err != nil {
		slog.Warn("report cache read failed", "key", key, "error", err)
		return nil
	}
	if raw == nil {
		return nil
	}
	var r domain.Report
	if err := json.Unmarshal(raw, &r); err != nil {
		slog.Warn("discarding undecodable cached report", "key", key, "error", err)
		return nil
	}
	return &r
}

// store persists and caches the report. Failures are logged and never
// fail the analysis.
func (s *Service) store(ctx context.Context, report *domain.Report, inputKey string, cacheInput bool) {
	if s.repo != nil {
		if err := s.repo.SaveReport(ctx, report.TenantID, report); err != nil {
			slog.Error("failed to save report", "report_id", report.ID, "error", err)
		}
	}

	if s.cache == nil || s.reportTTL <= 0 {
		return
	}
	raw, err := json.Marshal(report)
	if err != nil {
		slog.Error("failed to encode report for cache", "report_id", report.ID, "error", err)
		return
	}
	if err := s.cache.Set(ctx, report.TenantID, idKey(report.ID), raw, s.reportTTL); err != nil {
		slog.Warn("report cache write failed", "report_id", report.ID, "error", err)
	}
	if cacheInput {
		if err := s.cache.Set(ctx, report.TenantID, inputKey, raw, s.reportTTL); err != nil {
			slog.Warn("report cache write failed", "report_id", report.ID, "error", err)
		}
	}
}

func (s *Service) publish(ctx context.Context, req *Request, report *domain.Report) {
	if s.bus == nil {
		return
	}

	msg := domain.GeneratedMessage{
		ReportID:      report.ID,
		TenantID:      report.TenantID,
		TraceID:       req.TraceID,
		RiskLevel:     report.RiskLevel,
		ImpactScore:   report.ImpactScore,
		TotalInsights: report.TotalInsights,
	}
	if err := bus.PublishJSON(ctx, s.bus, report.TenantID, domain.TopicReportGenerated, msg); err != nil {
		slog.Error("failed to publish report", "report_id", report.ID, "error", err)
	}

	if !aggregate.ShouldAlert(report) {
		return
	}
	alert := domain.AlertMessage{GeneratedMessage: msg, Reasons: aggregate.Reasons(report)}
	if err := bus.PublishJSON(ctx, s.bus, report.TenantID, domain.TopicReportAlert, alert); err != nil {
		slog.Error("failed to publish alert", "report_id", report.ID, "error", err)
	}
}
