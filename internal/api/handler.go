package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/opensource-finance/creditsight/internal/aggregate"
	"github.com/opensource-finance/creditsight/internal/analysis"
	"github.com/opensource-finance/creditsight/internal/bus"
	"github.com/opensource-finance/creditsight/internal/domain"
	"github.com/opensource-finance/creditsight/internal/routing"
	"github.com/opensource-finance/creditsight/internal/rules"
)

// maxBodyBytes bounds request bodies for analysis and rule uploads.
const maxBodyBytes = 10 << 20

// Handler holds dependencies for API handlers.
type Handler struct {
	svc     *analysis.Service
	repo    domain.Repository
	cache   domain.Cache
	bus     domain.EventBus
	version string
}

// NewHandler creates a new API handler.
func NewHandler(svc *analysis.Service, repo domain.Repository, cache domain.Cache, bus domain.EventBus, version string) *Handler {
	return &Handler{
		svc:     svc,
		repo:    repo,
		cache:   cache,
		bus:     bus,
		version: version,
	}
}

// AnalyzeMetadata accompanies every analysis response.
type AnalyzeMetadata struct {
	TraceID string `json:"traceId"`
	TotalMs int64  `json:"totalMs"`
	Version string `json:"version"`
}

// AnalyzeResponse is the response for POST /analyze.
type AnalyzeResponse struct {
	*domain.Report
	Reasons  []string        `json:"reasons,omitempty"`
	Metadata AnalyzeMetadata `json:"metadata"`
}

// InsightsResponse is the response for POST /analyze?format=insights.
type InsightsResponse struct {
	ReportID string           `json:"reportId"`
	Count    int              `json:"count"`
	Insights []domain.Insight `json:"insights"`
	Metadata AnalyzeMetadata  `json:"metadata"`
}

// Analyze handles POST /analyze requests.
func (h *Handler) Analyze(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	traceID := GetTraceID(ctx)

	data, ok := h.decodeReport(w, r)
	if !ok {
		return
	}

	report, err := h.svc.Run(ctx, &analysis.Request{
		TenantID: tenantID,
		TraceID:  traceID,
		Data:     data,
	})
	if err != nil {
		if errors.Is(err, analysis.ErrEmptyReport) {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "report must contain at least one record",
			})
			return
		}
		slog.Error("analysis failed", "tenant_id", tenantID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "analysis failed",
		})
		return
	}

	meta := AnalyzeMetadata{
		TraceID: traceID,
		TotalMs: time.Since(start).Milliseconds(),
		Version: h.version,
	}

	if r.URL.Query().Get("format") == "insights" {
		writeJSON(w, http.StatusOK, InsightsResponse{
			ReportID: report.ID,
			Count:    len(report.Insights),
			Insights: report.Insights,
			Metadata: meta,
		})
		return
	}

	writeJSON(w, http.StatusOK, AnalyzeResponse{
		Report:   report,
		Reasons:  reasons(report),
		Metadata: meta,
	})
}

func reasons(report *domain.Report) []string {
	if !aggregate.ShouldAlert(report) {
		return nil
	}
	return aggregate.Reasons(report)
}

// decodeReport reads a normalized report body, writing a 400 on failure.
func (h *Handler) decodeReport(w http.ResponseWriter, r *http.Request) (*domain.NormalizedReport, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "failed to read request body",
		})
		return nil, false
	}
	data, err := h.svc.Decode(body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return nil, false
	}
	return data, true
}

// SubmitResponse is the response for POST /submit.
type SubmitResponse struct {
	ReportID string `json:"reportId"`
	Status   string `json:"status"`
	TraceID  string `json:"traceId"`
}

// Submit queues a report for asynchronous analysis. The returned id can be
// polled on GET /reports/{id}.
func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	traceID := GetTraceID(ctx)

	if h.bus == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "event bus not available",
		})
		return
	}

	data, ok := h.decodeReport(w, r)
	if !ok {
		return
	}
	if len(data.Records) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "report must contain at least one record",
		})
		return
	}

	msg := domain.SubmissionMessage{
		ReportID: uuid.New().String(),
		TenantID: tenantID,
		TraceID:  traceID,
		Data:     *data,
	}
	if err := bus.PublishJSON(ctx, h.bus, tenantID, domain.TopicReportSubmitted, msg); err != nil {
		slog.Error("failed to publish submission", "tenant_id", tenantID, "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "failed to queue report",
		})
		return
	}

	writeJSON(w, http.StatusAccepted, SubmitResponse{
		ReportID: msg.ReportID,
		Status:   "accepted",
		TraceID:  traceID,
	})
}

// Health returns server health status.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"

	// Check repository health
	if h.repo != nil {
		if err := h.repo.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	// Check cache health
	if h.cache != nil {
		if err := h.cache.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	// Check bus health
	if h.bus != nil {
		if err := h.bus.Ping(r.Context()); err != nil {
			status = "degraded"
		}
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"status":  status,
		"version": h.version,
	})
}

// Ready returns whether the server is ready to accept traffic.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.svc.Engine().RulesCount() == 0 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"ready": "false",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"ready": "true",
	})
}

// GetReport retrieves a report by ID.
func (h *Handler) GetReport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)
	reportID := chi.URLParam(r, "id")

	if reportID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "report id is required",
		})
		return
	}

	report, err := h.svc.Get(ctx, tenantID, reportID)
	if err != nil {
		slog.Debug("report lookup failed", "id", reportID, "error", err)
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "report not found",
		})
		return
	}

	writeJSON(w, http.StatusOK, report)
}

// ListReports returns stored report summaries for the tenant.
func (h *Handler) ListReports(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tenantID := GetTenantID(ctx)

	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{
				"error": "limit must be a non-negative integer",
			})
			return
		}
		limit = n
	}

	reports, err := h.svc.List(ctx, tenantID, limit)
	if err != nil {
		slog.Error("failed to list reports", "tenant_id", tenantID, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to list reports",
		})
		return
	}
	if reports == nil {
		reports = []*domain.ReportSummary{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"reports": reports,
		"count":   len(reports),
	})
}

// RuleView is a loaded rule as exposed over the API.
type RuleView struct {
	domain.Rule
	Severity domain.Severity `json:"severity"`
	Route    routing.Route   `json:"route"`
	Valid    bool            `json:"valid"`
	Error    string          `json:"error,omitempty"`
}

func ruleView(cr *rules.CompiledRule) RuleView {
	v := RuleView{Rule: cr.Rule, Severity: cr.Severity, Route: cr.Route, Valid: cr.CheckErr == nil}
	if cr.CheckErr != nil {
		v.Error = cr.CheckErr.Error()
	}
	return v
}

// ListRules returns all rules loaded in the engine.
func (h *Handler) ListRules(w http.ResponseWriter, r *http.Request) {
	loaded := h.svc.Engine().Rules()
	views := make([]RuleView, len(loaded))
	for i, cr := range loaded {
		views[i] = ruleView(cr)
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"rules": views,
		"count": len(views),
	})
}

// GetRule retrieves a loaded rule by ID.
func (h *Handler) GetRule(w http.ResponseWriter, r *http.Request) {
	ruleID := chi.URLParam(r, "id")

	if ruleID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "rule id is required",
		})
		return
	}

	if cr, ok := h.svc.Engine().Rule(ruleID); ok {
		writeJSON(w, http.StatusOK, ruleView(cr))
		return
	}

	writeJSON(w, http.StatusNotFound, map[string]string{
		"error": "rule not found",
	})
}

// ReplaceRules validates a rule document, stores it as the global rule set
// and swaps it into the engine. YAML is accepted with a YAML content type.
func (h *Handler) ReplaceRules(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "failed to read request body",
		})
		return
	}

	format := rules.FormatJSON
	if ct := r.Header.Get("Content-Type"); strings.Contains(ct, "yaml") {
		format = rules.FormatYAML
	}

	parsed, err := rules.Parse(body, format)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": err.Error(),
		})
		return
	}

	set := &domain.RuleSet{
		ID:        uuid.New().String(),
		TenantID:  domain.GlobalTenantID,
		Version:   time.Now().UTC().Format(time.RFC3339),
		Rules:     parsed,
		CreatedAt: time.Now().UTC(),
	}
	if h.repo != nil {
		if err := h.repo.SaveRuleSet(r.Context(), domain.GlobalTenantID, set); err != nil {
			slog.Error("failed to save rule set", "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{
				"error": "failed to save rule set",
			})
			return
		}
	}

	if err := h.svc.Engine().ReloadRules(parsed); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": err.Error(),
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "rules replaced",
		"id":      set.ID,
		"version": set.Version,
		"count":   len(parsed),
	})
}

// ReloadRules reloads the latest stored global rule set into the engine.
func (h *Handler) ReloadRules(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "repository not available",
		})
		return
	}

	set, err := h.repo.GetLatestRuleSet(r.Context(), domain.GlobalTenantID)
	if err != nil {
		slog.Error("failed to load rule set", "error", err)
		writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "no stored rule set",
		})
		return
	}

	if err := h.svc.Engine().ReloadRules(set.Rules); err != nil {
		slog.Error("failed to reload rules", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "failed to reload rules",
		})
		return
	}

	slog.Info("rules reloaded from database", "count", len(set.Rules), "version", set.Version)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "rules reloaded successfully",
		"version": set.Version,
		"count":   len(set.Rules),
	})
}

// ConditionTestRequest is the request body for POST /conditions/test.
type ConditionTestRequest struct {
	Condition string         `json:"condition"`
	Data      map[string]any `json:"data"`
}

// TestCondition evaluates one condition and explains the values it used.
func (h *Handler) TestCondition(w http.ResponseWriter, r *http.Request) {
	var req ConditionTestRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "invalid JSON request body",
		})
		return
	}
	if strings.TrimSpace(req.Condition) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error": "condition is required",
		})
		return
	}

	writeJSON(w, http.StatusOK, h.svc.Engine().Evaluator().Test(r.Context(), req.Condition, req.Data))
}

// Stats returns the evaluator's running statistics.
func (h *Handler) Stats(w http.ResponseWriter, r *http.Request) {
	engine := h.svc.Engine()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"evaluator": engine.Evaluator().Stats(),
		"rules":     engine.RulesCount(),
		"version":   h.version,
	})
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
