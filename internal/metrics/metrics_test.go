package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensource-finance/creditsight/internal/condition"
	"github.com/opensource-finance/creditsight/internal/domain"
	"github.com/opensource-finance/creditsight/internal/rules"
)

// Compile-time check that Metrics satisfies the engine hook.
var _ rules.Observer = (*Metrics)(nil)

func TestCounters(t *testing.T) {
	m := New()

	obs := m.EvaluationObserver()
	obs(condition.OutcomeMatched)
	obs(condition.OutcomeMatched)
	obs(condition.OutcomeMissing)

	m.ObserveSkip(rules.SkipParser)
	m.ObserveInsight(domain.SeverityHigh, domain.GroupUtilization)
	m.ObserveReport(&domain.Report{RiskLevel: domain.RiskHigh, Diagnostics: domain.Diagnostics{DurationMs: 12}})

	assert.Equal(t, 2.0, testutil.ToFloat64(m.evaluations.WithLabelValues("matched")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.evaluations.WithLabelValues("missing_variable")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.skipped.WithLabelValues("parser_error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.insights.WithLabelValues("high", "utilization")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.reports.WithLabelValues("HIGH")))
}

func TestHandler(t *testing.T) {
	m := New()
	m.ObserveSkip(rules.SkipNotApplicable)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `creditsight_skipped_pairs_total{reason="not_applicable"} 1`)
	assert.Contains(t, body, "go_goroutines")
}
