package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/opensource-finance/creditsight/internal/analysis"
	"github.com/opensource-finance/creditsight/internal/bus"
	"github.com/opensource-finance/creditsight/internal/condition"
	"github.com/opensource-finance/creditsight/internal/domain"
	"github.com/opensource-finance/creditsight/internal/normalize"
	"github.com/opensource-finance/creditsight/internal/rules"
	"github.com/opensource-finance/creditsight/internal/schema"
)

// recordingAnalyzer captures requests and returns a canned report.
type recordingAnalyzer struct {
	mu       sync.Mutex
	requests []*analysis.Request
	inFlight atomic.Int32
	peak     atomic.Int32
	delay    time.Duration
	err      error
}

func (a *recordingAnalyzer) Run(ctx context.Context, req *analysis.Request) (*domain.Report, error) {
	n := a.inFlight.Add(1)
	defer a.inFlight.Add(-1)
	for {
		p := a.peak.Load()
		if n <= p || a.peak.CompareAndSwap(p, n) {
			break
		}
	}
	if a.delay > 0 {
		time.Sleep(a.delay)
	}

	a.mu.Lock()
	a.requests = append(a.requests, req)
	a.mu.Unlock()

	if a.err != nil {
		return nil, a.err
	}
	return &domain.Report{ID: req.ReportID, TenantID: req.TenantID, RiskLevel: domain.RiskLow}, nil
}

func (a *recordingAnalyzer) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.requests)
}

func submission(tenantID, reportID string) domain.SubmissionMessage {
	return domain.SubmissionMessage{
		ReportID: reportID,
		TenantID: tenantID,
		TraceID:  "trace-" + reportID,
		Data: domain.NormalizedReport{
			Records: []domain.Record{
				{"facility_type": "CRDTCARD", "balance": 9500.0, "limit": 10000.0},
			},
		},
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestWorker(t *testing.T) {
	eventBus := bus.NewChannelBus(100)
	defer eventBus.Close()

	t.Run("StartAndStop", func(t *testing.T) {
		w := NewWorker(eventBus, &recordingAnalyzer{})

		if err := w.Start(Config{TenantIDs: []string{"tenant-001"}}); err != nil {
			t.Fatalf("Start failed: %v", err)
		}

		stats := w.GetStats()
		if stats.SubscriptionCount != 1 {
			t.Errorf("expected 1 subscription, got %d", stats.SubscriptionCount)
		}
		if len(stats.Topics) != 1 || stats.Topics[0] != domain.TopicReportSubmitted {
			t.Errorf("expected submitted topic, got %v", stats.Topics)
		}

		if err := w.Stop(); err != nil {
			t.Errorf("Stop failed: %v", err)
		}

		stats = w.GetStats()
		if stats.SubscriptionCount != 0 {
			t.Errorf("expected 0 subscriptions after stop, got %d", stats.SubscriptionCount)
		}
	})

	t.Run("ProcessSubmission", func(t *testing.T) {
		analyzer := &recordingAnalyzer{}
		w := NewWorker(eventBus, analyzer)
		w.Start(Config{TenantIDs: []string{"tenant-test"}})
		defer w.Stop()

		if err := bus.PublishJSON(context.Background(), eventBus, "tenant-test", domain.TopicReportSubmitted, submission("tenant-test", "rpt-001")); err != nil {
			t.Fatalf("Publish failed: %v", err)
		}

		waitFor(t, func() bool { return w.GetStats().Processed == 1 })

		req := analyzer.requests[0]
		if req.ReportID != "rpt-001" {
			t.Errorf("expected report id 'rpt-001', got '%s'", req.ReportID)
		}
		if req.TenantID != "tenant-test" {
			t.Errorf("expected tenant 'tenant-test', got '%s'", req.TenantID)
		}
		if req.TraceID != "trace-rpt-001" {
			t.Errorf("expected trace 'trace-rpt-001', got '%s'", req.TraceID)
		}
		if len(req.Data.Records) != 1 {
			t.Errorf("expected 1 record, got %d", len(req.Data.Records))
		}
	})

	t.Run("MalformedPayloadCountsAsFailure", func(t *testing.T) {
		analyzer := &recordingAnalyzer{}
		w := NewWorker(eventBus, analyzer)
		w.Start(Config{TenantIDs: []string{"tenant-bad"}})
		defer w.Stop()

		eventBus.Publish(context.Background(), "tenant-bad", domain.TopicReportSubmitted, []byte("{not json"))

		waitFor(t, func() bool { return w.GetStats().Failed == 1 })
		if analyzer.count() != 0 {
			t.Errorf("expected analyzer not to be called, got %d calls", analyzer.count())
		}
	})

	t.Run("AnalyzerErrorCountsAsFailure", func(t *testing.T) {
		w := NewWorker(eventBus, &recordingAnalyzer{err: errors.New("boom")})
		w.Start(Config{TenantIDs: []string{"tenant-err"}})
		defer w.Stop()

		bus.PublishJSON(context.Background(), eventBus, "tenant-err", domain.TopicReportSubmitted, submission("tenant-err", "rpt-err"))

		waitFor(t, func() bool { return w.GetStats().Failed == 1 })
		if w.GetStats().Processed != 0 {
			t.Errorf("expected 0 processed, got %d", w.GetStats().Processed)
		}
	})

	t.Run("TenantMismatchCountsAsFailure", func(t *testing.T) {
		analyzer := &recordingAnalyzer{}
		w := NewWorker(eventBus, analyzer)
		w.Start(Config{TenantIDs: []string{"tenant-owner"}})
		defer w.Stop()

		bus.PublishJSON(context.Background(), eventBus, "tenant-owner", domain.TopicReportSubmitted, submission("tenant-intruder", "rpt-spoof"))

		waitFor(t, func() bool { return w.GetStats().Failed == 1 })
		if analyzer.count() != 0 {
			t.Errorf("expected analyzer not to be called, got %d calls", analyzer.count())
		}
	})

	t.Run("ConcurrencyIsBounded", func(t *testing.T) {
		analyzer := &recordingAnalyzer{delay: 30 * time.Millisecond}
		w := NewWorker(eventBus, analyzer)
		w.Start(Config{TenantIDs: []string{"tenant-pool"}, Concurrency: 2})
		defer w.Stop()

		for i := 0; i < 6; i++ {
			bus.PublishJSON(context.Background(), eventBus, "tenant-pool", domain.TopicReportSubmitted, submission("tenant-pool", ""))
		}

		waitFor(t, func() bool { return w.GetStats().Processed == 6 })
		if peak := analyzer.peak.Load(); peak > 2 {
			t.Errorf("expected at most 2 concurrent analyses, saw %d", peak)
		}
	})

	t.Run("GlobalSubscriptionTakesAnyTenant", func(t *testing.T) {
		analyzer := &recordingAnalyzer{}
		w := NewWorker(eventBus, analyzer)
		w.Start(Config{})
		defer w.Stop()

		bus.PublishJSON(context.Background(), eventBus, "tenant-x", domain.TopicReportSubmitted, submission("tenant-x", "rpt-x"))

		waitFor(t, func() bool { return w.GetStats().Processed == 1 })
		if got := analyzer.requests[0].TenantID; got != "tenant-x" {
			t.Errorf("expected tenant 'tenant-x', got '%s'", got)
		}
	})

	t.Run("MultiTenant", func(t *testing.T) {
		w := NewWorker(eventBus, &recordingAnalyzer{})
		w.Start(Config{TenantIDs: []string{"tenant-a", "tenant-b"}})
		defer w.Stop()

		stats := w.GetStats()
		if stats.SubscriptionCount != 2 {
			t.Errorf("expected 2 subscriptions for 2 tenants, got %d", stats.SubscriptionCount)
		}
	})
}

func TestWorkerEndToEnd(t *testing.T) {
	eventBus := bus.NewChannelBus(100)
	defer eventBus.Close()

	s := schema.Default()
	ev, err := condition.New(s, domain.EvaluatorConfig{})
	if err != nil {
		t.Fatalf("failed to create evaluator: %v", err)
	}
	engine, err := rules.NewEngine(s, ev, []domain.Rule{{
		ID:           "UTIL-TEST",
		Label:        "🟠 High Utilization",
		Group:        domain.GroupUtilization,
		Condition:    "creditutilizationratio > 80",
		Template:     "{{Facility}} utilization at {{creditutilizationratio}}%",
		Priority:     "high",
		CompoundType: "utilization",
		ImpactScore:  25,
	}}, rules.Options{})
	if err != nil {
		t.Fatalf("failed to create engine: %v", err)
	}
	svc := analysis.NewService(engine, normalize.New(s), nil, nil, eventBus, analysis.Config{})

	generated := make(chan domain.GeneratedMessage, 1)
	eventBus.Subscribe(context.Background(), "tenant-e2e", domain.TopicReportGenerated, func(ctx context.Context, msg *domain.Message) error {
		var m domain.GeneratedMessage
		if err := bus.DecodeJSON(msg, &m); err != nil {
			return err
		}
		generated <- m
		return nil
	})

	w := NewWorker(eventBus, svc)
	w.Start(Config{TenantIDs: []string{"tenant-e2e"}})
	defer w.Stop()

	bus.PublishJSON(context.Background(), eventBus, "tenant-e2e", domain.TopicReportSubmitted, submission("tenant-e2e", "rpt-e2e"))

	select {
	case m := <-generated:
		if m.ReportID != "rpt-e2e" {
			t.Errorf("expected report id 'rpt-e2e', got '%s'", m.ReportID)
		}
		if m.TotalInsights != 1 {
			t.Errorf("expected 1 insight, got %d", m.TotalInsights)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for generated report")
	}
}
