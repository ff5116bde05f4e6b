// Package worker consumes report submissions from the EventBus.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/opensource-finance/creditsight/internal/analysis"
	"github.com/opensource-finance/creditsight/internal/bus"
	"github.com/opensource-finance/creditsight/internal/domain"
)

// Analyzer runs one analysis request.
type Analyzer interface {
	Run(ctx context.Context, req *analysis.Request) (*domain.Report, error)
}

// Worker processes report submissions asynchronously from the EventBus.
type Worker struct {
	bus      domain.EventBus
	analyzer Analyzer

	mu            sync.Mutex
	subscriptions []domain.Subscription
	slots         chan struct{}
	wg            sync.WaitGroup
	ctx           context.Context
	cancel        context.CancelFunc

	processed atomic.Int64
	failed    atomic.Int64
}

// Config holds worker configuration.
type Config struct {
	// TenantIDs is the list of tenants to process (empty = global subscription)
	TenantIDs []string

	// Concurrency bounds how many reports are analyzed at once. Each report
	// runs start to finish on a single goroutine.
	Concurrency int
}

// NewWorker creates a new async worker.
func NewWorker(eventBus domain.EventBus, analyzer Analyzer) *Worker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		bus:      eventBus,
		analyzer: analyzer,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start begins processing messages for the given tenants.
func (w *Worker) Start(cfg Config) error {
	n := cfg.Concurrency
	if n <= 0 {
		n = 1
	}
	w.slots = make(chan struct{}, n)

	if len(cfg.TenantIDs) == 0 {
		return w.startGlobalWorker()
	}

	for _, tenantID := range cfg.TenantIDs {
		if err := w.startTenantWorker(tenantID); err != nil {
			slog.Error("failed to start worker for tenant",
				"tenant_id", tenantID,
				"error", err,
			)
			continue
		}
	}

	slog.Info("workers started",
		"tenant_count", len(cfg.TenantIDs),
		"concurrency", n,
	)

	return nil
}

// startGlobalWorker takes submissions from every tenant.
func (w *Worker) startGlobalWorker() error {
	sub, err := w.bus.Subscribe(w.ctx, domain.AllTenants, domain.TopicReportSubmitted, func(ctx context.Context, msg *domain.Message) error {
		return w.dispatch(msg.TenantID, msg)
	})
	if err != nil {
		return err
	}
	w.track(sub)

	slog.Info("global worker started")
	return nil
}

// startTenantWorker subscribes to submissions for a specific tenant.
func (w *Worker) startTenantWorker(tenantID string) error {
	sub, err := w.bus.Subscribe(w.ctx, tenantID, domain.TopicReportSubmitted, func(ctx context.Context, msg *domain.Message) error {
		return w.dispatch(tenantID, msg)
	})
	if err != nil {
		return err
	}
	w.track(sub)

	slog.Info("tenant worker started",
		"tenant_id", tenantID,
		"topic", domain.TopicReportSubmitted,
	)

	return nil
}

func (w *Worker) track(sub domain.Subscription) {
	w.mu.Lock()
	w.subscriptions = append(w.subscriptions, sub)
	w.mu.Unlock()
}

// dispatch waits for a free slot and hands the message to its own goroutine.
func (w *Worker) dispatch(tenantID string, msg *domain.Message) error {
	select {
	case w.slots <- struct{}{}:
	case <-w.ctx.Done():
		return w.ctx.Err()
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer func() { <-w.slots }()
		if err := w.processSubmission(w.ctx, tenantID, msg); err != nil {
			w.failed.Add(1)
			return
		}
		w.processed.Add(1)
	}()
	return nil
}

// processSubmission analyzes one submitted report.
func (w *Worker) processSubmission(ctx context.Context, tenantID string, msg *domain.Message) error {
	start := time.Now()

	var sub domain.SubmissionMessage
	if err := bus.DecodeJSON(msg, &sub); err != nil {
		slog.Error("failed to parse submission message",
			"message_id", msg.ID,
			"error", err,
		)
		return err
	}

	// The envelope tenant is authoritative.
	if sub.TenantID != "" && sub.TenantID != tenantID {
		slog.Error("submission tenant does not match envelope",
			"message_id", msg.ID,
			"tenant_id", tenantID,
			"payload_tenant_id", sub.TenantID,
		)
		return fmt.Errorf("submission tenant %q does not match %q", sub.TenantID, tenantID)
	}

	traceID := sub.TraceID
	if traceID == "" {
		traceID = msg.ID
	}

	slog.Debug("processing submission",
		"report_id", sub.ReportID,
		"tenant_id", tenantID,
		"trace_id", traceID,
		"records", len(sub.Data.Records),
	)

	report, err := w.analyzer.Run(ctx, &analysis.Request{
		TenantID: tenantID,
		ReportID: sub.ReportID,
		TraceID:  traceID,
		Data:     &sub.Data,
	})
	if err != nil {
		slog.Error("report analysis failed",
			"report_id", sub.ReportID,
			"tenant_id", tenantID,
			"error", err,
		)
		return err
	}

	slog.Info("report processed",
		"report_id", report.ID,
		"tenant_id", tenantID,
		"risk_level", report.RiskLevel,
		"insights", report.TotalInsights,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return nil
}

// Stop unsubscribes, cancels in-flight analyses and waits for them to return.
func (w *Worker) Stop() error {
	w.mu.Lock()
	subs := w.subscriptions
	w.subscriptions = nil
	w.mu.Unlock()

	for _, sub := range subs {
		if err := sub.Unsubscribe(); err != nil {
			slog.Error("failed to unsubscribe",
				"topic", sub.Topic(),
				"error", err,
			)
		}
	}

	w.cancel()
	w.wg.Wait()

	slog.Info("workers stopped",
		"processed", w.processed.Load(),
		"failed", w.failed.Load(),
	)
	return nil
}

// Stats returns worker statistics.
type Stats struct {
	SubscriptionCount int      `json:"subscriptionCount"`
	Topics            []string `json:"topics"`
	Processed         int64    `json:"processed"`
	Failed            int64    `json:"failed"`
}

// GetStats returns current worker statistics.
func (w *Worker) GetStats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()

	topics := make([]string, len(w.subscriptions))
	for i, sub := range w.subscriptions {
		topics[i] = sub.Topic()
	}
	return Stats{
		SubscriptionCount: len(w.subscriptions),
		Topics:            topics,
		Processed:         w.processed.Load(),
		Failed:            w.failed.Load(),
	}
}
