package domain

import (
	"context"
)

// EventBus defines the interface for event-driven communication.
// Supports Go channels (Community) or NATS (Pro).
// All methods require tenantID for strict multi-tenancy isolation.
type EventBus interface {
	// Publish sends a message to a topic.
	Publish(ctx context.Context, tenantID string, topic string, payload []byte) error

	// Subscribe registers a handler for a topic.
	// Returns a subscription that can be used to unsubscribe.
	Subscribe(ctx context.Context, tenantID string, topic string, handler MessageHandler) (Subscription, error)

	// Request sends a message and waits for a response (request-reply pattern).
	Request(ctx context.Context, tenantID string, topic string, payload []byte) ([]byte, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// AllTenants subscribes to a topic across every tenant. Publishing under it
// is rejected.
const AllTenants = "_all"

// MessageHandler processes incoming messages.
type MessageHandler func(ctx context.Context, msg *Message) error

// Message represents an event message.
type Message struct {
	ID        string            `json:"id"`
	TenantID  string            `json:"tenantId"`
	Topic     string            `json:"topic"`
	Payload   []byte            `json:"payload"`
	Metadata  map[string]string `json:"metadata"`
	Timestamp int64             `json:"timestamp"`
}

// Subscription represents an active subscription.
type Subscription interface {
	// Unsubscribe stops receiving messages.
	Unsubscribe() error

	// Topic returns the subscribed topic.
	Topic() string
}

// EventBusConfig holds configuration for event bus initialization.
type EventBusConfig struct {
	// Type is the bus type: "channel" or "nats"
	Type string

	// Channel settings (Community tier)
	ChannelBufferSize int

	// NATS settings (Pro tier)
	NATSUrl           string
	NATSToken         string
	NATSMaxReconnects int
	NATSReconnectWait int // seconds

	// NATSQueueGroup load-balances submissions across service replicas.
	// Empty means every replica receives every submission.
	NATSQueueGroup string
}

// Standard topic names for the analysis pipeline.
const (
	TopicReportSubmitted = "creditsight.report.submitted"
	TopicReportGenerated = "creditsight.report.generated"
	TopicReportAlert     = "creditsight.report.alert"
)

// SubmissionMessage is the payload published on TopicReportSubmitted.
type SubmissionMessage struct {
	ReportID string           `json:"reportId,omitempty"`
	TenantID string           `json:"tenantId"`
	TraceID  string           `json:"traceId,omitempty"`
	Data     NormalizedReport `json:"data"`
}

// GeneratedMessage is the payload published once a report is ready.
type GeneratedMessage struct {
	ReportID      string    `json:"reportId"`
	TenantID      string    `json:"tenantId"`
	TraceID       string    `json:"traceId,omitempty"`
	RiskLevel     RiskLevel `json:"riskLevel"`
	ImpactScore   float64   `json:"impactScore"`
	TotalInsights int       `json:"totalInsights"`
}

// AlertMessage is published on TopicReportAlert for CRITICAL and HIGH reports.
type AlertMessage struct {
	GeneratedMessage
	Reasons []string `json:"reasons,omitempty"`
}
