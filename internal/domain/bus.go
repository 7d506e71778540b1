package domain

import (
	"context"
)

// EventBus carries the notifications that connect the API to the worker:
// evaluations completing, rule sets publishing, thresholds changing.
// Supports Go channels (Community) or NATS (Pro). Delivery is best
// effort on both: consumers treat events as hints and rebuild derived
// state from the repository, so a missed message costs cache staleness
// until the TTL expires, never correctness.
// All methods require tenantID for strict multi-tenancy isolation.
type EventBus interface {
	// Publish sends a message to a topic.
	Publish(ctx context.Context, tenantID string, topic string, payload []byte) error

	// Subscribe registers a handler for a topic.
	// Returns a subscription that can be used to unsubscribe.
	Subscribe(ctx context.Context, tenantID string, topic string, handler MessageHandler) (Subscription, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

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
}

// Standard topic names for the evaluation pipeline.
const (
	TopicEvaluationCompleted = "condor.evaluation.completed"
	TopicRuleSetPublished    = "condor.ruleset.published"
	TopicThresholdUpdated    = "condor.threshold.updated"
)

// EvaluationCompletedEvent is published after an evaluation is persisted.
// The worker consumes it to materialize calendar entries.
type EvaluationCompletedEvent struct {
	EvaluationID string `json:"evaluation_id"`
	UserID       string `json:"user_id"`
	FiscalYearID string `json:"fiscal_year_id"`
	RuleSetID    string `json:"rule_set_id"`
	AppliesCount int    `json:"applies_count"`
}

// RuleSetPublishedEvent is published after a successful publish transaction.
// Consumers invalidate per-fiscal-year cached state.
type RuleSetPublishedEvent struct {
	RuleSetID    string `json:"rule_set_id"`
	FiscalYearID string `json:"fiscal_year_id"`
	Version      int    `json:"version"`
}

// ThresholdUpdatedEvent is published when an admin changes a threshold.
type ThresholdUpdatedEvent struct {
	ThresholdID  string `json:"threshold_id"`
	FiscalYearID string `json:"fiscal_year_id"`
	Code         string `json:"code"`
}
