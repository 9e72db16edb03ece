package domain

import (
	"context"
)

// EventBus defines the interface for event-driven communication.
// Supports Go channels (Community) or NATS (Pro).
type EventBus interface {
	// Publish sends a message to a topic.
	Publish(ctx context.Context, topic string, payload []byte) error

	// Subscribe registers a handler for a topic.
	Subscribe(ctx context.Context, topic string, handler MessageHandler) (Subscription, error)

	Ping(ctx context.Context) error
	Close() error
}

// MessageHandler processes incoming messages.
type MessageHandler func(ctx context.Context, msg *Message) error

// Message represents an event message.
type Message struct {
	ID        string            `json:"id"`
	Topic     string            `json:"topic"`
	Payload   []byte            `json:"payload"`
	Metadata  map[string]string `json:"metadata"`
	Timestamp int64             `json:"timestamp"`
}

// Subscription represents an active subscription.
type Subscription interface {
	Unsubscribe() error
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

// Standard topic names.
const (
	TopicDatasetGenerated = "kestrel.dataset.generated"
	TopicRiskRequested    = "kestrel.risk.requested"
	TopicRiskScored       = "kestrel.risk.scored"
	TopicRiskAlert        = "kestrel.risk.alert"
	TopicTimelineDetected = "kestrel.timeline.detected"
)

// DatasetGeneratedEvent is published after a dataset has been stored.
type DatasetGeneratedEvent struct {
	DatasetID        string   `json:"datasetId"`
	MerchantIDs      []string `json:"merchantIds"`
	TransactionCount int      `json:"transactionCount"`
	FraudMerchants   int      `json:"fraudMerchants"`
}

// RiskRequest asks the worker to score one merchant.
type RiskRequest struct {
	MerchantID   string `json:"merchantId"`
	LookbackDays int    `json:"lookbackDays"`
	TraceID      string `json:"traceId,omitempty"`
}
