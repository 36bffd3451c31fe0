package domain

import (
	"context"
)

// EventBus defines the interface for event-driven communication.
// Supports Go channels (single node) or NATS.
type EventBus interface {
	// Publish sends a message to a topic.
	Publish(ctx context.Context, topic string, payload []byte) error

	// Subscribe registers a handler for a topic.
	// Returns a subscription that can be used to unsubscribe.
	Subscribe(ctx context.Context, topic string, handler MessageHandler) (Subscription, error)

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
	Type string `koanf:"type" validate:"oneof=channel nats"`

	// Channel settings
	ChannelBufferSize int `koanf:"channelbuffersize"`

	// NATS settings
	NATSUrl           string `koanf:"natsurl"`
	NATSToken         string `koanf:"natstoken"`
	NATSMaxReconnects int    `koanf:"natsmaxreconnects"`
	NATSReconnectWait int    `koanf:"natsreconnectwait"` // seconds

	// NATSQueueGroup, when set, load-balances subscriptions across replicas.
	NATSQueueGroup string `koanf:"natsqueuegroup"`
}

// Topic names used by the analysis service and worker.
const (
	TopicAnalysisRequested = "ringwatch.analysis.requested"
	TopicAnalysisCompleted = "ringwatch.analysis.completed"
	TopicRingDetected      = "ringwatch.ring.detected"
)

// AnalysisJob is the payload of an analysis request event.
type AnalysisJob struct {
	JobID    string `json:"jobId"`
	FileName string `json:"fileName"`
	Content  []byte `json:"content"`
}

// AnalysisCompleted is the payload of an analysis completion event.
type AnalysisCompleted struct {
	JobID      string  `json:"jobId,omitempty"`
	FileName   string  `json:"fileName"`
	ReportName string  `json:"reportName,omitempty"`
	Summary    Summary `json:"summary"`
	Cached     bool    `json:"cached"`
	Error      string  `json:"error,omitempty"`
}

// RingDetected is published once per ring of a finished analysis.
type RingDetected struct {
	FileName string    `json:"fileName"`
	Ring     FraudRing `json:"ring"`
}
