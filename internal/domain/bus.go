package domain

import (
	"context"
	"encoding/json"
)

// EventBus defines the interface for event-driven communication.
// Supports Go channels (Community) or NATS (Pro).
// All methods require tenantID for strict multi-tenancy isolation; the insurer
// id is the tenant.
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
	Type string `yaml:"type"`

	// Channel settings (Community tier)
	ChannelBufferSize int `yaml:"channelBufferSize"`

	// NATS settings (Pro tier)
	NATSUrl           string `yaml:"natsUrl"`
	NATSToken         string `yaml:"natsToken"`
	NATSMaxReconnects int    `yaml:"natsMaxReconnects"`
	NATSReconnectWait int    `yaml:"natsReconnectWait"` // seconds
}

// Configuration and quoting topics.
const (
	TopicConfigSaved       = "ratedesk.config.saved"
	TopicConfigFailed      = "ratedesk.config.failed"
	TopicQuotePriced       = "ratedesk.quote.priced"

	// TopicQuotePrice is a request topic; the reply is the priced quote.
	TopicQuotePrice = "ratedesk.quote.price"

	// TopicMasterDataChanged is published under GlobalTenant with the
	// option-set kind as payload.
	TopicMasterDataChanged = "ratedesk.masterdata.changed"
)

// ConfigEvent is published after every coordinated save attempt.
type ConfigEvent struct {
	Domain    DomainKey `json:"domain"`
	InsurerID string    `json:"insurerId"`
	ProductID string    `json:"productId"`
	Operation string    `json:"operation"` // "create" or "update"
	Count     int       `json:"count"`
	// Items is the server's authoritative result; empty on failure.
	Items []json.RawMessage `json:"items,omitempty"`
	Error string            `json:"error,omitempty"`
}

// Key returns the ConfigKey the event refers to.
func (e ConfigEvent) Key() ConfigKey {
	return ConfigKey{Domain: e.Domain, InsurerID: e.InsurerID, ProductID: e.ProductID}
}
