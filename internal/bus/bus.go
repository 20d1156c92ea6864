// Package bus carries configuration and quoting events between ratedesk
// components: in-process channels for a single node, NATS across replicas.
package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/opensource-finance/ratedesk/internal/domain"
)

// MetaReplyTo names the message metadata entry carrying a request's reply
// address.
const MetaReplyTo = "reply_to"

// New creates the bus selected by cfg.Type.
func New(cfg domain.EventBusConfig) (domain.EventBus, error) {
	switch cfg.Type {
	case "channel", "":
		return NewChannelBus(cfg.ChannelBufferSize), nil
	case "nats":
		return NewNATSBus(cfg)
	default:
		return nil, fmt.Errorf("unsupported event bus type: %s", cfg.Type)
	}
}

// Responder answers request messages received through Subscribe.
type Responder interface {
	Respond(ctx context.Context, req *domain.Message, payload []byte) error
}

// Respond replies to req on b.
func Respond(ctx context.Context, b domain.EventBus, req *domain.Message, payload []byte) error {
	r, ok := b.(Responder)
	if !ok {
		return fmt.Errorf("%T cannot respond to requests", b)
	}
	if req.Metadata[MetaReplyTo] == "" {
		return fmt.Errorf("message %s is not a request", req.ID)
	}
	return r.Respond(ctx, req, payload)
}

// PublishJSON marshals v and publishes it.
func PublishJSON(ctx context.Context, b domain.EventBus, tenantID, topic string, v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", topic, err)
	}
	return b.Publish(ctx, tenantID, topic, payload)
}

func newMessage(tenantID, topic string, payload []byte) *domain.Message {
	return &domain.Message{
		ID:        uuid.New().String(),
		TenantID:  tenantID,
		Topic:     topic,
		Payload:   payload,
		Metadata:  make(map[string]string),
		Timestamp: time.Now().UnixNano(),
	}
}

func requireTenant(tenantID string) error {
	if tenantID == "" {
		return fmt.Errorf("tenantID is required")
	}
	return nil
}
