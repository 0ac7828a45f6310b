// Package bus provides tenant-scoped event buses for Harrier.
package bus

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/opensource-finance/harrier/internal/domain"
)

var (
	// ErrTenantRequired is returned when a call has no tenant.
	ErrTenantRequired = errors.New("tenantID is required")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("bus is closed")
)

// defaultRequestTimeout applies to requests whose context has no deadline.
const defaultRequestTimeout = 30 * time.Second

// New creates an event bus from configuration.
// "channel" is in-process (Community); "nats" is shared (Pro).
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

func replyTopic(topic string) string {
	return topic + ".reply." + uuid.New().String()
}
