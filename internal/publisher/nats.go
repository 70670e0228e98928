package publisher

import (
	"context"
	"fmt"
	"time"
)

// SubjectChannelExported is the subject archive completion events go to.
const SubjectChannelExported = "archive.channel.exported"

// ChannelExportedEvent is emitted after a channel's export cycle completes.
type ChannelExportedEvent struct {
	ChannelID     int64     `json:"channel_id"`
	Title         string    `json:"title"`
	NewMessages   int       `json:"new_messages"`
	TotalMessages int64     `json:"total_messages"`
	SessionID     string    `json:"session_id"`
	CompletedAt   time.Time `json:"completed_at"`
}

// Broker is the jetstream publish surface, narrowed to allow mocking.
type Broker interface {
	Publish(ctx context.Context, subject string, data any) error
}

// NATSPublisher pushes export events to nats for downstream consumers.
type NATSPublisher struct {
	broker Broker
}

// NewNATSPublisher creates a new publisher
func NewNATSPublisher(broker Broker) *NATSPublisher {
	return &NATSPublisher{broker: broker}
}

// PublishChannelExported publishes one export completion event.
func (p *NATSPublisher) PublishChannelExported(ctx context.Context, event ChannelExportedEvent) error {
	if err := p.broker.Publish(ctx, SubjectChannelExported, event); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}
