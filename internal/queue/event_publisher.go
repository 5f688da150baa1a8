package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

// EventPublisher publishes call events keyed by campaign, so a campaign's
// events stay ordered within one partition.
type EventPublisher struct {
	writer *kafka.Writer
}

// NewEventPublisher constructs a publisher on the configured event topic.
func NewEventPublisher(k *Kafka) *EventPublisher {
	return &EventPublisher{writer: k.EventWriter()}
}

// PublishCallEvent emits an event to Kafka.
func (p *EventPublisher) PublishCallEvent(ctx context.Context, evt CallEvent) error {
	if evt.EventID == uuid.Nil {
		evt.EventID = uuid.New()
	}
	value, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("event publisher: marshal message: %w", err)
	}
	record := kafka.Message{
		Key:   evt.CampaignID[:],
		Value: value,
		Time:  time.Now().UTC(),
	}
	if err := p.writer.WriteMessages(ctx, record); err != nil {
		return fmt.Errorf("event publisher: write message: %w", err)
	}
	return nil
}

// Close closes the publisher.
func (p *EventPublisher) Close() error {
	return p.writer.Close()
}
