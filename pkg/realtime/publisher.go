// Package realtime fans events out to connected clients and downstream consumers.
package realtime

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"
)

// Event is one fan-out notification
type Event struct {
	Type      string      `json:"type"`
	Topic     string      `json:"topic"`
	Data      interface{} `json:"data"`
	Timestamp time.Time   `json:"timestamp"`
}

// Publisher delivers events on a topic. Delivery semantics are transport specific.
type Publisher interface {
	Publish(ctx context.Context, topic string, event Event) error
}

// ConversationTopic is the topic for events about one conversation
func ConversationTopic(id string) string { return "conversation:" + id }

// SourceTopic is the topic for events about one source (mailbox, number, PBX account)
func SourceTopic(id string) string { return "source:" + id }

const (
	// CallsTopic carries call log changes
	CallsTopic = "calls"
	// OpsTopic carries operator alerts such as rejected credentials
	OpsTopic = "ops"
)

// Multi publishes to every configured transport and joins their errors
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, topic string, event Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	event.Topic = topic

	var errs []error
	for _, p := range m {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, topic, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Nop discards every event
type Nop struct{}

func (Nop) Publish(context.Context, string, Event) error { return nil }

// PublishBestEffort publishes and logs failures. Fan-out never fails ingestion.
func PublishBestEffort(ctx context.Context, p Publisher, topic string, event Event) {
	if p == nil {
		return
	}
	if err := p.Publish(ctx, topic, event); err != nil {
		log.Warn().Err(err).Str("topic", topic).Str("event", event.Type).Msg("fan-out publish failed")
	}
}
