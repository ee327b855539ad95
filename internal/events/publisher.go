// Package events publishes cartable lifecycle events to downstream
// consumers.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
)

// Event types.
const (
	TypeItemCreated       = "item.created"
	TypeTransitionApplied = "transition.applied"
	TypeItemClosed        = "item.closed"
)

// Event describes a persisted change to a cartable item.
type Event struct {
	ID           string    `json:"id"`
	Type         string    `json:"type"`
	ItemID       string    `json:"item_id"`
	Module       string    `json:"module"`
	WorkflowID   string    `json:"workflow_id"`
	TrackingCode string    `json:"tracking_code,omitempty"`
	FromStepID   string    `json:"from_step_id,omitempty"`
	ToStepID     string    `json:"to_step_id,omitempty"`
	ActionID     string    `json:"action_id,omitempty"`
	ActorID      string    `json:"actor_id"`
	AssigneeRole string    `json:"assignee_role"`
	AssigneeID   string    `json:"assignee_id,omitempty"`
	Status       string    `json:"status"`
	Revision     int64     `json:"revision"`
	OccurredAt   time.Time `json:"occurred_at"`
}

// Publisher delivers events. Implementations must be safe for concurrent use.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
	Close() error
}

// KafkaConfig configures the Kafka publisher.
type KafkaConfig struct {
	Brokers      []string
	Topic        string
	ClientID     string
	BatchTimeout time.Duration
}

// Validate ensures the configuration contains the required fields.
func (c KafkaConfig) Validate() error {
	if len(c.Brokers) == 0 {
		return errors.New("events: at least one kafka broker is required")
	}
	if c.Topic == "" {
		return errors.New("events: kafka topic is required")
	}
	return nil
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher writes events as JSON messages keyed by item id, so all
// events of one item land on the same partition in order.
type KafkaPublisher struct {
	writer messageWriter
	topic  string
}

// NewKafkaPublisher constructs a publisher from cfg.
func NewKafkaPublisher(cfg KafkaConfig) (*KafkaPublisher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	batchTimeout := cfg.BatchTimeout
	if batchTimeout <= 0 {
		batchTimeout = 50 * time.Millisecond
	}

	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		AllowAutoTopicCreation: true,
		RequiredAcks:           kafka.RequireAll,
		Balancer:               &kafka.Hash{},
		BatchTimeout:           batchTimeout,
	}
	if cfg.ClientID != "" {
		writer.Transport = &kafka.Transport{ClientID: cfg.ClientID}
	}
	return &KafkaPublisher{writer: writer, topic: cfg.Topic}, nil
}

// Publish sends one event.
func (p *KafkaPublisher) Publish(ctx context.Context, ev Event) error {
	value, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(ev.ItemID),
		Value: value,
		Headers: []kafka.Header{
			{Key: "event-type", Value: []byte(ev.Type)},
			{Key: "module", Value: []byte(ev.Module)},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish %s to %s: %w", ev.Type, p.topic, err)
	}
	return nil
}

// Close flushes and closes the underlying writer.
func (p *KafkaPublisher) Close() error {
	if p == nil || p.writer == nil {
		return nil
	}
	return p.writer.Close()
}

// NoopPublisher drops every event.
type NoopPublisher struct{}

// Publish implements Publisher.
func (NoopPublisher) Publish(context.Context, Event) error { return nil }

// Close implements Publisher.
func (NoopPublisher) Close() error { return nil }

// MemoryPublisher records events in memory. For testing.
type MemoryPublisher struct {
	mu     sync.Mutex
	events []Event
	Err    error
}

// Publish records ev, or returns Err when set.
func (p *MemoryPublisher) Publish(_ context.Context, ev Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.Err != nil {
		return p.Err
	}
	p.events = append(p.events, ev)
	return nil
}

// Close implements Publisher.
func (p *MemoryPublisher) Close() error { return nil }

// Events returns a copy of the recorded events.
func (p *MemoryPublisher) Events() []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Event, len(p.events))
	copy(out, p.events)
	return out
}
