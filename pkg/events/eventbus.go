package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"

	"github.com/linkflow-go/cashier/pkg/logger"
)

type Event struct {
	ID            string                 `json:"id"`
	Type          string                 `json:"type"`
	AggregateID   string                 `json:"aggregateId"`
	AggregateType string                 `json:"aggregateType"`
	Timestamp     time.Time              `json:"timestamp"`
	UserID        string                 `json:"userId"`
	Version       int                    `json:"version"`
	Payload       map[string]interface{} `json:"payload"`
	Metadata      EventMetadata          `json:"metadata"`
}

type EventMetadata struct {
	CorrelationID string `json:"correlationId"`
	CausationID   string `json:"causationId"`
	TraceID       string `json:"traceId"`
	SpanID        string `json:"spanId"`
}

// EventBus publishes billing lifecycle events to downstream consumers.
type EventBus interface {
	Publish(ctx context.Context, event Event) error
	Close() error
}

type KafkaConfig struct {
	Brokers []string
	Topic   string
}

type KafkaEventBus struct {
	writer *kafka.Writer
	logger logger.Logger
}

func NewKafkaEventBus(config KafkaConfig, log logger.Logger) (*KafkaEventBus, error) {
	if len(config.Brokers) == 0 {
		return nil, fmt.Errorf("kafka event bus: no brokers configured")
	}
	if config.Topic == "" {
		return nil, fmt.Errorf("kafka event bus: no topic configured")
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(config.Brokers...),
		Topic:        config.Topic,
		Balancer:     &kafka.Hash{},
		BatchSize:    100,
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
	}

	return &KafkaEventBus{
		writer: writer,
		logger: log,
	}, nil
}

func (k *KafkaEventBus) Publish(ctx context.Context, event Event) error {
	msg, err := toMessage(event)
	if err != nil {
		return err
	}
	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		k.logger.Error("Failed to publish event", "type", event.Type, "id", event.ID, "error", err)
		return fmt.Errorf("failed to publish event %s: %w", event.Type, err)
	}
	return nil
}

func (k *KafkaEventBus) Close() error {
	if err := k.writer.Close(); err != nil {
		return fmt.Errorf("failed to close writer: %w", err)
	}
	return nil
}

// toMessage keys messages by aggregate so events of one subject stay ordered.
func toMessage(event Event) (kafka.Message, error) {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	data, err := json.Marshal(event)
	if err != nil {
		return kafka.Message{}, fmt.Errorf("failed to marshal event: %w", err)
	}

	return kafka.Message{
		Key:   []byte(event.AggregateID),
		Value: data,
		Time:  event.Timestamp,
		Headers: []kafka.Header{
			{Key: "event-type", Value: []byte(event.Type)},
			{Key: "trace-id", Value: []byte(event.Metadata.TraceID)},
			{Key: "correlation-id", Value: []byte(event.Metadata.CorrelationID)},
		},
	}, nil
}

// MemoryEventBus keeps published events in memory. It backs tests and
// deployments without a broker.
type MemoryEventBus struct {
	mu     sync.Mutex
	events []Event
}

func NewMemoryEventBus() *MemoryEventBus {
	return &MemoryEventBus{}
}

func (m *MemoryEventBus) Publish(ctx context.Context, event Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return nil
}

func (m *MemoryEventBus) Close() error { return nil }

// Events returns a copy of everything published so far.
func (m *MemoryEventBus) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Event, len(m.events))
	copy(out, m.events)
	return out
}

// Event builder helper
type EventBuilder struct {
	event Event
}

func NewEventBuilder(eventType string) *EventBuilder {
	return &EventBuilder{
		event: Event{
			ID:        uuid.New().String(),
			Type:      eventType,
			Timestamp: time.Now().UTC(),
			Version:   1,
			Payload:   make(map[string]interface{}),
			Metadata:  EventMetadata{},
		},
	}
}

func (b *EventBuilder) WithAggregateID(id string) *EventBuilder {
	b.event.AggregateID = id
	return b
}

func (b *EventBuilder) WithAggregateType(aggregateType string) *EventBuilder {
	b.event.AggregateType = aggregateType
	return b
}

func (b *EventBuilder) WithUserID(userID string) *EventBuilder {
	b.event.UserID = userID
	return b
}

func (b *EventBuilder) WithPayload(key string, value interface{}) *EventBuilder {
	b.event.Payload[key] = value
	return b
}

func (b *EventBuilder) WithCorrelationID(id string) *EventBuilder {
	b.event.Metadata.CorrelationID = id
	return b
}

func (b *EventBuilder) WithTraceID(id string) *EventBuilder {
	b.event.Metadata.TraceID = id
	return b
}

func (b *EventBuilder) Build() Event {
	return b.event
}

// Billing event types
const (
	SubscriptionCreated   = "billing.subscription.created"
	SubscriptionSwapped   = "billing.subscription.swapped"
	SubscriptionCancelled = "billing.subscription.cancelled"
	SubscriptionResumed   = "billing.subscription.resumed"
	SubscriptionSynced    = "billing.subscription.synced"
	SubscriptionExpired   = "billing.subscription.expired"
	QuantityUpdated       = "billing.subscription.quantity_updated"
	CouponApplied         = "billing.coupon.applied"
	CardUpdated           = "billing.card.updated"
	ChargeSucceeded       = "billing.charge.succeeded"
	ChargeDeclined        = "billing.charge.declined"
	InvoiceCreated        = "billing.invoice.created"
	InvoicePaymentFailed  = "billing.invoice.payment_failed"
)
