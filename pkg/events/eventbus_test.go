package events

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/linkflow-go/cashier/pkg/logger"
)

func TestEventBuilder(t *testing.T) {
	event := NewEventBuilder(SubscriptionCreated).
		WithAggregateID("subject-1").
		WithAggregateType("billable").
		WithPayload("plan", "pro").
		WithCorrelationID("req-1").
		Build()

	assert.NotEmpty(t, event.ID)
	assert.Equal(t, SubscriptionCreated, event.Type)
	assert.Equal(t, 1, event.Version)
	assert.Equal(t, "pro", event.Payload["plan"])
	assert.Equal(t, "req-1", event.Metadata.CorrelationID)
	assert.False(t, event.Timestamp.IsZero())
}

func TestToMessage_KeysByAggregate(t *testing.T) {
	msg, err := toMessage(Event{Type: ChargeDeclined, AggregateID: "subject-1"})
	require.NoError(t, err)

	assert.Equal(t, []byte("subject-1"), msg.Key)
	assert.Equal(t, "event-type", msg.Headers[0].Key)
	assert.Equal(t, []byte(ChargeDeclined), msg.Headers[0].Value)

	var decoded Event
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	assert.NotEmpty(t, decoded.ID, "missing ids are filled in")
	assert.False(t, decoded.Timestamp.IsZero())
}

func TestMemoryEventBus(t *testing.T) {
	bus := NewMemoryEventBus()
	require.NoError(t, bus.Publish(context.Background(), NewEventBuilder(InvoiceCreated).Build()))
	require.NoError(t, bus.Publish(context.Background(), NewEventBuilder(ChargeSucceeded).Build()))

	got := bus.Events()
	require.Len(t, got, 2)
	assert.Equal(t, InvoiceCreated, got[0].Type)
	assert.NoError(t, bus.Close())
}

func TestNewKafkaEventBus_RequiresBrokers(t *testing.T) {
	_, err := NewKafkaEventBus(KafkaConfig{Topic: "billing-events"}, logger.NewNop())
	assert.Error(t, err)

	bus, err := NewKafkaEventBus(KafkaConfig{Brokers: []string{"localhost:9092"}, Topic: "billing-events"}, logger.NewNop())
	require.NoError(t, err)
	assert.NoError(t, bus.Close())
}
