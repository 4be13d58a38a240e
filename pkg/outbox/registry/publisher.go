package registry

import (
	"encoding/json"
	"fmt"

	"github.com/angelmondragon/partscan-backend/pkg/config"
	"github.com/angelmondragon/partscan-backend/pkg/db/models"
	"github.com/angelmondragon/partscan-backend/pkg/enums"
	"github.com/angelmondragon/partscan-backend/pkg/outbox"
	"github.com/angelmondragon/partscan-backend/pkg/outbox/payloads"
)

// EventDescriptor links an event type to its aggregate/topic/payload schema.
type EventDescriptor struct {
	EventType      enums.OutboxEventType
	AggregateType  enums.OutboxAggregateType
	Topic          string
	PayloadFactory func() interface{}
}

// ResolvedEvent is the result of decoding an outbox row.
type ResolvedEvent struct {
	Descriptor EventDescriptor
	Envelope   outbox.PayloadEnvelope
	Payload    interface{}
}

// EventRegistry maps each supported event type to its descriptor.
type EventRegistry struct {
	entries map[enums.OutboxEventType]EventDescriptor
}

// NonRetryableError signals the dispatcher should stop retrying a row.
type NonRetryableError struct {
	Err error
}

// Error implements error.
func (e NonRetryableError) Error() string {
	if e.Err == nil {
		return "non-retryable error"
	}
	return e.Err.Error()
}

// Unwrap exposes the wrapped error.
func (e NonRetryableError) Unwrap() error {
	return e.Err
}

// NewEventRegistry builds the registry with the configured topic names.
// Request lifecycle events go to the requests topic; stock movements go to
// the inventory topic.
func NewEventRegistry(cfg config.PubSubConfig) (*EventRegistry, error) {
	if cfg.InventoryTopic == "" {
		return nil, fmt.Errorf("inventory topic is required")
	}
	if cfg.RequestsTopic == "" {
		return nil, fmt.Errorf("requests topic is required")
	}

	reg := &EventRegistry{entries: make(map[enums.OutboxEventType]EventDescriptor)}
	requestsTopic := cfg.RequestsTopic
	inventoryTopic := cfg.InventoryTopic

	for _, desc := range []EventDescriptor{
		{
			EventType:      enums.EventRequestCreated,
			AggregateType:  enums.AggregateBomRequest,
			Topic:          requestsTopic,
			PayloadFactory: func() interface{} { return &payloads.RequestCreatedEvent{} },
		},
		{
			EventType:      enums.EventRequestCancelled,
			AggregateType:  enums.AggregateBomRequest,
			Topic:          requestsTopic,
			PayloadFactory: func() interface{} { return &payloads.RequestCancelledEvent{} },
		},
		{
			EventType:      enums.EventRequestFulfilled,
			AggregateType:  enums.AggregateBomRequest,
			Topic:          requestsTopic,
			PayloadFactory: func() interface{} { return &payloads.RequestFulfilledEvent{} },
		},
		{
			EventType:      enums.EventScanAccepted,
			AggregateType:  enums.AggregateBomRequest,
			Topic:          requestsTopic,
			PayloadFactory: func() interface{} { return &payloads.ScanAcceptedEvent{} },
		},
	} {
		reg.register(desc)
	}
	for _, desc := range []EventDescriptor{
		{
			EventType:      enums.EventInventoryAdjusted,
			AggregateType:  enums.AggregatePart,
			Topic:          inventoryTopic,
			PayloadFactory: func() interface{} { return &payloads.InventoryAdjustedEvent{} },
		},
		{
			EventType:      enums.EventStockDepleted,
			AggregateType:  enums.AggregatePart,
			Topic:          inventoryTopic,
			PayloadFactory: func() interface{} { return &payloads.StockDepletedEvent{} },
		},
	} {
		reg.register(desc)
	}

	return reg, nil
}

func (r *EventRegistry) register(desc EventDescriptor) {
	if desc.PayloadFactory == nil {
		return
	}
	r.entries[desc.EventType] = desc
}

// Topics lists every distinct topic the registry routes to.
func (r *EventRegistry) Topics() []string {
	seen := map[string]struct{}{}
	topics := []string{}
	for _, desc := range r.entries {
		if _, ok := seen[desc.Topic]; ok {
			continue
		}
		seen[desc.Topic] = struct{}{}
		topics = append(topics, desc.Topic)
	}
	return topics
}

// Resolve validates the row and decodes its typed payload.
func (r *EventRegistry) Resolve(event models.OutboxEvent) (*ResolvedEvent, error) {
	desc, ok := r.entries[event.EventType]
	if !ok {
		return nil, NewNonRetryableError(fmt.Errorf("unsupported event type %s", event.EventType))
	}
	if desc.AggregateType != event.AggregateType {
		return nil, NewNonRetryableError(fmt.Errorf("aggregate mismatch: expected %s got %s", desc.AggregateType, event.AggregateType))
	}
	if event.AggregateID == "" {
		return nil, NewNonRetryableError(fmt.Errorf("missing aggregate_id"))
	}

	envelope, _, err := outbox.DecodeEnvelope(event.Payload)
	if err != nil {
		return nil, NewNonRetryableError(fmt.Errorf("%s: %w", event.EventType, err))
	}

	payload := desc.PayloadFactory()
	if err := json.Unmarshal(envelope.Data, payload); err != nil {
		return nil, NewNonRetryableError(fmt.Errorf("decode %s payload: %w", event.EventType, err))
	}

	return &ResolvedEvent{
		Descriptor: desc,
		Envelope:   envelope,
		Payload:    payload,
	}, nil
}

// NewNonRetryableError wraps an error to signal no retries.
func NewNonRetryableError(err error) NonRetryableError {
	return NonRetryableError{Err: err}
}
