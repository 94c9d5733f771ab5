package registry

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/angelmondragon/pixelforge-backend/pkg/config"
	"github.com/angelmondragon/pixelforge-backend/pkg/db/models"
	"github.com/angelmondragon/pixelforge-backend/pkg/enums"
	"github.com/angelmondragon/pixelforge-backend/pkg/outbox"
	"github.com/angelmondragon/pixelforge-backend/pkg/outbox/payloads"
	"github.com/google/uuid"
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
func NewEventRegistry(cfg config.PubSubConfig) (*EventRegistry, error) {
	if cfg.LedgerTopic == "" {
		return nil, fmt.Errorf("ledger topic is required")
	}
	if cfg.SubscriptionTopic == "" {
		return nil, fmt.Errorf("subscription topic is required")
	}

	reg := &EventRegistry{entries: make(map[enums.OutboxEventType]EventDescriptor)}
	ledgerTopic := cfg.LedgerTopic
	subscriptionTopic := cfg.SubscriptionTopic

	for _, desc := range []EventDescriptor{
		{
			EventType:      enums.EventCreditsGranted,
			Topic:          ledgerTopic,
			PayloadFactory: func() interface{} { return &payloads.CreditsGrantedEvent{} },
		},
		{
			EventType:      enums.EventCreditsRefunded,
			Topic:          ledgerTopic,
			PayloadFactory: func() interface{} { return &payloads.CreditsGrantedEvent{} },
		},
		{
			EventType:      enums.EventCreditsConsumed,
			Topic:          ledgerTopic,
			PayloadFactory: func() interface{} { return &payloads.CreditsConsumedEvent{} },
		},
		{
			EventType:      enums.EventCreditsExpired,
			Topic:          ledgerTopic,
			PayloadFactory: func() interface{} { return &payloads.CreditsExpiredEvent{} },
		},
		{
			EventType:      enums.EventCreditsAdjusted,
			Topic:          ledgerTopic,
			PayloadFactory: func() interface{} { return &payloads.CreditsAdjustedEvent{} },
		},
	} {
		desc.AggregateType = enums.AggregateAccount
		reg.register(desc)
	}
	for _, desc := range []EventDescriptor{
		{
			EventType:      enums.EventSubscriptionTransitioned,
			Topic:          subscriptionTopic,
			PayloadFactory: func() interface{} { return &payloads.SubscriptionTransitionedEvent{} },
		},
		{
			EventType:      enums.EventRetentionPauseAccepted,
			Topic:          subscriptionTopic,
			PayloadFactory: func() interface{} { return &payloads.RetentionPauseAcceptedEvent{} },
		},
		{
			EventType:      enums.EventRetentionDiscountAccepted,
			Topic:          subscriptionTopic,
			PayloadFactory: func() interface{} { return &payloads.RetentionDiscountAcceptedEvent{} },
		},
	} {
		desc.AggregateType = enums.AggregateAccount
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

// Topics lists the distinct topics events are routed to.
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
	if event.AggregateID == uuid.Nil {
		return nil, NewNonRetryableError(fmt.Errorf("missing aggregate_id"))
	}

	var envelope outbox.PayloadEnvelope
	if err := json.Unmarshal(event.Payload, &envelope); err != nil {
		return nil, NewNonRetryableError(fmt.Errorf("decode envelope: %w", err))
	}

	trimmed := bytes.TrimSpace(envelope.Data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, NewNonRetryableError(fmt.Errorf("payload missing for %s", event.EventType))
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
