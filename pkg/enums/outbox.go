package enums

import "fmt"

// OutboxAggregateType maps to the aggregate_type column of outbox_events.
type OutboxAggregateType string

const (
	AggregateAccount OutboxAggregateType = "account"
)

var validAggregateTypes = []OutboxAggregateType{
	AggregateAccount,
}

// IsValid reports whether the value matches a known aggregate type.
func (a OutboxAggregateType) IsValid() bool {
	for _, candidate := range validAggregateTypes {
		if candidate == a {
			return true
		}
	}
	return false
}

// ParseOutboxAggregateType converts raw input into OutboxAggregateType.
func ParseOutboxAggregateType(value string) (OutboxAggregateType, error) {
	for _, candidate := range validAggregateTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid aggregate type %q", value)
}

// OutboxEventType maps to the event_type column of outbox_events.
type OutboxEventType string

const (
	EventCreditsGranted            OutboxEventType = "credits_granted"
	EventCreditsConsumed           OutboxEventType = "credits_consumed"
	EventCreditsRefunded           OutboxEventType = "credits_refunded"
	EventCreditsExpired            OutboxEventType = "credits_expired"
	EventCreditsAdjusted           OutboxEventType = "credits_adjusted"
	EventSubscriptionTransitioned  OutboxEventType = "subscription_transitioned"
	EventRetentionPauseAccepted    OutboxEventType = "retention_pause_accepted"
	EventRetentionDiscountAccepted OutboxEventType = "retention_discount_accepted"
)

var validOutboxEventTypes = []OutboxEventType{
	EventCreditsGranted,
	EventCreditsConsumed,
	EventCreditsRefunded,
	EventCreditsExpired,
	EventCreditsAdjusted,
	EventSubscriptionTransitioned,
	EventRetentionPauseAccepted,
	EventRetentionDiscountAccepted,
}

// IsValid reports whether the value matches a known event type.
func (e OutboxEventType) IsValid() bool {
	for _, candidate := range validOutboxEventTypes {
		if candidate == e {
			return true
		}
	}
	return false
}

// ParseOutboxEventType converts raw input into OutboxEventType.
func ParseOutboxEventType(value string) (OutboxEventType, error) {
	for _, candidate := range validOutboxEventTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid outbox event type %q", value)
}
