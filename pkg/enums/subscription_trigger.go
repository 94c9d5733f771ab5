package enums

import "fmt"

// SubscriptionTrigger names the event that moves an account between lifecycle states.
type SubscriptionTrigger string

const (
	TriggerActivate         SubscriptionTrigger = "activate"
	TriggerChangePlan       SubscriptionTrigger = "change_plan"
	TriggerRenew            SubscriptionTrigger = "renew"
	TriggerPaymentFailed    SubscriptionTrigger = "payment_failed"
	TriggerPaymentRecovered SubscriptionTrigger = "payment_recovered"
	TriggerPause            SubscriptionTrigger = "pause"
	TriggerResume           SubscriptionTrigger = "resume"
	TriggerCancel           SubscriptionTrigger = "cancel"
)

var validSubscriptionTriggers = []SubscriptionTrigger{
	TriggerActivate,
	TriggerChangePlan,
	TriggerRenew,
	TriggerPaymentFailed,
	TriggerPaymentRecovered,
	TriggerPause,
	TriggerResume,
	TriggerCancel,
}

// String implements fmt.Stringer.
func (t SubscriptionTrigger) String() string {
	return string(t)
}

// IsValid reports whether the value is known.
func (t SubscriptionTrigger) IsValid() bool {
	for _, candidate := range validSubscriptionTriggers {
		if candidate == t {
			return true
		}
	}
	return false
}

// ParseSubscriptionTrigger converts raw input into a SubscriptionTrigger.
func ParseSubscriptionTrigger(value string) (SubscriptionTrigger, error) {
	for _, candidate := range validSubscriptionTriggers {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid subscription trigger %q", value)
}
