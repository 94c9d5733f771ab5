package subscriptions

import (
	"fmt"

	"github.com/angelmondragon/pixelforge-backend/pkg/db/models"
	"github.com/angelmondragon/pixelforge-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/pixelforge-backend/pkg/errors"
)

// State is an account's position in the subscription lifecycle.
type State string

const (
	StateFree     State = "free"
	StateActive   State = "active"
	StatePaused   State = "paused"
	StatePastDue  State = "past_due"
	StateCanceled State = "canceled"
)

var transitions = map[State]map[enums.SubscriptionTrigger]State{
	StateFree: {
		enums.TriggerActivate: StateActive,
	},
	StateCanceled: {
		enums.TriggerActivate: StateActive,
	},
	StateActive: {
		enums.TriggerChangePlan:    StateActive,
		enums.TriggerRenew:         StateActive,
		enums.TriggerPaymentFailed: StatePastDue,
		enums.TriggerPause:         StatePaused,
		enums.TriggerCancel:        StateCanceled,
	},
	StatePastDue: {
		enums.TriggerPaymentRecovered: StateActive,
		enums.TriggerCancel:           StateCanceled,
	},
	StatePaused: {
		enums.TriggerResume: StateActive,
		enums.TriggerCancel: StateCanceled,
	},
}

// StateOf derives the lifecycle state from the stored plan and status.
func StateOf(account *models.Account) State {
	switch account.Status {
	case enums.AccountStatusPaused:
		return StatePaused
	case enums.AccountStatusPastDue:
		return StatePastDue
	case enums.AccountStatusCanceled:
		return StateCanceled
	}
	if !account.Plan.IsPaid() {
		return StateFree
	}
	return StateActive
}

// Status maps a state to the stored account status.
func (s State) Status() enums.AccountStatus {
	switch s {
	case StatePaused:
		return enums.AccountStatusPaused
	case StatePastDue:
		return enums.AccountStatusPastDue
	case StateCanceled:
		return enums.AccountStatusCanceled
	default:
		return enums.AccountStatusActive
	}
}

// Next returns the state trigger leads to from from, or INVALID_TRANSITION.
func Next(from State, trigger enums.SubscriptionTrigger) (State, error) {
	if to, ok := transitions[from][trigger]; ok {
		return to, nil
	}
	return "", pkgerrors.New(pkgerrors.CodeInvalidTransition, fmt.Sprintf("cannot %s a subscription that is %s", trigger, from)).
		WithDetails(map[string]any{"from": from, "trigger": trigger})
}

// Allowed lists the triggers accepted in state s.
func Allowed(s State) []enums.SubscriptionTrigger {
	out := make([]enums.SubscriptionTrigger, 0, len(transitions[s]))
	for _, trigger := range []enums.SubscriptionTrigger{
		enums.TriggerActivate,
		enums.TriggerChangePlan,
		enums.TriggerRenew,
		enums.TriggerPaymentFailed,
		enums.TriggerPaymentRecovered,
		enums.TriggerPause,
		enums.TriggerResume,
		enums.TriggerCancel,
	} {
		if _, ok := transitions[s][trigger]; ok {
			out = append(out, trigger)
		}
	}
	return out
}
