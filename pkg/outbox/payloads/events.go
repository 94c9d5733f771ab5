package payloads

import (
	"time"

	"github.com/angelmondragon/pixelforge-backend/pkg/enums"
	"github.com/google/uuid"
)

// CreditsGrantedEvent is emitted when a grant (including refunds) lands on an account.
type CreditsGrantedEvent struct {
	AccountID   uuid.UUID          `json:"account_id"`
	GrantID     uuid.UUID          `json:"grant_id"`
	OperationID uuid.UUID          `json:"operation_id"`
	Source      enums.CreditSource `json:"source"`
	Amount      int64              `json:"amount"`
	ExpiresAt   *time.Time         `json:"expires_at,omitempty"`
	Balance     int64              `json:"balance"`
	ExternalRef *string            `json:"external_ref,omitempty"`
}

// CreditsConsumedEvent summarizes one consumption across all touched grants.
type CreditsConsumedEvent struct {
	AccountID    uuid.UUID `json:"account_id"`
	OperationID  uuid.UUID `json:"operation_id"`
	OperationRef string    `json:"operation_ref"`
	Amount       int64     `json:"amount"`
	GrantsDrawn  int       `json:"grants_drawn"`
	Balance      int64     `json:"balance"`
}

// CreditsExpiredEvent reports credits forfeited by expiry or a plan change.
type CreditsExpiredEvent struct {
	AccountID   uuid.UUID   `json:"account_id"`
	OperationID uuid.UUID   `json:"operation_id"`
	GrantIDs    []uuid.UUID `json:"grant_ids"`
	Amount      int64       `json:"amount"`
	Reason      string      `json:"reason"`
	Balance     int64       `json:"balance"`
}

// CreditsAdjustedEvent records an admin adjustment for the audit trail.
type CreditsAdjustedEvent struct {
	AccountID   uuid.UUID `json:"account_id"`
	OperationID uuid.UUID `json:"operation_id"`
	Amount      int64     `json:"amount"`
	Reason      string    `json:"reason"`
	Actor       string    `json:"actor"`
	Balance     int64     `json:"balance"`
}

// SubscriptionTransitionedEvent mirrors one subscription_transitions row.
type SubscriptionTransitionedEvent struct {
	AccountID   uuid.UUID                 `json:"account_id"`
	Trigger     enums.SubscriptionTrigger `json:"trigger"`
	FromPlan    enums.Plan                `json:"from_plan"`
	FromStatus  enums.AccountStatus       `json:"from_status"`
	ToPlan      enums.Plan                `json:"to_plan"`
	ToStatus    enums.AccountStatus       `json:"to_status"`
	PausedUntil *time.Time                `json:"paused_until,omitempty"`
	ExternalRef *string                   `json:"external_ref,omitempty"`
}

// RetentionPauseAcceptedEvent tells billing to pause collection until PausedUntil.
type RetentionPauseAcceptedEvent struct {
	AccountID            uuid.UUID `json:"account_id"`
	StripeSubscriptionID *string   `json:"stripe_subscription_id,omitempty"`
	PausedUntil          time.Time `json:"paused_until"`
	PauseCountThisYear   int       `json:"pause_count_this_year"`
}

// RetentionDiscountAcceptedEvent tells billing to apply the coupon at the processor.
type RetentionDiscountAcceptedEvent struct {
	AccountID            uuid.UUID `json:"account_id"`
	StripeSubscriptionID *string   `json:"stripe_subscription_id,omitempty"`
	PercentOff           string    `json:"percent_off"`
	DurationCycles       int       `json:"duration_cycles"`
}
