package accounts

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/pixelforge-backend/pkg/db/models"
	"github.com/angelmondragon/pixelforge-backend/pkg/enums"
)

// AccountDTO is the transport shape of an account.
type AccountDTO struct {
	ID                   uuid.UUID           `json:"id"`
	Plan                 enums.Plan          `json:"plan"`
	Status               enums.AccountStatus `json:"status"`
	PausedUntil          *time.Time          `json:"paused_until,omitempty"`
	CreditBalance        int64               `json:"credit_balance"`
	StripeCustomerID     *string             `json:"stripe_customer_id,omitempty"`
	StripeSubscriptionID *string             `json:"stripe_subscription_id,omitempty"`
	CurrentPeriodEnd     *time.Time          `json:"current_period_end,omitempty"`
	CreatedAt            time.Time           `json:"created_at"`
	UpdatedAt            time.Time           `json:"updated_at"`
}

// OpenAccountInput holds the data required to open an account at signup.
type OpenAccountInput struct {
	ID               *uuid.UUID
	StripeCustomerID *string
}

func FromModel(a *models.Account) *AccountDTO {
	if a == nil {
		return nil
	}
	return &AccountDTO{
		ID:                   a.ID,
		Plan:                 a.Plan,
		Status:               a.Status,
		PausedUntil:          a.PausedUntil,
		CreditBalance:        a.CreditBalance,
		StripeCustomerID:     a.StripeCustomerID,
		StripeSubscriptionID: a.StripeSubscriptionID,
		CurrentPeriodEnd:     a.CurrentPeriodEnd,
		CreatedAt:            a.CreatedAt,
		UpdatedAt:            a.UpdatedAt,
	}
}
