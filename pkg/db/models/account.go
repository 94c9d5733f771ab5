package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/pixelforge-backend/pkg/enums"
)

// Account is the ledger owner. CreditBalance is a cache of SUM(credit_transactions.delta)
// and is only moved by the ledger store.
type Account struct {
	ID                   uuid.UUID           `gorm:"column:id;type:uuid;primaryKey"`
	Plan                 enums.Plan          `gorm:"column:plan;not null;default:'free'"`
	Status               enums.AccountStatus `gorm:"column:status;not null;default:'active'"`
	PausedUntil          *time.Time          `gorm:"column:paused_until"`
	CreditBalance        int64               `gorm:"column:credit_balance;not null;default:0"`
	StripeCustomerID     *string             `gorm:"column:stripe_customer_id;uniqueIndex"`
	StripeSubscriptionID *string             `gorm:"column:stripe_subscription_id"`
	CurrentPeriodEnd     *time.Time          `gorm:"column:current_period_end"`
	DeactivatedAt        *time.Time          `gorm:"column:deactivated_at"`
	CreatedAt            time.Time           `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt            time.Time           `gorm:"column:updated_at;autoUpdateTime"`
}

func (Account) TableName() string { return "accounts" }
