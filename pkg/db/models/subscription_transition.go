package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/pixelforge-backend/pkg/enums"
)

// SubscriptionTransition is the audit row written with every lifecycle change.
type SubscriptionTransition struct {
	ID          uuid.UUID                 `gorm:"column:id;type:uuid;primaryKey"`
	AccountID   uuid.UUID                 `gorm:"column:account_id;type:uuid;not null;index"`
	Trigger     enums.SubscriptionTrigger `gorm:"column:trigger;not null"`
	FromPlan    enums.Plan                `gorm:"column:from_plan;not null"`
	FromStatus  enums.AccountStatus       `gorm:"column:from_status;not null"`
	ToPlan      enums.Plan                `gorm:"column:to_plan;not null"`
	ToStatus    enums.AccountStatus       `gorm:"column:to_status;not null"`
	PausedUntil *time.Time                `gorm:"column:paused_until"`
	ExternalRef *string                   `gorm:"column:external_ref"`
	CreatedAt   time.Time                 `gorm:"column:created_at;not null"`
}

func (SubscriptionTransition) TableName() string { return "subscription_transitions" }
