package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/pixelforge-backend/pkg/enums"
)

// CreditGrant is one batch of credits. Remaining only ever decreases; refunds
// and adjustments create new grants.
type CreditGrant struct {
	ID          uuid.UUID          `gorm:"column:id;type:uuid;primaryKey"`
	AccountID   uuid.UUID          `gorm:"column:account_id;type:uuid;not null;index"`
	Amount      int64              `gorm:"column:amount;not null"`
	Remaining   int64              `gorm:"column:remaining;not null"`
	Source      enums.CreditSource `gorm:"column:source;not null"`
	Plan        *enums.Plan        `gorm:"column:plan"`
	GrantedAt   time.Time          `gorm:"column:granted_at;not null"`
	ExpiresAt   *time.Time         `gorm:"column:expires_at"`
	ExpiredAt   *time.Time         `gorm:"column:expired_at"`
	ExternalRef *string            `gorm:"column:external_ref"`
	CreatedAt   time.Time          `gorm:"column:created_at;autoCreateTime"`
}

func (CreditGrant) TableName() string { return "credit_grants" }
