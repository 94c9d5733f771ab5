package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/pixelforge-backend/pkg/enums"
)

// CreditTransaction is an append-only ledger row. Rows written by one logical
// operation share OperationID.
type CreditTransaction struct {
	ID          uuid.UUID                   `gorm:"column:id;type:uuid;primaryKey"`
	AccountID   uuid.UUID                   `gorm:"column:account_id;type:uuid;not null;index"`
	GrantID     *uuid.UUID                  `gorm:"column:grant_id;type:uuid"`
	OperationID uuid.UUID                   `gorm:"column:operation_id;type:uuid;not null;index"`
	Delta       int64                       `gorm:"column:delta;not null"`
	Type        enums.CreditTransactionType `gorm:"column:type;not null"`
	Description string                      `gorm:"column:description;not null;default:''"`
	ExternalRef *string                     `gorm:"column:external_ref"`
	CreatedAt   time.Time                   `gorm:"column:created_at;not null"`
}

func (CreditTransaction) TableName() string { return "credit_transactions" }
