package models

import (
	"time"

	"gorm.io/datatypes"
)

// ProcessedEvent marks an external event or client idempotency key as handled.
type ProcessedEvent struct {
	ExternalID  string         `gorm:"column:external_id;primaryKey"`
	Type        string         `gorm:"column:type;not null"`
	Outcome     datatypes.JSON `gorm:"column:outcome"`
	ProcessedAt time.Time      `gorm:"column:processed_at;not null"`
}

func (ProcessedEvent) TableName() string { return "processed_events" }
