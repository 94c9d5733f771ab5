package models

import (
	"time"

	"github.com/google/uuid"
)

// RetentionHistory holds per-account offer counters. Counts apply to the
// calendar year stored next to them.
type RetentionHistory struct {
	AccountID      uuid.UUID  `gorm:"column:account_id;type:uuid;primaryKey"`
	PauseYear      int        `gorm:"column:pause_year;not null;default:0"`
	PauseCount     int        `gorm:"column:pause_count;not null;default:0"`
	LastPauseAt    *time.Time `gorm:"column:last_pause_at"`
	DiscountYear   int        `gorm:"column:discount_year;not null;default:0"`
	DiscountCount  int        `gorm:"column:discount_count;not null;default:0"`
	LastDiscountAt *time.Time `gorm:"column:last_discount_at"`
	UpdatedAt      time.Time  `gorm:"column:updated_at;autoUpdateTime"`
}

func (RetentionHistory) TableName() string { return "retention_histories" }

// PausesIn returns the pause count for the given calendar year.
func (h RetentionHistory) PausesIn(year int) int {
	if h.PauseYear != year {
		return 0
	}
	return h.PauseCount
}

// DiscountsIn returns the discount count for the given calendar year.
func (h RetentionHistory) DiscountsIn(year int) int {
	if h.DiscountYear != year {
		return 0
	}
	return h.DiscountCount
}
