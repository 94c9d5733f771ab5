package retention

import (
	"time"

	"github.com/angelmondragon/pixelforge-backend/pkg/config"
	"github.com/angelmondragon/pixelforge-backend/pkg/db/models"
	"github.com/angelmondragon/pixelforge-backend/pkg/enums"
)

const (
	ReasonYearlyLimit    = "yearly limit reached"
	ReasonAlreadyPaused  = "already paused"
	ReasonNotActive      = "subscription not active"
	ReasonCooldownActive = "cooldown active"
)

// PauseEligibility answers whether the account may pause now.
type PauseEligibility struct {
	CanPause           bool   `json:"can_pause"`
	Reason             string `json:"reason,omitempty"`
	PauseCountThisYear int    `json:"pause_count_this_year"`
	MaxPausesPerYear   int    `json:"max_pauses_per_year"`
	MaxPauseDays       int    `json:"max_pause_days"`
}

// DiscountEligibility answers whether the account may claim a discount now.
type DiscountEligibility struct {
	CanApply              bool   `json:"can_apply"`
	Reason                string `json:"reason,omitempty"`
	DiscountCountThisYear int    `json:"discount_count_this_year"`
	MaxDiscountsPerYear   int    `json:"max_discounts_per_year"`
}

// Counts reset with the calendar year in UTC.
func evaluatePause(cfg config.RetentionConfig, account *models.Account, history models.RetentionHistory, now time.Time) PauseEligibility {
	out := PauseEligibility{
		PauseCountThisYear: history.PausesIn(now.UTC().Year()),
		MaxPausesPerYear:   cfg.MaxPausesPerYear,
		MaxPauseDays:       cfg.MaxPauseDays,
	}
	switch {
	case account.Status == enums.AccountStatusPaused:
		out.Reason = ReasonAlreadyPaused
	case account.Status != enums.AccountStatusActive || !account.Plan.IsPaid():
		out.Reason = ReasonNotActive
	case out.PauseCountThisYear >= cfg.MaxPausesPerYear:
		out.Reason = ReasonYearlyLimit
	case inCooldown(cfg, history, now):
		out.Reason = ReasonCooldownActive
	default:
		out.CanPause = true
	}
	return out
}

func inCooldown(cfg config.RetentionConfig, history models.RetentionHistory, now time.Time) bool {
	if cfg.PauseCooldownDays <= 0 || history.LastPauseAt == nil {
		return false
	}
	return now.Before(history.LastPauseAt.Add(time.Duration(cfg.PauseCooldownDays) * 24 * time.Hour))
}

func evaluateDiscount(cfg config.RetentionConfig, account *models.Account, history models.RetentionHistory, now time.Time) DiscountEligibility {
	out := DiscountEligibility{
		DiscountCountThisYear: history.DiscountsIn(now.UTC().Year()),
		MaxDiscountsPerYear:   cfg.MaxDiscountsPerYear,
	}
	switch {
	case account.Status != enums.AccountStatusActive || !account.Plan.IsPaid():
		out.Reason = ReasonNotActive
	case out.DiscountCountThisYear >= cfg.MaxDiscountsPerYear:
		out.Reason = ReasonYearlyLimit
	default:
		out.CanApply = true
	}
	return out
}

func recordPause(history *models.RetentionHistory, now time.Time) {
	year := now.UTC().Year()
	history.PauseCount = history.PausesIn(year) + 1
	history.PauseYear = year
	history.LastPauseAt = &now
}

func recordDiscount(history *models.RetentionHistory, now time.Time) {
	year := now.UTC().Year()
	history.DiscountCount = history.DiscountsIn(year) + 1
	history.DiscountYear = year
	history.LastDiscountAt = &now
}
