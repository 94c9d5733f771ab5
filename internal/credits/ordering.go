package credits

import (
	"bytes"
	"slices"

	"github.com/angelmondragon/pixelforge-backend/pkg/db/models"
	"github.com/google/uuid"
)

// draw is the amount taken from one grant by a consumption.
type draw struct {
	GrantID uuid.UUID
	Amount  int64
}

// consumptionOrder returns grants sorted soonest-to-expire first, with
// non-expiring grants last and oldest grants first on ties.
func consumptionOrder(grants []models.CreditGrant) []models.CreditGrant {
	ordered := slices.Clone(grants)
	slices.SortStableFunc(ordered, func(a, b models.CreditGrant) int {
		switch {
		case a.ExpiresAt == nil && b.ExpiresAt != nil:
			return 1
		case a.ExpiresAt != nil && b.ExpiresAt == nil:
			return -1
		case a.ExpiresAt != nil && b.ExpiresAt != nil && !a.ExpiresAt.Equal(*b.ExpiresAt):
			return a.ExpiresAt.Compare(*b.ExpiresAt)
		}
		if !a.GrantedAt.Equal(b.GrantedAt) {
			return a.GrantedAt.Compare(b.GrantedAt)
		}
		return bytes.Compare(a.ID[:], b.ID[:])
	})
	return ordered
}

// planDraws walks grants in consumption order until amount is covered. It
// reports false, with no draws, when the grants cannot cover amount.
func planDraws(grants []models.CreditGrant, amount int64) ([]draw, bool) {
	if amount <= 0 {
		return nil, false
	}
	var draws []draw
	left := amount
	for _, grant := range consumptionOrder(grants) {
		if left == 0 {
			break
		}
		if grant.Remaining <= 0 {
			continue
		}
		take := min(grant.Remaining, left)
		draws = append(draws, draw{GrantID: grant.ID, Amount: take})
		left -= take
	}
	if left > 0 {
		return nil, false
	}
	return draws, true
}
