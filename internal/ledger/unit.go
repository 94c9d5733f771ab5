package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/angelmondragon/pixelforge-backend/pkg/db/models"
	"github.com/angelmondragon/pixelforge-backend/pkg/enums"
	"github.com/google/uuid"
	"github.com/samber/lo"
	"gorm.io/gorm"
)

// Unit is an account-scoped handle bound to one locked transaction. Every
// grant, draw and state change for the account goes through it.
type Unit struct {
	ctx     context.Context
	tx      *gorm.DB
	repo    Repository
	account *models.Account
	now     time.Time
}

func (u *Unit) Context() context.Context { return u.ctx }
func (u *Unit) Tx() *gorm.DB             { return u.tx }
func (u *Unit) Account() *models.Account { return u.account }
func (u *Unit) AccountID() uuid.UUID     { return u.account.ID }
func (u *Unit) Now() time.Time           { return u.now }

// ActiveGrants returns grants with remaining credits that have not expired.
func (u *Unit) ActiveGrants() ([]models.CreditGrant, error) {
	now := u.now
	return u.repo.ListGrants(u.ctx, u.account.ID, &now)
}

// Grants returns every grant the account ever received, oldest first.
func (u *Unit) Grants() ([]models.CreditGrant, error) {
	return u.repo.ListGrants(u.ctx, u.account.ID, nil)
}

// Available sums the remaining credits of the provided grants.
func Available(grants []models.CreditGrant) int64 {
	return lo.SumBy(grants, func(g models.CreditGrant) int64 { return g.Remaining })
}

// SaveState persists plan and status changes made to Account().
func (u *Unit) SaveState() error {
	u.account.UpdatedAt = u.now
	return u.repo.SaveAccountState(u.ctx, u.account)
}

// ApplyTransaction writes entries as one operation: new grants are inserted,
// draws are applied with a remaining >= amount guard, ledger rows are appended
// and the cached balance moves by the net delta. Any failure aborts the whole
// transaction the unit belongs to.
func (u *Unit) ApplyTransaction(operationID uuid.UUID, entries []Entry) ([]models.CreditTransaction, error) {
	if len(entries) == 0 {
		return nil, fmt.Errorf("no ledger entries")
	}
	if operationID == uuid.Nil {
		operationID = uuid.New()
	}
	for i, entry := range entries {
		if err := entry.validate(); err != nil {
			return nil, fmt.Errorf("entry %d: %w", i, err)
		}
	}

	rows := make([]models.CreditTransaction, 0, len(entries))
	var net int64
	for _, entry := range entries {
		var grantID uuid.UUID
		switch {
		case entry.NewGrant != nil:
			grant := entry.NewGrant
			if grant.ID == uuid.Nil {
				grant.ID = uuid.New()
			}
			grant.AccountID = u.account.ID
			grant.Remaining = grant.Amount
			if grant.GrantedAt.IsZero() {
				grant.GrantedAt = u.now
			}
			if err := u.repo.CreateGrant(u.ctx, grant); err != nil {
				return nil, fmt.Errorf("create grant: %w", err)
			}
			grantID = grant.ID
		default:
			grantID = *entry.GrantID
			var expiredAt *time.Time
			if entry.Type == enums.CreditTransactionExpire {
				at := u.now
				expiredAt = &at
			}
			ok, err := u.repo.DrawGrant(u.ctx, u.account.ID, grantID, -entry.Delta, expiredAt)
			if err != nil {
				return nil, fmt.Errorf("draw grant %s: %w", grantID, err)
			}
			if !ok {
				return nil, fmt.Errorf("grant %s cannot cover %d credits", grantID, -entry.Delta)
			}
		}

		id := grantID
		rows = append(rows, models.CreditTransaction{
			ID:          uuid.New(),
			AccountID:   u.account.ID,
			GrantID:     &id,
			OperationID: operationID,
			Delta:       entry.Delta,
			Type:        entry.Type,
			Description: entry.Description,
			ExternalRef: entry.ExternalRef,
			CreatedAt:   u.now,
		})
		net += entry.Delta
	}

	if err := u.repo.InsertTransactions(u.ctx, rows); err != nil {
		return nil, fmt.Errorf("insert transactions: %w", err)
	}
	if net != 0 {
		if err := u.repo.AdjustCachedBalance(u.ctx, u.account.ID, net); err != nil {
			return nil, fmt.Errorf("adjust cached balance: %w", err)
		}
		u.account.CreditBalance += net
	}
	return rows, nil
}
