package credits

import (
	"context"
	"fmt"

	"github.com/angelmondragon/pixelforge-backend/internal/ledger"
	"github.com/angelmondragon/pixelforge-backend/pkg/db/models"
	"github.com/angelmondragon/pixelforge-backend/pkg/enums"
	"github.com/angelmondragon/pixelforge-backend/pkg/outbox/payloads"
	"github.com/google/uuid"
	"github.com/samber/lo"
	"go.uber.org/multierr"
)

// ExpireGrants zeroes every grant whose expiry has passed and writes the
// matching expire transactions. Each account is handled in its own unit and
// the sweep walks accounts in id order, so a failing account is reported and
// skipped without blocking the ones after it.
func (s *Service) ExpireGrants(ctx context.Context) (ExpireSummary, error) {
	var (
		summary ExpireSummary
		errs    error
		after   uuid.UUID
	)
	for {
		if err := ctx.Err(); err != nil {
			return summary, multierr.Append(errs, err)
		}
		ids, err := s.store.AccountsWithExpiredGrants(ctx, after, s.batchSize)
		if err != nil {
			return summary, multierr.Append(errs, fmt.Errorf("list accounts with expired grants: %w", err))
		}
		if len(ids) == 0 {
			return summary, errs
		}

		for _, accountID := range ids {
			var grants int
			var credits int64
			err := s.store.Run(ctx, accountID, func(u *ledger.Unit) error {
				var err error
				grants, credits, err = s.expireAccount(u)
				return err
			})
			if err != nil {
				errs = multierr.Append(errs, fmt.Errorf("expire account %s: %w", accountID, err))
				continue
			}
			if grants > 0 {
				summary.Accounts++
				summary.Grants += grants
				summary.Credits += credits
			}
		}
		after = ids[len(ids)-1]
		if len(ids) < s.batchSize {
			return summary, errs
		}
	}
}

// settle expires the account's past-due grants inside u. Every credit
// change calls it before planning draws or grants.
func (s *Service) settle(u *ledger.Unit) error {
	if _, _, err := s.expireAccount(u); err != nil {
		return fmt.Errorf("settle expired grants: %w", err)
	}
	return nil
}

func (s *Service) expireAccount(u *ledger.Unit) (int, int64, error) {
	all, err := u.Grants()
	if err != nil {
		return 0, 0, fmt.Errorf("load grants: %w", err)
	}
	now := u.Now()
	due := lo.Filter(all, func(g models.CreditGrant, _ int) bool {
		return g.Remaining > 0 && g.ExpiresAt != nil && !g.ExpiresAt.After(now)
	})
	if len(due) == 0 {
		return 0, 0, nil
	}

	operationID := uuid.New()
	entries := make([]ledger.Entry, 0, len(due))
	for _, g := range due {
		id := g.ID
		entries = append(entries, ledger.Entry{
			GrantID:     &id,
			Delta:       -g.Remaining,
			Type:        enums.CreditTransactionExpire,
			Description: ReasonExpired,
		})
	}
	if _, err := u.ApplyTransaction(operationID, entries); err != nil {
		return 0, 0, err
	}

	amount := lo.SumBy(due, func(g models.CreditGrant) int64 { return g.Remaining })
	balance, err := s.availableAfter(u)
	if err != nil {
		return 0, 0, err
	}
	err = s.emit(u, enums.EventCreditsExpired, nil, payloads.CreditsExpiredEvent{
		AccountID:   u.AccountID(),
		OperationID: operationID,
		GrantIDs:    lo.Map(due, func(g models.CreditGrant, _ int) uuid.UUID { return g.ID }),
		Amount:      amount,
		Reason:      ReasonExpired,
		Balance:     balance,
	})
	if err != nil {
		return 0, 0, err
	}
	s.metrics.AddCredits(string(enums.CreditTransactionExpire), amount)
	return len(due), amount, nil
}
