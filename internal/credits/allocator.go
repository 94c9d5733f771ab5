package credits

import (
	"fmt"
	"time"

	"github.com/angelmondragon/pixelforge-backend/internal/ledger"
	"github.com/angelmondragon/pixelforge-backend/pkg/config"
	"github.com/angelmondragon/pixelforge-backend/pkg/db/models"
	"github.com/angelmondragon/pixelforge-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/pixelforge-backend/pkg/errors"
	"github.com/google/uuid"
	"github.com/samber/lo"
)

const (
	ReasonPlanChanged = "plan changed"
	ReasonRenewal     = "renewal"
	ReasonExpired     = "expired"
)

// GrantRequest describes one batch of credits to issue.
type GrantRequest struct {
	Source      enums.CreditSource
	Amount      int64
	ExpiresAt   *time.Time
	Plan        *enums.Plan
	Description string
	ExternalRef *string
	OperationID uuid.UUID
}

// Forfeit summarizes subscription credits zeroed by a plan change or renewal.
type Forfeit struct {
	OperationID uuid.UUID
	GrantIDs    []uuid.UUID
	Amount      int64
}

// Allocator issues grants and applies the expiry policy for each source.
type Allocator struct {
	purchaseExpiry time.Duration
	billingCycle   time.Duration
}

func NewAllocator(cfg config.CreditsConfig) *Allocator {
	billingCycle := cfg.BillingCycle
	if billingCycle <= 0 {
		billingCycle = 30 * 24 * time.Hour
	}
	return &Allocator{
		purchaseExpiry: time.Duration(cfg.PurchaseExpiryDays) * 24 * time.Hour,
		billingCycle:   billingCycle,
	}
}

// Grant writes a new grant and its grant (or refund) transaction in the unit's
// transaction.
func (a *Allocator) Grant(u *ledger.Unit, req GrantRequest) (*models.CreditGrant, error) {
	if req.Amount <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "grant amount must be positive")
	}
	if !req.Source.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("unknown credit source %q", req.Source))
	}
	expiresAt, err := a.expiryFor(u, req)
	if err != nil {
		return nil, err
	}

	txType := enums.CreditTransactionGrant
	if req.Source == enums.CreditSourceRefund {
		txType = enums.CreditTransactionRefund
	}
	description := req.Description
	if description == "" {
		description = string(req.Source)
	}

	grant := &models.CreditGrant{
		Amount:      req.Amount,
		Source:      req.Source,
		Plan:        req.Plan,
		ExpiresAt:   expiresAt,
		ExternalRef: req.ExternalRef,
	}
	_, err = u.ApplyTransaction(req.OperationID, []ledger.Entry{{
		NewGrant:    grant,
		Delta:       req.Amount,
		Type:        txType,
		Description: description,
		ExternalRef: req.ExternalRef,
	}})
	if err != nil {
		return nil, err
	}
	return grant, nil
}

func (a *Allocator) expiryFor(u *ledger.Unit, req GrantRequest) (*time.Time, error) {
	now := u.Now()
	if req.ExpiresAt != nil && !req.ExpiresAt.After(now) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "expiry must be in the future")
	}

	switch req.Source {
	case enums.CreditSourceSubscriptionRenewal:
		if req.ExpiresAt != nil {
			return lo.ToPtr(req.ExpiresAt.UTC()), nil
		}
		return lo.ToPtr(now.Add(a.billingCycle)), nil
	case enums.CreditSourceOneTimePurchase:
		expiresAt := req.ExpiresAt
		if expiresAt == nil && a.purchaseExpiry > 0 {
			expiresAt = lo.ToPtr(now.Add(a.purchaseExpiry))
		}
		if expiresAt == nil {
			return nil, nil
		}
		latest, err := latestSubscriptionExpiry(u)
		if err != nil {
			return nil, err
		}
		if latest != nil && expiresAt.Before(*latest) {
			expiresAt = latest
		}
		return lo.ToPtr(expiresAt.UTC()), nil
	default:
		if req.ExpiresAt == nil {
			return nil, nil
		}
		return lo.ToPtr(req.ExpiresAt.UTC()), nil
	}
}

func latestSubscriptionExpiry(u *ledger.Unit) (*time.Time, error) {
	grants, err := u.ActiveGrants()
	if err != nil {
		return nil, fmt.Errorf("load active grants: %w", err)
	}
	var latest *time.Time
	for _, g := range subscriptionGrants(grants) {
		if g.ExpiresAt == nil {
			continue
		}
		if latest == nil || g.ExpiresAt.After(*latest) {
			latest = g.ExpiresAt
		}
	}
	return latest, nil
}

// ForfeitSubscriptionGrants zeroes every subscription grant that still holds
// credits, whatever its expiry, with expire transactions. It is a no-op when
// none remain.
func (a *Allocator) ForfeitSubscriptionGrants(u *ledger.Unit, reason string) (Forfeit, error) {
	grants, err := u.Grants()
	if err != nil {
		return Forfeit{}, fmt.Errorf("load grants: %w", err)
	}
	subscription := subscriptionGrants(grants)
	if len(subscription) == 0 {
		return Forfeit{}, nil
	}

	forfeit := Forfeit{OperationID: uuid.New()}
	entries := make([]ledger.Entry, 0, len(subscription))
	for _, g := range subscription {
		id := g.ID
		entries = append(entries, ledger.Entry{
			GrantID:     &id,
			Delta:       -g.Remaining,
			Type:        enums.CreditTransactionExpire,
			Description: reason,
		})
		forfeit.GrantIDs = append(forfeit.GrantIDs, g.ID)
		forfeit.Amount += g.Remaining
	}
	if _, err := u.ApplyTransaction(forfeit.OperationID, entries); err != nil {
		return Forfeit{}, err
	}
	return forfeit, nil
}

func subscriptionGrants(grants []models.CreditGrant) []models.CreditGrant {
	return lo.Filter(grants, func(g models.CreditGrant, _ int) bool {
		return g.Source == enums.CreditSourceSubscriptionRenewal && g.Remaining > 0
	})
}
