package accounts

import (
	"context"
	"time"

	"github.com/angelmondragon/pixelforge-backend/internal/repo"
	"github.com/angelmondragon/pixelforge-backend/pkg/db/models"
	"github.com/angelmondragon/pixelforge-backend/pkg/enums"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Repository exposes account persistence. Plan, status and balance changes
// go through the ledger store instead.
type Repository struct {
	repo.Base
}

// NewRepository constructs an accounts repo bound to the provided GORM DB.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{Base: repo.NewBase(db)}
}

// Create inserts a new account.
func (r *Repository) Create(ctx context.Context, account *models.Account) error {
	return r.DB(ctx).Create(account).Error
}

// FindByID loads an account; missing accounts return nil, nil.
func (r *Repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Account, error) {
	return r.first(ctx, "id = ?", id)
}

// FindByStripeCustomerID resolves the account linked to a Stripe customer.
func (r *Repository) FindByStripeCustomerID(ctx context.Context, customerID string) (*models.Account, error) {
	return r.first(ctx, "stripe_customer_id = ?", customerID)
}

// FindByStripeSubscriptionID resolves the account holding a Stripe subscription.
func (r *Repository) FindByStripeSubscriptionID(ctx context.Context, subscriptionID string) (*models.Account, error) {
	return r.first(ctx, "stripe_subscription_id = ?", subscriptionID)
}

// ListPausedDue returns accounts whose pause ended at or before now.
func (r *Repository) ListPausedDue(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := r.DB(ctx).
		Model(&models.Account{}).
		Where("status = ? AND paused_until IS NOT NULL AND paused_until <= ?", enums.AccountStatusPaused, now).
		Order("paused_until ASC").
		Limit(limit).
		Pluck("id", &ids).Error
	return ids, err
}

// LinkStripeCustomer stores the Stripe customer id on an account that has none.
func (r *Repository) LinkStripeCustomer(ctx context.Context, id uuid.UUID, customerID string) (bool, error) {
	res := r.DB(ctx).
		Model(&models.Account{}).
		Where("id = ? AND stripe_customer_id IS NULL", id).
		UpdateColumn("stripe_customer_id", customerID)
	return res.RowsAffected == 1, res.Error
}

func (r *Repository) first(ctx context.Context, query string, args ...any) (*models.Account, error) {
	return repo.TakeOne[models.Account](ctx, r.Base, query, args...)
}
