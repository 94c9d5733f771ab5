package retention

import (
	"context"

	"github.com/angelmondragon/pixelforge-backend/internal/repo"
	"github.com/angelmondragon/pixelforge-backend/pkg/db/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository persists per-account retention counters.
type Repository struct {
	repo.Base
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{Base: repo.NewBase(db)}
}

// WithTx binds the repository to tx.
func (r *Repository) WithTx(tx *gorm.DB) *Repository {
	if tx == nil {
		return r
	}
	return &Repository{Base: r.Base.WithTx(tx)}
}

// Find returns the account's history, or an empty history when none exists.
func (r *Repository) Find(ctx context.Context, accountID uuid.UUID) (models.RetentionHistory, error) {
	history, err := repo.TakeOne[models.RetentionHistory](ctx, r.Base, "account_id = ?", accountID)
	if err != nil {
		return models.RetentionHistory{}, err
	}
	if history == nil {
		return models.RetentionHistory{AccountID: accountID}, nil
	}
	return *history, nil
}

// Save upserts the history row.
func (r *Repository) Save(ctx context.Context, history *models.RetentionHistory) error {
	return r.DB(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "account_id"}},
			UpdateAll: true,
		}).
		Create(history).Error
}
