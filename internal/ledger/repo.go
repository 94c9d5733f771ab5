package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/angelmondragon/pixelforge-backend/pkg/db/models"
	"github.com/angelmondragon/pixelforge-backend/pkg/enums"
	"github.com/angelmondragon/pixelforge-backend/pkg/pagination"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository manages persistence for accounts, grants and ledger rows.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	LockAccount(ctx context.Context, accountID uuid.UUID) (*models.Account, error)
	FindAccount(ctx context.Context, accountID uuid.UUID) (*models.Account, error)
	SaveAccountState(ctx context.Context, account *models.Account) error
	AdjustCachedBalance(ctx context.Context, accountID uuid.UUID, delta int64) error
	CreateGrant(ctx context.Context, grant *models.CreditGrant) error
	DrawGrant(ctx context.Context, accountID, grantID uuid.UUID, amount int64, expiredAt *time.Time) (bool, error)
	InsertTransactions(ctx context.Context, rows []models.CreditTransaction) error
	ListGrants(ctx context.Context, accountID uuid.UUID, activeAt *time.Time) ([]models.CreditGrant, error)
	ListTransactions(ctx context.Context, params listTransactionsParams) ([]models.CreditTransaction, *pagination.Cursor, error)
	SumDeltas(ctx context.Context, accountID uuid.UUID) (int64, error)
	SumRemaining(ctx context.Context, accountID uuid.UUID, activeAt *time.Time) (int64, error)
	AccountsWithExpiredGrants(ctx context.Context, now time.Time, after uuid.UUID, limit int) ([]uuid.UUID, error)
}

type listTransactionsParams struct {
	AccountID uuid.UUID
	Limit     int
	Cursor    *pagination.Cursor
	Type      *enums.CreditTransactionType
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a ledger repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) LockAccount(ctx context.Context, accountID uuid.UUID) (*models.Account, error) {
	var account models.Account
	err := r.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", accountID).
		First(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &account, nil
}

func (r *repository) FindAccount(ctx context.Context, accountID uuid.UUID) (*models.Account, error) {
	var account models.Account
	err := r.db.WithContext(ctx).Where("id = ?", accountID).First(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &account, nil
}

// SaveAccountState persists lifecycle columns. The cached balance is excluded on
// purpose; it only moves through AdjustCachedBalance.
func (r *repository) SaveAccountState(ctx context.Context, account *models.Account) error {
	return r.db.WithContext(ctx).
		Model(&models.Account{ID: account.ID}).
		Select("plan", "status", "paused_until", "stripe_customer_id", "stripe_subscription_id", "current_period_end", "deactivated_at", "updated_at").
		Updates(map[string]any{
			"plan":                   account.Plan,
			"status":                 account.Status,
			"paused_until":           account.PausedUntil,
			"stripe_customer_id":     account.StripeCustomerID,
			"stripe_subscription_id": account.StripeSubscriptionID,
			"current_period_end":     account.CurrentPeriodEnd,
			"deactivated_at":         account.DeactivatedAt,
			"updated_at":             account.UpdatedAt,
		}).Error
}

func (r *repository) AdjustCachedBalance(ctx context.Context, accountID uuid.UUID, delta int64) error {
	return r.db.WithContext(ctx).
		Model(&models.Account{}).
		Where("id = ?", accountID).
		Update("credit_balance", gorm.Expr("credit_balance + ?", delta)).Error
}

func (r *repository) CreateGrant(ctx context.Context, grant *models.CreditGrant) error {
	return r.db.WithContext(ctx).Create(grant).Error
}

// DrawGrant lowers remaining by amount only when the grant can cover it. The
// boolean is false when no row matched the guard.
func (r *repository) DrawGrant(ctx context.Context, accountID, grantID uuid.UUID, amount int64, expiredAt *time.Time) (bool, error) {
	updates := map[string]any{
		"remaining": gorm.Expr("remaining - ?", amount),
	}
	if expiredAt != nil {
		updates["expired_at"] = *expiredAt
	}
	res := r.db.WithContext(ctx).
		Model(&models.CreditGrant{}).
		Where("id = ? AND account_id = ? AND remaining >= ?", grantID, accountID, amount).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *repository) InsertTransactions(ctx context.Context, rows []models.CreditTransaction) error {
	if len(rows) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Create(&rows).Error
}

func (r *repository) ListGrants(ctx context.Context, accountID uuid.UUID, activeAt *time.Time) ([]models.CreditGrant, error) {
	query := r.db.WithContext(ctx).Where("account_id = ?", accountID)
	if activeAt != nil {
		query = query.Where("remaining > 0 AND (expires_at IS NULL OR expires_at > ?)", *activeAt)
	}
	var grants []models.CreditGrant
	if err := query.Order("granted_at ASC, id ASC").Find(&grants).Error; err != nil {
		return nil, err
	}
	return grants, nil
}

func (r *repository) ListTransactions(ctx context.Context, params listTransactionsParams) ([]models.CreditTransaction, *pagination.Cursor, error) {
	query := r.db.WithContext(ctx).Model(&models.CreditTransaction{}).Where("account_id = ?", params.AccountID)
	if params.Type != nil {
		query = query.Where("type = ?", *params.Type)
	}
	if params.Cursor != nil {
		query = query.Where("(created_at, id) < (?, ?)", params.Cursor.CreatedAt, params.Cursor.ID)
	}

	var rows []models.CreditTransaction
	if err := query.Order("created_at DESC, id DESC").Limit(pagination.FetchLimit(params.Limit)).Find(&rows).Error; err != nil {
		return nil, nil, err
	}
	page, next := pagination.Trim(rows, params.Limit, func(tx models.CreditTransaction) pagination.Cursor {
		return pagination.Cursor{CreatedAt: tx.CreatedAt, ID: tx.ID}
	})
	return page, next, nil
}

func (r *repository) SumDeltas(ctx context.Context, accountID uuid.UUID) (int64, error) {
	var total int64
	err := r.db.WithContext(ctx).
		Model(&models.CreditTransaction{}).
		Where("account_id = ?", accountID).
		Select("COALESCE(SUM(delta), 0)").
		Scan(&total).Error
	return total, err
}

func (r *repository) SumRemaining(ctx context.Context, accountID uuid.UUID, activeAt *time.Time) (int64, error) {
	query := r.db.WithContext(ctx).
		Model(&models.CreditGrant{}).
		Where("account_id = ?", accountID)
	if activeAt != nil {
		query = query.Where("(expires_at IS NULL OR expires_at > ?)", *activeAt)
	}
	var total int64
	err := query.Select("COALESCE(SUM(remaining), 0)").Scan(&total).Error
	return total, err
}

func (r *repository) AccountsWithExpiredGrants(ctx context.Context, now time.Time, after uuid.UUID, limit int) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	q := r.db.WithContext(ctx).
		Model(&models.CreditGrant{}).
		Distinct("account_id").
		Where("remaining > 0 AND expires_at IS NOT NULL AND expires_at <= ?", now)
	if after != uuid.Nil {
		q = q.Where("account_id > ?", after)
	}
	err := q.Order("account_id").
		Limit(limit).
		Pluck("account_id", &ids).Error
	return ids, err
}
