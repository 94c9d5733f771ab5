package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/angelmondragon/pixelforge-backend/pkg/db"
	"github.com/angelmondragon/pixelforge-backend/pkg/db/models"
	"github.com/angelmondragon/pixelforge-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/pixelforge-backend/pkg/errors"
	"github.com/angelmondragon/pixelforge-backend/pkg/pagination"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// StoreParams wires the ledger store.
type StoreParams struct {
	Repo        Repository
	DB          txRunner
	LockTimeout time.Duration
	Now         func() time.Time
}

// Store is the transactional entry point to an account's credits.
type Store struct {
	repo        Repository
	db          txRunner
	lockTimeout time.Duration
	now         func() time.Time
}

// Balance reports both views of an account's credits. Ledger is the cached
// balance (equal to the sum of all transaction deltas); Available excludes
// grants whose expiry passed but have not been swept yet.
type Balance struct {
	AccountID uuid.UUID `json:"account_id"`
	Available int64     `json:"available"`
	Ledger    int64     `json:"ledger"`
}

// GrantFilter narrows ListGrants.
type GrantFilter struct {
	ActiveOnly bool
}

// HistoryQuery pages through ledger rows, optionally of one type.
type HistoryQuery struct {
	pagination.Params
	Type *enums.CreditTransactionType
}

// TransactionPage is one page of ledger history, newest first.
type TransactionPage struct {
	Transactions []models.CreditTransaction `json:"transactions"`
	Cursor       string                     `json:"cursor"`
}

// Reconciliation compares the cached balance with both derivations.
type Reconciliation struct {
	AccountID     uuid.UUID `json:"account_id"`
	CachedBalance int64     `json:"cached_balance"`
	SumOfDeltas   int64     `json:"sum_of_deltas"`
	SumOfGrants   int64     `json:"sum_of_grants"`
	Consistent    bool      `json:"consistent"`
}

func NewStore(p StoreParams) (*Store, error) {
	if p.Repo == nil {
		return nil, fmt.Errorf("ledger repository required")
	}
	if p.DB == nil {
		return nil, fmt.Errorf("transaction runner required")
	}
	now := p.Now
	if now == nil {
		now = time.Now
	}
	return &Store{
		repo:        p.Repo,
		db:          p.DB,
		lockTimeout: p.LockTimeout,
		now:         now,
	}, nil
}

// Run executes fn inside one transaction holding the account row lock.
func (s *Store) Run(ctx context.Context, accountID uuid.UUID, fn func(u *Unit) error) error {
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		unit, err := s.Lock(ctx, tx, accountID)
		if err != nil {
			return err
		}
		return fn(unit)
	})
	return ClassifyError(err)
}

// Lock acquires the account row lock inside an existing transaction. It is
// used when the caller already opened the unit of work, e.g. the event gate.
func (s *Store) Lock(ctx context.Context, tx *gorm.DB, accountID uuid.UUID) (*Unit, error) {
	if tx == nil {
		return nil, fmt.Errorf("transaction required")
	}
	if accountID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "account id is required")
	}
	if err := db.SetLockTimeout(tx, s.lockTimeout); err != nil {
		return nil, fmt.Errorf("set lock timeout: %w", err)
	}
	repo := s.repo.WithTx(tx)
	account, err := repo.LockAccount(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("lock account: %w", err)
	}
	if account == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "account not found")
	}
	return &Unit{
		ctx:     ctx,
		tx:      tx,
		repo:    repo,
		account: account,
		now:     s.now().UTC(),
	}, nil
}

// GetBalance reads balances without taking the account lock.
func (s *Store) GetBalance(ctx context.Context, accountID uuid.UUID) (Balance, error) {
	account, err := s.requireAccount(ctx, accountID)
	if err != nil {
		return Balance{}, err
	}
	now := s.now().UTC()
	available, err := s.repo.SumRemaining(ctx, accountID, &now)
	if err != nil {
		return Balance{}, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "sum available credits")
	}
	return Balance{
		AccountID: accountID,
		Available: available,
		Ledger:    account.CreditBalance,
	}, nil
}

// GetAccount reads the account without taking the lock.
func (s *Store) GetAccount(ctx context.Context, accountID uuid.UUID) (*models.Account, error) {
	return s.requireAccount(ctx, accountID)
}

func (s *Store) ListGrants(ctx context.Context, accountID uuid.UUID, filter GrantFilter) ([]models.CreditGrant, error) {
	if _, err := s.requireAccount(ctx, accountID); err != nil {
		return nil, err
	}
	var activeAt *time.Time
	if filter.ActiveOnly {
		now := s.now().UTC()
		activeAt = &now
	}
	grants, err := s.repo.ListGrants(ctx, accountID, activeAt)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list grants")
	}
	return grants, nil
}

func (s *Store) ListTransactions(ctx context.Context, accountID uuid.UUID, q HistoryQuery) (TransactionPage, error) {
	if _, err := s.requireAccount(ctx, accountID); err != nil {
		return TransactionPage{}, err
	}
	query := listTransactionsParams{AccountID: accountID, Limit: q.Limit, Type: q.Type}
	if q.Cursor != "" {
		cursor, err := pagination.Decode(q.Cursor)
		if err != nil {
			return TransactionPage{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid cursor")
		}
		query.Cursor = cursor
	}

	rows, next, err := s.repo.ListTransactions(ctx, query)
	if err != nil {
		return TransactionPage{}, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "list transactions")
	}
	page := TransactionPage{Transactions: rows}
	if next != nil {
		page.Cursor = next.Encode()
	}
	return page, nil
}

func (s *Store) Reconcile(ctx context.Context, accountID uuid.UUID) (Reconciliation, error) {
	account, err := s.requireAccount(ctx, accountID)
	if err != nil {
		return Reconciliation{}, err
	}
	deltas, err := s.repo.SumDeltas(ctx, accountID)
	if err != nil {
		return Reconciliation{}, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "sum deltas")
	}
	remaining, err := s.repo.SumRemaining(ctx, accountID, nil)
	if err != nil {
		return Reconciliation{}, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "sum grants")
	}
	return Reconciliation{
		AccountID:     accountID,
		CachedBalance: account.CreditBalance,
		SumOfDeltas:   deltas,
		SumOfGrants:   remaining,
		Consistent:    account.CreditBalance == deltas && deltas == remaining,
	}, nil
}

// AccountsWithExpiredGrants lists, in id order, accounts after the given id
// that the expiry sweep needs to visit. uuid.Nil starts from the beginning.
func (s *Store) AccountsWithExpiredGrants(ctx context.Context, after uuid.UUID, limit int) ([]uuid.UUID, error) {
	if limit <= 0 {
		limit = 100
	}
	return s.repo.AccountsWithExpiredGrants(ctx, s.now().UTC(), after, limit)
}

func (s *Store) requireAccount(ctx context.Context, accountID uuid.UUID) (*models.Account, error) {
	if accountID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "account id is required")
	}
	account, err := s.repo.FindAccount(ctx, accountID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load account")
	}
	if account == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "account not found")
	}
	return account, nil
}

// ClassifyError maps lock and serialization failures to PERSISTENCE_CONFLICT.
// Typed errors pass through unchanged.
func ClassifyError(err error) error {
	if err == nil {
		return nil
	}
	if pkgerrors.As(err) != nil {
		return err
	}
	if db.IsConflict(err) {
		return pkgerrors.Wrap(pkgerrors.CodePersistenceConflict, err, "account is busy, retry the operation")
	}
	return err
}
