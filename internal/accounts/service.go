package accounts

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/angelmondragon/pixelforge-backend/pkg/db"
	"github.com/angelmondragon/pixelforge-backend/pkg/db/models"
	"github.com/angelmondragon/pixelforge-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/pixelforge-backend/pkg/errors"
	"github.com/google/uuid"
)

type accountsRepository interface {
	Create(ctx context.Context, account *models.Account) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Account, error)
	FindByStripeCustomerID(ctx context.Context, customerID string) (*models.Account, error)
	FindByStripeSubscriptionID(ctx context.Context, subscriptionID string) (*models.Account, error)
	ListPausedDue(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error)
	LinkStripeCustomer(ctx context.Context, id uuid.UUID, customerID string) (bool, error)
}

// StripeRef carries the identifiers an inbound event may use to find its account.
type StripeRef struct {
	AccountID      string
	CustomerID     string
	SubscriptionID string
}

// Service exposes account registry operations.
type Service interface {
	Open(ctx context.Context, input OpenAccountInput) (*AccountDTO, error)
	Get(ctx context.Context, id uuid.UUID) (*AccountDTO, error)
	Resolve(ctx context.Context, ref StripeRef) (*models.Account, error)
	ListPausedDue(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error)
}

type service struct {
	repo accountsRepository
}

// NewService builds an account service with the provided repository.
func NewService(repo accountsRepository) (Service, error) {
	if repo == nil {
		return nil, errors.New("accounts repository required")
	}
	return &service{repo: repo}, nil
}

// Open creates a free, active account with an empty ledger.
func (s *service) Open(ctx context.Context, input OpenAccountInput) (*AccountDTO, error) {
	account := &models.Account{
		ID:     uuid.New(),
		Plan:   enums.PlanFree,
		Status: enums.AccountStatusActive,
	}
	if input.ID != nil && *input.ID != uuid.Nil {
		account.ID = *input.ID
	}
	if input.StripeCustomerID != nil {
		customer := strings.TrimSpace(*input.StripeCustomerID)
		if customer != "" {
			account.StripeCustomerID = &customer
		}
	}
	if err := s.repo.Create(ctx, account); err != nil {
		if db.IsUniqueViolation(err, "") {
			return nil, pkgerrors.Wrap(pkgerrors.CodeConflict, err, "account already exists")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "create account")
	}
	return FromModel(account), nil
}

func (s *service) Get(ctx context.Context, id uuid.UUID) (*AccountDTO, error) {
	account, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "load account")
	}
	if account == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "account not found")
	}
	return FromModel(account), nil
}

// Resolve finds the account an inbound event refers to. Explicit account ids
// from checkout metadata win over customer and subscription ids. An account
// found by id without a linked customer gets the customer attached. Unknown
// references return nil, nil.
func (s *service) Resolve(ctx context.Context, ref StripeRef) (*models.Account, error) {
	if ref.AccountID != "" {
		id, err := uuid.Parse(strings.TrimSpace(ref.AccountID))
		if err == nil {
			account, err := s.repo.FindByID(ctx, id)
			if err != nil {
				return nil, fmt.Errorf("find account by id: %w", err)
			}
			if account != nil {
				if account.StripeCustomerID == nil && ref.CustomerID != "" {
					if _, err := s.repo.LinkStripeCustomer(ctx, account.ID, ref.CustomerID); err != nil {
						return nil, fmt.Errorf("link stripe customer: %w", err)
					}
					customer := ref.CustomerID
					account.StripeCustomerID = &customer
				}
				return account, nil
			}
		}
	}
	if ref.CustomerID != "" {
		account, err := s.repo.FindByStripeCustomerID(ctx, ref.CustomerID)
		if err != nil {
			return nil, fmt.Errorf("find account by customer: %w", err)
		}
		if account != nil {
			return account, nil
		}
	}
	if ref.SubscriptionID != "" {
		account, err := s.repo.FindByStripeSubscriptionID(ctx, ref.SubscriptionID)
		if err != nil {
			return nil, fmt.Errorf("find account by subscription: %w", err)
		}
		return account, nil
	}
	return nil, nil
}

func (s *service) ListPausedDue(ctx context.Context, now time.Time, limit int) ([]uuid.UUID, error) {
	if limit <= 0 {
		limit = 100
	}
	return s.repo.ListPausedDue(ctx, now, limit)
}
