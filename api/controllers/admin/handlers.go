package admin

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/pixelforge-backend/api/middleware"
	"github.com/angelmondragon/pixelforge-backend/api/responses"
	"github.com/angelmondragon/pixelforge-backend/api/validators"
	"github.com/angelmondragon/pixelforge-backend/internal/accounts"
	creditsvc "github.com/angelmondragon/pixelforge-backend/internal/credits"
	"github.com/angelmondragon/pixelforge-backend/internal/ledger"
	"github.com/angelmondragon/pixelforge-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/pixelforge-backend/pkg/errors"
	"github.com/angelmondragon/pixelforge-backend/pkg/logger"
)

// LedgerService is the admin correction and audit surface.
type LedgerService interface {
	Adjust(ctx context.Context, req creditsvc.AdjustRequest) (creditsvc.GrantResult, error)
	Reconcile(ctx context.Context, accountID uuid.UUID) (ledger.Reconciliation, error)
}

// AccountService opens and reads accounts.
type AccountService interface {
	Open(ctx context.Context, input accounts.OpenAccountInput) (*accounts.AccountDTO, error)
	Get(ctx context.Context, id uuid.UUID) (*accounts.AccountDTO, error)
}

type adjustRequest struct {
	AccountID uuid.UUID  `json:"account_id" validate:"required"`
	Amount    int64      `json:"amount" validate:"required"`
	Reason    string     `json:"reason" validate:"required,notblank,max=500"`
	Source    string     `json:"source,omitempty" validate:"omitempty,oneof=admin_adjustment promotional"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

type openAccountRequest struct {
	AccountID        *uuid.UUID `json:"account_id,omitempty"`
	StripeCustomerID *string    `json:"stripe_customer_id,omitempty" validate:"omitempty,max=255"`
}

// AdjustCredits applies a signed correction. Positive amounts grant credits,
// negative amounts draw them.
func AdjustCredits(svc LedgerService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "credit service unavailable"))
			return
		}

		var payload adjustRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		req := creditsvc.AdjustRequest{
			AccountID: payload.AccountID,
			Amount:    payload.Amount,
			Reason:    strings.TrimSpace(payload.Reason),
			Actor:     middleware.AccountIDFromContext(r.Context()),
			ExpiresAt: payload.ExpiresAt,
		}
		if payload.Source != "" {
			source, err := enums.ParseCreditSource(payload.Source)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid source"))
				return
			}
			req.Source = source
		}

		result, err := svc.Adjust(r.Context(), req)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if logg != nil {
			ctx := logg.WithFields(r.Context(), map[string]any{
				"target_account_id": payload.AccountID.String(),
				"amount":            payload.Amount,
			})
			logg.Info(ctx, "admin credit adjustment applied")
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, result)
	}
}

func OpenAccount(svc AccountService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "account service unavailable"))
			return
		}

		var payload openAccountRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		account, err := svc.Open(r.Context(), accounts.OpenAccountInput{
			ID:               payload.AccountID,
			StripeCustomerID: payload.StripeCustomerID,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, account)
	}
}

func GetAccount(svc AccountService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "account service unavailable"))
			return
		}

		accountID, err := accountIDParam(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		account, err := svc.Get(r.Context(), accountID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, account)
	}
}

// Reconcile reports whether the cached balance matches the ledger.
func Reconcile(svc LedgerService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "credit service unavailable"))
			return
		}

		accountID, err := accountIDParam(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		report, err := svc.Reconcile(r.Context(), accountID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if !report.Consistent && logg != nil {
			ctx := logg.WithFields(r.Context(), map[string]any{
				"target_account_id": accountID.String(),
				"cached_balance":    report.CachedBalance,
				"sum_of_deltas":     report.SumOfDeltas,
				"sum_of_grants":     report.SumOfGrants,
			})
			logg.Warn(ctx, "ledger reconciliation mismatch")
		}
		responses.WriteSuccess(w, report)
	}
}

func accountIDParam(r *http.Request) (uuid.UUID, error) {
	raw := strings.TrimSpace(chi.URLParam(r, "accountId"))
	if raw == "" {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeValidation, "account id is required")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid account id").WithDetails(map[string]any{"field": "accountId"})
	}
	return id, nil
}
