package credits

import (
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/angelmondragon/pixelforge-backend/api/controllers/accountcontext"
	"github.com/angelmondragon/pixelforge-backend/api/responses"
	"github.com/angelmondragon/pixelforge-backend/api/validators"
	creditsvc "github.com/angelmondragon/pixelforge-backend/internal/credits"
	"github.com/angelmondragon/pixelforge-backend/internal/ledger"
	"github.com/angelmondragon/pixelforge-backend/pkg/db/models"
	"github.com/angelmondragon/pixelforge-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/pixelforge-backend/pkg/errors"
	"github.com/angelmondragon/pixelforge-backend/pkg/logger"
	"github.com/angelmondragon/pixelforge-backend/pkg/pagination"
)

// Service is the ledger surface the credit endpoints need.
type Service interface {
	Consume(ctx context.Context, accountID uuid.UUID, amount int64, operationRef string) (creditsvc.ConsumeResult, error)
	Refund(ctx context.Context, req creditsvc.RefundRequest) (creditsvc.GrantResult, error)
	Balance(ctx context.Context, accountID uuid.UUID) (ledger.Balance, error)
	History(ctx context.Context, accountID uuid.UUID, q ledger.HistoryQuery) (ledger.TransactionPage, error)
	Grants(ctx context.Context, accountID uuid.UUID, filter ledger.GrantFilter) ([]models.CreditGrant, error)
}

type consumeRequest struct {
	Amount       int64  `json:"amount" validate:"required,gt=0"`
	OperationRef string `json:"operation_ref" validate:"required,notblank,max=200"`
}

type refundRequest struct {
	Amount       int64  `json:"amount" validate:"required,gt=0"`
	OperationRef string `json:"operation_ref" validate:"required,notblank,max=200"`
	Reason       string `json:"reason" validate:"omitempty,max=500"`
}

func Consume(svc Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "credit service unavailable"))
			return
		}

		accountID, err := accountcontext.ResolveAccountID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload consumeRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.Consume(r.Context(), accountID, payload.Amount, strings.TrimSpace(payload.OperationRef))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

func Refund(svc Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "credit service unavailable"))
			return
		}

		accountID, err := accountcontext.ResolveAccountID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload refundRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.Refund(r.Context(), creditsvc.RefundRequest{
			AccountID:    accountID,
			Amount:       payload.Amount,
			OperationRef: strings.TrimSpace(payload.OperationRef),
			Reason:       strings.TrimSpace(payload.Reason),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if result.Replayed {
			responses.WriteSuccess(w, result)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, result)
	}
}

func Balance(svc Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "credit service unavailable"))
			return
		}

		accountID, err := accountcontext.ResolveAccountID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		balance, err := svc.Balance(r.Context(), accountID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, balance)
	}
}

// History lists ledger rows newest first, filtered by ?type= when present.
func History(svc Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "credit service unavailable"))
			return
		}

		accountID, err := accountcontext.ResolveAccountID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		limit, err := validators.ParseQueryInt(r, "limit", pagination.DefaultLimit, 1, pagination.MaxLimit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		txType, err := validators.ParseQueryEnum(r, "type", enums.ParseCreditTransactionType)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		query := ledger.HistoryQuery{
			Params: pagination.Params{
				Limit:  limit,
				Cursor: strings.TrimSpace(r.URL.Query().Get("cursor")),
			},
			Type: txType,
		}

		page, err := svc.History(r.Context(), accountID, query)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newHistoryResponse(page))
	}
}

func Grants(svc Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "credit service unavailable"))
			return
		}

		accountID, err := accountcontext.ResolveAccountID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		activeOnly, err := validators.ParseQueryBool(r, "active_only", false)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		filter := ledger.GrantFilter{ActiveOnly: activeOnly}

		grants, err := svc.Grants(r.Context(), accountID, filter)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, newGrantsResponse(grants))
	}
}
