package subscriptions

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/pixelforge-backend/api/controllers/accountcontext"
	"github.com/angelmondragon/pixelforge-backend/api/responses"
	"github.com/angelmondragon/pixelforge-backend/api/validators"
	"github.com/angelmondragon/pixelforge-backend/internal/retention"
	subsvc "github.com/angelmondragon/pixelforge-backend/internal/subscriptions"
	pkgerrors "github.com/angelmondragon/pixelforge-backend/pkg/errors"
	"github.com/angelmondragon/pixelforge-backend/pkg/logger"
)

// Service is the lifecycle surface exposed to account owners.
type Service interface {
	Get(ctx context.Context, accountID uuid.UUID) (subsvc.View, error)
	Resume(ctx context.Context, accountID uuid.UUID) (subsvc.Result, error)
}

// RetentionService gates and applies retention offers.
type RetentionService interface {
	CheckPauseEligibility(ctx context.Context, accountID uuid.UUID) (retention.PauseEligibility, error)
	ApplyPause(ctx context.Context, accountID uuid.UUID, durationDays int, idempotencyKey string) (retention.PauseResult, error)
	CheckDiscountEligibility(ctx context.Context, accountID uuid.UUID) (retention.DiscountEligibility, error)
	ApplyDiscount(ctx context.Context, req retention.DiscountRequest) (retention.DiscountResult, error)
}

type pauseRequest struct {
	DurationDays int `json:"duration_days" validate:"required,min=1"`
}

type discountRequest struct {
	PercentOff     decimal.Decimal `json:"percent_off"`
	DurationCycles int             `json:"duration_cycles" validate:"required,min=1"`
}

func Get(svc Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "subscription service unavailable"))
			return
		}

		accountID, err := accountcontext.ResolveAccountID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		view, err := svc.Get(r.Context(), accountID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, view)
	}
}

// Resume ends an active pause early.
func Resume(svc Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "subscription service unavailable"))
			return
		}

		accountID, err := accountcontext.ResolveAccountID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.Resume(r.Context(), accountID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

func PauseEligibility(svc RetentionService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "retention service unavailable"))
			return
		}

		accountID, err := accountcontext.ResolveAccountID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		eligibility, err := svc.CheckPauseEligibility(r.Context(), accountID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, eligibility)
	}
}

func Pause(svc RetentionService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "retention service unavailable"))
			return
		}

		accountID, err := accountcontext.ResolveAccountID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		key, err := accountcontext.IdempotencyKey(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload pauseRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.ApplyPause(r.Context(), accountID, payload.DurationDays, key)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

func DiscountEligibility(svc RetentionService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "retention service unavailable"))
			return
		}

		accountID, err := accountcontext.ResolveAccountID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		eligibility, err := svc.CheckDiscountEligibility(r.Context(), accountID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, eligibility)
	}
}

func ApplyDiscount(svc RetentionService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "retention service unavailable"))
			return
		}

		accountID, err := accountcontext.ResolveAccountID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		key, err := accountcontext.IdempotencyKey(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload discountRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.ApplyDiscount(r.Context(), retention.DiscountRequest{
			AccountID:      accountID,
			PercentOff:     payload.PercentOff,
			DurationCycles: payload.DurationCycles,
			IdempotencyKey: key,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}
