package webhooks

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/angelmondragon/pixelforge-backend/api/responses"
	stripewebhook "github.com/angelmondragon/pixelforge-backend/internal/webhooks/stripe"
	pkgerrors "github.com/angelmondragon/pixelforge-backend/pkg/errors"
	"github.com/angelmondragon/pixelforge-backend/pkg/logger"
	"github.com/stripe/stripe-go/v84"
)

// maxPayloadBytes caps webhook bodies. Larger ones get 413 PAYLOAD_TOO_LARGE.
const maxPayloadBytes = 512 << 10

type StripeWebhookService interface {
	HandleEvent(ctx context.Context, event *stripe.Event) (stripewebhook.HandleResult, error)
}

type stripeVerifier interface {
	ConstructEvent(payload []byte, header string) (stripe.Event, error)
}

// StripeWebhook verifies and applies Stripe billing events. Duplicates are
// answered with the outcome recorded for the first delivery.
func StripeWebhook(svc StripeWebhookService, verifier stripeVerifier, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "webhook service unavailable"))
			return
		}
		if verifier == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "stripe verifier unavailable"))
			return
		}

		payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxPayloadBytes))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeTooLarge, err, "stripe payload too large").
					WithDetails(map[string]any{"limit_bytes": tooLarge.Limit}))
				return
			}
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read request body"))
			return
		}

		sigHeader := strings.TrimSpace(r.Header.Get("Stripe-Signature"))
		if sigHeader == "" {
			rejectSignature(ctx, logg, w, pkgerrors.New(pkgerrors.CodeSignatureInvalid, "stripe signature missing"))
			return
		}

		event, err := verifier.ConstructEvent(payload, sigHeader)
		if err != nil {
			rejectSignature(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeSignatureInvalid, err, "verify stripe signature"))
			return
		}

		result, err := svc.HandleEvent(ctx, &event)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

func rejectSignature(ctx context.Context, logg *logger.Logger, w http.ResponseWriter, err error) {
	if logg != nil {
		logg.Warn(logg.WithField(ctx, "reason", err.Error()), "stripe webhook rejected")
	}
	responses.WriteError(ctx, logg, w, err)
}
