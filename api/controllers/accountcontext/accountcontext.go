package accountcontext

import (
	"net/http"

	"github.com/angelmondragon/pixelforge-backend/api/middleware"
	pkgerrors "github.com/angelmondragon/pixelforge-backend/pkg/errors"
	"github.com/google/uuid"
)

// ResolveAccountID extracts the authenticated account from the request.
func ResolveAccountID(r *http.Request) (uuid.UUID, error) {
	raw := middleware.AccountIDFromContext(r.Context())
	if raw == "" {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "account context required")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeUnauthorized, err, "invalid account id")
	}
	return id, nil
}

// IdempotencyKey returns the trimmed Idempotency-Key header or a validation error.
func IdempotencyKey(r *http.Request) (string, error) {
	key := middleware.IdempotencyKeyFromRequest(r)
	if key == "" {
		return "", pkgerrors.New(pkgerrors.CodeValidation, "Idempotency-Key header required")
	}
	return key, nil
}
