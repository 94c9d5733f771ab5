package auth

import (
	"github.com/angelmondragon/pixelforge-backend/pkg/enums"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// AccessTokenPayload captures the data available when minting a JWT.
type AccessTokenPayload struct {
	AccountID uuid.UUID
	Role      enums.ActorRole
	JTI       string
}

// AccessTokenClaims represents the typed JWT presented by clients. The
// account the token acts for is also carried in the standard subject.
type AccessTokenClaims struct {
	AccountID uuid.UUID       `json:"account_id"`
	Role      enums.ActorRole `json:"role"`
	jwt.RegisteredClaims
}
