// Package auth validates bearer tokens for the WebSocket handshake.
package auth

import (
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/askdb-io/askdb-engine/pkg/apperrors"
)

// Claims carries the verified user identity. The subject claim is the
// user id.
type Claims struct {
	UserID string `json:"sub"`
	jwt.RegisteredClaims
}

// Validator verifies HS256 bearer tokens.
type Validator struct {
	secret []byte
}

// NewValidator creates a validator for the given shared secret. An empty
// secret means no verification key exists; such a validator rejects every
// token rather than accepting tokens signed with the empty key.
func NewValidator(secret string) *Validator {
	return &Validator{secret: []byte(secret)}
}

// Configured reports whether a verification secret is present.
func (v *Validator) Configured() bool {
	return len(v.secret) > 0
}

// Validate parses and verifies a bearer token, returning its claims. The
// "Bearer " prefix is tolerated. All failures map to Unauthorized.
func (v *Validator) Validate(tokenString string) (*Claims, error) {
	if !v.Configured() {
		return nil, fmt.Errorf("%w: token verification is not configured", apperrors.ErrUnauthorized)
	}
	tokenString = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(tokenString), "Bearer "))
	if tokenString == "" {
		return nil, fmt.Errorf("%w: missing bearer token", apperrors.ErrUnauthorized)
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method %v", token.Method.Alg())
		}
		return v.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrUnauthorized, err)
	}
	if !token.Valid || claims.UserID == "" {
		return nil, fmt.Errorf("%w: invalid claims", apperrors.ErrUnauthorized)
	}
	return claims, nil
}
