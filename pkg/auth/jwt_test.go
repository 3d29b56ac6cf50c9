package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/askdb-io/askdb-engine/pkg/apperrors"
)

func signToken(t *testing.T, secret, userID string, expiry time.Duration) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(expiry)),
		},
	})
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func TestValidateAcceptsSignedToken(t *testing.T) {
	v := NewValidator("test-secret")

	claims, err := v.Validate(signToken(t, "test-secret", "alice", time.Hour))
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.UserID)
}

func TestValidateToleratesBearerPrefix(t *testing.T) {
	v := NewValidator("test-secret")

	claims, err := v.Validate("Bearer " + signToken(t, "test-secret", "alice", time.Hour))
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.UserID)
}

func TestValidateRejectsWrongSecret(t *testing.T) {
	v := NewValidator("test-secret")

	_, err := v.Validate(signToken(t, "other-secret", "alice", time.Hour))
	assert.ErrorIs(t, err, apperrors.ErrUnauthorized)
}

func TestValidateRejectsExpiredToken(t *testing.T) {
	v := NewValidator("test-secret")

	_, err := v.Validate(signToken(t, "test-secret", "alice", -time.Hour))
	assert.ErrorIs(t, err, apperrors.ErrUnauthorized)
}

func TestValidateRejectsMissingToken(t *testing.T) {
	v := NewValidator("test-secret")

	_, err := v.Validate("")
	assert.ErrorIs(t, err, apperrors.ErrUnauthorized)

	_, err = v.Validate("Bearer ")
	assert.ErrorIs(t, err, apperrors.ErrUnauthorized)
}

func TestValidateRejectsEmptySubject(t *testing.T) {
	v := NewValidator("test-secret")

	_, err := v.Validate(signToken(t, "test-secret", "", time.Hour))
	assert.ErrorIs(t, err, apperrors.ErrUnauthorized)
}

func TestValidateRejectsEverythingWithoutSecret(t *testing.T) {
	v := NewValidator("")
	assert.False(t, v.Configured())

	// A token signed with the empty key must not verify against an
	// unconfigured validator.
	_, err := v.Validate(signToken(t, "", "alice", time.Hour))
	assert.ErrorIs(t, err, apperrors.ErrUnauthorized)

	_, err = v.Validate(signToken(t, "test-secret", "alice", time.Hour))
	assert.ErrorIs(t, err, apperrors.ErrUnauthorized)
}

func TestValidateRejectsUnsignedToken(t *testing.T) {
	v := NewValidator("test-secret")

	token := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{UserID: "alice"})
	unsigned, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = v.Validate(unsigned)
	assert.ErrorIs(t, err, apperrors.ErrUnauthorized)
}
