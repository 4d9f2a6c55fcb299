package utils

import (
	"testing"
	"time"

	"github.com/ReilBleem13/PalMessenger/internal/domain"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const secret = "test-secret"

func sign(t *testing.T, method jwt.SigningMethod, key any, claims AccessClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(method, claims).SignedString(key)
	require.NoError(t, err)
	return token
}

func validClaims(expiresIn time.Duration) AccessClaims {
	return AccessClaims{
		UserID:   7,
		Username: "alice",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(expiresIn)),
		},
	}
}

func TestValidateAccessToken(t *testing.T) {
	token := sign(t, jwt.SigningMethodHS256, []byte(secret), validClaims(time.Hour))

	claims, err := ValidateAccessToken(token, secret)
	require.NoError(t, err)
	assert.Equal(t, int64(7), claims.UserID)
	assert.Equal(t, "alice", claims.Username)
}

func TestValidateAccessToken_Rejects(t *testing.T) {
	tests := []struct {
		name  string
		token string
	}{
		{"expired", sign(t, jwt.SigningMethodHS256, []byte(secret), validClaims(-time.Minute))},
		{"wrong secret", sign(t, jwt.SigningMethodHS256, []byte("other"), validClaims(time.Hour))},
		{"unsigned", sign(t, jwt.SigningMethodNone, jwt.UnsafeAllowNoneSignatureType, validClaims(time.Hour))},
		{"no username", sign(t, jwt.SigningMethodHS256, []byte(secret), AccessClaims{UserID: 7})},
		{"garbage", "not.a.token"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ValidateAccessToken(tt.token, secret)
			assert.ErrorIs(t, err, domain.ErrInvalidToken)
		})
	}
}

func TestExtractToken(t *testing.T) {
	token, err := ExtractToken("Bearer abc")
	require.NoError(t, err)
	assert.Equal(t, "abc", token)

	for _, header := range []string{"", "abc", "Bearer ", "Basic abc"} {
		_, err := ExtractToken(header)
		assert.ErrorIs(t, err, domain.ErrInvalidToken, header)
	}
}
