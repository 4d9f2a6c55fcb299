package utils

import (
	"fmt"
	"strings"

	"github.com/ReilBleem13/PalMessenger/internal/domain"
	"github.com/golang-jwt/jwt/v5"
)

const bearerPrefix = "Bearer "

// AccessClaims is issued by the account service. The messaging core only
// validates it.
type AccessClaims struct {
	UserID   int64  `json:"user_id"`
	Username string `json:"username"`
	jwt.RegisteredClaims
}

func ValidateAccessToken(tokenString, secret string) (*AccessClaims, error) {
	claims := &AccessClaims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("%w, unexpected signing method", domain.ErrInvalidToken)
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, domain.ErrInvalidToken.Wrap(err)
	}

	if !token.Valid || claims.UserID <= 0 || claims.Username == "" {
		return nil, domain.ErrInvalidToken
	}
	return claims, nil
}

func ExtractToken(authHeader string) (string, error) {
	if authHeader == "" {
		return "", fmt.Errorf("%w, header is empty", domain.ErrInvalidToken)
	}

	token, ok := strings.CutPrefix(authHeader, bearerPrefix)
	if !ok || token == "" {
		return "", fmt.Errorf("%w, invalid format, forgot 'Bearer '?", domain.ErrInvalidToken)
	}
	return token, nil
}
