package server

import (
	"context"
	"net/http"

	"github.com/ReilBleem13/PalMessenger/internal/domain"
	"github.com/ReilBleem13/PalMessenger/internal/utils"
)

type contextKey string

const claimsKey contextKey = "claims"

func AuthMiddleware(secret string) func(http.Handler) http.Handler {
	return func(h http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString, err := tokenFromRequest(r)
			if err != nil {
				handleError(w, err)
				return
			}

			claims, err := utils.ValidateAccessToken(tokenString, secret)
			if err != nil {
				handleError(w, err)
				return
			}

			ctx := context.WithValue(r.Context(), claimsKey, claims)
			h.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// tokenFromRequest prefers the Authorization header. Browsers cannot set
// headers on a websocket upgrade, so ?token= is accepted as well.
func tokenFromRequest(r *http.Request) (string, error) {
	if authHeader := r.Header.Get("Authorization"); authHeader != "" {
		return utils.ExtractToken(authHeader)
	}
	if token := r.URL.Query().Get("token"); token != "" {
		return token, nil
	}
	return "", domain.ErrUnauthorizedError
}

func claimsFromContext(ctx context.Context) (*utils.AccessClaims, error) {
	claims, ok := ctx.Value(claimsKey).(*utils.AccessClaims)
	if !ok {
		return nil, domain.ErrUnauthorizedError
	}
	return claims, nil
}
