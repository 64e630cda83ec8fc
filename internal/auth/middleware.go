package auth

import (
	"context"
	"crypto/subtle"
	"fmt"
	"net/http"
	"strings"

	"ms-klippekort/internal/logger"
	"ms-klippekort/internal/utils"
)

type contextKey string

const ownerKey contextKey = "owner"

// Middleware authenticates the bearer token and stores the owner, the
// lower-cased email claim, in the request context.
func Middleware(verifier TokenVerifier, log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rawToken, err := ExtractTokenFromRequest(r)
			if err != nil {
				utils.WriteJSON(w, http.StatusUnauthorized, utils.ErrorResponse("unauthorized", err.Error()))
				return
			}

			claims, err := verifier.Verify(r.Context(), rawToken)
			if err != nil {
				log.LogSecurity("INVALID_TOKEN", fmt.Sprintf("%s %s: %v", r.Method, r.URL.Path, err))
				utils.WriteJSON(w, http.StatusUnauthorized, utils.ErrorResponse("unauthorized", "invalid token"))
				return
			}

			owner := strings.ToLower(strings.TrimSpace(claims.Email))
			if owner == "" {
				log.LogSecurity("MISSING_EMAIL", fmt.Sprintf("token for subject %s has no email claim", claims.Subject))
				utils.WriteJSON(w, http.StatusForbidden, utils.ErrorResponse("forbidden", "token has no email claim"))
				return
			}

			next.ServeHTTP(w, r.WithContext(WithOwner(r.Context(), owner)))
		})
	}
}

// AdminMiddleware guards internal routes with a shared token in X-Admin-Token.
// An empty configured token disables the routes.
func AdminMiddleware(adminToken string, log *logger.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			given := r.Header.Get("X-Admin-Token")
			if adminToken == "" || subtle.ConstantTimeCompare([]byte(given), []byte(adminToken)) != 1 {
				log.LogSecurity("ADMIN_DENIED", fmt.Sprintf("%s %s from %s", r.Method, r.URL.Path, r.RemoteAddr))
				utils.WriteJSON(w, http.StatusForbidden, utils.ErrorResponse("forbidden", "admin token required"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func WithOwner(ctx context.Context, owner string) context.Context {
	return context.WithValue(ctx, ownerKey, owner)
}

// Owner returns the authenticated owner, or "" outside authenticated routes.
func Owner(ctx context.Context) string {
	if owner, ok := ctx.Value(ownerKey).(string); ok {
		return owner
	}
	return ""
}
