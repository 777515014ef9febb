package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/verity-labs/docvox/internal/api"
)

// AuthValidator resolves a bearer token to the website it administers.
type AuthValidator interface {
	ValidateAPIKey(ctx context.Context, token string) (string, error)
}

// APIKeyAuth guards admin routes with a website-scoped API key. On success
// the authenticated website ID is placed in context and the shared header,
// so the access log and Sentry middleware tag the tenant.
func APIKeyAuth(validator AuthValidator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				api.Error(w, http.StatusUnauthorized, "missing authorization header")
				return
			}

			if !strings.HasPrefix(authHeader, "Bearer ") {
				api.Error(w, http.StatusUnauthorized, "invalid authorization format")
				return
			}

			token := strings.TrimPrefix(authHeader, "Bearer ")

			websiteID, err := validator.ValidateAPIKey(r.Context(), token)
			if err != nil {
				api.Error(w, http.StatusUnauthorized, "invalid api key")
				return
			}

			r.Header.Set("X-Website-ID", websiteID)
			next.ServeHTTP(w, r.WithContext(WithWebsiteID(r.Context(), websiteID)))
		})
	}
}
