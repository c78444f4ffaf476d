package admin

import (
	"context"
	"net/http"
	"strings"

	"github.com/cartwheel-labs/edge-gateway/internal/apierr"
)

type contextKey string

const apiKeyContextKey contextKey = "api_key"

// API key permission scopes.
const (
	ScopeAdmin    = "admin"
	ScopeReadOnly = "read_only"
)

// APIKeyFromContext retrieves the authenticated API key from the request
// context.
func APIKeyFromContext(ctx context.Context) (*APIKey, bool) {
	key, ok := ctx.Value(apiKeyContextKey).(*APIKey)
	return key, ok
}

// AuthMiddleware returns a chi-compatible middleware that validates control
// API keys and stores the authenticated key in the request context. Errors
// use the same envelope as the proxy surface.
func AuthMiddleware(store Store) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")
			key, ok := strings.CutPrefix(auth, "Bearer ")
			if !ok || key == "" {
				apierr.Write(w, apierr.CredentialRequired())
				return
			}

			apiKey, valid := store.ValidateKey(strings.TrimSpace(key))
			if !valid {
				apierr.Write(w, apierr.CredentialInvalid())
				return
			}

			ctx := context.WithValue(r.Context(), apiKeyContextKey, apiKey)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireScope returns a middleware that checks whether the authenticated
// key carries at least one of the given scopes.
func RequireScope(scopes ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			apiKey, ok := APIKeyFromContext(r.Context())
			if !ok {
				apierr.Write(w, apierr.CredentialRequired())
				return
			}

			for _, required := range scopes {
				for _, s := range apiKey.Scopes {
					if s == required {
						next.ServeHTTP(w, r)
						return
					}
				}
			}

			apierr.Write(w, apierr.InsufficientPrivilege())
		})
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	apierr.Write(w, apierr.New(status, code, message))
}
