package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/rpattn/agentstats/internal/domain"
)

type contextKey string

const identityKey contextKey = "identity"

// Headers set by the trusted gateway in front of this service.
const (
	HeaderUserID   = "X-User-Id"
	HeaderUserRole = "X-User-Role"
	HeaderAuthType = "X-Auth-Type"

	authTypeAPIKey = "api-key"
)

// ContextWithIdentity returns a new context that carries the calling identity.
func ContextWithIdentity(ctx context.Context, identity domain.Identity) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, identityKey, identity)
}

// IdentityFromContext retrieves the calling identity from the context, if any.
func IdentityFromContext(ctx context.Context) (domain.Identity, bool) {
	if ctx == nil {
		return domain.Identity{}, false
	}
	identity, ok := ctx.Value(identityKey).(domain.Identity)
	return identity, ok
}

// IdentityFromRequest builds an identity from the gateway headers. Missing
// headers yield an anonymous identity, which can see nothing.
func IdentityFromRequest(r *http.Request) domain.Identity {
	return domain.Identity{
		UserID:       strings.TrimSpace(r.Header.Get(HeaderUserID)),
		UserRole:     strings.ToLower(strings.TrimSpace(r.Header.Get(HeaderUserRole))),
		IsAPIKeyAuth: strings.EqualFold(strings.TrimSpace(r.Header.Get(HeaderAuthType)), authTypeAPIKey),
	}
}

// Middleware attaches the gateway identity of every request to its context.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := ContextWithIdentity(r.Context(), IdentityFromRequest(r))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireAPIKey rejects callers that did not authenticate with an API key.
// In an api-key deployment every caller qualifies.
func RequireAPIKey(method domain.AuthMethod) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, _ := IdentityFromContext(r.Context())
			if method != domain.AuthMethodAPIKey && !identity.IsAPIKeyAuth {
				http.Error(w, "api key authentication required", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
