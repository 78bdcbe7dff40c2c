package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/peopleforge/peopleforge/internal/domain/identity"
	"github.com/peopleforge/peopleforge/internal/service"
)

type identityCtxKey struct{}
type bypassCtxKey struct{}

// Auth returns middleware that validates the bearer credential and attaches
// the verified claims record to the request context. A missing credential is
// not an error here: tenant-less and public routes must keep working, and
// the guard chain rejects where authentication is actually required. An
// invalid credential is always a 401.
//
// The superadmin bypass decision is computed once here and consulted by
// every guard, so the bypass logic cannot drift between guards.
func Auth(verifier service.TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				next.ServeHTTP(w, r)
				return
			}

			token := strings.TrimPrefix(authHeader, "Bearer ")
			if token == authHeader {
				reject(w, http.StatusUnauthorized, "invalid authorization header")
				return
			}

			id, err := verifier.VerifyToken(token)
			if err != nil {
				reject(w, http.StatusUnauthorized, err.Error())
				return
			}

			ctx := context.WithValue(r.Context(), identityCtxKey{}, id)
			ctx = context.WithValue(ctx, bypassCtxKey{}, id.Superadmin)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// IdentityFromContext returns the verified claims record, or nil when the
// request is unauthenticated.
func IdentityFromContext(ctx context.Context) *identity.Identity {
	id, _ := ctx.Value(identityCtxKey{}).(*identity.Identity)
	return id
}

// superadminBypass reports the per-request bypass decision computed by Auth.
func superadminBypass(ctx context.Context) bool {
	b, _ := ctx.Value(bypassCtxKey{}).(bool)
	return b
}

// WithIdentity injects a claims record into ctx. Exported for tests that
// exercise guards without the Auth middleware.
func WithIdentity(ctx context.Context, id *identity.Identity) context.Context {
	ctx = context.WithValue(ctx, identityCtxKey{}, id)
	return context.WithValue(ctx, bypassCtxKey{}, id != nil && id.Superadmin)
}
