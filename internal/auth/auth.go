// Package auth consumes the identity the auth collaborator attaches to
// each request. Token validation happens at the gateway; this service
// trusts the forwarded {userId, role} pair as-is.
package auth

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/predyx/market-engine/internal/model"
)

// Identity is the authenticated caller.
type Identity struct {
	UserID string
	Role   string
}

// IsAdmin reports whether the caller has the admin role.
func (id Identity) IsAdmin() bool {
	return id.Role == model.RoleAdmin
}

type ctxKey struct{}

// Headers set by the gateway after token validation.
const (
	HeaderUserID = "X-User-Id"
	HeaderRole   = "X-User-Role"
)

// FromContext returns the request identity, if any.
func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(ctxKey{}).(Identity)
	return id, ok
}

// WithIdentity returns a context carrying the given identity. Used by
// tests and by the middleware.
func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// Middleware extracts the forwarded identity into the request context.
// Requests without identity headers pass through anonymous; the Require*
// guards reject them where identity is mandatory.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID := r.Header.Get(HeaderUserID)
		if userID != "" {
			role := r.Header.Get(HeaderRole)
			if role == "" {
				role = model.RoleUser
			}
			r = r.WithContext(WithIdentity(r.Context(), Identity{UserID: userID, Role: role}))
		}
		next.ServeHTTP(w, r)
	})
}

// RequireUser rejects requests without an authenticated identity.
func RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := FromContext(r.Context()); !ok {
			writeError(w, "authentication required", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// RequireAdmin rejects requests whose identity is not an admin.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := FromContext(r.Context())
		if !ok {
			writeError(w, "authentication required", http.StatusUnauthorized)
			return
		}
		if !id.IsAdmin() {
			writeError(w, "admin access required", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
