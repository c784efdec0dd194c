// internal/identity/identity.go
package identity

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

// Headers set by the upstream gateway after authentication.
const (
	HeaderUserID   = "X-User-ID"
	HeaderUserRole = "X-User-Role"
)

// Role of the acting user.
type Role string

const (
	RoleCustomer Role = "customer"
	RoleStaff    Role = "staff"
	RoleAdmin    Role = "admin"
)

var ErrMissingIdentity = errors.New("missing or malformed acting identity")

// Actor is the authenticated caller of an operation.
type Actor struct {
	ID   uuid.UUID `json:"id"`
	Role Role      `json:"role"`
}

// IsPrivileged reports whether the actor may run back-office operations.
func (a Actor) IsPrivileged() bool {
	return a.Role == RoleAdmin || a.Role == RoleStaff
}

// CanActFor reports whether the actor may act on a resource owned by owner.
func (a Actor) CanActFor(owner uuid.UUID) bool {
	return a.IsPrivileged() || a.ID == owner
}

// System is the actor used by internal jobs.
var System = Actor{ID: uuid.Nil, Role: RoleAdmin}

// FromRequest reads the actor from gateway headers. An unknown role is
// treated as a customer.
func FromRequest(r *http.Request) (Actor, error) {
	id, err := uuid.Parse(strings.TrimSpace(r.Header.Get(HeaderUserID)))
	if err != nil || id == uuid.Nil {
		return Actor{}, ErrMissingIdentity
	}
	role := Role(strings.ToLower(strings.TrimSpace(r.Header.Get(HeaderUserRole))))
	switch role {
	case RoleAdmin, RoleStaff:
	default:
		role = RoleCustomer
	}
	return Actor{ID: id, Role: role}, nil
}

type ctxKey struct{}

// WithActor stores the actor in ctx.
func WithActor(ctx context.Context, a Actor) context.Context {
	return context.WithValue(ctx, ctxKey{}, a)
}

// FromContext returns the actor stored by Middleware.
func FromContext(ctx context.Context) (Actor, bool) {
	a, ok := ctx.Value(ctxKey{}).(Actor)
	return a, ok
}

// Middleware rejects requests without an acting identity and stores it in
// the request context.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		actor, err := FromRequest(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(WithActor(r.Context(), actor)))
	})
}
