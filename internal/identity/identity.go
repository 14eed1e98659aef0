// Package identity carries the authenticated caller through a single request.
package identity

import (
	"context"
	"net/http"
)

// RoleAdmin is the role required by admin-only routes.
const RoleAdmin = "Admin"

// DefaultHeader is the header downstream services read the caller's user id from.
const DefaultHeader = "X-User-Id"

// Identity is the decoded result of a valid credential. It is owned by the
// request that produced it and never shared across requests.
type Identity struct {
	Subject string
	Roles   []string
	Email   string
}

// HasRole reports whether the identity carries role. A nil identity has no roles.
func (id *Identity) HasRole(role string) bool {
	if id == nil {
		return false
	}
	for _, r := range id.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// Role returns the primary role, or "" when the token carried none.
func (id *Identity) Role() string {
	if id == nil || len(id.Roles) == 0 {
		return ""
	}
	return id.Roles[0]
}

type contextKey struct{}

// NewContext returns a copy of ctx carrying id.
func NewContext(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, contextKey{}, id)
}

// FromContext returns the identity stored in ctx, if any.
func FromContext(ctx context.Context) (*Identity, bool) {
	id, ok := ctx.Value(contextKey{}).(*Identity)
	return id, ok && id != nil
}

// Inject sets the identity header on h. Any value supplied by the caller is
// removed first so that an anonymous request cannot spoof a user id.
func Inject(h http.Header, name string, id *Identity) {
	if name == "" {
		name = DefaultHeader
	}
	h.Del(name)
	if id == nil || id.Subject == "" {
		return
	}
	h.Set(name, id.Subject)
}
