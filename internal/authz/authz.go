// Package authz decides whether an identity satisfies a route policy.
package authz

import (
	"errors"
	"fmt"

	"storefront-gateway/internal/identity"
	"storefront-gateway/internal/policy"
)

var (
	// ErrUnauthenticated means the route needs a credential and none was
	// accepted (401).
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrForbidden means the caller is known but lacks the required role (403).
	ErrForbidden = errors.New("forbidden")
)

// Authorize returns nil when id may access a route protected by p. A missing
// identity is always ErrUnauthenticated; a present but insufficient one is
// ErrForbidden.
func Authorize(id *identity.Identity, p policy.Policy) error {
	switch p {
	case policy.Public:
		return nil
	case policy.Authenticated:
		if id == nil {
			return fmt.Errorf("%w: credential required", ErrUnauthenticated)
		}
		return nil
	case policy.AdminOnly:
		if id == nil {
			return fmt.Errorf("%w: credential required", ErrUnauthenticated)
		}
		if !id.HasRole(identity.RoleAdmin) {
			return fmt.Errorf("%w: role %s required", ErrForbidden, identity.RoleAdmin)
		}
		return nil
	default:
		// An unknown policy never grants access.
		return fmt.Errorf("%w: unknown policy %q", ErrForbidden, p)
	}
}
