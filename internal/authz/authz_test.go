package authz

import (
	"testing"

	"github.com/stretchr/testify/require"

	"storefront-gateway/internal/identity"
	"storefront-gateway/internal/policy"
)

func TestAuthorize(t *testing.T) {
	customer := &identity.Identity{Subject: "1", Roles: []string{"Customer"}}
	noRole := &identity.Identity{Subject: "2"}
	admin := &identity.Identity{Subject: "3", Roles: []string{identity.RoleAdmin}}

	tests := []struct {
		name    string
		id      *identity.Identity
		policy  policy.Policy
		wantErr error
	}{
		{name: "public anonymous", id: nil, policy: policy.Public},
		{name: "public customer", id: customer, policy: policy.Public},
		{name: "authenticated anonymous", id: nil, policy: policy.Authenticated, wantErr: ErrUnauthenticated},
		{name: "authenticated without role", id: noRole, policy: policy.Authenticated},
		{name: "authenticated customer", id: customer, policy: policy.Authenticated},
		{name: "admin anonymous", id: nil, policy: policy.AdminOnly, wantErr: ErrUnauthenticated},
		{name: "admin as customer", id: customer, policy: policy.AdminOnly, wantErr: ErrForbidden},
		{name: "admin without role", id: noRole, policy: policy.AdminOnly, wantErr: ErrForbidden},
		{name: "admin as admin", id: admin, policy: policy.AdminOnly},
		{name: "unknown policy", id: admin, policy: "root", wantErr: ErrForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Authorize(tt.id, tt.policy)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
		})
	}
}
