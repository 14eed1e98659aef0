package identity

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInject(t *testing.T) {
	tests := []struct {
		name     string
		incoming string
		id       *Identity
		want     string
	}{
		{name: "sets subject", id: &Identity{Subject: "42"}, want: "42"},
		{name: "anonymous omits header", id: nil, want: ""},
		{name: "spoofed header removed for anonymous", incoming: "1", id: nil, want: ""},
		{name: "spoofed header replaced", incoming: "1", id: &Identity{Subject: "42"}, want: "42"},
		{name: "empty subject omits header", id: &Identity{}, want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := http.Header{}
			if tt.incoming != "" {
				h.Set(DefaultHeader, tt.incoming)
			}
			Inject(h, "", tt.id)
			assert.Equal(t, tt.want, h.Get(DefaultHeader))
			if tt.want == "" {
				assert.NotContains(t, h, http.CanonicalHeaderKey(DefaultHeader))
			}
		})
	}
}

func TestInject_CustomHeader(t *testing.T) {
	h := http.Header{}
	Inject(h, "X-Customer", &Identity{Subject: "7"})
	assert.Equal(t, "7", h.Get("X-Customer"))
	assert.Empty(t, h.Get(DefaultHeader))
}

func TestHasRole(t *testing.T) {
	var nilID *Identity
	assert.False(t, nilID.HasRole(RoleAdmin))
	assert.Equal(t, "", nilID.Role())

	id := &Identity{Subject: "1", Roles: []string{"Customer", RoleAdmin}}
	assert.True(t, id.HasRole(RoleAdmin))
	assert.False(t, id.HasRole("admin"))
	assert.Equal(t, "Customer", id.Role())
}

func TestContext(t *testing.T) {
	_, ok := FromContext(context.Background())
	require.False(t, ok)

	ctx := NewContext(context.Background(), nil)
	_, ok = FromContext(ctx)
	require.False(t, ok)

	want := &Identity{Subject: "9"}
	got, ok := FromContext(NewContext(context.Background(), want))
	require.True(t, ok)
	require.Same(t, want, got)
}
