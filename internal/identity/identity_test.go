package identity_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"statesync/internal/identity"
)

func TestHeader(t *testing.T) {
	tests := []struct {
		name    string
		header  string
		set     map[string]string
		want    string
		wantErr error
	}{
		{name: "default header", set: map[string]string{"X-User-ID": "alice"}, want: "alice"},
		{name: "custom header", header: "X-Owner", set: map[string]string{"X-Owner": "bob"}, want: "bob"},
		{name: "trimmed", set: map[string]string{"X-User-ID": "  carol "}, want: "carol"},
		{name: "missing", wantErr: identity.ErrMissingIdentity},
		{name: "blank", set: map[string]string{"X-User-ID": "   "}, wantErr: identity.ErrMissingIdentity},
		{name: "wrong header", header: "X-Owner", set: map[string]string{"X-User-ID": "alice"}, wantErr: identity.ErrMissingIdentity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			for k, v := range tt.set {
				r.Header.Set(k, v)
			}
			got, err := identity.NewHeader(tt.header).UserID(r)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestHeaderName(t *testing.T) {
	assert.Equal(t, identity.DefaultHeader, identity.NewHeader("").Name())
	assert.Equal(t, "X-Owner", identity.NewHeader("X-Owner").Name())
}

func TestStatic(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)

	got, err := identity.Static("alice").UserID(r)
	require.NoError(t, err)
	assert.Equal(t, "alice", got)

	_, err = identity.Static("").UserID(r)
	assert.ErrorIs(t, err, identity.ErrMissingIdentity)
}

func TestContext(t *testing.T) {
	_, ok := identity.FromContext(context.Background())
	assert.False(t, ok)

	ctx := identity.WithUserID(context.Background(), "alice")
	got, ok := identity.FromContext(ctx)
	assert.True(t, ok)
	assert.Equal(t, "alice", got)
}
