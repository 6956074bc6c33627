package auth

import (
	"context"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tcriess/lightspeed-rooms/types"
)

func TestHeaderAuthenticator(t *testing.T) {
	a, err := NewAuthenticator(context.Background(), nil)
	require.NoError(t, err)

	r := httptest.NewRequest("GET", "/admin/rooms", nil)
	_, err = a.Authenticate(r)
	assert.ErrorIs(t, err, ErrUnauthenticated)

	r.Header.Set(HeaderUserID, "alice")
	r.Header.Set(HeaderUserName, "Alice")
	r.Header.Set(HeaderUserRole, "Teacher")
	caller, err := a.Authenticate(r)
	require.NoError(t, err)
	assert.Equal(t, &types.Caller{Id: "alice", Name: "Alice", Role: types.RoleTeacher}, caller)
}

func TestOIDCAuthenticatorRejectsMissingBearer(t *testing.T) {
	a := &OIDCAuthenticator{}
	_, err := a.Authenticate(httptest.NewRequest("GET", "/", nil))
	assert.ErrorIs(t, err, ErrUnauthenticated)
}
