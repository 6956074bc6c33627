package rooms

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tcriess/lightspeed-rooms/auth"
	"github.com/tcriess/lightspeed-rooms/config"
	"github.com/tcriess/lightspeed-rooms/metrics"
	"github.com/tcriess/lightspeed-rooms/persistence"
	"github.com/tcriess/lightspeed-rooms/types"
)

func newCoordinator(t *testing.T) (*Coordinator, *auth.TokenIssuer, persistence.Persister) {
	store, err := persistence.NewPersister(&config.Config{PersistenceConfig: config.PersistenceConfig{Type: "buntdb", DSN: ":memory:"}})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	issuer, err := auth.NewTokenIssuer("devkey", "secret", time.Hour)
	require.NoError(t, err)
	return NewCoordinator(store, issuer, "wss://media.example.com", metrics.New(nil)), issuer, store
}

func TestJoinCreatesRoomAndHost(t *testing.T) {
	c, issuer, store := newCoordinator(t)
	ctx := context.Background()

	res, err := c.Join(ctx, JoinRequest{RoomName: "math-101", Identity: "alice", DisplayName: "Alice", Role: types.RoleTeacher, IsHost: true})
	require.NoError(t, err)
	assert.Equal(t, "wss://media.example.com", res.URL)

	claims, err := issuer.Parse(res.Token)
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.Subject)
	assert.Equal(t, "Alice", claims.Name)
	assert.True(t, claims.Video.RoomAdmin)
	assert.Equal(t, "teacher", claims.Attributes["role"])

	room, err := store.GetRoom(ctx, "math-101")
	require.NoError(t, err)
	assert.Equal(t, "alice", room.CreatedBy.Identity)
	assert.True(t, room.IsHost("alice"))

	// a second teacher does not take an occupied chair
	_, err = c.Join(ctx, JoinRequest{RoomName: "math-101", Identity: "bert", Role: types.RoleTeacher, IsHost: true})
	require.NoError(t, err)
	room, err = store.GetRoom(ctx, "math-101")
	require.NoError(t, err)
	assert.True(t, room.IsHost("alice"))
	assert.Equal(t, "alice", room.CreatedBy.Identity)
}

func TestStudentJoinsWithoutChair(t *testing.T) {
	c, issuer, store := newCoordinator(t)
	ctx := context.Background()

	res, err := c.Join(ctx, JoinRequest{RoomName: "math-101", Identity: "sam", Role: types.RoleStudent, IsHost: true})
	require.NoError(t, err)
	claims, err := issuer.Parse(res.Token)
	require.NoError(t, err)
	assert.False(t, claims.Video.RoomAdmin)
	assert.False(t, claims.Video.RoomCreate)
	assert.True(t, strings.HasSuffix(claims.Name, "(guest)"))

	room, err := store.GetRoom(ctx, "math-101")
	require.NoError(t, err)
	assert.Nil(t, room.CurrentHostID)

	// the vacant chair goes to the next admin
	_, err = c.Join(ctx, JoinRequest{RoomName: "math-101", Identity: "root", Role: types.RoleAdmin})
	require.NoError(t, err)
	room, err = store.GetRoom(ctx, "math-101")
	require.NoError(t, err)
	assert.True(t, room.IsHost("root"))
}

func TestJoinValidation(t *testing.T) {
	c, _, _ := newCoordinator(t)
	ctx := context.Background()
	for _, name := range []string{"", "../etc", "with space", "-leading", strings.Repeat("x", 200)} {
		_, err := c.Join(ctx, JoinRequest{RoomName: name, Identity: "alice"})
		assert.ErrorIs(t, err, ErrInvalidRoomName, name)
	}
	_, err := c.Join(ctx, JoinRequest{RoomName: "ok.room_1", Identity: ""})
	assert.ErrorIs(t, err, ErrMissingIdentity)
}
