package reclaim

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tcriess/lightspeed-rooms/config"
	"github.com/tcriess/lightspeed-rooms/gateway/gatewaytest"
	"github.com/tcriess/lightspeed-rooms/metrics"
	"github.com/tcriess/lightspeed-rooms/persistence"
	"github.com/tcriess/lightspeed-rooms/types"
	"go.uber.org/goleak"
)

type clock struct {
	sync.Mutex
	t time.Time
}

func (c *clock) Now() time.Time {
	c.Lock()
	defer c.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.Lock()
	defer c.Unlock()
	c.t = c.t.Add(d)
}

func newStore(t *testing.T) persistence.Persister {
	store, err := persistence.NewPersister(&config.Config{PersistenceConfig: config.PersistenceConfig{
		Type: "buntdb",
		DSN:  ":memory:",
	}})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func roomExists(t *testing.T, store persistence.RoomStore, name string) bool {
	_, err := store.GetRoom(context.Background(), name)
	if errors.Is(err, persistence.ErrNotFound) {
		return false
	}
	require.NoError(t, err)
	return true
}

func TestIdleRoomReclaimedAfterThreshold(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	gw := gatewaytest.New()
	gw.SetParticipants("r")
	_, err := store.CreateRoom(ctx, &types.Room{RoomName: "r"})
	require.NoError(t, err)

	c := &clock{t: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)}
	m := metrics.New(nil)
	s := New(store, gw, time.Minute, 5*time.Minute, WithClock(c.Now), WithMetrics(m))

	start := c.Now()
	_, err = s.Tick(ctx)
	require.NoError(t, err)
	room, err := store.GetRoom(ctx, "r")
	require.NoError(t, err)
	require.NotNil(t, room.EmptySince)
	assert.True(t, start.Equal(*room.EmptySince))

	for i := 0; i < 4; i++ {
		c.Advance(time.Minute)
		reclaimed, err := s.Tick(ctx)
		require.NoError(t, err)
		assert.Empty(t, reclaimed)
	}
	c.Advance(time.Minute - time.Second)
	_, err = s.Tick(ctx)
	require.NoError(t, err)
	assert.True(t, roomExists(t, store, "r"), "room must survive until the threshold")

	c.Advance(time.Second)
	reclaimed, err := s.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"r"}, reclaimed)
	assert.False(t, roomExists(t, store, "r"))
	assert.Equal(t, []string{"r"}, gw.Deleted)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.RoomsReclaimed))
	assert.Equal(t, float64(7), testutil.ToFloat64(m.ReclaimTicks))
}

func TestEmptinessReset(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	gw := gatewaytest.New()
	gw.SetParticipants("r")
	_, err := store.CreateRoom(ctx, &types.Room{RoomName: "r"})
	require.NoError(t, err)
	c := &clock{t: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)}
	s := New(store, gw, time.Minute, 5*time.Minute, WithClock(c.Now))

	_, err = s.Tick(ctx)
	require.NoError(t, err)
	c.Advance(4 * time.Minute)
	gw.SetParticipants("r", gatewaytest.Participant("bob", types.RoleStudent))
	_, err = s.Tick(ctx)
	require.NoError(t, err)
	room, err := store.GetRoom(ctx, "r")
	require.NoError(t, err)
	assert.Nil(t, room.EmptySince)
	require.NotNil(t, room.LastActiveAt)
	assert.True(t, c.Now().Equal(*room.LastActiveAt))

	// the grace period starts over
	gw.SetParticipants("r")
	c.Advance(time.Minute)
	_, err = s.Tick(ctx)
	require.NoError(t, err)
	c.Advance(4 * time.Minute)
	_, err = s.Tick(ctx)
	require.NoError(t, err)
	assert.True(t, roomExists(t, store, "r"))
	c.Advance(time.Minute)
	_, err = s.Tick(ctx)
	require.NoError(t, err)
	assert.False(t, roomExists(t, store, "r"))
}

func TestRoomMissingFromBackendCountsAsEmpty(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	gw := gatewaytest.New()
	_, err := store.CreateRoom(ctx, &types.Room{RoomName: "gone"})
	require.NoError(t, err)
	c := &clock{t: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)}
	s := New(store, gw, time.Minute, 5*time.Minute, WithClock(c.Now))

	_, err = s.Tick(ctx)
	require.NoError(t, err)
	c.Advance(5 * time.Minute)
	reclaimed, err := s.Tick(ctx)
	require.NoError(t, err)
	// the backend reports not_found for the delete, the record goes anyway
	assert.Equal(t, []string{"gone"}, reclaimed)
	assert.Empty(t, gw.Deleted)
}

func TestBackendDeleteFailureStillDeletesRecord(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	gw := &failingDelete{Fake: gatewaytest.New()}
	gw.SetParticipants("r")
	since := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	_, err := store.CreateRoom(ctx, &types.Room{RoomName: "r", EmptySince: &since})
	require.NoError(t, err)
	s := New(store, gw, time.Minute, 5*time.Minute, WithClock(func() time.Time { return since.Add(time.Hour) }))

	reclaimed, err := s.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"r"}, reclaimed)
	assert.False(t, roomExists(t, store, "r"))
}

type failingDelete struct {
	*gatewaytest.Fake
}

func (f *failingDelete) DeleteRoom(context.Context, string) error {
	return errors.New("backend unavailable")
}

func TestListRoomsFailureAbortsTick(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	gw := gatewaytest.New()
	since := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	_, err := store.CreateRoom(ctx, &types.Room{RoomName: "idle", EmptySince: &since})
	require.NoError(t, err)
	_, err = store.CreateRoom(ctx, &types.Room{RoomName: "fresh"})
	require.NoError(t, err)
	gw.SetErr(errors.New("backend unavailable"))
	m := metrics.New(nil)
	s := New(store, gw, time.Minute, 5*time.Minute, WithClock(func() time.Time { return since.Add(time.Hour) }), WithMetrics(m))

	_, err = s.Tick(ctx)
	assert.ErrorContains(t, err, "backend unavailable")
	assert.True(t, roomExists(t, store, "idle"))
	room, err := store.GetRoom(ctx, "fresh")
	require.NoError(t, err)
	assert.Nil(t, room.EmptySince)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.ReclaimFailed))
}

func TestStartIsIdempotent(t *testing.T) {
	if testing.Short() {
		t.Skip("runs the real interval")
	}
	store := newStore(t)
	gw := gatewaytest.New()
	ignore := goleak.IgnoreCurrent()

	s := New(store, gw, time.Second, 5*time.Minute)
	s.Start()
	s.Start()
	assert.True(t, s.Running())
	time.Sleep(3500 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
	assert.False(t, s.Running())
	calls := gw.Calls()
	assert.GreaterOrEqual(t, calls, 2)
	assert.LessOrEqual(t, calls, 4)

	// no further ticks after Stop
	time.Sleep(1500 * time.Millisecond)
	assert.Equal(t, calls, gw.Calls())
	goleak.VerifyNone(t, ignore)
}

func TestStopWithoutStart(t *testing.T) {
	s := New(newStore(t), gatewaytest.New(), time.Minute, 5*time.Minute)
	assert.NoError(t, s.Stop(context.Background()))
}
