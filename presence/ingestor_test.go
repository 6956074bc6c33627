package presence

import (
	"context"
	"errors"
	"path/filepath"
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
)

var testNow = time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

func newTestIngestor(t *testing.T, dedupeSize int) (*Ingestor, persistence.Persister, *gatewaytest.Fake, *metrics.Metrics) {
	cfg := &config.Config{PersistenceConfig: config.PersistenceConfig{
		Type: "sqlite",
		DSN:  filepath.Join(t.TempDir(), "rooms.db"),
	}}
	store, err := persistence.NewPersister(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	gw := gatewaytest.New()
	m := metrics.New(nil)
	i, err := NewIngestor(store, gw, dedupeSize, m)
	require.NoError(t, err)
	i.now = func() time.Time { return testNow }
	return i, store, gw, m
}

func joined(id, room, identity string, role types.Role) *types.WebhookEvent {
	return &types.WebhookEvent{
		ID:    id,
		Event: types.EventParticipantJoined,
		Room:  &types.WebhookRoom{Name: room},
		Participant: &types.WebhookParticipant{
			Identity:   identity,
			Name:       identity,
			Attributes: map[string]string{"role": string(role)},
		},
	}
}

func left(id, room, identity string) *types.WebhookEvent {
	return &types.WebhookEvent{
		ID:          id,
		Event:       types.EventParticipantLeft,
		Room:        &types.WebhookRoom{Name: room},
		Participant: &types.WebhookParticipant{Identity: identity},
	}
}

func openSpans(t *testing.T, store persistence.Persister, room string) []*types.SessionParticipant {
	session, err := store.LatestOpenSession(context.Background(), room)
	require.NoError(t, err)
	ps, err := store.GetParticipants(context.Background(), session.ID)
	require.NoError(t, err)
	open := make([]*types.SessionParticipant, 0)
	for _, p := range ps {
		if p.LeftAt == nil {
			open = append(open, p)
		}
	}
	return open
}

func TestRoomStartedAndFinished(t *testing.T) {
	i, store, _, _ := newTestIngestor(t, 0)
	ctx := context.Background()

	res := i.Handle(ctx, &types.WebhookEvent{
		ID:    "e1",
		Event: types.EventRoomStarted,
		Room:  &types.WebhookRoom{Name: "r", CreationTime: types.UnixTime(testNow.Add(-time.Minute).Unix()), Metadata: `{"course":"math"}`},
	})
	assert.Equal(t, Processed, res.Outcome)
	session, err := store.LatestOpenSession(ctx, "r")
	require.NoError(t, err)
	assert.True(t, testNow.Add(-time.Minute).Equal(session.StartedAt))
	assert.JSONEq(t, `{"course":"math"}`, string(session.Metadata))

	res = i.Handle(ctx, &types.WebhookEvent{ID: "e2", Event: types.EventRoomFinished, Room: &types.WebhookRoom{Name: "r"}})
	assert.Equal(t, Processed, res.Outcome)
	_, err = store.LatestOpenSession(ctx, "r")
	assert.ErrorIs(t, err, persistence.ErrNotFound)

	// a second finish finds nothing open
	res = i.Handle(ctx, &types.WebhookEvent{ID: "e3", Event: types.EventRoomFinished, Room: &types.WebhookRoom{Name: "r"}})
	assert.Equal(t, NoOp, res.Outcome)
	assert.NoError(t, res.Err)
}

func TestRoomStartedWithoutCreationTime(t *testing.T) {
	i, store, _, _ := newTestIngestor(t, 0)
	res := i.Handle(context.Background(), &types.WebhookEvent{
		Event: types.EventRoomStarted,
		Room:  &types.WebhookRoom{Name: "r", Metadata: "plain text"},
	})
	assert.Equal(t, Processed, res.Outcome)
	session, err := store.LatestOpenSession(context.Background(), "r")
	require.NoError(t, err)
	assert.True(t, testNow.Equal(session.StartedAt))
	assert.JSONEq(t, `"plain text"`, string(session.Metadata))
}

func TestJoinBeforeRoomStarted(t *testing.T) {
	i, store, _, _ := newTestIngestor(t, 0)
	ctx := context.Background()

	assert.Equal(t, Processed, i.Handle(ctx, joined("j1", "r", "bob", types.RoleStudent)).Outcome)
	res := i.Handle(ctx, &types.WebhookEvent{
		ID:    "s1",
		Event: types.EventRoomStarted,
		Room:  &types.WebhookRoom{Name: "r", CreationTime: types.UnixTime(testNow.Add(-time.Minute).Unix())},
	})
	assert.Equal(t, NoOp, res.Outcome)
	sessions, err := store.GetSessions(ctx, "r")
	require.NoError(t, err)
	require.Len(t, sessions, 1)

	assert.Equal(t, Processed, i.Handle(ctx, &types.WebhookEvent{ID: "f1", Event: types.EventRoomFinished, Room: &types.WebhookRoom{Name: "r"}}).Outcome)
	_, err = store.LatestOpenSession(ctx, "r")
	assert.ErrorIs(t, err, persistence.ErrNotFound)
}

func TestDuplicateJoinIsNoOp(t *testing.T) {
	i, store, _, _ := newTestIngestor(t, 0)
	ctx := context.Background()

	res := i.Handle(ctx, joined("j1", "r", "bob", types.RoleStudent))
	assert.Equal(t, Processed, res.Outcome)
	res = i.Handle(ctx, joined("j2", "r", "bob", types.RoleStudent))
	assert.Equal(t, NoOp, res.Outcome)

	open := openSpans(t, store, "r")
	require.Len(t, open, 1)
	assert.Equal(t, "bob", open[0].Identity)
	assert.Equal(t, types.RoleStudent, open[0].Role)
}

func TestRedeliveryIsDeduplicated(t *testing.T) {
	i, store, _, m := newTestIngestor(t, 16)
	ctx := context.Background()

	ev := joined("j1", "r", "bob", types.RoleStudent)
	assert.Equal(t, Processed, i.Handle(ctx, ev).Outcome)
	assert.Equal(t, Processed, i.Handle(ctx, left("l1", "r", "bob")).Outcome)
	// the same delivery again must not reopen the span
	assert.Equal(t, NoOp, i.Handle(ctx, ev).Outcome)
	assert.Empty(t, openSpans(t, store, "r"))

	// id-less events with a creation time are keyed by content
	anon := joined("", "r", "carol", types.RoleStudent)
	anon.CreatedAt = types.UnixTime(testNow.Unix())
	assert.Equal(t, Processed, i.Handle(ctx, anon).Outcome)
	assert.Equal(t, Processed, i.Handle(ctx, left("", "r", "carol")).Outcome)
	again := joined("", "r", "carol", types.RoleStudent)
	again.CreatedAt = anon.CreatedAt
	assert.Equal(t, NoOp, i.Handle(ctx, again).Outcome)
	assert.Empty(t, openSpans(t, store, "r"))

	assert.Equal(t, float64(2), testutil.ToFloat64(m.PresenceEvents.WithLabelValues(types.EventParticipantJoined, "processed")))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.PresenceEvents.WithLabelValues(types.EventParticipantJoined, "noop")))
}

func TestRepeatedEventsWithoutIdAreApplied(t *testing.T) {
	i, store, gw, _ := newTestIngestor(t, 4096)
	ctx := context.Background()
	host := "alice"
	_, err := store.CreateRoom(ctx, &types.Room{
		RoomName:      "r",
		CreatedBy:     types.Identity{Identity: "alice", Role: types.RoleTeacher},
		CurrentHostID: &host,
	})
	require.NoError(t, err)
	gw.SetParticipants("r", gatewaytest.Participant("bob", types.RoleStudent))

	assert.Equal(t, Processed, i.Handle(ctx, joined("", "r", "alice", types.RoleTeacher)).Outcome)
	assert.Equal(t, Processed, i.Handle(ctx, left("", "r", "alice")).Outcome)
	room, err := store.GetRoom(ctx, "r")
	require.NoError(t, err)
	assert.True(t, room.IsHost("bob"))

	// alice rejoins and takes the chair back, then leaves again
	assert.Equal(t, Processed, i.Handle(ctx, joined("", "r", "alice", types.RoleTeacher)).Outcome)
	require.Len(t, openSpans(t, store, "r"), 1)
	require.NoError(t, store.SetHost(ctx, "r", &host))

	assert.Equal(t, Processed, i.Handle(ctx, left("", "r", "alice")).Outcome)
	assert.Empty(t, openSpans(t, store, "r"))
	room, err = store.GetRoom(ctx, "r")
	require.NoError(t, err)
	require.NotNil(t, room.CurrentHostID)
	assert.Equal(t, "bob", *room.CurrentHostID)
}

func TestLeftBeforeJoined(t *testing.T) {
	i, store, _, _ := newTestIngestor(t, 0)
	ctx := context.Background()

	res := i.Handle(ctx, left("l1", "r", "bob"))
	assert.Equal(t, NoOp, res.Outcome)
	assert.NoError(t, res.Err)

	res = i.Handle(ctx, joined("j1", "r", "bob", types.RoleStudent))
	assert.Equal(t, Processed, res.Outcome)
	open := openSpans(t, store, "r")
	require.Len(t, open, 1)

	// left for an identity without an open span in an open session
	res = i.Handle(ctx, left("l2", "r", "carol"))
	assert.Equal(t, NoOp, res.Outcome)
	assert.Len(t, openSpans(t, store, "r"), 1)
}

func TestHostLeavesElectsSuccessor(t *testing.T) {
	i, store, gw, _ := newTestIngestor(t, 0)
	ctx := context.Background()
	host := "alice"
	_, err := store.CreateRoom(ctx, &types.Room{
		RoomName:      "r",
		CreatedBy:     types.Identity{Identity: "alice", Role: types.RoleTeacher},
		CurrentHostID: &host,
	})
	require.NoError(t, err)
	for _, identity := range []string{"alice", "zeta", "beta"} {
		i.Handle(ctx, joined("j-"+identity, "r", identity, types.RoleStudent))
	}
	// the backend may still report the leaver
	gw.SetParticipants("r",
		gatewaytest.Participant("alice", types.RoleTeacher),
		gatewaytest.Participant("zeta", types.RoleStudent),
		gatewaytest.Participant("beta", types.RoleTeacher),
	)

	res := i.Handle(ctx, left("l1", "r", "alice"))
	assert.Equal(t, Processed, res.Outcome)
	room, err := store.GetRoom(ctx, "r")
	require.NoError(t, err)
	require.NotNil(t, room.CurrentHostID)
	assert.Equal(t, "beta", *room.CurrentHostID)

	// non-hosts leaving do not touch the chair
	gw.SetParticipants("r", gatewaytest.Participant("beta", types.RoleTeacher))
	res = i.Handle(ctx, left("l2", "r", "zeta"))
	assert.Equal(t, Processed, res.Outcome)
	room, err = store.GetRoom(ctx, "r")
	require.NoError(t, err)
	assert.True(t, room.IsHost("beta"))
}

func TestLastHostLeavesClearsChair(t *testing.T) {
	i, store, gw, _ := newTestIngestor(t, 0)
	ctx := context.Background()
	host := "alice"
	_, err := store.CreateRoom(ctx, &types.Room{RoomName: "r", CreatedBy: types.Identity{Identity: "alice"}, CurrentHostID: &host})
	require.NoError(t, err)
	gw.SetParticipants("r")

	res := i.Handle(ctx, left("l1", "r", "alice"))
	assert.Equal(t, Processed, res.Outcome)
	room, err := store.GetRoom(ctx, "r")
	require.NoError(t, err)
	assert.Nil(t, room.CurrentHostID)
}

func TestElectionGatewayErrorRecovered(t *testing.T) {
	i, store, gw, _ := newTestIngestor(t, 0)
	ctx := context.Background()
	host := "alice"
	_, err := store.CreateRoom(ctx, &types.Room{RoomName: "r", CreatedBy: types.Identity{Identity: "alice"}, CurrentHostID: &host})
	require.NoError(t, err)
	i.Handle(ctx, joined("j1", "r", "alice", types.RoleTeacher))
	gw.SetErr(errors.New("backend unavailable"))

	res := i.Handle(ctx, left("l1", "r", "alice"))
	assert.Equal(t, Recovered, res.Outcome)
	assert.ErrorContains(t, res.Err, "backend unavailable")
	room, err := store.GetRoom(ctx, "r")
	require.NoError(t, err)
	assert.Nil(t, room.CurrentHostID)
	assert.Empty(t, openSpans(t, store, "r"))
}

func TestStoreErrorFails(t *testing.T) {
	i, store, _, _ := newTestIngestor(t, 16)
	require.NoError(t, store.Close())

	ev := joined("j1", "r", "bob", types.RoleStudent)
	res := i.Handle(context.Background(), ev)
	assert.Equal(t, Failed, res.Outcome)
	assert.Error(t, res.Err)
	// failed events are not remembered, the retry is processed again
	res = i.Handle(context.Background(), ev)
	assert.Equal(t, Failed, res.Outcome)
}

func TestUnknownAndIncompleteEventsIgnored(t *testing.T) {
	i, _, _, _ := newTestIngestor(t, 0)
	ctx := context.Background()
	assert.Equal(t, Ignored, i.Handle(ctx, &types.WebhookEvent{Event: "track_published", Room: &types.WebhookRoom{Name: "r"}}).Outcome)
	assert.Equal(t, Ignored, i.Handle(ctx, &types.WebhookEvent{Event: types.EventParticipantJoined, Room: &types.WebhookRoom{Name: "r"}}).Outcome)
	assert.Equal(t, Ignored, i.Handle(ctx, &types.WebhookEvent{Event: types.EventRoomStarted}).Outcome)
}

func TestOutcomeString(t *testing.T) {
	assert.Equal(t, "recovered", Recovered.String())
	assert.Equal(t, "outcome(42)", Outcome(42).String())
}
