package election

import (
	"context"
	"errors"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tcriess/lightspeed-rooms/gateway/gatewaytest"
	"github.com/tcriess/lightspeed-rooms/types"
)

func TestElectCreatorWins(t *testing.T) {
	gw := gatewaytest.New()
	gw.SetParticipants("r",
		gatewaytest.Participant("bob", types.RoleAdmin),
		gatewaytest.Participant("alice", types.RoleStudent),
	)
	host, err := Elect(context.Background(), gw, "r", "alice", "carol")
	require.NoError(t, err)
	require.NotNil(t, host)
	assert.Equal(t, "alice", *host)
}

func TestElectByRoleThenIdentity(t *testing.T) {
	gw := gatewaytest.New()
	gw.SetParticipants("r",
		gatewaytest.Participant("zeta", types.RoleStudent),
		gatewaytest.Participant("beta", types.RoleAdmin),
		gatewaytest.Participant("alpha", types.RoleAdmin),
	)
	host, err := Elect(context.Background(), gw, "r", "gone", "")
	require.NoError(t, err)
	require.NotNil(t, host)
	assert.Equal(t, "alpha", *host)
}

func TestElectTeacherBeforeStudent(t *testing.T) {
	gw := gatewaytest.New()
	gw.SetParticipants("r",
		gatewaytest.Participant("aaron", types.RoleStudent),
		gatewaytest.Participant("zoe", types.RoleTeacher),
		gatewaytest.Participant("abe", types.Role("guest")),
	)
	host, err := Elect(context.Background(), gw, "r", "", "")
	require.NoError(t, err)
	require.NotNil(t, host)
	assert.Equal(t, "zoe", *host)
}

func TestElectEmptyRoom(t *testing.T) {
	gw := gatewaytest.New()
	gw.SetParticipants("r")
	host, err := Elect(context.Background(), gw, "r", "alice", "alice")
	require.NoError(t, err)
	assert.Nil(t, host)
}

func TestElectSkipsDeparted(t *testing.T) {
	gw := gatewaytest.New()
	gw.SetParticipants("r",
		gatewaytest.Participant("alice", types.RoleTeacher),
		gatewaytest.Participant("bob", types.RoleStudent),
	)
	host, err := Elect(context.Background(), gw, "r", "alice", "alice")
	require.NoError(t, err)
	require.NotNil(t, host)
	assert.Equal(t, "bob", *host)
}

func TestElectGatewayError(t *testing.T) {
	gw := gatewaytest.New()
	gw.SetErr(errors.New("backend down"))
	host, err := Elect(context.Background(), gw, "r", "alice", "")
	assert.Error(t, err)
	assert.Nil(t, host)
}

func TestElectDeterministic(t *testing.T) {
	participants := []types.LiveParticipant{
		gatewaytest.Participant("mia", types.RoleTeacher),
		gatewaytest.Participant("leo", types.RoleTeacher),
		gatewaytest.Participant("ava", types.RoleStudent),
		gatewaytest.Participant("kim", types.RoleStudent),
		gatewaytest.Participant("noa", types.RoleTeacher),
	}
	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 20; i++ {
		rng.Shuffle(len(participants), func(i, j int) { participants[i], participants[j] = participants[j], participants[i] })
		host := pick(participants, "", "")
		require.NotNil(t, host)
		assert.Equal(t, "leo", *host)
	}
}
