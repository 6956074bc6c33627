package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/tcriess/lightspeed-rooms/types"
)

var ErrNotFound = errors.New("not found")

// RoomStore persists rooms and their host assignment. All writes touch a single room.
type RoomStore interface {
	// CreateRoom inserts room unless a room with the same name exists; created reports which happened.
	CreateRoom(ctx context.Context, room *types.Room) (created bool, err error)
	GetRoom(ctx context.Context, roomName string) (*types.Room, error)
	GetRooms(ctx context.Context) ([]*types.Room, error)
	// SetHost stores hostID (nil clears the chair).
	SetHost(ctx context.Context, roomName string, hostID *string) error
	// ClaimHost sets hostID only if the room has no host, reporting whether it did.
	ClaimHost(ctx context.Context, roomName, hostID string) (bool, error)
	// MarkEmpty sets EmptySince to since unless it is already set.
	MarkEmpty(ctx context.Context, roomName string, since time.Time) error
	// MarkActive clears EmptySince and records at as the last activity.
	MarkActive(ctx context.Context, roomName string, at time.Time) error
	DeleteRoom(ctx context.Context, roomName string) error
}

// SessionStore persists sessions and participant presence spans. Sessions and spans are never deleted.
type SessionStore interface {
	CreateSession(ctx context.Context, session *types.Session) error
	// LatestOpenSession returns the most recently started open session of roomName or ErrNotFound.
	LatestOpenSession(ctx context.Context, roomName string) (*types.Session, error)
	// CloseSession sets EndedAt on an open session, reporting whether it was open.
	CloseSession(ctx context.Context, sessionID string, at time.Time) (bool, error)
	GetSessions(ctx context.Context, roomName string) ([]*types.Session, error)
	// OpenParticipant inserts p unless the identity already has an open span in the session.
	OpenParticipant(ctx context.Context, p *types.SessionParticipant) (created bool, err error)
	// CloseParticipant closes the identity's open span, reporting whether there was one.
	CloseParticipant(ctx context.Context, sessionID, identity string, at time.Time) (bool, error)
	GetParticipants(ctx context.Context, sessionID string) ([]*types.SessionParticipant, error)
}

type Persister interface {
	RoomStore
	SessionStore
	Close() error
}
