package gateway

import (
	"context"

	"github.com/tcriess/lightspeed-rooms/types"
)

// Gateway is the media backend's room service as seen by the coordinator. Implementations hold no
// state and are safe for concurrent use.
type Gateway interface {
	ListRooms(ctx context.Context) ([]types.LiveRoom, error)
	ListParticipants(ctx context.Context, roomName string) ([]types.LiveParticipant, error)
	DeleteRoom(ctx context.Context, roomName string) error
	RemoveParticipant(ctx context.Context, roomName, identity string) error
	MutePublishedTrack(ctx context.Context, roomName, identity, trackSid string, muted bool) (*types.LiveTrack, error)
}
