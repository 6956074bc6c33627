// Package admin implements the moderation operations available to teachers and admins.
package admin

import (
	"context"
	"errors"
	"fmt"

	"github.com/hashicorp/go-hclog"
	"github.com/tcriess/lightspeed-rooms/gateway"
	"github.com/tcriess/lightspeed-rooms/globals"
	"github.com/tcriess/lightspeed-rooms/persistence"
	"github.com/tcriess/lightspeed-rooms/types"
)

var (
	ErrForbidden = errors.New("forbidden")
	// ErrNotFound is returned when the participant to act on is not live in the room.
	ErrNotFound = errors.New("participant not found")
)

// Surface forwards moderation requests to the media backend. Apart from DeleteRoom no local state
// is touched.
type Surface struct {
	gw     gateway.Gateway
	store  persistence.RoomStore
	logger hclog.Logger
}

func New(gw gateway.Gateway, store persistence.RoomStore) *Surface {
	return &Surface{
		gw:     gw,
		store:  store,
		logger: globals.AppLogger.Named("admin"),
	}
}

func authorize(caller *types.Caller) error {
	if caller == nil || !caller.Role.CanModerate() {
		return ErrForbidden
	}
	return nil
}

func (s *Surface) ListRooms(ctx context.Context, caller *types.Caller) ([]types.LiveRoom, error) {
	if err := authorize(caller); err != nil {
		return nil, err
	}
	rooms, err := s.gw.ListRooms(ctx)
	if err != nil {
		return nil, fmt.Errorf("could not list rooms: %w", err)
	}
	return rooms, nil
}

func (s *Surface) ListParticipants(ctx context.Context, caller *types.Caller, roomName string) ([]types.LiveParticipant, error) {
	if err := authorize(caller); err != nil {
		return nil, err
	}
	participants, err := s.gw.ListParticipants(ctx, roomName)
	if err != nil {
		return nil, fmt.Errorf("could not list participants: %w", err)
	}
	return participants, nil
}

func (s *Surface) RemoveParticipant(ctx context.Context, caller *types.Caller, roomName, identity string) error {
	if err := authorize(caller); err != nil {
		return err
	}
	if err := s.gw.RemoveParticipant(ctx, roomName, identity); err != nil {
		return fmt.Errorf("could not remove participant: %w", err)
	}
	s.logger.Info("participant removed", "room", roomName, "identity", identity, "by", caller.Id)
	return nil
}

// MuteParticipant mutes (or unmutes) one published track of identity, or every published track
// when trackSid is empty. It returns the updated tracks.
func (s *Surface) MuteParticipant(ctx context.Context, caller *types.Caller, roomName, identity, trackSid string, muted bool) ([]types.LiveTrack, error) {
	if err := authorize(caller); err != nil {
		return nil, err
	}
	trackSids := []string{trackSid}
	if trackSid == "" {
		participants, err := s.gw.ListParticipants(ctx, roomName)
		if err != nil {
			return nil, fmt.Errorf("could not list participants: %w", err)
		}
		trackSids = nil
		found := false
		for _, p := range participants {
			if p.Identity != identity {
				continue
			}
			found = true
			for _, track := range p.Tracks {
				trackSids = append(trackSids, track.Sid)
			}
		}
		if !found {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, identity)
		}
	}
	tracks := make([]types.LiveTrack, 0, len(trackSids))
	for _, sid := range trackSids {
		track, err := s.gw.MutePublishedTrack(ctx, roomName, identity, sid, muted)
		if err != nil {
			return tracks, fmt.Errorf("could not mute track %s: %w", sid, err)
		}
		if track == nil {
			continue
		}
		tracks = append(tracks, *track)
	}
	s.logger.Info("participant muted", "room", roomName, "identity", identity, "tracks", len(tracks), "muted", muted, "by", caller.Id)
	return tracks, nil
}

// DeleteRoom closes the room in the backend and removes the local record. A room that is already
// gone from the backend is not an error.
func (s *Surface) DeleteRoom(ctx context.Context, caller *types.Caller, roomName string) error {
	if err := authorize(caller); err != nil {
		return err
	}
	if err := s.gw.DeleteRoom(ctx, roomName); err != nil && !gateway.IsNotFound(err) {
		return fmt.Errorf("could not delete room: %w", err)
	}
	if err := s.store.DeleteRoom(ctx, roomName); err != nil {
		return fmt.Errorf("could not delete room record: %w", err)
	}
	s.logger.Info("room deleted", "room", roomName, "by", caller.Id)
	return nil
}
