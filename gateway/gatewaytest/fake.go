// Package gatewaytest provides an in-memory media backend for tests.
package gatewaytest

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"sync"

	"github.com/tcriess/lightspeed-rooms/gateway"
	"github.com/tcriess/lightspeed-rooms/types"
)

// Fake is a Gateway backed by maps. Err, when set, is returned from every call.
type Fake struct {
	mu           sync.Mutex
	participants map[string][]types.LiveParticipant
	Err          error

	ListRoomsCalls int
	Deleted        []string
	Removed        []string
	Muted          []string
}

var _ gateway.Gateway = (*Fake)(nil)

func New() *Fake {
	return &Fake{participants: make(map[string][]types.LiveParticipant)}
}

// SetParticipants replaces the live participants of roomName. A nil list keeps the room alive with
// nobody in it.
func (f *Fake) SetParticipants(roomName string, ps ...types.LiveParticipant) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.participants[roomName] = ps
}

// DropRoom makes roomName disappear from the backend.
func (f *Fake) DropRoom(roomName string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.participants, roomName)
}

// SetErr makes every following call fail with err (nil to recover).
func (f *Fake) SetErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Err = err
}

// Calls returns the number of ListRooms calls so far.
func (f *Fake) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ListRoomsCalls
}

func (f *Fake) ListRooms(_ context.Context) ([]types.LiveRoom, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ListRoomsCalls++
	if f.Err != nil {
		return nil, f.Err
	}
	rooms := make([]types.LiveRoom, 0, len(f.participants))
	for name, ps := range f.participants {
		rooms = append(rooms, types.LiveRoom{Name: name, NumParticipants: uint32(len(ps))})
	}
	sort.Slice(rooms, func(i, j int) bool { return rooms[i].Name < rooms[j].Name })
	return rooms, nil
}

func (f *Fake) ListParticipants(_ context.Context, roomName string) ([]types.LiveParticipant, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	ps, ok := f.participants[roomName]
	if !ok {
		return nil, notFound("room", roomName)
	}
	return append([]types.LiveParticipant(nil), ps...), nil
}

func (f *Fake) DeleteRoom(_ context.Context, roomName string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return f.Err
	}
	if _, ok := f.participants[roomName]; !ok {
		return notFound("room", roomName)
	}
	delete(f.participants, roomName)
	f.Deleted = append(f.Deleted, roomName)
	return nil
}

func (f *Fake) RemoveParticipant(_ context.Context, roomName, identity string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return f.Err
	}
	ps := f.participants[roomName]
	for i, p := range ps {
		if p.Identity == identity {
			f.participants[roomName] = append(ps[:i:i], ps[i+1:]...)
			f.Removed = append(f.Removed, roomName+"/"+identity)
			return nil
		}
	}
	return notFound("participant", identity)
}

func (f *Fake) MutePublishedTrack(_ context.Context, roomName, identity, trackSid string, muted bool) (*types.LiveTrack, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	for _, p := range f.participants[roomName] {
		if p.Identity != identity {
			continue
		}
		for i := range p.Tracks {
			if p.Tracks[i].Sid == trackSid {
				p.Tracks[i].Muted = muted
				f.Muted = append(f.Muted, fmt.Sprintf("%s/%s/%s=%v", roomName, identity, trackSid, muted))
				track := p.Tracks[i]
				return &track, nil
			}
		}
		return nil, notFound("track", trackSid)
	}
	return nil, notFound("participant", identity)
}

func notFound(what, name string) error {
	return &gateway.Error{Status: http.StatusNotFound, Code: "not_found", Msg: what + " " + name + " does not exist"}
}

// Participant is a shorthand for a live participant with a role attribute.
func Participant(identity string, role types.Role, tracks ...types.LiveTrack) types.LiveParticipant {
	return types.LiveParticipant{
		Identity:   identity,
		Name:       identity,
		Attributes: map[string]string{"role": string(role)},
		Tracks:     tracks,
	}
}
