package filter

import (
	"fmt"
	"time"

	"github.com/antonmedv/expr"
	"github.com/antonmedv/expr/vm"
	"github.com/tcriess/lightspeed-rooms/types"
)

// Filter is a compiled boolean expression over a room, f.e. `HasHost && CreatedBy.Role == "teacher"`
// or `IdleFor() > 300`.
type Filter struct {
	program *vm.Program
}

func Compile(expression string) (*Filter, error) {
	program, err := expr.Compile(expression, expr.Env(Env{}), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("could not compile filter: %w", err)
	}
	return &Filter{program: program}, nil
}

func unix(t *time.Time) int64 {
	if t == nil || t.IsZero() {
		return 0
	}
	return t.Unix()
}

// NewEnv exposes room to filter expressions evaluated at now.
func NewEnv(room *types.Room, now time.Time) Env {
	env := Env{
		Room: Room{
			Name: room.RoomName,
			CreatedBy: Identity{
				Identity: room.CreatedBy.Identity,
				Name:     room.CreatedBy.Name,
				Role:     string(room.CreatedBy.Role),
			},
			HasHost:      room.CurrentHostID != nil,
			CreatedAt:    unix(&room.CreatedAt),
			EmptySince:   unix(room.EmptySince),
			LastActiveAt: unix(room.LastActiveAt),
		},
		Now: now.Unix(),
	}
	if room.CurrentHostID != nil {
		env.Host = *room.CurrentHostID
	}
	env.IdleFor = func() int64 {
		if env.EmptySince == 0 {
			return 0
		}
		return env.Now - env.EmptySince
	}
	return env
}

func (f *Filter) Match(room *types.Room, now time.Time) (bool, error) {
	res, err := expr.Run(f.program, NewEnv(room, now))
	if err != nil {
		return false, err
	}
	return res.(bool), nil
}

// Rooms returns the rooms matching f. A nil filter matches everything.
func (f *Filter) Rooms(rooms []*types.Room, now time.Time) ([]*types.Room, error) {
	if f == nil {
		return rooms, nil
	}
	matching := make([]*types.Room, 0, len(rooms))
	for _, room := range rooms {
		ok, err := f.Match(room, now)
		if err != nil {
			return nil, fmt.Errorf("room %s: %w", room.RoomName, err)
		}
		if ok {
			matching = append(matching, room)
		}
	}
	return matching, nil
}
