// Package election picks the successor chair of a room from the participants that are live in the
// media backend.
package election

import (
	"context"
	"sort"

	"github.com/tcriess/lightspeed-rooms/gateway"
	"github.com/tcriess/lightspeed-rooms/types"
)

type candidate struct {
	identity string
	priority int
}

// Elect returns the identity that should hold the chair of roomName, or nil if nobody is left.
// The room creator wins whenever present. Otherwise the candidate with the highest role (admin,
// then teacher, then everybody else) wins, ties broken by the lexicographically smallest identity.
// departed is never elected because the backend may still list a participant that just left.
// Elect has no side effects.
func Elect(ctx context.Context, gw gateway.Gateway, roomName, creatorIdentity, departed string) (*string, error) {
	participants, err := gw.ListParticipants(ctx, roomName)
	if err != nil {
		return nil, err
	}
	return pick(participants, creatorIdentity, departed), nil
}

func pick(participants []types.LiveParticipant, creatorIdentity, departed string) *string {
	candidates := make([]candidate, 0, len(participants))
	for i := range participants {
		p := &participants[i]
		if p.Identity == "" || p.Identity == departed {
			continue
		}
		if creatorIdentity != "" && p.Identity == creatorIdentity {
			winner := p.Identity
			return &winner
		}
		candidates = append(candidates, candidate{identity: p.Identity, priority: p.Role().Priority()})
	}
	if len(candidates) == 0 {
		return nil
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].priority != candidates[j].priority {
			return candidates[i].priority < candidates[j].priority
		}
		return candidates[i].identity < candidates[j].identity
	})
	winner := candidates[0].identity
	return &winner
}
