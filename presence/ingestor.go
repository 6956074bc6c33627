// Package presence turns the media backend's webhook events into session history and keeps the
// chair of each room occupied.
package presence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/go-hclog"
	lru "github.com/hashicorp/golang-lru"
	"github.com/mitchellh/hashstructure/v2"
	"github.com/tcriess/lightspeed-rooms/election"
	"github.com/tcriess/lightspeed-rooms/gateway"
	"github.com/tcriess/lightspeed-rooms/globals"
	"github.com/tcriess/lightspeed-rooms/metrics"
	"github.com/tcriess/lightspeed-rooms/persistence"
	"github.com/tcriess/lightspeed-rooms/types"
	"gorm.io/datatypes"
)

// Outcome classifies how an event was handled.
type Outcome int

const (
	// Processed means the event changed stored state.
	Processed Outcome = iota
	// NoOp means the event was valid but there was nothing left to do (duplicate or reordered delivery).
	NoOp
	// Ignored means the event kind is not handled or the event lacks what its kind requires.
	Ignored
	// Recovered means the event was handled but a backend error was swallowed on the way.
	Recovered
	// Failed means a store error left the event unhandled. The sender should retry.
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Processed:
		return "processed"
	case NoOp:
		return "noop"
	case Ignored:
		return "ignored"
	case Recovered:
		return "recovered"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

// Result is the per-event handling result. Err is set for Recovered and Failed.
type Result struct {
	Event   string
	Outcome Outcome
	Err     error
}

// Store is the part of the persistence layer the ingestor writes to.
type Store interface {
	persistence.RoomStore
	persistence.SessionStore
}

type Ingestor struct {
	store   Store
	gw      gateway.Gateway
	seen    *lru.Cache
	metrics *metrics.Metrics
	logger  hclog.Logger
	now     func() time.Time
}

// NewIngestor creates an ingestor remembering the last dedupeSize successfully handled events. A
// dedupeSize <= 0 disables the redelivery cache.
func NewIngestor(store Store, gw gateway.Gateway, dedupeSize int, m *metrics.Metrics) (*Ingestor, error) {
	i := &Ingestor{
		store:   store,
		gw:      gw,
		metrics: m,
		logger:  globals.AppLogger.Named("presence"),
		now:     func() time.Time { return time.Now().UTC() },
	}
	if dedupeSize > 0 {
		cache, err := lru.New(dedupeSize)
		if err != nil {
			return nil, err
		}
		i.seen = cache
	}
	return i, nil
}

// dedupeKey identifies a delivery. The backend sets a unique id per event. An event without an id
// is identified by its content only when it carries a creation time; otherwise a repeated join or
// leave of the same identity is indistinguishable from a redelivery and must not be cached.
func dedupeKey(ev *types.WebhookEvent) (string, bool) {
	if ev.ID != "" {
		return "id:" + ev.ID, true
	}
	if ev.CreatedAt == 0 {
		return "", false
	}
	h, err := hashstructure.Hash(ev, hashstructure.FormatV2, nil)
	if err != nil {
		return "", false
	}
	return fmt.Sprintf("hash:%x", h), true
}

// Handle applies one webhook event. It is safe for concurrent use and every branch is idempotent.
func (i *Ingestor) Handle(ctx context.Context, ev *types.WebhookEvent) Result {
	key, keyed := dedupeKey(ev)
	var res Result
	if keyed && i.seen != nil && i.seen.Contains(key) {
		res = Result{Event: ev.Event, Outcome: NoOp}
	} else {
		res = i.dispatch(ctx, ev)
		if keyed && i.seen != nil && res.Outcome != Failed {
			i.seen.Add(key, struct{}{})
		}
	}
	if i.metrics != nil {
		i.metrics.PresenceEvents.WithLabelValues(ev.Event, res.Outcome.String()).Inc()
	}
	switch res.Outcome {
	case Failed:
		i.logger.Error("could not handle event", "event", ev.Event, "id", ev.ID, "room", ev.RoomName(), "error", res.Err)
	case Recovered:
		i.logger.Warn("event handled with errors", "event", ev.Event, "id", ev.ID, "room", ev.RoomName(), "error", res.Err)
	default:
		i.logger.Debug("event handled", "event", ev.Event, "id", ev.ID, "room", ev.RoomName(), "outcome", res.Outcome)
	}
	return res
}

func (i *Ingestor) dispatch(ctx context.Context, ev *types.WebhookEvent) Result {
	var outcome Outcome
	var err error
	switch ev.Event {
	case types.EventRoomStarted:
		outcome, err = i.roomStarted(ctx, ev)
	case types.EventRoomFinished:
		outcome, err = i.roomFinished(ctx, ev)
	case types.EventParticipantJoined:
		outcome, err = i.participantJoined(ctx, ev)
	case types.EventParticipantLeft:
		outcome, err = i.participantLeft(ctx, ev)
	default:
		outcome = Ignored
	}
	return Result{Event: ev.Event, Outcome: outcome, Err: err}
}

func (i *Ingestor) roomStarted(ctx context.Context, ev *types.WebhookEvent) (Outcome, error) {
	roomName := ev.RoomName()
	if roomName == "" {
		return Ignored, nil
	}
	// a join that arrived first already opened the session of this lifetime
	_, err := i.store.LatestOpenSession(ctx, roomName)
	if err == nil {
		return NoOp, nil
	}
	if !errors.Is(err, persistence.ErrNotFound) {
		return Failed, fmt.Errorf("find open session: %w", err)
	}
	startedAt := ev.Room.CreationTime.Time()
	if startedAt.IsZero() {
		startedAt = i.now()
	}
	session := &types.Session{
		RoomName:  roomName,
		StartedAt: startedAt,
		Metadata:  parseMetadata(ev.Room.Metadata),
	}
	if err := i.store.CreateSession(ctx, session); err != nil {
		return Failed, fmt.Errorf("create session: %w", err)
	}
	return Processed, nil
}

// parseMetadata keeps room metadata that is a JSON document and wraps anything else as a JSON string.
func parseMetadata(metadata string) datatypes.JSON {
	if metadata == "" {
		return nil
	}
	if json.Valid([]byte(metadata)) {
		return datatypes.JSON(metadata)
	}
	ba, err := json.Marshal(metadata)
	if err != nil {
		return nil
	}
	return datatypes.JSON(ba)
}

func (i *Ingestor) roomFinished(ctx context.Context, ev *types.WebhookEvent) (Outcome, error) {
	roomName := ev.RoomName()
	if roomName == "" {
		return Ignored, nil
	}
	session, err := i.store.LatestOpenSession(ctx, roomName)
	if err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			return NoOp, nil
		}
		return Failed, fmt.Errorf("find open session: %w", err)
	}
	closed, err := i.store.CloseSession(ctx, session.ID, i.now())
	if err != nil {
		return Failed, fmt.Errorf("close session: %w", err)
	}
	if !closed {
		return NoOp, nil
	}
	return Processed, nil
}

func (i *Ingestor) participantJoined(ctx context.Context, ev *types.WebhookEvent) (Outcome, error) {
	roomName := ev.RoomName()
	if roomName == "" || ev.Participant == nil || ev.Participant.Identity == "" {
		return Ignored, nil
	}
	now := i.now()
	session, err := i.store.LatestOpenSession(ctx, roomName)
	if errors.Is(err, persistence.ErrNotFound) {
		session = &types.Session{RoomName: roomName, StartedAt: now}
		err = i.store.CreateSession(ctx, session)
	}
	if err != nil {
		return Failed, fmt.Errorf("ensure open session: %w", err)
	}
	joinedAt := ev.Participant.JoinedAt.Time()
	if joinedAt.IsZero() {
		joinedAt = now
	}
	created, err := i.store.OpenParticipant(ctx, &types.SessionParticipant{
		SessionID:  session.ID,
		Identity:   ev.Participant.Identity,
		Name:       ev.Participant.Name,
		Role:       ev.Participant.Role(),
		Attributes: types.JSONStringMap(ev.Participant.Attributes),
		JoinedAt:   joinedAt,
	})
	if err != nil {
		return Failed, fmt.Errorf("open participant: %w", err)
	}
	if !created {
		return NoOp, nil
	}
	return Processed, nil
}

func (i *Ingestor) participantLeft(ctx context.Context, ev *types.WebhookEvent) (Outcome, error) {
	roomName := ev.RoomName()
	if roomName == "" || ev.Participant == nil || ev.Participant.Identity == "" {
		return Ignored, nil
	}
	identity := ev.Participant.Identity
	outcome := NoOp

	session, err := i.store.LatestOpenSession(ctx, roomName)
	switch {
	case err == nil:
		closed, err := i.store.CloseParticipant(ctx, session.ID, identity, i.now())
		if err != nil {
			return Failed, fmt.Errorf("close participant: %w", err)
		}
		if closed {
			outcome = Processed
		}
	case !errors.Is(err, persistence.ErrNotFound):
		return Failed, fmt.Errorf("find open session: %w", err)
	}

	room, err := i.store.GetRoom(ctx, roomName)
	if err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			return outcome, nil
		}
		return Failed, fmt.Errorf("get room: %w", err)
	}
	if !room.IsHost(identity) {
		return outcome, nil
	}

	var electErr error
	successor, err := election.Elect(ctx, i.gw, roomName, room.CreatedBy.Identity, identity)
	if err != nil {
		electErr = fmt.Errorf("elect host: %w", err)
		successor = nil
	}
	if err := i.store.SetHost(ctx, roomName, successor); err != nil {
		if errors.Is(err, persistence.ErrNotFound) {
			return outcome, nil
		}
		return Failed, fmt.Errorf("set host: %w", err)
	}
	if successor != nil {
		i.logger.Info("host elected", "room", roomName, "previous", identity, "host", *successor)
	} else {
		i.logger.Info("room has no host", "room", roomName, "previous", identity)
	}
	if electErr != nil {
		return Recovered, electErr
	}
	return Processed, nil
}
