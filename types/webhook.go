package types

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// Webhook event kinds delivered by the media backend.
const (
	EventRoomStarted       = "room_started"
	EventRoomFinished      = "room_finished"
	EventParticipantJoined = "participant_joined"
	EventParticipantLeft   = "participant_left"
)

// UnixTime is a unix timestamp in seconds. The backend encodes 64 bit integers as JSON strings,
// so both forms are accepted.
type UnixTime int64

func (t *UnixTime) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*t = 0
		return nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return err
	}
	*t = UnixTime(v)
	return nil
}

// Time returns the zero time for an unset timestamp.
func (t UnixTime) Time() time.Time {
	if t <= 0 {
		return time.Time{}
	}
	return time.Unix(int64(t), 0).UTC()
}

// WebhookRoom is the room part of a webhook event.
type WebhookRoom struct {
	Sid             string   `json:"sid"`
	Name            string   `json:"name"`
	CreationTime    UnixTime `json:"creationTime"`
	Metadata        string   `json:"metadata"`
	NumParticipants uint32   `json:"numParticipants"`
}

// WebhookParticipant is the participant part of a webhook event.
type WebhookParticipant struct {
	Sid        string            `json:"sid"`
	Identity   string            `json:"identity"`
	Name       string            `json:"name"`
	Metadata   string            `json:"metadata"`
	Attributes map[string]string `json:"attributes"`
	JoinedAt   UnixTime          `json:"joinedAt"`
}

// Role reads the participant's role from its attributes, falling back to a "role" key in the
// JSON metadata.
func (p *WebhookParticipant) Role() Role {
	if r, ok := p.Attributes["role"]; ok && r != "" {
		return ParseRole(r)
	}
	if p.Metadata != "" {
		md := struct {
			Role string `json:"role"`
		}{}
		if err := json.Unmarshal([]byte(p.Metadata), &md); err == nil {
			return ParseRole(md.Role)
		}
	}
	return RoleStudent
}

// WebhookEvent is one inbound presence notification.
type WebhookEvent struct {
	ID          string              `json:"id" hash:"ignore"`
	Event       string              `json:"event"`
	Room        *WebhookRoom        `json:"room,omitempty"`
	Participant *WebhookParticipant `json:"participant,omitempty"`
	CreatedAt   UnixTime            `json:"createdAt"`
}

// RoomName returns the event's room name or "" when the event carries no room.
func (e *WebhookEvent) RoomName() string {
	if e.Room == nil {
		return ""
	}
	return e.Room.Name
}
