package types

// LiveRoom is a room as reported by the media backend.
type LiveRoom struct {
	Sid             string   `json:"sid"`
	Name            string   `json:"name"`
	NumParticipants uint32   `json:"numParticipants"`
	CreationTime    UnixTime `json:"creationTime"`
	Metadata        string   `json:"metadata"`
}

// LiveTrack is a track published by a live participant.
type LiveTrack struct {
	Sid    string `json:"sid"`
	Type   string `json:"type"`
	Name   string `json:"name"`
	Muted  bool   `json:"muted"`
	Source string `json:"source"`
}

// LiveParticipant is a participant as reported by the media backend.
type LiveParticipant struct {
	Sid        string            `json:"sid"`
	Identity   string            `json:"identity"`
	Name       string            `json:"name"`
	Metadata   string            `json:"metadata"`
	Attributes map[string]string `json:"attributes"`
	JoinedAt   UnixTime          `json:"joinedAt"`
	Tracks     []LiveTrack       `json:"tracks"`
}

// Role reads the role the same way as for webhook participants.
func (p *LiveParticipant) Role() Role {
	wp := WebhookParticipant{Metadata: p.Metadata, Attributes: p.Attributes}
	return wp.Role()
}
