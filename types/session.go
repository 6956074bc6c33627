package types

import (
	"time"

	"gorm.io/datatypes"
)

// Session is one continuous interval during which a room was active in the media backend.
type Session struct {
	ID        string         `json:"id" gorm:"primaryKey"`
	RoomName  string         `json:"room_name" gorm:"index"`
	StartedAt time.Time      `json:"started_at" gorm:"index"`
	EndedAt   *time.Time     `json:"ended_at"`
	Metadata  datatypes.JSON `json:"metadata"`
}

// IsOpen reports whether the session has not been closed yet.
func (s *Session) IsOpen() bool {
	return s.EndedAt == nil
}

// SessionParticipant is one continuous presence interval of one identity within a session.
// At most one row per (SessionID, Identity) may have a nil LeftAt.
type SessionParticipant struct {
	ID         string        `json:"id" gorm:"primaryKey"`
	SessionID  string        `json:"session_id" gorm:"uniqueIndex:idx_open_participant,where:left_at IS NULL;index"`
	Identity   string        `json:"identity" gorm:"uniqueIndex:idx_open_participant,where:left_at IS NULL"`
	Name       string        `json:"name"`
	Role       Role          `json:"role"`
	Attributes JSONStringMap `json:"attributes"`
	JoinedAt   time.Time     `json:"joined_at"`
	LeftAt     *time.Time    `json:"left_at"`
}
