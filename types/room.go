package types

import (
	"time"
)

// Identity is a participant as known to the media backend.
type Identity struct {
	Identity string `json:"identity"`
	Name     string `json:"name"`
	Role     Role   `json:"role"`
}

// Room is the local record of a media backend room. RoomName is also the key in the backend.
type Room struct {
	RoomName      string     `json:"room_name" gorm:"primaryKey"`
	CreatedBy     Identity   `json:"created_by" gorm:"embedded;embeddedPrefix:created_by_"`
	CurrentHostID *string    `json:"current_host_id"`
	CreatedAt     time.Time  `json:"created_at"`
	EmptySince    *time.Time `json:"empty_since"`
	LastActiveAt  *time.Time `json:"last_active_at"` // observability only
}

// IsHost reports whether identity currently holds the chair.
func (r *Room) IsHost(identity string) bool {
	return r.CurrentHostID != nil && *r.CurrentHostID == identity
}
