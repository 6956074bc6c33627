package types

import "strings"

// Role is the platform role of a user. Anything that is not admin or teacher is treated as a student.
type Role string

const (
	RoleAdmin   Role = "admin"
	RoleTeacher Role = "teacher"
	RoleStudent Role = "student"
)

// ParseRole normalises a role string as sent by the auth layer or the media backend.
func ParseRole(s string) Role {
	switch Role(strings.ToLower(strings.TrimSpace(s))) {
	case RoleAdmin:
		return RoleAdmin
	case RoleTeacher:
		return RoleTeacher
	default:
		return RoleStudent
	}
}

// Priority orders roles for host election, lower wins.
func (r Role) Priority() int {
	switch r {
	case RoleAdmin:
		return 0
	case RoleTeacher:
		return 1
	default:
		return 2
	}
}

// CanModerate reports whether the role may use the administrative operations.
func (r Role) CanModerate() bool {
	return r == RoleAdmin || r == RoleTeacher
}
