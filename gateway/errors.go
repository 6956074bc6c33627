package gateway

import (
	"errors"
	"fmt"
)

// ErrUnavailable wraps transport failures and timeouts talking to the backend.
var ErrUnavailable = errors.New("media backend unavailable")

// Error is a non-2xx reply of the media backend.
type Error struct {
	Status int
	Code   string
	Msg    string
}

func (e *Error) Error() string {
	return fmt.Sprintf("media backend: %s (%d): %s", e.Code, e.Status, e.Msg)
}

// IsNotFound reports whether err is the backend's not_found reply.
func IsNotFound(err error) bool {
	var gwErr *Error
	return errors.As(err, &gwErr) && gwErr.Code == "not_found"
}
