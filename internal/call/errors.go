package call

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidMeetingID = errors.New("invalid meeting id")
	ErrMediaBlocked     = errors.New("camera/microphone blocked")
	ErrDisconnected     = errors.New("signaling disconnected")
	ErrRoomFull         = errors.New("meeting room is full")
	ErrNegotiation      = errors.New("negotiation failed")
)

// Error records the operation that failed and, optionally, details from
// the remote side.
type Error struct {
	Op      string
	Err     error
	Details string
}

func (e *Error) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %v (%s)", e.Op, e.Err, e.Details)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func NewError(op string, err error) *Error {
	return &Error{Op: op, Err: err}
}

func WrapError(op string, err error, details string) *Error {
	return &Error{Op: op, Err: err, Details: details}
}
