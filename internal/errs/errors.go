package errs

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidRoomID         = errors.New("invalid room id")
	ErrNegotiationStalled    = errors.New("negotiation stalled")
	ErrStoreUnavailable      = errors.New("signaling store unavailable")
	ErrSessionClosed         = errors.New("session closed")
	ErrUnexpectedDescription = errors.New("unexpected session description")
	ErrTimeout               = errors.New("timeout")
)

// OpError records the operation and room a failure happened in.
type OpError struct {
	Op      string
	Room    string
	Err     error
	Details string
}

func (e *OpError) Error() string {
	msg := e.Op
	if e.Room != "" {
		msg = fmt.Sprintf("%s [room %s]", msg, e.Room)
	}
	if e.Details != "" {
		return fmt.Sprintf("%s: %v (%s)", msg, e.Err, e.Details)
	}
	return fmt.Sprintf("%s: %v", msg, e.Err)
}

func (e *OpError) Unwrap() error {
	return e.Err
}

func New(op string, err error) *OpError {
	return &OpError{Op: op, Err: err}
}

func ForRoom(op, room string, err error) *OpError {
	return &OpError{Op: op, Room: room, Err: err}
}

func Wrap(op string, err error, details string) *OpError {
	return &OpError{Op: op, Err: err, Details: details}
}
