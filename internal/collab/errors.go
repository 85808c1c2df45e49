package collab

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidInput        = errors.New("invalid input")
	ErrPermissionDenied    = errors.New("permission denied")
	ErrNotParticipant      = errors.New("not a participant")
	ErrSessionClosed       = errors.New("session closed")
	ErrRegistryClosed      = errors.New("registry closed")
	ErrDuplicateConnection = errors.New("duplicate connection id")
	ErrQueueFull           = errors.New("queue full")
)

// Access error codes double as the close reasons sent to rejected clients.
const (
	CodeBadRequest = "bad-request"
	CodeForbidden  = "forbidden"
	CodeInternal   = "internal-error"
)

// AccessError is returned by Registry.Join when a connection may not attach
// to a session. Nothing has been created when it is returned.
type AccessError struct {
	Code    string
	Message string
	Err     error
}

func (e *AccessError) Error() string {
	if e == nil {
		return "access error"
	}
	msg := e.Message
	if msg == "" {
		msg = e.Code
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, msg)
}

func (e *AccessError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func (e *AccessError) Is(target error) bool {
	if e == nil {
		return false
	}
	switch target {
	case ErrPermissionDenied:
		return e.Code == CodeForbidden
	case ErrInvalidInput:
		return e.Code == CodeBadRequest
	}
	return false
}
