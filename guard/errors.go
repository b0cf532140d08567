package guard

import (
	"errors"
	"strings"
)

// Tag prefixes every engine error message. Hosts use it to recognise and
// swallow errors raised by the engine's own defensive code.
const Tag = "[tamperguard]"

var (
	ErrNotStarted     = errors.New("engine not started")
	ErrAlreadyStarted = errors.New("engine already started")
	ErrDisabled       = errors.New("engine disabled")
	ErrPaused         = errors.New("engine paused")
	ErrTerminated     = errors.New("session terminated")
	ErrNoBaseline     = errors.New("no baseline captured")
	ErrUnknownScope   = errors.New("unknown check scope")
	ErrUnknownAction  = errors.New("unknown control action")
	ErrUnknownKind    = errors.New("unknown kind")
	ErrMissingElement = errors.New("element id required")
)

// Error is an error raised by the engine.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string { return Tag + " " + e.Op + ": " + e.Err.Error() }

func (e *Error) Unwrap() error { return e.Err }

func engineErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var ee *Error
	if errors.As(err, &ee) {
		return err
	}
	return &Error{Op: op, Err: err}
}

// IsEngineError reports whether err originates from the engine, either as
// an *Error or as a message carrying Tag (for errors that crossed a host
// boundary as plain text).
func IsEngineError(err error) bool {
	if err == nil {
		return false
	}
	var ee *Error
	if errors.As(err, &ee) {
		return true
	}
	return strings.Contains(err.Error(), Tag)
}
