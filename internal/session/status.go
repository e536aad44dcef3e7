package session

import (
	"errors"
	"fmt"
)

var (
	// ErrAlreadyStarted is returned by Start on a session that has left idle.
	ErrAlreadyStarted = errors.New("session: already started")

	// ErrStopped is returned by Start when Stop won the race against it.
	ErrStopped = errors.New("session: stopped while starting")
)

// Status is the lifecycle state of a [Session].
type Status int

const (
	StatusIdle Status = iota
	StatusConnecting
	StatusActive
	StatusFinished
	StatusError
)

// String returns the lower-case state name.
func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusConnecting:
		return "connecting"
	case StatusActive:
		return "active"
	case StatusFinished:
		return "finished"
	case StatusError:
		return "error"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Terminal reports whether s is final for a session instance.
func (s Status) Terminal() bool {
	return s == StatusFinished || s == StatusError
}

// MarshalText implements encoding.TextMarshaler so statuses encode as names
// in JSON.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a name produced by [Status.MarshalText].
func (s *Status) UnmarshalText(b []byte) error {
	for st := StatusIdle; st <= StatusError; st++ {
		if st.String() == string(b) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("session: unknown status %q", b)
}

// ErrorKind classifies why a session ended in [StatusError].
type ErrorKind int

const (
	// KindPermissionDenied means the microphone was refused.
	KindPermissionDenied ErrorKind = iota + 1

	// KindChannelOpenFailure means the realtime channel could not be
	// established, or closed before it opened.
	KindChannelOpenFailure

	// KindChannelRuntimeError means an open channel failed, including frame
	// submission failures.
	KindChannelRuntimeError

	// KindDeviceFailure means an audio context or device could not be
	// allocated or started.
	KindDeviceFailure
)

// String returns the snake_case kind name used in logs and metrics.
func (k ErrorKind) String() string {
	switch k {
	case KindPermissionDenied:
		return "permission_denied"
	case KindChannelOpenFailure:
		return "channel_open_failure"
	case KindChannelRuntimeError:
		return "channel_runtime_error"
	case KindDeviceFailure:
		return "device_failure"
	default:
		return "unknown"
	}
}

// Message returns the user-facing text passed to [Observer.OnError].
func (k ErrorKind) Message() string {
	switch k {
	case KindPermissionDenied:
		return "Microphone access was denied. Check microphone permissions and try again."
	case KindChannelOpenFailure:
		return "Could not connect to the interview service. Please try again."
	case KindChannelRuntimeError:
		return "Connection lost. Please try again."
	case KindDeviceFailure:
		return "Audio device unavailable. Please check your speakers and microphone."
	default:
		return "Something went wrong. Please try again."
	}
}

// Error is the cause recorded for a session that ended in [StatusError].
type Error struct {
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return "session: " + e.Kind.String()
	}
	return fmt.Sprintf("session: %s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf returns the kind of the first *Error in err's chain, or zero.
func KindOf(err error) ErrorKind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return 0
}
