package server

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a rejected frame.
type ErrorKind string

const (
	// KindAuth is terminal: the connection is closed after the error frame.
	KindAuth ErrorKind = "auth"
	// KindProtocol covers malformed frames, unknown types, missing fields,
	// re-authentication and throttling.
	KindProtocol ErrorKind = "protocol"
	// KindAuthorization means sender and target have no relationship.
	KindAuthorization ErrorKind = "authorization"
	// KindPersistence means the store failed.
	KindPersistence ErrorKind = "persistence"
)

// FrameError is the single error type returned by frame handlers. Message is
// what the client sees; Err is logged only.
type FrameError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *FrameError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s error: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s error: %s", e.Kind, e.Message)
}

func (e *FrameError) Unwrap() error { return e.Err }

// Terminal reports whether the connection must be closed.
func (e *FrameError) Terminal() bool { return e.Kind == KindAuth }

func authError(msg string, err error) *FrameError {
	return &FrameError{Kind: KindAuth, Message: msg, Err: err}
}

func protocolError(format string, args ...any) *FrameError {
	return &FrameError{Kind: KindProtocol, Message: fmt.Sprintf(format, args...)}
}

func authorizationError(msg string) *FrameError {
	return &FrameError{Kind: KindAuthorization, Message: msg}
}

func persistenceError(msg string, err error) *FrameError {
	return &FrameError{Kind: KindPersistence, Message: msg, Err: err}
}

// asFrameError maps any handler error onto the taxonomy. Unclassified
// errors are treated as persistence failures so the connection survives.
func asFrameError(err error) *FrameError {
	var fe *FrameError
	if errors.As(err, &fe) {
		return fe
	}
	return persistenceError("internal error", err)
}
