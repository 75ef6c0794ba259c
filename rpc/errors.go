package rpc

import (
	"errors"
	"fmt"
)

var (
	// ErrSessionNotRegistered is returned by Call when the session was never
	// registered with the transport or has since been unregistered.
	ErrSessionNotRegistered = errors.New("session not registered")
	// ErrInvalidSession is returned when a session lacks an ID or realm.
	ErrInvalidSession = errors.New("invalid session")
)

// Well-known error URIs reported by the bundled transports.
const (
	ErrorNoSuchProcedure = "wamp.error.no_such_procedure"
	ErrorRuntime         = "wamp.error.runtime_error"
	ErrorInvalidArgument = "wamp.error.invalid_argument"
)

// CallError is a failure answered by the backend for a specific call.
type CallError struct {
	Procedure string
	// URI classifies the failure, e.g. ErrorNoSuchProcedure.
	URI string
	// Message is the human readable failure text.
	Message string
}

func (e *CallError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("call %s failed: %s", e.Procedure, e.URI)
	}
	return fmt.Sprintf("call %s failed: %s", e.Procedure, e.Message)
}

// Text returns the failure text suitable for showing to users: the message if
// one was provided, else the error URI.
func (e *CallError) Text() string {
	if e.Message != "" {
		return e.Message
	}
	return e.URI
}

// PanicError captures a panic raised while a call was executing.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic during call: %v", e.Value)
}

// ErrorText extracts the user-facing text from a call failure.
func ErrorText(err error) string {
	var ce *CallError
	if errors.As(err, &ce) {
		return ce.Text()
	}
	return err.Error()
}

// Validate reports whether sess can be registered with a transport.
func (s Session) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidSession)
	}
	if s.Realm == "" {
		return fmt.Errorf("%w: missing realm", ErrInvalidSession)
	}
	return nil
}
