package rpc

import (
	"context"
)

// Session identifies a registered execution context on the backend. The zero
// value is not a valid session.
type Session struct {
	ID    string
	Realm string
	Role  string
	// Durable sessions stay registered until they are unregistered.
	// Transports that expire idle sessions must not expire durable ones.
	Durable bool
}

// Transport carries sessions and calls to the backend. Implementations MUST be
// safe for concurrent use.
type Transport interface {
	// RegisterSession announces sess to the backend. It must complete before
	// the session is used for Call.
	RegisterSession(ctx context.Context, sess Session) error
	// UnregisterSession releases backend resources held for sess. Unknown
	// sessions are not an error.
	UnregisterSession(ctx context.Context, sess Session) error
	// Call invokes procedure with keyword arguments on behalf of sess.
	Call(ctx context.Context, sess Session, procedure string, kwargs map[string]any) (any, error)
}

// CallDetails describes the caller of a procedure as seen by a callee.
type CallDetails struct {
	Session   Session
	Procedure string
}

// ProcedureFunc implements a procedure on the callee side of a transport.
type ProcedureFunc func(ctx context.Context, details CallDetails, kwargs map[string]any) (any, error)
