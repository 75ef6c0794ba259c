package memoryrpc

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/ggoodman/apppage-go/rpc"
)

var _ rpc.Transport = (*Router)(nil)

// Router is an in-memory implementation of rpc.Transport.
type Router struct {
	mu         sync.RWMutex
	procedures map[procedureKey]rpc.ProcedureFunc

	sessMu   sync.RWMutex
	sessions map[string]rpc.Session

	registrations   atomic.Int64
	unregistrations atomic.Int64
	calls           atomic.Int64
}

type procedureKey struct {
	realm     string
	procedure string
}

func New() *Router {
	return &Router{
		procedures: make(map[procedureKey]rpc.ProcedureFunc),
		sessions:   make(map[string]rpc.Session),
	}
}

// Register installs fn as procedure within realm, replacing any previous
// registration.
func (r *Router) Register(realm, procedure string, fn rpc.ProcedureFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.procedures[procedureKey{realm: realm, procedure: procedure}] = fn
}

// Unregister removes procedure from realm.
func (r *Router) Unregister(realm, procedure string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.procedures, procedureKey{realm: realm, procedure: procedure})
}

// --- Sessions ---

func (r *Router) RegisterSession(ctx context.Context, sess rpc.Session) error {
	if err := sess.Validate(); err != nil {
		return err
	}
	r.sessMu.Lock()
	r.sessions[sess.ID] = sess
	r.sessMu.Unlock()
	r.registrations.Add(1)
	return nil
}

func (r *Router) UnregisterSession(ctx context.Context, sess rpc.Session) error {
	r.sessMu.Lock()
	_, ok := r.sessions[sess.ID]
	delete(r.sessions, sess.ID)
	r.sessMu.Unlock()
	if ok {
		r.unregistrations.Add(1)
	}
	return nil
}

// Sessions returns the number of currently registered sessions.
func (r *Router) Sessions() int {
	r.sessMu.RLock()
	defer r.sessMu.RUnlock()
	return len(r.sessions)
}

// Registrations returns how many times RegisterSession succeeded.
func (r *Router) Registrations() int64 { return r.registrations.Load() }

// Unregistrations returns how many registered sessions were released.
func (r *Router) Unregistrations() int64 { return r.unregistrations.Load() }

// Calls returns how many calls reached a procedure lookup.
func (r *Router) Calls() int64 { return r.calls.Load() }

// --- Calls ---

func (r *Router) Call(ctx context.Context, sess rpc.Session, procedure string, kwargs map[string]any) (any, error) {
	r.sessMu.RLock()
	registered, ok := r.sessions[sess.ID]
	r.sessMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("call %s: %w", procedure, rpc.ErrSessionNotRegistered)
	}

	r.calls.Add(1)

	r.mu.RLock()
	fn, ok := r.procedures[procedureKey{realm: registered.Realm, procedure: procedure}]
	r.mu.RUnlock()
	if !ok {
		return nil, &rpc.CallError{Procedure: procedure, URI: rpc.ErrorNoSuchProcedure, Message: fmt.Sprintf("no callee registered for procedure <%s>", procedure)}
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if kwargs == nil {
		kwargs = map[string]any{}
	}

	res, err := fn(ctx, rpc.CallDetails{Session: registered, Procedure: procedure}, kwargs)
	if err != nil {
		var ce *rpc.CallError
		if errors.As(err, &ce) {
			return nil, ce
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, &rpc.CallError{Procedure: procedure, URI: rpc.ErrorRuntime, Message: err.Error()}
	}
	return res, nil
}
