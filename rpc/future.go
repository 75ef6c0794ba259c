package rpc

import (
	"context"
	"runtime/debug"
)

// Future is the pending outcome of a single call.
type Future struct {
	done   chan struct{}
	result any
	err    error
}

// Invoke starts procedure on t for sess and returns immediately. The call
// observes ctx; canceling it cancels the call.
func Invoke(ctx context.Context, t Transport, sess Session, procedure string, kwargs map[string]any) *Future {
	f := &Future{done: make(chan struct{})}
	go func() {
		defer close(f.done)
		defer func() {
			if p := recover(); p != nil {
				f.result = nil
				f.err = &PanicError{Value: p, Stack: debug.Stack()}
			}
		}()
		f.result, f.err = t.Call(ctx, sess, procedure, kwargs)
	}()
	return f
}

// Done is closed once the call has completed.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Await blocks until the call completes or ctx ends, whichever is first.
func (f *Future) Await(ctx context.Context) (any, error) {
	select {
	case <-f.done:
		return f.result, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
