package rpctest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ggoodman/apppage-go/rpc"
	"github.com/google/uuid"
)

// Harness bundles a transport under test with a way to install procedures on
// its callee side.
type Harness struct {
	Transport rpc.Transport
	// Provide installs fn as procedure within realm. It must return only once
	// the procedure is callable.
	Provide func(t *testing.T, realm, procedure string, fn rpc.ProcedureFunc)
}

// TransportFactory creates a fresh, isolated Harness for a single test.
type TransportFactory func(t *testing.T) Harness

// RunTransportTests runs the complete Transport test suite against the provided factory.
func RunTransportTests(t *testing.T, factory TransportFactory) {
	t.Run("Call_ReturnsResultMapping", func(t *testing.T) { testCallReturnsResultMapping(t, factory) })
	t.Run("Call_DeliversKwargsAndCaller", func(t *testing.T) { testCallDeliversKwargsAndCaller(t, factory) })
	t.Run("Call_ProcedureErrorBecomesCallError", func(t *testing.T) { testProcedureErrorBecomesCallError(t, factory) })
	t.Run("Call_CallErrorKeepsURI", func(t *testing.T) { testCallErrorKeepsURI(t, factory) })
	t.Run("Call_UnknownProcedure", func(t *testing.T) { testUnknownProcedure(t, factory) })
	t.Run("Call_UnregisteredSession", func(t *testing.T) { testUnregisteredSession(t, factory) })
	t.Run("Call_AfterUnregister", func(t *testing.T) { testCallAfterUnregister(t, factory) })
	t.Run("Call_ContextDeadline", func(t *testing.T) { testCallContextDeadline(t, factory) })
	t.Run("Call_ConcurrentCallsAreIsolated", func(t *testing.T) { testConcurrentCallsAreIsolated(t, factory) })
	t.Run("Future_AwaitReturnsResult", func(t *testing.T) { testFutureAwait(t, factory) })
	t.Run("Session_RegisterRejectsInvalid", func(t *testing.T) { testRegisterRejectsInvalid(t, factory) })
}

const realm = "realm1"

func newSession(t *testing.T, h Harness, ctx context.Context) rpc.Session {
	t.Helper()
	sess := rpc.Session{ID: uuid.NewString(), Realm: realm, Role: "anonymous"}
	if err := h.Transport.RegisterSession(ctx, sess); err != nil {
		t.Fatalf("register session: %v", err)
	}
	return sess
}

func echo(ctx context.Context, d rpc.CallDetails, kwargs map[string]any) (any, error) {
	return kwargs, nil
}

func testCallReturnsResultMapping(t *testing.T, factory TransportFactory) {
	h := factory(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	h.Provide(t, realm, "test.greet", func(ctx context.Context, d rpc.CallDetails, kwargs map[string]any) (any, error) {
		return map[string]any{"name": "Ann"}, nil
	})
	sess := newSession(t, h, ctx)

	res, err := h.Transport.Call(ctx, sess, "test.greet", nil)
	if err != nil {
		t.Fatalf("call failed: %v", err)
	}
	m, ok := res.(map[string]any)
	if !ok {
		t.Fatalf("expected map result, got %T", res)
	}
	if m["name"] != "Ann" {
		t.Fatalf("expected name=Ann, got %v", m["name"])
	}
}

func testCallDeliversKwargsAndCaller(t *testing.T, factory TransportFactory) {
	h := factory(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var (
		mu      sync.Mutex
		gotKw   map[string]any
		gotCall rpc.CallDetails
	)
	h.Provide(t, realm, "test.capture", func(ctx context.Context, d rpc.CallDetails, kwargs map[string]any) (any, error) {
		mu.Lock()
		defer mu.Unlock()
		gotKw = kwargs
		gotCall = d
		return map[string]any{}, nil
	})
	sess := newSession(t, h, ctx)

	if _, err := h.Transport.Call(ctx, sess, "test.capture", map[string]any{"user": "ann", "page": "2"}); err != nil {
		t.Fatalf("call failed: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if gotKw["user"] != "ann" || gotKw["page"] != "2" || len(gotKw) != 2 {
		t.Fatalf("unexpected kwargs: %#v", gotKw)
	}
	if gotCall.Session.ID != sess.ID || gotCall.Session.Realm != realm || gotCall.Session.Role != "anonymous" {
		t.Fatalf("unexpected caller: %#v", gotCall.Session)
	}
	if gotCall.Procedure != "test.capture" {
		t.Fatalf("unexpected procedure: %q", gotCall.Procedure)
	}
}

func testProcedureErrorBecomesCallError(t *testing.T, factory TransportFactory) {
	h := factory(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	h.Provide(t, realm, "test.fail", func(ctx context.Context, d rpc.CallDetails, kwargs map[string]any) (any, error) {
		return nil, errors.New("boom")
	})
	sess := newSession(t, h, ctx)

	_, err := h.Transport.Call(ctx, sess, "test.fail", nil)
	var ce *rpc.CallError
	if !errors.As(err, &ce) {
		t.Fatalf("expected *rpc.CallError, got %T (%v)", err, err)
	}
	if !strings.Contains(ce.Text(), "boom") {
		t.Fatalf("expected failure text to contain boom, got %q", ce.Text())
	}
}

func testCallErrorKeepsURI(t *testing.T, factory TransportFactory) {
	h := factory(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	h.Provide(t, realm, "test.notfound", func(ctx context.Context, d rpc.CallDetails, kwargs map[string]any) (any, error) {
		return nil, &rpc.CallError{URI: "com.example.error.not_found", Message: "no such user"}
	})
	sess := newSession(t, h, ctx)

	_, err := h.Transport.Call(ctx, sess, "test.notfound", nil)
	var ce *rpc.CallError
	if !errors.As(err, &ce) {
		t.Fatalf("expected *rpc.CallError, got %T (%v)", err, err)
	}
	if ce.URI != "com.example.error.not_found" {
		t.Fatalf("expected URI to be preserved, got %q", ce.URI)
	}
	if ce.Message != "no such user" {
		t.Fatalf("expected message to be preserved, got %q", ce.Message)
	}
}

func testUnknownProcedure(t *testing.T, factory TransportFactory) {
	h := factory(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sess := newSession(t, h, ctx)

	_, err := h.Transport.Call(ctx, sess, "test.missing", nil)
	var ce *rpc.CallError
	if !errors.As(err, &ce) {
		t.Fatalf("expected *rpc.CallError, got %T (%v)", err, err)
	}
	if ce.URI != rpc.ErrorNoSuchProcedure {
		t.Fatalf("expected %s, got %q", rpc.ErrorNoSuchProcedure, ce.URI)
	}
}

func testUnregisteredSession(t *testing.T, factory TransportFactory) {
	h := factory(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	h.Provide(t, realm, "test.echo", echo)
	sess := rpc.Session{ID: uuid.NewString(), Realm: realm, Role: "anonymous"}

	_, err := h.Transport.Call(ctx, sess, "test.echo", nil)
	if !errors.Is(err, rpc.ErrSessionNotRegistered) {
		t.Fatalf("expected ErrSessionNotRegistered, got %v", err)
	}
}

func testCallAfterUnregister(t *testing.T, factory TransportFactory) {
	h := factory(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	h.Provide(t, realm, "test.echo", echo)
	sess := newSession(t, h, ctx)

	if _, err := h.Transport.Call(ctx, sess, "test.echo", nil); err != nil {
		t.Fatalf("call before unregister: %v", err)
	}
	if err := h.Transport.UnregisterSession(ctx, sess); err != nil {
		t.Fatalf("unregister: %v", err)
	}
	if _, err := h.Transport.Call(ctx, sess, "test.echo", nil); !errors.Is(err, rpc.ErrSessionNotRegistered) {
		t.Fatalf("expected ErrSessionNotRegistered after unregister, got %v", err)
	}
	// Unregistering twice is allowed.
	if err := h.Transport.UnregisterSession(ctx, sess); err != nil {
		t.Fatalf("second unregister: %v", err)
	}
}

func testCallContextDeadline(t *testing.T, factory TransportFactory) {
	h := factory(t)

	release := make(chan struct{})
	defer close(release)
	h.Provide(t, realm, "test.slow", func(ctx context.Context, d rpc.CallDetails, kwargs map[string]any) (any, error) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-release:
			return map[string]any{}, nil
		}
	})

	regCtx, regCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer regCancel()
	sess := newSession(t, h, regCtx)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := h.Transport.Call(ctx, sess, "test.slow", nil)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected context.DeadlineExceeded, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Fatalf("call did not honor deadline promptly: %s", elapsed)
	}
}

func testConcurrentCallsAreIsolated(t *testing.T, factory TransportFactory) {
	h := factory(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	h.Provide(t, realm, "test.echo", echo)
	sess := newSession(t, h, ctx)

	const n = 8
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			want := fmt.Sprintf("v%d", i)
			res, err := h.Transport.Call(ctx, sess, "test.echo", map[string]any{"v": want})
			if err != nil {
				errs <- err
				return
			}
			m, ok := res.(map[string]any)
			if !ok || m["v"] != want {
				errs <- fmt.Errorf("call %d: unexpected result %#v", i, res)
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}

func testFutureAwait(t *testing.T, factory TransportFactory) {
	h := factory(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	h.Provide(t, realm, "test.echo", echo)
	sess := newSession(t, h, ctx)

	f := rpc.Invoke(ctx, h.Transport, sess, "test.echo", map[string]any{"name": "Ann"})
	select {
	case <-f.Done():
	case <-time.After(3 * time.Second):
		t.Fatal("future did not complete")
	}
	res, err := f.Await(ctx)
	if err != nil {
		t.Fatalf("await: %v", err)
	}
	if m, ok := res.(map[string]any); !ok || m["name"] != "Ann" {
		t.Fatalf("unexpected result %#v", res)
	}
}

func testRegisterRejectsInvalid(t *testing.T, factory TransportFactory) {
	h := factory(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := h.Transport.RegisterSession(ctx, rpc.Session{Realm: realm}); !errors.Is(err, rpc.ErrInvalidSession) {
		t.Fatalf("expected ErrInvalidSession for missing id, got %v", err)
	}
	if err := h.Transport.RegisterSession(ctx, rpc.Session{ID: uuid.NewString()}); !errors.Is(err, rpc.ErrInvalidSession) {
		t.Fatalf("expected ErrInvalidSession for missing realm, got %v", err)
	}
}
