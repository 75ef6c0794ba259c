package rpc_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ggoodman/apppage-go/rpc"
	"github.com/ggoodman/apppage-go/rpc/memoryrpc"
)

func TestFuturePanicIsCaptured(t *testing.T) {
	r := memoryrpc.New()
	r.Register("realm1", "boom", func(ctx context.Context, d rpc.CallDetails, kw map[string]any) (any, error) {
		panic("kaboom")
	})
	ctx := context.Background()
	sess := rpc.Session{ID: "s1", Realm: "realm1"}
	if err := r.RegisterSession(ctx, sess); err != nil {
		t.Fatalf("register: %v", err)
	}

	_, err := rpc.Invoke(ctx, r, sess, "boom", nil).Await(ctx)
	var pe *rpc.PanicError
	if !errors.As(err, &pe) {
		t.Fatalf("expected *rpc.PanicError, got %T (%v)", err, err)
	}
	if pe.Value != "kaboom" {
		t.Fatalf("unexpected panic value %v", pe.Value)
	}
	if len(pe.Stack) == 0 {
		t.Fatal("expected stack to be captured")
	}
}

func TestFutureAwaitHonorsContext(t *testing.T) {
	r := memoryrpc.New()
	release := make(chan struct{})
	defer close(release)
	r.Register("realm1", "block", func(ctx context.Context, d rpc.CallDetails, kw map[string]any) (any, error) {
		<-release
		return nil, nil
	})
	sess := rpc.Session{ID: "s1", Realm: "realm1"}
	if err := r.RegisterSession(context.Background(), sess); err != nil {
		t.Fatalf("register: %v", err)
	}

	f := rpc.Invoke(context.Background(), r, sess, "block", nil)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := f.Await(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestErrorText(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{"message", &rpc.CallError{Procedure: "p", URI: "u", Message: "boom"}, "boom"},
		{"uri only", &rpc.CallError{Procedure: "p", URI: rpc.ErrorNoSuchProcedure}, rpc.ErrorNoSuchProcedure},
		{"plain", errors.New("plain failure"), "plain failure"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := rpc.ErrorText(tc.err); got != tc.want {
				t.Fatalf("want %q got %q", tc.want, got)
			}
		})
	}
}
