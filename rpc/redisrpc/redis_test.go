package redisrpc

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/ggoodman/apppage-go/rpc"
	"github.com/ggoodman/apppage-go/rpc/rpctest"
	"github.com/ggoodman/apppage-go/sessions"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

func newTestClient(t *testing.T) *redis.Client {
	t.Helper()
	// Skip test if Redis is not available
	client := redis.NewClient(&redis.Options{
		Addr:                  "127.0.0.1:6379",
		DB:                    3, // Use separate DB for rpc tests
		ContextTimeoutEnabled: true,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		_ = client.Close()
		t.Skipf("Redis not available: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestTransportConformance(t *testing.T) {
	client := newTestClient(t)

	rpctest.RunTransportTests(t, func(t *testing.T) rpctest.Harness {
		prefix := "apppage:test:" + uuid.NewString() + ":"
		tr := NewWithClient(client, Config{KeyPrefix: prefix, SessionTTL: time.Minute})
		t.Cleanup(func() { deletePrefix(t, client, prefix) })

		return rpctest.Harness{
			Transport: tr,
			Provide: func(t *testing.T, realm, procedure string, fn rpc.ProcedureFunc) {
				reg, err := tr.Register(context.Background(), realm, procedure, fn)
				if err != nil {
					t.Fatalf("register procedure: %v", err)
				}
				t.Cleanup(func() { _ = reg.Stop() })
			},
		}
	})
}

func TestRegistrationStopWithdrawsProcedure(t *testing.T) {
	client := newTestClient(t)
	prefix := "apppage:test:" + uuid.NewString() + ":"
	defer deletePrefix(t, client, prefix)

	tr := NewWithClient(client, Config{KeyPrefix: prefix})
	ctx := context.Background()

	reg, err := tr.Register(ctx, "realm1", "p", func(ctx context.Context, d rpc.CallDetails, kw map[string]any) (any, error) {
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := reg.Stop(); err != nil {
		t.Fatalf("stop: %v", err)
	}

	ok, err := client.SIsMember(ctx, tr.proceduresKey("realm1"), "p").Result()
	if err != nil {
		t.Fatalf("sismember: %v", err)
	}
	if ok {
		t.Fatal("expected procedure to be withdrawn after Stop")
	}
}

func TestSessionKeyHasTTL(t *testing.T) {
	client := newTestClient(t)
	prefix := "apppage:test:" + uuid.NewString() + ":"
	defer deletePrefix(t, client, prefix)

	tr := NewWithClient(client, Config{KeyPrefix: prefix, SessionTTL: time.Minute})
	ctx := context.Background()
	sess := rpc.Session{ID: uuid.NewString(), Realm: "realm1", Role: "anonymous"}
	if err := tr.RegisterSession(ctx, sess); err != nil {
		t.Fatalf("register: %v", err)
	}
	ttl, err := client.TTL(ctx, tr.sessionKey(sess.ID)).Result()
	if err != nil {
		t.Fatalf("ttl: %v", err)
	}
	if ttl <= 0 || ttl > time.Minute {
		t.Fatalf("unexpected ttl %s", ttl)
	}
}

// newMiniredis starts an in-process Redis whose clock tests can advance.
func newMiniredis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), ContextTimeoutEnabled: true})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func provideEcho(t *testing.T, tr *Transport, realm, procedure string) {
	t.Helper()
	reg, err := tr.Register(context.Background(), realm, procedure, func(ctx context.Context, d rpc.CallDetails, kw map[string]any) (any, error) {
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("register procedure: %v", err)
	}
	t.Cleanup(func() { _ = reg.Stop() })
}

func callWithin(t *testing.T, tr *Transport, sess rpc.Session, procedure string) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := tr.Call(ctx, sess, procedure, nil)
	return err
}

func TestDefaultHandleOutlivesSessionTTL(t *testing.T) {
	mr, client := newMiniredis(t)
	tr := NewWithClient(client, Config{SessionTTL: time.Hour})
	provideEcho(t, tr, "realm1", "p")

	ctx := context.Background()
	reg, err := sessions.NewRegistry(ctx, "realm1", tr)
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	t.Cleanup(func() {
		cctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = reg.Close(cctx)
	})

	h, err := reg.Resolve(ctx, nil)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	defer h.Release()
	if err := callWithin(t, tr, h.Session(), "p"); err != nil {
		t.Fatalf("first call: %v", err)
	}

	mr.FastForward(25 * time.Hour)

	if err := callWithin(t, tr, h.Session(), "p"); err != nil {
		t.Fatalf("call after idle period: %v", err)
	}
	if ttl := mr.TTL(tr.sessionKey(h.ID())); ttl != 0 {
		t.Fatalf("default session must not expire, ttl %s", ttl)
	}
}

func TestCallsRestartSessionIdleExpiry(t *testing.T) {
	mr, client := newMiniredis(t)
	tr := NewWithClient(client, Config{SessionTTL: time.Hour})
	provideEcho(t, tr, "realm1", "p")

	sess := rpc.Session{ID: uuid.NewString(), Realm: "realm1", Role: "anonymous"}
	if err := tr.RegisterSession(context.Background(), sess); err != nil {
		t.Fatalf("register: %v", err)
	}

	for i := 0; i < 3; i++ {
		mr.FastForward(50 * time.Minute)
		if err := callWithin(t, tr, sess, "p"); err != nil {
			t.Fatalf("call %d: %v", i, err)
		}
	}

	mr.FastForward(2 * time.Hour)
	if err := callWithin(t, tr, sess, "p"); !errors.Is(err, rpc.ErrSessionNotRegistered) {
		t.Fatalf("expected idle session to expire, got %v", err)
	}
}

func deletePrefix(t *testing.T, client *redis.Client, prefix string) {
	t.Helper()
	ctx := context.Background()
	var cursor uint64
	for {
		keys, cur, err := client.Scan(ctx, cursor, prefix+"*", 100).Result()
		if err != nil {
			return
		}
		if len(keys) > 0 {
			_ = client.Del(ctx, keys...).Err()
		}
		if cur == 0 {
			return
		}
		cursor = cur
	}
}
