package sessions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ggoodman/apppage-go/internal/metrics"
	"github.com/ggoodman/apppage-go/rpc"
	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"
)

// ErrClosed is returned by Resolve after Close.
var ErrClosed = errors.New("session registry closed")

const (
	defaultRegisterTimeout   = 10 * time.Second
	defaultUnregisterTimeout = 5 * time.Second
)

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger. If not provided, logs are discarded.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) { r.log = l }
}

// WithCache sets how the token cache is built. The default is
// LRUCache(DefaultMaxEntries, DefaultTTL).
func WithCache(f CacheFactory) Option {
	return func(r *Registry) { r.newCache = f }
}

// WithRoleResolver sets how the role of a new token handle is chosen. The
// default is AnonymousRoles.
func WithRoleResolver(rr RoleResolver) Option {
	return func(r *Registry) { r.roles = rr }
}

// WithMetrics sets the metrics updated on handle creation and eviction.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Registry) { r.metrics = m }
}

// WithUnregisterTimeout bounds each background unregistration of an evicted
// handle.
func WithUnregisterTimeout(d time.Duration) Option {
	return func(r *Registry) { r.unregisterTimeout = d }
}

// Registry resolves client tokens to registered session handles.
type Registry struct {
	realm     string
	transport rpc.Transport
	roles     RoleResolver
	log       *slog.Logger
	metrics   *metrics.Metrics

	newCache          CacheFactory
	cache             Cache
	group             singleflight.Group
	def               *Handle
	unregisterTimeout time.Duration

	// mu orders cache insertions against Close.
	mu     sync.Mutex
	closed atomic.Bool
	// live counts handles registered and not yet unregistered.
	live sync.WaitGroup
}

// NewRegistry creates a Registry for realm and registers its default
// anonymous handle with transport. The default handle is registered as
// durable and lives until Close.
func NewRegistry(ctx context.Context, realm string, transport rpc.Transport, opts ...Option) (*Registry, error) {
	r := &Registry{
		realm:             realm,
		transport:         transport,
		roles:             AnonymousRoles,
		log:               slog.New(slog.DiscardHandler),
		metrics:           metrics.NopMetrics(),
		newCache:          LRUCache(DefaultMaxEntries, DefaultTTL),
		unregisterTimeout: defaultUnregisterTimeout,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.cache = r.newCache(r.evicted)

	def := r.newHandle(RoleAnonymous)
	def.isDefault = true
	def.sess.Durable = true
	if err := transport.RegisterSession(ctx, def.sess); err != nil {
		return nil, fmt.Errorf("register default session: %w", err)
	}
	r.live.Add(1)
	r.def = def
	r.log.InfoContext(ctx, "session.default.ok", slog.String("handle_id", def.ID()), slog.String("realm", realm))
	return r, nil
}

func (r *Registry) newHandle(role string) *Handle {
	return &Handle{
		sess:      rpc.Session{ID: uuid.NewString(), Realm: r.realm, Role: role},
		transport: r.transport,
		onRetire:  r.release,
	}
}

// Default returns the shared anonymous handle. Unlike Resolve it does not
// start a use of the handle.
func (r *Registry) Default() *Handle { return r.def }

// Len returns the number of cached token handles.
func (r *Registry) Len() int { return r.cache.Len() }

// maxResolveAttempts bounds retries when a cached handle is evicted between
// lookup and use.
const maxResolveAttempts = 3

// Resolve returns the handle for token and starts a use of it; the caller
// must Release the handle when done. An empty token yields the default
// handle. A token seen for the first time gets a new handle, registered with
// the transport before it is cached and returned. A handle stays registered
// while it is in use, even if the cache evicts it.
func (r *Registry) Resolve(ctx context.Context, token []byte) (*Handle, error) {
	if r.closed.Load() {
		return nil, ErrClosed
	}
	if len(token) == 0 {
		if !r.def.acquire() {
			return nil, ErrClosed
		}
		r.log.DebugContext(ctx, "session.resolve.default")
		return r.def, nil
	}

	key := string(token)
	for attempt := 0; attempt < maxResolveAttempts; attempt++ {
		if h, ok := r.cache.Get(key); ok && h.acquire() {
			r.log.DebugContext(ctx, "session.resolve.cached", slog.String("handle_id", h.ID()))
			return h, nil
		}

		v, err, shared := r.group.Do(key, func() (any, error) {
			if h, ok := r.cache.Get(key); ok {
				return h, nil
			}
			return r.create(ctx, token)
		})
		if err != nil {
			return nil, err
		}
		h := v.(*Handle)
		if h.acquire() {
			if shared {
				r.log.DebugContext(ctx, "session.resolve.shared", slog.String("handle_id", h.ID()))
			}
			return h, nil
		}
		if r.closed.Load() {
			return nil, ErrClosed
		}
		r.log.DebugContext(ctx, "session.resolve.retired", slog.String("handle_id", h.ID()))
	}
	return nil, fmt.Errorf("resolve session: handle evicted %d times in a row", maxResolveAttempts)
}

// create registers a handle for token and caches it. Registration outlives
// the caller's cancellation since other callers may be waiting on it.
func (r *Registry) create(ctx context.Context, token []byte) (*Handle, error) {
	r.mu.Lock()
	if r.closed.Load() {
		r.mu.Unlock()
		return nil, ErrClosed
	}
	r.live.Add(1)
	r.mu.Unlock()

	regCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), defaultRegisterTimeout)
	defer cancel()

	role, err := r.roles.ResolveRole(regCtx, token)
	if err != nil {
		r.live.Done()
		return nil, fmt.Errorf("resolve role: %w", err)
	}
	h := r.newHandle(role)
	if err := r.transport.RegisterSession(regCtx, h.sess); err != nil {
		r.live.Done()
		r.log.ErrorContext(ctx, "session.create.fail", slog.String("err", err.Error()))
		return nil, fmt.Errorf("register session: %w", err)
	}

	r.mu.Lock()
	if r.closed.Load() {
		r.mu.Unlock()
		h.retire()
		return nil, ErrClosed
	}
	r.cache.Add(string(token), h)
	r.mu.Unlock()

	r.metrics.SessionsCreated.Add(1)
	r.log.InfoContext(ctx, "session.create.ok", slog.String("handle_id", h.ID()), slog.String("role", role))
	return h, nil
}

func (r *Registry) evicted(_ string, h *Handle) {
	r.metrics.SessionsEvicted.Add(1)
	h.retire()
}

// release unregisters h in the background.
func (r *Registry) release(h *Handle) {
	go func() {
		defer r.live.Done()
		ctx, cancel := context.WithTimeout(context.Background(), r.unregisterTimeout)
		defer cancel()
		if err := r.transport.UnregisterSession(ctx, h.sess); err != nil {
			r.log.Warn("session.unregister.fail", slog.String("handle_id", h.ID()), slog.String("err", err.Error()))
			return
		}
		r.log.Debug("session.unregister.ok", slog.String("handle_id", h.ID()))
	}()
}

// Close stops handing out handles and unregisters all of them, including the
// default one. Handles still in use are unregistered when their last caller
// releases them; Close waits for that until ctx ends. Resolve fails with
// ErrClosed afterwards.
func (r *Registry) Close(ctx context.Context) error {
	r.mu.Lock()
	if r.closed.Load() {
		r.mu.Unlock()
		return nil
	}
	r.closed.Store(true)
	r.mu.Unlock()

	r.cache.Purge()
	r.def.retire()

	done := make(chan struct{})
	go func() {
		r.live.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("close session registry: handles still in use: %w", ctx.Err())
	}
}
