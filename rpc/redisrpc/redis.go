package redisrpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ggoodman/apppage-go/rpc"
	"github.com/google/uuid"
	"github.com/joeshaw/envdecode"
	"github.com/redis/go-redis/v9"
)

var _ rpc.Transport = (*Transport)(nil)

// Config for the Redis-backed transport. Defaults can be loaded via envdecode.
type Config struct {
	// RedisAddr like "localhost:6379". ENV: REDIS_ADDR
	RedisAddr string `env:"REDIS_ADDR,default=localhost:6379"`
	// KeyPrefix for all keys. ENV: APPPAGE_RPC_KEY_PREFIX
	KeyPrefix string `env:"APPPAGE_RPC_KEY_PREFIX,default=apppage:rpc:"`
	// SessionTTL bounds how long a registered session survives without a
	// call. Every call restarts it. Durable sessions never expire. Keep it
	// above the session registry's TTL. ENV: APPPAGE_RPC_SESSION_TTL
	SessionTTL time.Duration `env:"APPPAGE_RPC_SESSION_TTL,default=48h"`
	// ReplyTTL bounds how long an unread reply is kept. ENV: APPPAGE_RPC_REPLY_TTL
	ReplyTTL time.Duration `env:"APPPAGE_RPC_REPLY_TTL,default=1m"`
}

// Option configures a Transport.
type Option func(*Transport)

// WithLogger sets the logger used by callee workers. If not provided, logs are discarded.
func WithLogger(l *slog.Logger) Option {
	return func(t *Transport) { t.log = l }
}

const blockInterval = time.Second

// DefaultSessionTTL is the idle expiry used when Config.SessionTTL is unset.
const DefaultSessionTTL = 48 * time.Hour

type Transport struct {
	client     *redis.Client
	ownsClient bool
	keyPrefix  string
	sessionTTL time.Duration
	replyTTL   time.Duration
	log        *slog.Logger
}

// New dials Redis at cfg.RedisAddr and verifies the connection.
func New(cfg Config, opts ...Option) (*Transport, error) {
	addr := cfg.RedisAddr
	if addr == "" {
		addr = "localhost:6379"
	}
	cl := redis.NewClient(&redis.Options{Addr: addr, ContextTimeoutEnabled: true})
	if err := cl.Ping(context.Background()).Err(); err != nil {
		_ = cl.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	t := NewWithClient(cl, cfg, opts...)
	t.ownsClient = true
	return t, nil
}

// NewFromEnv builds a Transport using envdecode to populate Config.
func NewFromEnv(opts ...Option) (*Transport, error) {
	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("decode redis rpc config: %w", err)
	}
	return New(cfg, opts...)
}

// NewWithClient wraps an existing client. The caller keeps ownership of it.
func NewWithClient(client *redis.Client, cfg Config, opts ...Option) *Transport {
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "apppage:rpc:"
	}
	sessionTTL := cfg.SessionTTL
	if sessionTTL <= 0 {
		sessionTTL = DefaultSessionTTL
	}
	replyTTL := cfg.ReplyTTL
	if replyTTL <= 0 {
		replyTTL = time.Minute
	}
	t := &Transport{client: client, keyPrefix: prefix, sessionTTL: sessionTTL, replyTTL: replyTTL, log: slog.New(slog.DiscardHandler)}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Close closes the Redis client if the transport created it.
func (t *Transport) Close() error {
	if !t.ownsClient {
		return nil
	}
	return t.client.Close()
}

// --- Key helpers ---

func (t *Transport) sessionKey(id string) string       { return t.keyPrefix + "session:" + id }
func (t *Transport) proceduresKey(realm string) string { return t.keyPrefix + "procedures:" + realm }
func (t *Transport) callsKey(realm, procedure string) string {
	return t.keyPrefix + "calls:" + realm + ":" + procedure
}
func (t *Transport) replyKey(callID string) string { return t.keyPrefix + "reply:" + callID }

// --- Wire envelopes ---

type callEnvelope struct {
	ID        string         `json:"id"`
	Session   wireSession    `json:"session"`
	Procedure string         `json:"procedure"`
	Kwargs    map[string]any `json:"kwargs,omitempty"`
	ReplyTo   string         `json:"reply_to"`
	Deadline  *time.Time     `json:"deadline,omitempty"`
}

type wireSession struct {
	ID    string `json:"id"`
	Realm string `json:"realm"`
	Role  string `json:"role"`
}

type replyEnvelope struct {
	ID     string          `json:"id"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *replyError     `json:"error,omitempty"`
}

type replyError struct {
	URI     string `json:"uri"`
	Message string `json:"message,omitempty"`
}

// --- Sessions ---

func (t *Transport) RegisterSession(ctx context.Context, sess rpc.Session) error {
	if err := sess.Validate(); err != nil {
		return err
	}
	key := t.sessionKey(sess.ID)
	_, err := t.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, key, "realm", sess.Realm, "role", sess.Role)
		if sess.Durable {
			p.Persist(ctx, key)
		} else {
			p.Expire(ctx, key, t.sessionTTL)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("register session %s: %w", sess.ID, err)
	}
	return nil
}

func (t *Transport) UnregisterSession(ctx context.Context, sess rpc.Session) error {
	if err := t.client.Del(context.WithoutCancel(ctx), t.sessionKey(sess.ID)).Err(); err != nil {
		return fmt.Errorf("unregister session %s: %w", sess.ID, err)
	}
	return nil
}

// --- Calls ---

func (t *Transport) Call(ctx context.Context, sess rpc.Session, procedure string, kwargs map[string]any) (any, error) {
	fields, err := t.touchSession(ctx, sess)
	if err != nil {
		return nil, t.ctxErr(ctx, fmt.Errorf("load session %s: %w", sess.ID, err))
	}
	if len(fields) == 0 {
		return nil, fmt.Errorf("call %s: %w", procedure, rpc.ErrSessionNotRegistered)
	}
	registered := wireSession{ID: sess.ID, Realm: fields["realm"], Role: fields["role"]}

	ok, err := t.client.SIsMember(ctx, t.proceduresKey(registered.Realm), procedure).Result()
	if err != nil {
		return nil, t.ctxErr(ctx, fmt.Errorf("lookup procedure %s: %w", procedure, err))
	}
	if !ok {
		return nil, &rpc.CallError{Procedure: procedure, URI: rpc.ErrorNoSuchProcedure, Message: fmt.Sprintf("no callee registered for procedure <%s>", procedure)}
	}

	env := callEnvelope{
		ID:        uuid.NewString(),
		Session:   registered,
		Procedure: procedure,
		Kwargs:    kwargs,
	}
	env.ReplyTo = t.replyKey(env.ID)
	if dl, ok := ctx.Deadline(); ok {
		env.Deadline = &dl
	}
	b, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encode call %s: %w", procedure, err)
	}
	if err := t.client.LPush(ctx, t.callsKey(registered.Realm, procedure), b).Err(); err != nil {
		return nil, t.ctxErr(ctx, fmt.Errorf("enqueue call %s: %w", procedure, err))
	}

	for {
		res, err := t.client.BLPop(ctx, blockInterval, env.ReplyTo).Result()
		if err != nil {
			if ctx.Err() != nil {
				// best-effort cleanup of a reply that may still arrive
				_ = t.client.Del(context.WithoutCancel(ctx), env.ReplyTo).Err()
				return nil, ctx.Err()
			}
			if errors.Is(err, redis.Nil) {
				continue
			}
			return nil, fmt.Errorf("await reply for %s: %w", procedure, err)
		}
		if len(res) != 2 {
			continue
		}
		return decodeReply(procedure, []byte(res[1]))
	}
}

// touchSession loads the registered session and restarts its idle expiry.
func (t *Transport) touchSession(ctx context.Context, sess rpc.Session) (map[string]string, error) {
	key := t.sessionKey(sess.ID)
	var fields *redis.MapStringStringCmd
	_, err := t.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		fields = p.HGetAll(ctx, key)
		if !sess.Durable {
			p.Expire(ctx, key, t.sessionTTL)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return fields.Val(), nil
}

func decodeReply(procedure string, data []byte) (any, error) {
	var rep replyEnvelope
	if err := json.Unmarshal(data, &rep); err != nil {
		return nil, fmt.Errorf("decode reply for %s: %w", procedure, err)
	}
	if rep.Error != nil {
		return nil, &rpc.CallError{Procedure: procedure, URI: rep.Error.URI, Message: rep.Error.Message}
	}
	if len(rep.Result) == 0 {
		return nil, nil
	}
	var result any
	if err := json.Unmarshal(rep.Result, &result); err != nil {
		return nil, fmt.Errorf("decode result for %s: %w", procedure, err)
	}
	return result, nil
}

func (t *Transport) ctxErr(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

// --- Callee side ---

// Registration is a running callee worker for one procedure.
type Registration struct {
	cancel context.CancelFunc
	done   chan struct{}
	err    error
}

// Stop halts the worker and waits for in-flight calls to be answered.
func (r *Registration) Stop() error {
	r.cancel()
	<-r.done
	if errors.Is(r.err, context.Canceled) {
		return nil
	}
	return r.err
}

// Done is closed when the worker exits.
func (r *Registration) Done() <-chan struct{} { return r.done }

// Register announces procedure within realm and serves calls with fn until
// ctx ends or Stop is called. The procedure is callable once Register returns.
func (t *Transport) Register(ctx context.Context, realm, procedure string, fn rpc.ProcedureFunc) (*Registration, error) {
	if err := t.client.SAdd(ctx, t.proceduresKey(realm), procedure).Err(); err != nil {
		return nil, fmt.Errorf("announce procedure %s: %w", procedure, err)
	}
	ctx, cancel := context.WithCancel(ctx)
	reg := &Registration{cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(reg.done)
		reg.err = t.serve(ctx, realm, procedure, fn)
		_ = t.client.SRem(context.WithoutCancel(ctx), t.proceduresKey(realm), procedure).Err()
	}()
	return reg, nil
}

func (t *Transport) serve(ctx context.Context, realm, procedure string, fn rpc.ProcedureFunc) error {
	queue := t.callsKey(realm, procedure)
	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		res, err := t.client.BRPop(ctx, blockInterval, queue).Result()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, redis.Nil) {
				continue
			}
			t.log.ErrorContext(ctx, "rpc.callee.pop.fail", slog.String("procedure", procedure), slog.String("err", err.Error()))
			return fmt.Errorf("dequeue %s: %w", procedure, err)
		}
		if len(res) != 2 {
			continue
		}

		var env callEnvelope
		if err := json.Unmarshal([]byte(res[1]), &env); err != nil {
			t.log.WarnContext(ctx, "rpc.callee.decode.fail", slog.String("procedure", procedure), slog.String("err", err.Error()))
			continue
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			t.handle(context.WithoutCancel(ctx), env, fn)
		}()
	}
}

func (t *Transport) handle(ctx context.Context, env callEnvelope, fn rpc.ProcedureFunc) {
	if env.Deadline != nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithDeadline(ctx, *env.Deadline)
		defer cancel()
	}

	details := rpc.CallDetails{
		Session:   rpc.Session{ID: env.Session.ID, Realm: env.Session.Realm, Role: env.Session.Role},
		Procedure: env.Procedure,
	}
	kwargs := env.Kwargs
	if kwargs == nil {
		kwargs = map[string]any{}
	}

	rep := replyEnvelope{ID: env.ID}
	res, err := invokeProcedure(ctx, fn, details, kwargs)
	if err != nil {
		rep.Error = toReplyError(err)
	} else if b, mErr := json.Marshal(res); mErr != nil {
		rep.Error = &replyError{URI: rpc.ErrorRuntime, Message: fmt.Sprintf("encode result: %v", mErr)}
	} else {
		rep.Result = b
	}

	b, err := json.Marshal(rep)
	if err != nil {
		t.log.ErrorContext(ctx, "rpc.callee.reply.encode.fail", slog.String("procedure", env.Procedure), slog.String("err", err.Error()))
		return
	}
	wctx := context.WithoutCancel(ctx)
	if _, err := t.client.TxPipelined(wctx, func(p redis.Pipeliner) error {
		p.RPush(wctx, env.ReplyTo, b)
		p.Expire(wctx, env.ReplyTo, t.replyTTL)
		return nil
	}); err != nil {
		t.log.ErrorContext(ctx, "rpc.callee.reply.fail", slog.String("procedure", env.Procedure), slog.String("err", err.Error()))
	}
}

func invokeProcedure(ctx context.Context, fn rpc.ProcedureFunc, details rpc.CallDetails, kwargs map[string]any) (res any, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("procedure panicked: %v", p)
		}
	}()
	return fn(ctx, details, kwargs)
}

func toReplyError(err error) *replyError {
	var ce *rpc.CallError
	if errors.As(err, &ce) {
		uri := ce.URI
		if uri == "" {
			uri = rpc.ErrorRuntime
		}
		return &replyError{URI: uri, Message: ce.Message}
	}
	return &replyError{URI: rpc.ErrorRuntime, Message: err.Error()}
}
