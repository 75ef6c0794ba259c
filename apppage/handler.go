package apppage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ggoodman/apppage-go/internal/logctx"
	"github.com/ggoodman/apppage-go/internal/metrics"
	"github.com/ggoodman/apppage-go/render"
	"github.com/ggoodman/apppage-go/routes"
	"github.com/ggoodman/apppage-go/rpc"
	"github.com/ggoodman/apppage-go/sessions"
	"github.com/google/uuid"
)

const (
	// DefaultSessionCookie names the cookie carrying the session token.
	DefaultSessionCookie = "session_cookie"

	msgPathNotFound      = "path not found"
	msgMethodNotAllowed  = "method not allowed"
	msgNoSession         = "could not call procedure - no session"
	msgUnexpectedFailure = "unknown error"
)

var _ http.Handler = (*Handler)(nil)

// SessionResolver yields the session handle for a request's token. An empty
// token asks for the shared default handle. The handler releases every handle
// it resolves once the call has completed.
type SessionResolver interface {
	Resolve(ctx context.Context, token []byte) (*sessions.Handle, error)
}

// Option configures a Handler.
type Option func(*config)

type config struct {
	logger         *slog.Logger
	metrics        *metrics.Metrics
	cookieName     string
	mismatchStatus int
	callTimeout    time.Duration
}

// WithLogger sets the logger used by the handler. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(c *config) { c.logger = l }
}

// WithMetrics sets the metrics updated per request. Defaults to no-op metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *config) { c.metrics = m }
}

// WithSessionCookie sets the name of the cookie holding the session token.
func WithSessionCookie(name string) Option {
	return func(c *config) { c.cookieName = name }
}

// WithMethodMismatchStatus sets the status answered when the path matches a
// route but the method does not. Defaults to 405.
func WithMethodMismatchStatus(status int) Option {
	return func(c *config) { c.mismatchStatus = status }
}

// WithCallTimeout bounds each remote call. Zero means the call is bounded only
// by the request's context.
func WithCallTimeout(d time.Duration) Option {
	return func(c *config) { c.callTimeout = d }
}

// Handler bridges HTTP requests to remote procedure calls rendered as HTML.
type Handler struct {
	routes   *routes.Table
	sessions SessionResolver
	log      *slog.Logger
	metrics  *metrics.Metrics

	cookieName     string
	mismatchStatus int
	callTimeout    time.Duration
}

// New returns a Handler serving the routes in table, calling through handles
// from resolver.
func New(table *routes.Table, resolver SessionResolver, opts ...Option) (*Handler, error) {
	if table == nil {
		return nil, errors.New("route table is required")
	}
	if resolver == nil {
		return nil, errors.New("session resolver is required")
	}

	cfg := &config{
		logger:         slog.Default(),
		metrics:        metrics.NopMetrics(),
		cookieName:     DefaultSessionCookie,
		mismatchStatus: http.StatusMethodNotAllowed,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.mismatchStatus < 100 || cfg.mismatchStatus > 599 {
		return nil, fmt.Errorf("invalid method mismatch status %d", cfg.mismatchStatus)
	}
	if cfg.cookieName == "" {
		return nil, errors.New("session cookie name must not be empty")
	}

	log := cfg.logger
	if _, ok := log.Handler().(logctx.Handler); !ok {
		log = slog.New(logctx.Handler{Handler: log.Handler()})
	}

	return &Handler{
		routes:         table,
		sessions:       resolver,
		log:            log,
		metrics:        cfg.metrics,
		cookieName:     cfg.cookieName,
		mismatchStatus: cfg.mismatchStatus,
		callTimeout:    cfg.callTimeout,
	}, nil
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := logctx.WithRequestData(r.Context(), &logctx.RequestData{
		RequestID:  uuid.NewString(),
		Method:     r.Method,
		UserAgent:  r.UserAgent(),
		RemoteAddr: r.RemoteAddr,
		Path:       r.URL.Path,
	})
	rw := &response{w: w}

	h.metrics.InFlight.Add(1)
	defer h.metrics.InFlight.Add(-1)

	defer func() {
		p := recover()
		if p == nil {
			return
		}
		if p != http.ErrAbortHandler {
			h.log.ErrorContext(ctx, "request.panic", slog.Any("panic", p))
			h.fail(ctx, rw, &Failure{Kind: UnexpectedFailure, Status: http.StatusInternalServerError, Message: msgUnexpectedFailure})
			rw.flush()
		}
		panic(p)
	}()

	h.serve(ctx, rw, r)
}

func (h *Handler) serve(ctx context.Context, rw *response, r *http.Request) {
	m := h.routes.Match(r.Method, r.URL.Path)
	switch m.Kind {
	case routes.NoRoute:
		h.log.DebugContext(ctx, "route.match.miss")
		h.fail(ctx, rw, &Failure{Kind: RouteNotFound, Status: http.StatusNotFound, Message: msgPathNotFound})
		return
	case routes.MethodMismatch:
		h.log.DebugContext(ctx, "route.match.method_mismatch", slog.Any("allowed", m.Allowed))
		rw.w.Header().Set("Allow", strings.Join(m.Allowed, ", "))
		h.fail(ctx, rw, &Failure{Kind: MethodMismatch, Status: h.mismatchStatus, Message: msgMethodNotAllowed})
		return
	}

	entry := m.Entry
	ctx = logctx.WithCallData(ctx, &logctx.CallData{Procedure: entry.Procedure, Route: entry.Pattern})
	h.log.DebugContext(ctx, "route.match.ok")

	handle, err := h.resolveSession(ctx, r)
	if err != nil || handle == nil {
		h.fail(ctx, rw, &Failure{Kind: SessionUnavailable, Status: http.StatusInternalServerError, Message: msgNoSession, Err: err})
		return
	}
	defer handle.Release()
	ctx = logctx.WithSessionData(ctx, &logctx.SessionData{
		HandleID: handle.ID(),
		Realm:    handle.Realm(),
		Role:     handle.Role(),
		Default:  handle.Default(),
	})

	res, err := h.call(ctx, handle, entry.Procedure, m.Args)
	if err != nil {
		var pe *rpc.PanicError
		if errors.As(err, &pe) {
			panic(pe)
		}
		h.log.ErrorContext(ctx, "rpc.call.fail", slog.String("err", err.Error()))
		h.fail(ctx, rw, &Failure{Kind: RemoteCallFailure, Status: http.StatusInternalServerError, Message: callFailureText(err), Err: err})
		return
	}

	body, err := entry.Template.Render(res)
	if err != nil {
		msg := fmt.Sprintf("render error for RPC result of type %q: %v", fmt.Sprintf("%T", res), err)
		h.log.WarnContext(ctx, "render.fail", slog.String("err", msg))
		h.fail(ctx, rw, &Failure{Kind: RenderFailure, Status: http.StatusInternalServerError, Message: msg, Err: err})
		return
	}

	if rw.finish(http.StatusOK, body) {
		h.metrics.Requests.With("outcome", "ok").Add(1)
	}
	h.log.DebugContext(ctx, "request.ok")
}

func (h *Handler) resolveSession(ctx context.Context, r *http.Request) (*sessions.Handle, error) {
	var token []byte
	if c, err := r.Cookie(h.cookieName); err == nil && c.Value != "" {
		token = []byte(c.Value)
	}
	h.log.DebugContext(ctx, "session.cookie", slog.Bool("present", token != nil))

	handle, err := h.sessions.Resolve(ctx, token)
	if err != nil {
		h.log.ErrorContext(ctx, "session.resolve.fail", slog.String("err", err.Error()))
		return nil, err
	}
	if handle == nil {
		h.log.ErrorContext(ctx, "session.resolve.fail", slog.String("err", "no session"))
	}
	return handle, nil
}

// call places the remote call and waits for it. Cancelling the request
// cancels the call.
func (h *Handler) call(ctx context.Context, handle *sessions.Handle, procedure string, kwargs map[string]any) (any, error) {
	if h.callTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.callTimeout)
		defer cancel()
	}

	start := time.Now()
	res, err := handle.Call(ctx, procedure, kwargs).Await(ctx)
	result := "ok"
	if err != nil {
		result = "error"
	}
	h.metrics.CallDuration.With("procedure", procedure, "result", result).Observe(time.Since(start).Seconds())
	return res, err
}

func callFailureText(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "call timed out"
	case errors.Is(err, context.Canceled):
		return "call canceled"
	}
	return rpc.ErrorText(err)
}

// fail answers the request with the error page for f.
func (h *Handler) fail(ctx context.Context, rw *response, f *Failure) {
	if !rw.finish(f.Status, render.ErrorPage(f.Message)) {
		h.log.WarnContext(ctx, "request.fail.already_finished", slog.String("kind", f.Kind.String()))
		return
	}
	h.metrics.Requests.With("outcome", f.Kind.String()).Add(1)
	h.log.InfoContext(ctx, "request.fail", slog.String("kind", f.Kind.String()), slog.Int("status", f.Status))
}

// TemplateCompiler adapts a render.Engine to routes.Compiler.
func TemplateCompiler(e *render.Engine) routes.Compiler {
	return routes.CompilerFunc(func(name string) (routes.Template, error) {
		t, err := e.Compile(name)
		if err != nil {
			return nil, err
		}
		return t, nil
	})
}
