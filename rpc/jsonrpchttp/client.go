package jsonrpchttp

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/elnormous/contenttype"
	"github.com/ggoodman/apppage-go/internal/jsonrpc"
	"github.com/ggoodman/apppage-go/rpc"
	"github.com/google/uuid"
)

var _ rpc.Transport = (*Transport)(nil)

var jsonMediaType = contenttype.NewMediaType("application/json")

const (
	sessionHeader = "X-Apppage-Session"
	realmHeader   = "X-Apppage-Realm"
	roleHeader    = "X-Apppage-Role"

	maxResponseBytes = 8 << 20
)

// ErrUnexpectedResponse indicates the endpoint answered with something other
// than a JSON-RPC response to the request that was sent.
var ErrUnexpectedResponse = errors.New("unexpected JSON-RPC response")

// Option configures a Transport.
type Option func(*Transport)

// WithHTTPClient overrides the client used for requests.
func WithHTTPClient(c *http.Client) Option {
	return func(t *Transport) { t.client = c }
}

// WithLogger sets the logger. If not provided, logs are discarded.
func WithLogger(l *slog.Logger) Option {
	return func(t *Transport) { t.log = l }
}

// Transport is the caller side of the JSON-RPC over HTTP binding.
type Transport struct {
	endpoint string
	client   *http.Client
	log      *slog.Logger

	mu       sync.RWMutex
	sessions map[string]rpc.Session
}

// New creates a Transport posting to endpoint, which must be an http or https URL.
func New(endpoint string, opts ...Option) (*Transport, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint URL %q: %w", endpoint, err)
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return nil, fmt.Errorf("endpoint URL must use HTTP or HTTPS scheme, got %q", u.Scheme)
	}

	t := &Transport{
		endpoint: u.String(),
		client:   &http.Client{Timeout: 30 * time.Second},
		log:      slog.New(slog.DiscardHandler),
		sessions: make(map[string]rpc.Session),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

func (t *Transport) RegisterSession(ctx context.Context, sess rpc.Session) error {
	if err := sess.Validate(); err != nil {
		return err
	}
	t.mu.Lock()
	t.sessions[sess.ID] = sess
	t.mu.Unlock()
	return nil
}

func (t *Transport) UnregisterSession(ctx context.Context, sess rpc.Session) error {
	t.mu.Lock()
	delete(t.sessions, sess.ID)
	t.mu.Unlock()
	return nil
}

func (t *Transport) Call(ctx context.Context, sess rpc.Session, procedure string, kwargs map[string]any) (any, error) {
	t.mu.RLock()
	registered, ok := t.sessions[sess.ID]
	t.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("call %s: %w", procedure, rpc.ErrSessionNotRegistered)
	}

	id := jsonrpc.NewStringID(uuid.NewString())
	req, err := jsonrpc.NewRequest(id, procedure, kwargs)
	if err != nil {
		return nil, fmt.Errorf("encode call %s: %w", procedure, err)
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("encode call %s: %w", procedure, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request for %s: %w", procedure, err)
	}
	httpReq.Header.Set("Content-Type", jsonMediaType.String())
	httpReq.Header.Set("Accept", jsonMediaType.String())
	httpReq.Header.Set(sessionHeader, registered.ID)
	httpReq.Header.Set(realmHeader, registered.Realm)
	httpReq.Header.Set(roleHeader, registered.Role)

	resp, err := t.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("post %s: %w", procedure, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.log.WarnContext(ctx, "jsonrpc.response.status", slog.String("procedure", procedure), slog.Int("status", resp.StatusCode))
		return nil, fmt.Errorf("%w: status %d", ErrUnexpectedResponse, resp.StatusCode)
	}
	mt, err := contenttype.ParseMediaType(resp.Header.Get("Content-Type"))
	if err != nil || !mt.Matches(jsonMediaType) {
		return nil, fmt.Errorf("%w: content-type %q", ErrUnexpectedResponse, resp.Header.Get("Content-Type"))
	}

	var res jsonrpc.Response
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&res); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", ErrUnexpectedResponse, err)
	}
	if !res.ID.Equal(id) {
		return nil, fmt.Errorf("%w: id mismatch (want %s, got %s)", ErrUnexpectedResponse, id, res.ID)
	}

	if res.Error != nil {
		return nil, callErrorFrom(procedure, res.Error)
	}

	var result any
	if err := json.Unmarshal(res.Result, &result); err != nil {
		return nil, fmt.Errorf("decode result for %s: %w", procedure, err)
	}
	return result, nil
}

func callErrorFrom(procedure string, e *jsonrpc.Error) error {
	switch e.Code {
	case jsonrpc.ErrorCodeSessionNotRegistered:
		return fmt.Errorf("call %s: %w", procedure, rpc.ErrSessionNotRegistered)
	case jsonrpc.ErrorCodeMethodNotFound:
		return &rpc.CallError{Procedure: procedure, URI: rpc.ErrorNoSuchProcedure, Message: e.Message}
	case jsonrpc.ErrorCodeInvalidParams:
		return &rpc.CallError{Procedure: procedure, URI: rpc.ErrorInvalidArgument, Message: e.Message}
	}
	uri := rpc.ErrorRuntime
	if e.Data != nil && e.Data.URI != "" {
		uri = e.Data.URI
	}
	return &rpc.CallError{Procedure: procedure, URI: uri, Message: e.Message}
}
