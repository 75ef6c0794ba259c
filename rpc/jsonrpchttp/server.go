package jsonrpchttp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/elnormous/contenttype"
	"github.com/ggoodman/apppage-go/internal/jsonrpc"
	"github.com/ggoodman/apppage-go/rpc"
)

var _ http.Handler = (*Handler)(nil)

const maxRequestBytes = 1 << 20

// HandlerOption configures a Handler.
type HandlerOption func(*Handler)

// WithHandlerLogger sets the logger. If not provided, logs are discarded.
func WithHandlerLogger(l *slog.Logger) HandlerOption {
	return func(h *Handler) { h.log = l }
}

// Handler is the callee side of the JSON-RPC over HTTP binding.
type Handler struct {
	log *slog.Logger

	mu         sync.RWMutex
	procedures map[string]map[string]rpc.ProcedureFunc
}

func NewHandler(opts ...HandlerOption) *Handler {
	h := &Handler{
		log:        slog.New(slog.DiscardHandler),
		procedures: make(map[string]map[string]rpc.ProcedureFunc),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Register installs fn as procedure within realm, replacing any previous
// registration.
func (h *Handler) Register(realm, procedure string, fn rpc.ProcedureFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	byRealm, ok := h.procedures[realm]
	if !ok {
		byRealm = make(map[string]rpc.ProcedureFunc)
		h.procedures[realm] = byRealm
	}
	byRealm[procedure] = fn
}

func (h *Handler) lookup(realm, procedure string) (rpc.ProcedureFunc, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	fn, ok := h.procedures[realm][procedure]
	return fn, ok
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	ctype, err := contenttype.GetMediaType(r)
	if err != nil || !ctype.Matches(jsonMediaType) {
		w.WriteHeader(http.StatusUnsupportedMediaType)
		h.log.WarnContext(ctx, "jsonrpc.content_type.unsupported")
		return
	}

	var req jsonrpc.Request
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes)).Decode(&req); err != nil {
		writeResponse(w, jsonrpc.NewErrorResponse(nil, jsonrpc.ErrorCodeParseError, "invalid JSON body", nil))
		return
	}
	if err := req.Validate(); err != nil {
		writeResponse(w, jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidRequest, err.Error(), nil))
		return
	}

	sess := rpc.Session{ID: r.Header.Get(sessionHeader), Realm: r.Header.Get(realmHeader), Role: r.Header.Get(roleHeader)}
	if err := sess.Validate(); err != nil {
		h.respond(w, &req, jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeSessionNotRegistered, err.Error(), nil))
		return
	}

	fn, ok := h.lookup(sess.Realm, req.Method)
	if !ok {
		h.log.InfoContext(ctx, "jsonrpc.procedure.miss", slog.String("procedure", req.Method), slog.String("realm", sess.Realm))
		h.respond(w, &req, jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeMethodNotFound, fmt.Sprintf("no callee registered for procedure <%s>", req.Method), &jsonrpc.ErrorData{URI: rpc.ErrorNoSuchProcedure}))
		return
	}

	kwargs, err := req.NamedParams()
	if err != nil {
		h.respond(w, &req, jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInvalidParams, err.Error(), &jsonrpc.ErrorData{URI: rpc.ErrorInvalidArgument}))
		return
	}

	res, err := invoke(ctx, fn, rpc.CallDetails{Session: sess, Procedure: req.Method}, kwargs)
	if err != nil {
		var ce *rpc.CallError
		uri, msg := rpc.ErrorRuntime, err.Error()
		if errors.As(err, &ce) {
			msg = ce.Message
			if ce.URI != "" {
				uri = ce.URI
			}
		}
		h.log.InfoContext(ctx, "jsonrpc.procedure.fail", slog.String("procedure", req.Method), slog.String("err", err.Error()))
		h.respond(w, &req, jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeApplicationError, msg, &jsonrpc.ErrorData{URI: uri}))
		return
	}

	out, err := jsonrpc.NewResultResponse(req.ID, res)
	if err != nil {
		h.respond(w, &req, jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrorCodeInternalError, "failed to encode result", nil))
		return
	}
	h.respond(w, &req, out)
}

// respond writes res unless req is a notification.
func (h *Handler) respond(w http.ResponseWriter, req *jsonrpc.Request, res *jsonrpc.Response) {
	if req.ID == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeResponse(w, res)
}

func writeResponse(w http.ResponseWriter, res *jsonrpc.Response) {
	w.Header().Set("Content-Type", jsonMediaType.String())
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(res)
}

func invoke(ctx context.Context, fn rpc.ProcedureFunc, details rpc.CallDetails, kwargs map[string]any) (res any, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("procedure panicked: %v", p)
		}
	}()
	return fn(ctx, details, kwargs)
}
