package jsonrpchttp

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ggoodman/apppage-go/rpc"
	"github.com/ggoodman/apppage-go/rpc/rpctest"
)

func TestTransportConformance(t *testing.T) {
	rpctest.RunTransportTests(t, func(t *testing.T) rpctest.Harness {
		h := NewHandler()
		srv := httptest.NewServer(h)
		t.Cleanup(srv.Close)

		tr, err := New(srv.URL)
		if err != nil {
			t.Fatalf("new transport: %v", err)
		}
		return rpctest.Harness{
			Transport: tr,
			Provide: func(t *testing.T, realm, procedure string, fn rpc.ProcedureFunc) {
				h.Register(realm, procedure, fn)
			},
		}
	})
}

func TestNewRejectsNonHTTPEndpoint(t *testing.T) {
	if _, err := New("ftp://example.com/rpc"); err == nil {
		t.Fatal("expected error for non-http endpoint")
	}
}

func TestHandlerRejectsWrongMethodAndMediaType(t *testing.T) {
	h := NewHandler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("GET: want 405, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewBufferString(`{}`))
	req.Header.Set("Content-Type", "text/plain")
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnsupportedMediaType {
		t.Fatalf("text/plain: want 415, got %d", rec.Code)
	}
}

func TestCallRejectsNonJSONResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("<html></html>"))
	}))
	defer srv.Close()

	tr, err := New(srv.URL)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	ctx := context.Background()
	sess := rpc.Session{ID: "s1", Realm: "realm1", Role: "anonymous"}
	if err := tr.RegisterSession(ctx, sess); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := tr.Call(ctx, sess, "p", nil); !errors.Is(err, ErrUnexpectedResponse) {
		t.Fatalf("expected ErrUnexpectedResponse, got %v", err)
	}
}
