package main

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ggoodman/apppage-go/config"
	"github.com/ggoodman/apppage-go/internal/metrics"
	"github.com/ggoodman/apppage-go/rpc"
	"github.com/ggoodman/apppage-go/rpc/memoryrpc"
)

const testConfig = `
path: app
templates: templates
wamp:
  realm: realm1
routes:
  - path: /hello/<name>
    method: GET
    call: com.example.hello
    render: hello.html
`

func TestBuildServesConfiguredRoutes(t *testing.T) {
	dir := t.TempDir()
	if err := os.Mkdir(filepath.Join(dir, "templates"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "templates", "hello.html"), []byte("Hello {{.name}}"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfgPath := filepath.Join(dir, "apppage.yaml")
	if err := os.WriteFile(cfgPath, []byte(testConfig), 0o644); err != nil {
		t.Fatal(err)
	}

	svc, err := config.Load(cfgPath)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	router := memoryrpc.New()
	router.Register("realm1", "com.example.hello", func(ctx context.Context, d rpc.CallDetails, kwargs map[string]any) (any, error) {
		return map[string]any{"name": kwargs["name"]}, nil
	})

	env := config.Env{LogLevel: "debug", LogFormat: "json"}
	var logs bytes.Buffer
	log, err := newLogger(env, &logs)
	if err != nil {
		t.Fatalf("logger: %v", err)
	}

	a, err := build(context.Background(), svc, router, log, metrics.NopMetrics())
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	defer func() { _ = a.close(context.Background()) }()

	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/app/hello/Ann", nil))
	if rec.Code != http.StatusOK || rec.Body.String() != "Hello Ann" {
		t.Fatalf("unexpected response %d %q", rec.Code, rec.Body.String())
	}
	if !strings.Contains(logs.String(), `"route.add"`) {
		t.Fatalf("expected route registration to be logged, got %s", logs.String())
	}
}

func TestBuildFailsOnMissingTemplate(t *testing.T) {
	dir := t.TempDir()
	if err := os.Mkdir(filepath.Join(dir, "templates"), 0o755); err != nil {
		t.Fatal(err)
	}
	cfgPath := filepath.Join(dir, "apppage.yaml")
	if err := os.WriteFile(cfgPath, []byte(testConfig), 0o644); err != nil {
		t.Fatal(err)
	}
	svc, err := config.Load(cfgPath)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	router := memoryrpc.New()
	if _, err := build(context.Background(), svc, router, discardLogger(), metrics.NopMetrics()); err == nil {
		t.Fatal("expected build to fail without the template")
	}
	if router.Sessions() != 0 {
		t.Fatalf("failed build must not leave sessions registered, have %d", router.Sessions())
	}
}

func discardLogger() *slog.Logger { return slog.New(slog.DiscardHandler) }

func loadTestService(t *testing.T) *config.Service {
	t.Helper()
	dir := t.TempDir()
	if err := os.Mkdir(filepath.Join(dir, "templates"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "templates", "hello.html"), []byte("Hello {{.name}}"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfgPath := filepath.Join(dir, "apppage.yaml")
	if err := os.WriteFile(cfgPath, []byte(testConfig), 0o644); err != nil {
		t.Fatal(err)
	}
	svc, err := config.Load(cfgPath)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	return svc
}

func TestRetiredGenerationKeepsSessionsOfRunningRequests(t *testing.T) {
	svc := loadTestService(t)
	router := memoryrpc.New()
	entered := make(chan struct{})
	proceed := make(chan struct{})
	router.Register("realm1", "com.example.hello", func(ctx context.Context, d rpc.CallDetails, kwargs map[string]any) (any, error) {
		close(entered)
		<-proceed
		return map[string]any{"name": kwargs["name"]}, nil
	})

	a, err := build(context.Background(), svc, router, discardLogger(), metrics.NopMetrics())
	if err != nil {
		t.Fatalf("build: %v", err)
	}

	served := make(chan *httptest.ResponseRecorder, 1)
	go func() {
		rec := httptest.NewRecorder()
		a.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/app/hello/Ann", nil))
		served <- rec
	}()
	<-entered

	retired := make(chan struct{})
	go func() {
		a.retire(discardLogger())
		close(retired)
	}()

	time.Sleep(50 * time.Millisecond)
	if router.Sessions() != 1 {
		t.Fatalf("session of the running request must stay registered, have %d", router.Sessions())
	}

	close(proceed)
	if rec := <-served; rec.Code != http.StatusOK || rec.Body.String() != "Hello Ann" {
		t.Fatalf("unexpected response %d %q", rec.Code, rec.Body.String())
	}
	select {
	case <-retired:
	case <-time.After(2 * time.Second):
		t.Fatal("retire did not finish after the request completed")
	}
	if router.Sessions() != 0 {
		t.Fatalf("expected all sessions unregistered, have %d", router.Sessions())
	}
}

func TestDrainTimeoutFollowsCallTimeout(t *testing.T) {
	a := &app{svc: &config.Service{}}
	if d := a.drainTimeout(); d != 0 {
		t.Fatalf("expected no bound without a call timeout, got %s", d)
	}
	a.svc.CallTimeout = 5 * time.Minute
	if d := a.drainTimeout(); d != 5*time.Minute+drainSlack {
		t.Fatalf("unexpected drain timeout %s", d)
	}
}
