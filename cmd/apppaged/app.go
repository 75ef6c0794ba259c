package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/ggoodman/apppage-go/apppage"
	"github.com/ggoodman/apppage-go/config"
	"github.com/ggoodman/apppage-go/internal/metrics"
	"github.com/ggoodman/apppage-go/render"
	"github.com/ggoodman/apppage-go/routes"
	"github.com/ggoodman/apppage-go/rpc"
	"github.com/ggoodman/apppage-go/sessions"
)

// app is one generation of the page service built from a single config.
type app struct {
	handler  http.Handler
	registry *sessions.Registry
	svc      *config.Service
}

func build(ctx context.Context, svc *config.Service, transport rpc.Transport, log *slog.Logger, m *metrics.Metrics) (*app, error) {
	engine, err := render.NewEngine(svc.Templates)
	if err != nil {
		return nil, err
	}
	table, err := routes.New(svc.Path, svc.Routes, apppage.TemplateCompiler(engine), routes.WithLogger(log))
	if err != nil {
		return nil, fmt.Errorf("build routes: %w", err)
	}
	registry, err := sessions.NewRegistry(ctx, svc.WAMP.Realm, transport,
		sessions.WithLogger(log),
		sessions.WithMetrics(m),
		sessions.WithCache(sessions.LRUCache(svc.Sessions.MaxEntries, svc.Sessions.TTL)),
	)
	if err != nil {
		return nil, err
	}
	handler, err := apppage.New(table, registry,
		apppage.WithLogger(log),
		apppage.WithMetrics(m),
		apppage.WithSessionCookie(svc.SessionCookie),
		apppage.WithMethodMismatchStatus(svc.MethodNotAllowedStatus),
		apppage.WithCallTimeout(svc.CallTimeout),
	)
	if err != nil {
		_ = registry.Close(ctx)
		return nil, err
	}
	return &app{handler: handler, registry: registry, svc: svc}, nil
}

func (a *app) close(ctx context.Context) error {
	return a.registry.Close(ctx)
}

// drainSlack is added to the call timeout when waiting for a replaced
// generation's requests to finish.
const drainSlack = 30 * time.Second

// drainTimeout bounds how long a replaced generation waits for its requests
// before giving up on Close. Zero means no bound: without a call timeout a
// request may legitimately run as long as its client waits.
func (a *app) drainTimeout() time.Duration {
	if a.svc.CallTimeout <= 0 {
		return 0
	}
	return a.svc.CallTimeout + drainSlack
}

// retire closes a replaced generation. Sessions still used by in-flight
// requests stay registered until those requests finish.
func (a *app) retire(log *slog.Logger) {
	ctx := context.Background()
	if d := a.drainTimeout(); d > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}
	if err := a.close(ctx); err != nil {
		log.Warn("sessions.close.fail", slog.String("err", err.Error()))
		return
	}
	log.Debug("generation.retired")
}
