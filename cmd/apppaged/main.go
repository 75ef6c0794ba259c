// Command apppaged serves HTML pages rendered from remote procedure calls.
//
// Process settings come from the environment (see config.Env); the routes,
// realm and templates come from the YAML file named by APPPAGE_CONFIG.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/ggoodman/apppage-go/config"
	"github.com/ggoodman/apppage-go/internal/logctx"
	"github.com/ggoodman/apppage-go/internal/metrics"
	"github.com/ggoodman/apppage-go/rpc"
	"github.com/ggoodman/apppage-go/rpc/jsonrpchttp"
	"github.com/ggoodman/apppage-go/rpc/redisrpc"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
)

const reloadDebounce = 250 * time.Millisecond

func main() {
	printSchema := flag.Bool("config-schema", false, "print the JSON Schema of the config file and exit")
	flag.Parse()
	if *printSchema {
		b, err := config.SchemaJSON()
		if err != nil {
			fmt.Fprintln(os.Stderr, "apppaged:", err)
			os.Exit(1)
		}
		fmt.Println(string(b))
		return
	}

	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "apppaged:", err)
		os.Exit(1)
	}
}

func run() error {
	env, err := config.LoadEnv()
	if err != nil {
		return err
	}
	log, err := newLogger(env, os.Stderr)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	transport, closeTransport, err := newTransport(env, log)
	if err != nil {
		return err
	}
	defer closeTransport()

	svc, err := config.Load(env.ConfigPath)
	if err != nil {
		return err
	}

	m := metrics.PrometheusMetrics("apppage")
	first, err := build(ctx, svc, transport, log, m)
	if err != nil {
		return err
	}
	var current atomic.Pointer[app]
	current.Store(first)

	srv := &http.Server{
		Addr: env.ListenAddr,
		Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			current.Load().handler.ServeHTTP(w, r)
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("http.listen", slog.String("addr", env.ListenAddr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	var metricsSrv *http.Server
	if env.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsSrv = &http.Server{Addr: env.MetricsAddr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
		g.Go(func() error {
			log.Info("metrics.listen", slog.String("addr", env.MetricsAddr))
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
	}

	if env.Watch {
		g.Go(func() error {
			return config.Watch(gctx, env.ConfigPath, svc.Templates, reloadDebounce, log, func() {
				reload(gctx, env.ConfigPath, transport, log, m, &current)
			})
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), env.ShutdownTimeout)
		defer cancel()
		log.Info("http.shutdown")
		err := srv.Shutdown(shutdownCtx)
		if metricsSrv != nil {
			err = errors.Join(err, metricsSrv.Shutdown(shutdownCtx))
		}
		return err
	})

	err = g.Wait()

	closeCtx, cancel := context.WithTimeout(context.Background(), env.ShutdownTimeout)
	defer cancel()
	if cerr := current.Load().close(closeCtx); cerr != nil {
		log.Warn("sessions.close.fail", slog.String("err", cerr.Error()))
	}
	return err
}

// reload builds a new generation from the config file and swaps it in. On
// failure the running generation is kept.
func reload(ctx context.Context, path string, transport rpc.Transport, log *slog.Logger, m *metrics.Metrics, current *atomic.Pointer[app]) {
	svc, err := config.Load(path)
	if err != nil {
		log.Error("config.reload.fail", slog.String("err", err.Error()))
		return
	}
	next, err := build(ctx, svc, transport, log, m)
	if err != nil {
		log.Error("config.reload.fail", slog.String("err", err.Error()))
		return
	}
	prev := current.Swap(next)
	log.Info("config.reload.ok", slog.Int("routes", len(svc.Routes)))
	if svc.Templates != prev.svc.Templates {
		log.Warn("config.reload.templates_moved", slog.String("watching", prev.svc.Templates), slog.String("now", svc.Templates))
	}

	go prev.retire(log)
}

func newLogger(env config.Env, w io.Writer) (*slog.Logger, error) {
	level, err := env.Level()
	if err != nil {
		return nil, err
	}
	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler
	if strings.EqualFold(env.LogFormat, "json") {
		h = slog.NewJSONHandler(w, opts)
	} else {
		h = slog.NewTextHandler(w, opts)
	}
	return slog.New(logctx.Handler{Handler: h}), nil
}

func newTransport(env config.Env, log *slog.Logger) (rpc.Transport, func(), error) {
	switch env.Transport {
	case config.TransportJSONRPC:
		t, err := jsonrpchttp.New(env.JSONRPCEndpoint, jsonrpchttp.WithLogger(log))
		if err != nil {
			return nil, nil, err
		}
		return t, func() {}, nil
	default:
		t, err := redisrpc.NewFromEnv(redisrpc.WithLogger(log))
		if err != nil {
			return nil, nil, err
		}
		return t, func() { _ = t.Close() }, nil
	}
}
