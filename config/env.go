package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
)

// Transport kinds accepted in Env.Transport.
const (
	TransportRedis   = "redis"
	TransportJSONRPC = "jsonrpc"
)

// Env holds process settings read from the environment.
type Env struct {
	// ENV: APPPAGE_LISTEN_ADDR
	ListenAddr string `env:"APPPAGE_LISTEN_ADDR,default=:8080"`
	// ENV: APPPAGE_CONFIG
	ConfigPath string `env:"APPPAGE_CONFIG,default=apppage.yaml"`
	// ENV: APPPAGE_LOG_LEVEL (debug, info, warn, error)
	LogLevel string `env:"APPPAGE_LOG_LEVEL,default=info"`
	// ENV: APPPAGE_LOG_FORMAT (text, json)
	LogFormat string `env:"APPPAGE_LOG_FORMAT,default=text"`
	// ENV: APPPAGE_TRANSPORT (redis, jsonrpc)
	Transport string `env:"APPPAGE_TRANSPORT,default=redis"`
	// ENV: APPPAGE_JSONRPC_ENDPOINT, required for the jsonrpc transport.
	JSONRPCEndpoint string `env:"APPPAGE_JSONRPC_ENDPOINT"`
	// ENV: APPPAGE_METRICS_ADDR, empty disables the metrics listener.
	MetricsAddr string `env:"APPPAGE_METRICS_ADDR"`
	// ENV: APPPAGE_WATCH
	Watch bool `env:"APPPAGE_WATCH,default=false"`
	// ENV: APPPAGE_SHUTDOWN_TIMEOUT
	ShutdownTimeout time.Duration `env:"APPPAGE_SHUTDOWN_TIMEOUT,default=10s"`
}

// LoadEnv decodes Env from the environment and validates it.
func LoadEnv() (Env, error) {
	var env Env
	if err := envdecode.Decode(&env); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return Env{}, fmt.Errorf("decode environment: %w", err)
	}
	if err := env.Validate(); err != nil {
		return Env{}, err
	}
	return env, nil
}

func (e Env) Validate() error {
	var errs []error
	switch e.Transport {
	case TransportRedis:
	case TransportJSONRPC:
		if e.JSONRPCEndpoint == "" {
			errs = append(errs, errors.New("APPPAGE_JSONRPC_ENDPOINT is required for the jsonrpc transport"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown transport %q", e.Transport))
	}
	if _, err := e.Level(); err != nil {
		errs = append(errs, err)
	}
	switch strings.ToLower(e.LogFormat) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("unknown log format %q", e.LogFormat))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}

// Level parses LogLevel.
func (e Env) Level() (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(e.LogLevel)); err != nil {
		return 0, fmt.Errorf("invalid log level %q: %w", e.LogLevel, err)
	}
	return l, nil
}
