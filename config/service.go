package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/ggoodman/apppage-go/routes"
	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid config")

// Service is the page service definition.
type Service struct {
	// Path is the mount prefix for every route.
	Path string `yaml:"path"`
	// Templates is the template directory. Relative paths are resolved
	// against the directory of the config file by Load.
	Templates string         `yaml:"templates" jsonschema:"required"`
	WAMP      WAMP           `yaml:"wamp" jsonschema:"required"`
	Routes    []routes.Spec  `yaml:"routes"`
	Sessions  SessionsConfig `yaml:"sessions"`

	// CallTimeout bounds each remote call. It also bounds, plus 30s, how long
	// a generation replaced by a reload waits for its requests. Zero leaves
	// both unbounded.
	CallTimeout            time.Duration `yaml:"call_timeout"`
	MethodNotAllowedStatus int           `yaml:"method_not_allowed_status" jsonschema:"minimum=100,maximum=599"`
	SessionCookie          string        `yaml:"session_cookie"`
}

type WAMP struct {
	Realm string `yaml:"realm" jsonschema:"required,minLength=1"`
}

type SessionsConfig struct {
	MaxEntries int           `yaml:"max_entries"`
	TTL        time.Duration `yaml:"ttl"`
}

// Load reads and validates the service definition at path.
func Load(path string) (*Service, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	svc, err := Parse(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if !filepath.IsAbs(svc.Templates) {
		svc.Templates = filepath.Join(filepath.Dir(path), svc.Templates)
	}
	return svc, nil
}

// Parse decodes and validates a service definition. Unknown keys are rejected.
func Parse(r io.Reader) (*Service, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)

	var svc Service
	if err := dec.Decode(&svc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: empty document", ErrInvalidConfig)
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	svc.applyDefaults()
	if err := svc.Validate(); err != nil {
		return nil, err
	}
	return &svc, nil
}

func (s *Service) applyDefaults() {
	if s.MethodNotAllowedStatus == 0 {
		s.MethodNotAllowedStatus = http.StatusMethodNotAllowed
	}
	if s.SessionCookie == "" {
		s.SessionCookie = "session_cookie"
	}
	if s.Sessions.MaxEntries == 0 {
		s.Sessions.MaxEntries = 10000
	}
	if s.Sessions.TTL == 0 {
		s.Sessions.TTL = 24 * time.Hour
	}
}

func (s *Service) Validate() error {
	var errs []error
	if s.WAMP.Realm == "" {
		errs = append(errs, errors.New("wamp.realm is required"))
	}
	if s.Templates == "" {
		errs = append(errs, errors.New("templates is required"))
	}
	if s.MethodNotAllowedStatus < 100 || s.MethodNotAllowedStatus > 599 {
		errs = append(errs, fmt.Errorf("method_not_allowed_status %d is not an HTTP status", s.MethodNotAllowedStatus))
	}
	if s.Sessions.MaxEntries < 0 {
		errs = append(errs, errors.New("sessions.max_entries must not be negative"))
	}
	if s.Sessions.TTL < 0 {
		errs = append(errs, errors.New("sessions.ttl must not be negative"))
	}
	if s.CallTimeout < 0 {
		errs = append(errs, errors.New("call_timeout must not be negative"))
	}
	for i, r := range s.Routes {
		if r.Path == "" || r.Method == "" || r.Call == "" || r.Render == "" {
			errs = append(errs, fmt.Errorf("routes[%d]: path, method, call and render are required", i))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}
