package routes

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
)

var (
	// ErrInvalidRoute is returned by New when a route spec cannot be registered.
	ErrInvalidRoute = errors.New("invalid route")
	// ErrTemplate is returned by New when a route's template fails to compile.
	ErrTemplate = errors.New("template compile failed")
)

// Spec describes one configured route.
type Spec struct {
	Path   string `yaml:"path" jsonschema:"required"`
	Method string `yaml:"method" jsonschema:"required"`
	Call   string `yaml:"call" jsonschema:"required"`
	Render string `yaml:"render" jsonschema:"required"`
}

// Template renders a call result.
type Template interface {
	Render(data any) ([]byte, error)
}

// Compiler turns a template identifier into a Template.
type Compiler interface {
	Compile(name string) (Template, error)
}

// CompilerFunc adapts a function to Compiler.
type CompilerFunc func(name string) (Template, error)

func (f CompilerFunc) Compile(name string) (Template, error) { return f(name) }

// Entry is a compiled route.
type Entry struct {
	// Pattern is the configured pattern including the mount prefix.
	Pattern   string
	Method    string
	Procedure string
	Template  Template

	params map[string]param
}

type converter int

const (
	convString converter = iota
	convInt
	convFloat
)

type param struct {
	name string
	conv converter
}

// MatchKind tags the outcome of Table.Match.
type MatchKind int

const (
	NoRoute MatchKind = iota
	Matched
	MethodMismatch
)

func (k MatchKind) String() string {
	switch k {
	case Matched:
		return "matched"
	case MethodMismatch:
		return "method_mismatch"
	default:
		return "no_route"
	}
}

// Match is the result of matching a request against a Table.
type Match struct {
	Kind MatchKind
	// Entry and Args are set when Kind is Matched.
	Entry *Entry
	Args  map[string]any
	// Allowed lists the methods registered for the path when Kind is
	// MethodMismatch.
	Allowed []string
}

// Option configures New.
type Option func(*options)

type options struct {
	log *slog.Logger
}

// WithLogger sets the logger used to report registered routes.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.log = l }
}

// Table is an immutable route table.
type Table struct {
	mux     *chi.Mux
	entries []*Entry
	byKey   map[string]*Entry
	methods []string
}

var noop = http.HandlerFunc(func(http.ResponseWriter, *http.Request) {})

// New builds a Table. Every pattern is registered as "/" + mount + spec.Path
// and every template is compiled up front.
func New(mount string, specs []Spec, c Compiler, opts ...Option) (*Table, error) {
	o := options{log: slog.New(slog.DiscardHandler)}
	for _, opt := range opts {
		opt(&o)
	}

	prefix := "/" + strings.Trim(mount, "/")
	if prefix == "/" {
		prefix = ""
	}

	t := &Table{
		mux:   chi.NewRouter(),
		byKey: make(map[string]*Entry, len(specs)),
	}
	seenMethod := make(map[string]bool)

	for i, spec := range specs {
		method := strings.ToUpper(strings.TrimSpace(spec.Method))
		if method == "" {
			return nil, fmt.Errorf("%w: route %d (%s): method is required", ErrInvalidRoute, i, spec.Path)
		}
		if spec.Call == "" {
			return nil, fmt.Errorf("%w: route %d (%s): call is required", ErrInvalidRoute, i, spec.Path)
		}
		if !strings.HasPrefix(spec.Path, "/") {
			return nil, fmt.Errorf("%w: route %d: path %q must begin with /", ErrInvalidRoute, i, spec.Path)
		}

		full := prefix + spec.Path
		chiPattern, params, err := translate(full)
		if err != nil {
			return nil, fmt.Errorf("%w: route %d: %v", ErrInvalidRoute, i, err)
		}
		key := method + " " + chiPattern
		if _, dup := t.byKey[key]; dup {
			return nil, fmt.Errorf("%w: route %d: duplicate %s %s", ErrInvalidRoute, i, method, full)
		}

		tmpl, err := c.Compile(spec.Render)
		if err != nil {
			return nil, fmt.Errorf("%w: route %d (%s): %v", ErrTemplate, i, spec.Render, err)
		}

		if err := register(t.mux, method, chiPattern); err != nil {
			return nil, fmt.Errorf("%w: route %d: %v", ErrInvalidRoute, i, err)
		}

		e := &Entry{Pattern: full, Method: method, Procedure: spec.Call, Template: tmpl, params: params}
		t.entries = append(t.entries, e)
		t.byKey[key] = e
		if !seenMethod[method] {
			seenMethod[method] = true
			t.methods = append(t.methods, method)
		}
		o.log.Info("route.add", slog.String("method", method), slog.String("pattern", full), slog.String("call", spec.Call), slog.String("render", spec.Render))
	}
	return t, nil
}

// register adds a route to mux, turning chi's registration panics into errors.
func register(mux *chi.Mux, method, pattern string) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("%v", p)
		}
	}()
	mux.Method(method, pattern, noop)
	return nil
}

// Entries returns the routes in registration order.
func (t *Table) Entries() []*Entry {
	out := make([]*Entry, len(t.entries))
	copy(out, t.entries)
	return out
}

// Match looks up the route for method and path.
func (t *Table) Match(method, path string) Match {
	method = strings.ToUpper(method)
	if e, args, ok := t.find(method, path); ok {
		return Match{Kind: Matched, Entry: e, Args: args}
	}

	var allowed []string
	for _, m := range t.methods {
		if m == method {
			continue
		}
		if _, _, ok := t.find(m, path); ok {
			allowed = append(allowed, m)
		}
	}
	if len(allowed) > 0 {
		return Match{Kind: MethodMismatch, Allowed: allowed}
	}
	return Match{Kind: NoRoute}
}

func (t *Table) find(method, path string) (*Entry, map[string]any, bool) {
	rctx := chi.NewRouteContext()
	if !t.mux.Match(rctx, method, path) || len(rctx.RoutePatterns) == 0 {
		return nil, nil, false
	}
	e, ok := t.byKey[method+" "+rctx.RoutePatterns[len(rctx.RoutePatterns)-1]]
	if !ok {
		return nil, nil, false
	}

	args := make(map[string]any, len(rctx.URLParams.Keys))
	for i, k := range rctx.URLParams.Keys {
		v := rctx.URLParams.Values[i]
		p, ok := e.params[k]
		if !ok {
			args[k] = v
			continue
		}
		switch p.conv {
		case convInt:
			n, err := strconv.ParseInt(v, 10, 64)
			if err != nil {
				return nil, nil, false
			}
			args[p.name] = n
		case convFloat:
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return nil, nil, false
			}
			args[p.name] = f
		default:
			args[p.name] = v
		}
	}
	return e, args, true
}

var converterRe = regexp.MustCompile(`<(?:([a-z]+):)?([A-Za-z_][A-Za-z0-9_]*)>`)

// translate rewrites converter placeholders into chi syntax.
func translate(pattern string) (string, map[string]param, error) {
	params := make(map[string]param)
	var convErr error
	out := converterRe.ReplaceAllStringFunc(pattern, func(m string) string {
		sub := converterRe.FindStringSubmatch(m)
		conv, name := sub[1], sub[2]
		if _, dup := params[name]; dup && convErr == nil {
			convErr = fmt.Errorf("duplicate path variable %q in %q", name, pattern)
		}
		switch conv {
		case "", "string":
			params[name] = param{name: name, conv: convString}
			return "{" + name + "}"
		case "int":
			params[name] = param{name: name, conv: convInt}
			return "{" + name + ":[0-9]+}"
		case "float":
			params[name] = param{name: name, conv: convFloat}
			return "{" + name + `:[0-9]+\.[0-9]+}`
		case "path":
			params["*"] = param{name: name, conv: convString}
			return "*"
		default:
			if convErr == nil {
				convErr = fmt.Errorf("unknown converter %q in %q", conv, pattern)
			}
			return m
		}
	})
	if convErr != nil {
		return "", nil, convErr
	}
	if strings.ContainsAny(out, "<>") {
		return "", nil, fmt.Errorf("malformed path variable in %q", pattern)
	}
	if i := strings.Index(out, "*"); i >= 0 && i != len(out)-1 {
		return "", nil, fmt.Errorf("path converter must be the last element of %q", pattern)
	}
	return out, params, nil
}
