package routes

import (
	"errors"
	"reflect"
	"testing"
)

type stubTemplate struct{ name string }

func (s stubTemplate) Render(data any) ([]byte, error) { return []byte(s.name), nil }

var stubCompiler = CompilerFunc(func(name string) (Template, error) {
	if name == "missing.html" {
		return nil, errors.New("no such template")
	}
	return stubTemplate{name: name}, nil
})

func mustTable(t *testing.T, mount string, specs ...Spec) *Table {
	t.Helper()
	tbl, err := New(mount, specs, stubCompiler)
	if err != nil {
		t.Fatalf("new table: %v", err)
	}
	return tbl
}

func TestMatch(t *testing.T) {
	tbl := mustTable(t, "app",
		Spec{Path: "/users/<user>", Method: "GET", Call: "com.example.get_user", Render: "user.html"},
		Spec{Path: "/users/<user>", Method: "post", Call: "com.example.update_user", Render: "user.html"},
		Spec{Path: "/items/<int:id>", Method: "GET", Call: "com.example.item", Render: "item.html"},
		Spec{Path: "/prices/<float:amount>", Method: "GET", Call: "com.example.price", Render: "price.html"},
		Spec{Path: "/orgs/{org}/repos/<string:repo>", Method: "GET", Call: "com.example.repo", Render: "repo.html"},
		Spec{Path: "/files/<path:rest>", Method: "GET", Call: "com.example.file", Render: "file.html"},
		Spec{Path: "/", Method: "GET", Call: "com.example.index", Render: "index.html"},
	)

	tests := []struct {
		name      string
		method    string
		path      string
		kind      MatchKind
		procedure string
		args      map[string]any
		allowed   []string
	}{
		{name: "string var", method: "GET", path: "/app/users/ann", kind: Matched, procedure: "com.example.get_user", args: map[string]any{"user": "ann"}},
		{name: "second method", method: "POST", path: "/app/users/ann", kind: Matched, procedure: "com.example.update_user", args: map[string]any{"user": "ann"}},
		{name: "int var", method: "GET", path: "/app/items/42", kind: Matched, procedure: "com.example.item", args: map[string]any{"id": int64(42)}},
		{name: "int rejects text", method: "GET", path: "/app/items/abc", kind: NoRoute},
		{name: "float var", method: "GET", path: "/app/prices/9.5", kind: Matched, procedure: "com.example.price", args: map[string]any{"amount": 9.5}},
		{name: "mixed syntax", method: "GET", path: "/app/orgs/acme/repos/web", kind: Matched, procedure: "com.example.repo", args: map[string]any{"org": "acme", "repo": "web"}},
		{name: "path var", method: "GET", path: "/app/files/a/b/c.txt", kind: Matched, procedure: "com.example.file", args: map[string]any{"rest": "a/b/c.txt"}},
		{name: "root under mount", method: "GET", path: "/app/", kind: Matched, procedure: "com.example.index", args: map[string]any{}},
		{name: "lowercase method", method: "get", path: "/app/items/1", kind: Matched, procedure: "com.example.item", args: map[string]any{"id": int64(1)}},
		{name: "unknown path", method: "GET", path: "/app/nope", kind: NoRoute},
		{name: "outside mount", method: "GET", path: "/users/ann", kind: NoRoute},
		{name: "method mismatch", method: "DELETE", path: "/app/users/ann", kind: MethodMismatch, allowed: []string{"GET", "POST"}},
		{name: "unsupported method", method: "BREW", path: "/app/items/1", kind: MethodMismatch, allowed: []string{"GET"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := tbl.Match(tt.method, tt.path)
			if m.Kind != tt.kind {
				t.Fatalf("kind: want %s, got %s", tt.kind, m.Kind)
			}
			switch tt.kind {
			case Matched:
				if m.Entry.Procedure != tt.procedure {
					t.Fatalf("procedure: want %q, got %q", tt.procedure, m.Entry.Procedure)
				}
				if !reflect.DeepEqual(m.Args, tt.args) {
					t.Fatalf("args: want %#v, got %#v", tt.args, m.Args)
				}
			case MethodMismatch:
				if !reflect.DeepEqual(m.Allowed, tt.allowed) {
					t.Fatalf("allowed: want %v, got %v", tt.allowed, m.Allowed)
				}
			}
		})
	}
}

func TestMatchWithoutMount(t *testing.T) {
	tbl := mustTable(t, "", Spec{Path: "/hello/<name>", Method: "GET", Call: "hello", Render: "hello.html"})
	m := tbl.Match("GET", "/hello/ann")
	if m.Kind != Matched {
		t.Fatalf("expected match, got %s", m.Kind)
	}
	if m.Entry.Pattern != "/hello/<name>" {
		t.Fatalf("unexpected pattern %q", m.Entry.Pattern)
	}
	if tmpl, ok := m.Entry.Template.(stubTemplate); !ok || tmpl.name != "hello.html" {
		t.Fatalf("unexpected template %#v", m.Entry.Template)
	}
}

func TestNewErrors(t *testing.T) {
	tests := map[string]struct {
		spec Spec
		want error
	}{
		"unknown converter": {Spec{Path: "/x/<uuid:id>", Method: "GET", Call: "c", Render: "t"}, ErrInvalidRoute},
		"malformed var":     {Spec{Path: "/x/<id", Method: "GET", Call: "c", Render: "t"}, ErrInvalidRoute},
		"path not last":     {Spec{Path: "/x/<path:p>/y", Method: "GET", Call: "c", Render: "t"}, ErrInvalidRoute},
		"no leading slash":  {Spec{Path: "x", Method: "GET", Call: "c", Render: "t"}, ErrInvalidRoute},
		"missing method":    {Spec{Path: "/x", Call: "c", Render: "t"}, ErrInvalidRoute},
		"missing call":      {Spec{Path: "/x", Method: "GET", Render: "t"}, ErrInvalidRoute},
		"bad method":        {Spec{Path: "/x", Method: "BREW", Call: "c", Render: "t"}, ErrInvalidRoute},
		"template failure":  {Spec{Path: "/x", Method: "GET", Call: "c", Render: "missing.html"}, ErrTemplate},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := New("", []Spec{tt.spec}, stubCompiler)
			if !errors.Is(err, tt.want) {
				t.Fatalf("want %v, got %v", tt.want, err)
			}
		})
	}
}

func TestNewRejectsDuplicates(t *testing.T) {
	spec := Spec{Path: "/x/<id>", Method: "GET", Call: "c", Render: "t"}
	if _, err := New("", []Spec{spec, spec}, stubCompiler); !errors.Is(err, ErrInvalidRoute) {
		t.Fatalf("expected ErrInvalidRoute for duplicate route, got %v", err)
	}
}

func TestEntriesInRegistrationOrder(t *testing.T) {
	tbl := mustTable(t, "",
		Spec{Path: "/b", Method: "GET", Call: "b", Render: "t"},
		Spec{Path: "/a", Method: "GET", Call: "a", Render: "t"},
	)
	entries := tbl.Entries()
	if len(entries) != 2 || entries[0].Procedure != "b" || entries[1].Procedure != "a" {
		t.Fatalf("unexpected entries %#v", entries)
	}
}
