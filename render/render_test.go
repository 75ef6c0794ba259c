package render

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"testing/fstest"
)

func testEngine() *Engine {
	return NewEngineFS(fstest.MapFS{
		"hello.html":        {Data: []byte("Hello {{.name}}")},
		"users/detail.html": {Data: []byte("<p>{{.bio}}</p>")},
		"broken.html":       {Data: []byte("{{if}}")},
	})
}

func TestRenderMapping(t *testing.T) {
	tmpl, err := testEngine().Compile("hello.html")
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	out, err := tmpl.Render(map[string]any{"name": "Ann"})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if string(out) != "Hello Ann" {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestRenderEscapes(t *testing.T) {
	tmpl, err := testEngine().Compile("users/detail.html")
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	out, err := tmpl.Render(map[string]any{"bio": "<script>x</script>"})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if strings.Contains(string(out), "<script>") {
		t.Fatalf("output not escaped: %q", out)
	}
}

func TestRenderFailureProducesNoOutput(t *testing.T) {
	tmpl, err := testEngine().Compile("hello.html")
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	out, err := tmpl.Render([]any{1, 2})
	if err == nil {
		t.Fatal("expected render error for non-mapping data")
	}
	if len(out) != 0 {
		t.Fatalf("expected no output, got %q", out)
	}
}

func TestCompileErrors(t *testing.T) {
	e := testEngine()
	tests := map[string]string{
		"missing":     "nope.html",
		"parse error": "broken.html",
		"escape root": "../secret.html",
		"absolute":    "/etc/passwd",
	}
	for name, tmplName := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := e.Compile(tmplName); err == nil {
				t.Fatalf("expected error compiling %q", tmplName)
			}
		})
	}
	if _, err := e.Compile("../x"); !errors.Is(err, ErrInvalidTemplateName) {
		t.Fatalf("expected ErrInvalidTemplateName, got %v", err)
	}
}

func TestNewEngineFromDirectory(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "page.html"), []byte("{{.n}}"), 0o644); err != nil {
		t.Fatal(err)
	}
	e, err := NewEngine(dir)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	tmpl, err := e.Compile("page.html")
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if tmpl.Name() != "page.html" {
		t.Fatalf("unexpected name %q", tmpl.Name())
	}

	if _, err := NewEngine(filepath.Join(dir, "page.html")); err == nil {
		t.Fatal("expected error for non-directory root")
	}
}

func TestErrorPageEscapesMessage(t *testing.T) {
	page := string(ErrorPage(`<img src=x onerror="alert(1)">`))
	if strings.Contains(page, "<img") {
		t.Fatalf("message not escaped: %s", page)
	}
	if !strings.Contains(page, "&lt;img") {
		t.Fatalf("escaped message missing: %s", page)
	}
	if !strings.Contains(page, "<title>API Error</title>") {
		t.Fatalf("error shell missing title: %s", page)
	}
}
