// Package render turns call results into HTML.
//
// Success pages come from html/template files loaded through an fs.FS rooted
// at the template directory, so a template name can never reach outside it.
// Failures are rendered through a fixed error shell by ErrorPage.
package render

import (
	"bytes"
	"errors"
	"fmt"
	"html/template"
	"io/fs"
	"os"
	"path"
)

// ErrInvalidTemplateName is returned by Compile for names that are not
// slash-separated paths relative to the template root.
var ErrInvalidTemplateName = errors.New("invalid template name")

// Engine compiles templates from a template root.
type Engine struct {
	fsys fs.FS
}

// NewEngine returns an Engine reading templates from dir.
func NewEngine(dir string) (*Engine, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("template directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("template directory %q is not a directory", dir)
	}
	return NewEngineFS(os.DirFS(dir)), nil
}

// NewEngineFS returns an Engine reading templates from fsys.
func NewEngineFS(fsys fs.FS) *Engine {
	return &Engine{fsys: fsys}
}

// Compile parses the named template. The returned Template is safe for
// concurrent use.
func (e *Engine) Compile(name string) (*Template, error) {
	if !fs.ValidPath(name) || name == "." {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTemplateName, name)
	}
	src, err := fs.ReadFile(e.fsys, name)
	if err != nil {
		return nil, fmt.Errorf("read template %q: %w", name, err)
	}
	tmpl, err := template.New(path.Base(name)).Parse(string(src))
	if err != nil {
		return nil, fmt.Errorf("parse template %q: %w", name, err)
	}
	return &Template{name: name, tmpl: tmpl}, nil
}

// Template is a compiled page template.
type Template struct {
	name string
	tmpl *template.Template
}

// Name returns the identifier the template was compiled from.
func (t *Template) Name() string { return t.name }

// Render executes the template against data. Output is buffered, so on error
// nothing has been produced.
func (t *Template) Render(data any) ([]byte, error) {
	var buf bytes.Buffer
	if err := t.tmpl.Execute(&buf, data); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

var errorShell = template.Must(template.New("error").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>API Error</title>
</head>
<body>
<h3 style="color: #f00">Application Page Error</h3>
<pre>{{.}}</pre>
</body>
</html>
`))

// ErrorPage renders message into the error shell. The message is HTML escaped.
func ErrorPage(message string) []byte {
	var buf bytes.Buffer
	if err := errorShell.Execute(&buf, message); err != nil {
		// The shell only interpolates a string.
		return []byte(template.HTMLEscapeString(message))
	}
	return buf.Bytes()
}
