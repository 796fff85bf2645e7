// Package generator produces the text of an action from its target and
// style.
package generator

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"text/template"

	"github.com/ramiqadoumi/go-action-flow/internal/domain"
)

// Context is what a generator knows about the action it writes for.
type Context struct {
	TaskID      string
	Platform    string
	Kind        domain.ContentKind
	Destination string
	Style       string
}

// ContextFor builds the generation context of task.
func ContextFor(task *domain.Task) Context {
	return Context{
		TaskID:      task.ID,
		Platform:    task.Target.Platform,
		Kind:        task.Target.Kind,
		Destination: task.Target.Destination,
		Style:       task.Style,
	}
}

// Generator writes content. Implementations return an error wrapping
// domain.ErrRefused when they decline to write for a target; any other
// error is treated as transient.
type Generator interface {
	Generate(ctx context.Context, gc Context) (string, error)
}

// Func adapts a function to Generator.
type Func func(ctx context.Context, gc Context) (string, error)

func (f Func) Generate(ctx context.Context, gc Context) (string, error) { return f(ctx, gc) }

// Template renders content from Go text templates keyed by style. The
// "default" template is used for unknown or empty styles.
type Template struct {
	tmpl *template.Template
}

// NewTemplate parses templates. Each value may reference the fields of
// Context, e.g. {{.Destination}}.
func NewTemplate(templates map[string]string) (*Template, error) {
	root := template.New("root").Option("missingkey=error")
	for style, text := range templates {
		if _, err := root.New(style).Parse(text); err != nil {
			return nil, fmt.Errorf("parse template %q: %w", style, err)
		}
	}
	return &Template{tmpl: root}, nil
}

func (t *Template) Generate(_ context.Context, gc Context) (string, error) {
	name := gc.Style
	if name == "" || t.tmpl.Lookup(name) == nil {
		name = "default"
	}
	if t.tmpl.Lookup(name) == nil {
		return "", fmt.Errorf("%w: no template for style %q", domain.ErrRefused, gc.Style)
	}
	var buf bytes.Buffer
	if err := t.tmpl.ExecuteTemplate(&buf, name, gc); err != nil {
		return "", fmt.Errorf("render template %q: %w", name, err)
	}
	out := strings.TrimSpace(buf.String())
	if out == "" {
		return "", fmt.Errorf("%w: template %q rendered empty content", domain.ErrRefused, name)
	}
	return out, nil
}
