// Package templates renders email bodies with the Liquid template language.
// Operator-authored broadcast messages and the built-in login email share
// one engine so placeholders such as {{ name }} behave identically.
package templates

import (
	"embed"
	"fmt"
	"strings"
	"sync"

	"github.com/osteele/liquid"
)

//go:embed files/*
var files embed.FS

// Renderer parses and renders Liquid templates. Parsed templates are cached
// by source text, so repeated broadcasts reuse one parse. Safe for
// concurrent use.
type Renderer struct {
	engine *liquid.Engine
	cache  sync.Map // map[string]*liquid.Template
}

// New creates a renderer with the shelter's custom filters.
func New() *Renderer {
	engine := liquid.NewEngine()

	// {{ name | default: "Friend" }}
	engine.RegisterFilter("default", func(value interface{}, fallback string) interface{} {
		if value == nil {
			return fallback
		}
		if s := fmt.Sprintf("%v", value); s == "" || s == "<nil>" {
			return fallback
		}
		return value
	})

	return &Renderer{engine: engine}
}

// Render evaluates src against vars. Unknown variables render empty.
func (r *Renderer) Render(src string, vars map[string]interface{}) (string, error) {
	tpl, err := r.parse(src)
	if err != nil {
		return "", err
	}
	out, rerr := tpl.RenderString(vars)
	if rerr != nil {
		return "", fmt.Errorf("render template: %w", rerr)
	}
	return out, nil
}

// RenderFile renders one of the embedded templates, e.g. "login_link.txt".
func (r *Renderer) RenderFile(name string, vars map[string]interface{}) (string, error) {
	src, err := Source(name)
	if err != nil {
		return "", err
	}
	return r.Render(src, vars)
}

// Source returns the raw text of an embedded template.
func Source(name string) (string, error) {
	data, err := files.ReadFile("files/" + name)
	if err != nil {
		return "", fmt.Errorf("template %s: %w", name, err)
	}
	return strings.TrimRight(string(data), "\n"), nil
}

func (r *Renderer) parse(src string) (*liquid.Template, error) {
	if cached, ok := r.cache.Load(src); ok {
		return cached.(*liquid.Template), nil
	}
	tpl, err := r.engine.ParseString(src)
	if err != nil {
		return nil, fmt.Errorf("parse template: %w", err)
	}
	r.cache.Store(src, tpl)
	return tpl, nil
}
