package provider

import (
	"crypto/md5"
	"fmt"
	"strings"
	"sync"

	"github.com/osteele/liquid"
)

// Renderer substitutes recipient variables into message templates using
// Liquid syntax, with a parse cache keyed by template text. Template rows
// are immutable, so text identity is a safe cache key.
type Renderer struct {
	engine *liquid.Engine
	cache  sync.Map // md5(template) -> *liquid.Template
}

// NewRenderer creates a renderer with the standard filter set.
func NewRenderer() *Renderer {
	r := &Renderer{engine: liquid.NewEngine()}
	r.registerFilters()
	return r
}

func (r *Renderer) registerFilters() {
	// {{ first_name | default: "there" }}
	r.engine.RegisterFilter("default", func(value interface{}, defaultVal string) interface{} {
		if value == nil {
			return defaultVal
		}
		strVal := fmt.Sprintf("%v", value)
		if strVal == "" || strVal == "<nil>" {
			return defaultVal
		}
		return value
	})

	// {{ first_name | titlecase }}
	r.engine.RegisterFilter("titlecase", func(s string) string {
		return strings.Title(strings.ToLower(s))
	})

	// {{ name | capitalize }}
	r.engine.RegisterFilter("capitalize", func(s string) string {
		if len(s) == 0 {
			return s
		}
		return strings.ToUpper(string(s[0])) + strings.ToLower(s[1:])
	})
}

// Render processes a template with the given variables. On parse or render
// failure the original template text comes back along with the error, so
// callers can choose to send it raw rather than drop the message.
func (r *Renderer) Render(tpl string, vars map[string]interface{}) (string, error) {
	key := fmt.Sprintf("%x", md5.Sum([]byte(tpl)))
	if cached, ok := r.cache.Load(key); ok {
		out, err := cached.(*liquid.Template).RenderString(vars)
		if err != nil {
			return tpl, err
		}
		return out, nil
	}

	parsed, err := r.engine.ParseString(tpl)
	if err != nil {
		return tpl, fmt.Errorf("parse template: %w", err)
	}
	r.cache.Store(key, parsed)

	out, err := parsed.RenderString(vars)
	if err != nil {
		return tpl, err
	}
	return out, nil
}

// Validate compiles the template and reports syntax errors. Used at
// authoring time so broken templates never reach dispatch.
func (r *Renderer) Validate(tpl string) error {
	if _, err := r.engine.ParseString(tpl); err != nil {
		return fmt.Errorf("invalid template: %w", err)
	}
	return nil
}
