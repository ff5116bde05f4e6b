// Package render interpolates insight templates.
//
// Templates use "{{ name }}" placeholders with an optional filter, as in
// "{{ balance | currency }}". A placeholder that cannot be resolved, even
// after the fallback defaults, fails the render.
package render

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/valyala/fasttemplate"

	"github.com/opensource-finance/creditsight/internal/domain"
)

const (
	startTag = "{{"
	endTag   = "}}"
)

// fallbacks are substituted for common variables absent from the context.
var fallbacks = map[string]any{
	"Facility":               "facility",
	"loantype":               "loan",
	"Lender_Type":            "lender",
	"lendertype":             "lender",
	"balance":                0.0,
	"limit":                  0.0,
	"creditutilizationratio": 0.0,
	"case_types":             "",
	"case_details":           "",
}

// aliases rewrite display names to the normalized record keys.
var aliases = map[string]string{
	"Facility":    "loantype",
	"Lender_Type": "lendertype",
}

// Renderer renders templates against a context mapping.
type Renderer struct {
	filters Filters
}

// New creates a renderer whose currency filter uses the given prefix.
func New(currencyPrefix string) *Renderer {
	return &Renderer{filters: DefaultFilters(currencyPrefix)}
}

// Render interpolates tmpl with values from ctx.
func (r *Renderer) Render(tmpl string, ctx map[string]any) (string, error) {
	if !strings.Contains(tmpl, startTag) {
		return tmpl, nil
	}

	t, err := fasttemplate.NewTemplate(tmpl, startTag, endTag)
	if err != nil {
		return "", &domain.RenderError{Template: tmpl, Err: err}
	}

	out, err := t.ExecuteFuncStringWithErr(func(w io.Writer, tag string) (int, error) {
		s, err := r.placeholder(tag, ctx)
		if err != nil {
			return 0, err
		}
		return w.Write([]byte(s))
	})
	if err != nil {
		var rerr *domain.RenderError
		if errors.As(err, &rerr) {
			rerr.Template = tmpl
			return "", rerr
		}
		return "", &domain.RenderError{Template: tmpl, Err: err}
	}
	return out, nil
}

// Validate reports whether tmpl is well formed, without resolving variables.
func (r *Renderer) Validate(tmpl string) error {
	if !strings.Contains(tmpl, startTag) {
		return nil
	}
	t, err := fasttemplate.NewTemplate(tmpl, startTag, endTag)
	if err != nil {
		return &domain.RenderError{Template: tmpl, Err: err}
	}
	_, err = t.ExecuteFuncStringWithErr(func(w io.Writer, tag string) (int, error) {
		name, filter, _, err := parseTag(tag)
		if err != nil {
			return 0, err
		}
		if filter != "" {
			if _, ok := r.filters[filter]; !ok {
				return 0, fmt.Errorf("unknown filter %q", filter)
			}
		}
		return w.Write([]byte(name))
	})
	if err != nil {
		return &domain.RenderError{Template: tmpl, Err: err}
	}
	return nil
}

func (r *Renderer) placeholder(tag string, ctx map[string]any) (string, error) {
	name, filter, arg, err := parseTag(tag)
	if err != nil {
		return "", err
	}

	value, ok := ctx[name]
	if !ok {
		value, ok = fallbacks[name]
	}
	if !ok {
		return "", &domain.RenderError{Variable: name}
	}

	if filter == "" {
		return FormatValue(name, value), nil
	}
	f, ok := r.filters[filter]
	if !ok {
		return "", fmt.Errorf("unknown filter %q", filter)
	}
	return f(value, arg), nil
}

// parseTag splits "name | filter(arg)" into its parts.
func parseTag(tag string) (name, filter, arg string, err error) {
	parts := strings.Split(tag, "|")
	name = strings.TrimSpace(parts[0])
	if !isIdentifier(name) {
		return "", "", "", fmt.Errorf("invalid placeholder %q", strings.TrimSpace(tag))
	}
	if len(parts) > 2 {
		return "", "", "", fmt.Errorf("chained filters are not supported in %q", strings.TrimSpace(tag))
	}
	if len(parts) == 2 {
		filter = strings.TrimSpace(parts[1])
		if open := strings.IndexByte(filter, '('); open >= 0 && strings.HasSuffix(filter, ")") {
			arg = strings.TrimSpace(filter[open+1 : len(filter)-1])
			filter = strings.TrimSpace(filter[:open])
		}
		if filter == "" {
			return "", "", "", fmt.Errorf("empty filter in %q", strings.TrimSpace(tag))
		}
	}
	return name, filter, arg, nil
}

func isIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, c := range s {
		switch {
		case c == '_', c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z':
		case i > 0 && c >= '0' && c <= '9':
		default:
			return false
		}
	}
	return true
}

// ApplyAliases rewrites display-name placeholders such as {{Facility}} to
// the normalized record keys they stand for.
func ApplyAliases(tmpl string) string {
	if tmpl == "" {
		return tmpl
	}
	for alias, key := range aliases {
		tmpl = strings.ReplaceAll(tmpl, "{{"+alias+"}}", "{{ "+key+" }}")
		tmpl = strings.ReplaceAll(tmpl, "{{ "+alias+" }}", "{{ "+key+" }}")
	}
	return tmpl
}
