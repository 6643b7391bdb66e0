// Package template renders message templates with {{variable}} placeholders
// using dot notation (e.g. {{user.display_name}}). Values are Markdown-escaped
// by default; a leading "@" inserts the raw value and a leading ">" renders the
// value as a quoted block. Unknown paths render as an empty string.
package template

import (
	"fmt"
	"regexp"
	"strings"
)

var placeholderPattern = regexp.MustCompile(`\{\{([^}]+)\}\}`)

// Context holds the variable values available to a template. Nested maps are
// addressed with dotted paths.
type Context map[string]any

// Render substitutes every {{path}} placeholder in tmpl with the value found
// at that dotted path in ctx.
func Render(tmpl string, ctx Context) string {
	return placeholderPattern.ReplaceAllStringFunc(tmpl, func(match string) string {
		path := strings.TrimSpace(match[2 : len(match)-2])
		raw := strings.HasPrefix(path, "@")
		quote := strings.HasPrefix(path, ">")
		if raw || quote {
			// only the first character is a modifier, the rest is the path
			path = path[1:]
		}

		value, ok := lookup(ctx, path)
		if !ok {
			return ""
		}
		str := stringify(value)
		if raw {
			return str
		}
		escaped := Escape(str)
		if quote {
			return "**>" + strings.ReplaceAll(escaped, "\n", "\n>") + "\n"
		}
		return escaped
	})
}

// Escape backslash-escapes the Markdown control characters in value.
func Escape(value string) string {
	var b strings.Builder
	b.Grow(len(value))
	for _, r := range value {
		if strings.ContainsRune("*_[]()~`>#+-=|{}.!", r) {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}

func lookup(ctx Context, path string) (any, bool) {
	var current any = map[string]any(ctx)
	for _, key := range strings.Split(path, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[key]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

func stringify(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", v)
	}
}
