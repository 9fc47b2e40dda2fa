// Package template resolves {{ namespace.path }} expressions in step
// parameters against a layered execution context.
//
// Four namespaces are reserved:
//
//	alert.*               fields of the triggering alert event
//	steps.{id}.output.*   previously recorded step output
//	context.*             the execution context itself
//	env.*                 the live process environment at lookup time
//
// Resolution is pure: it never mutates the context and is deterministic for
// a given context snapshot (env lookups read the process environment at call
// time). Missing paths do not raise: a standalone expression resolves to
// nil, while an expression embedded in a larger string substitutes empty.
package template

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
)

var exprPattern = regexp.MustCompile(`\{\{\s*([A-Za-z0-9_][A-Za-z0-9_.\-]*)\s*\}\}`)

// Context is the layered lookup source for template resolution.
type Context struct {
	// Alert holds the triggering alert's fields.
	Alert map[string]any

	// Steps maps step id → {"output": …} for completed steps.
	Steps map[string]any

	// Context exposes execution-level fields (execution_id, mode, …).
	Context map[string]any

	// LookupEnv overrides environment lookups; defaults to os.LookupEnv.
	LookupEnv func(key string) (string, bool)
}

func (c *Context) lookupEnv(key string) (string, bool) {
	if c != nil && c.LookupEnv != nil {
		return c.LookupEnv(key)
	}
	return os.LookupEnv(key)
}

// Resolve substitutes template expressions in value. Strings are scanned
// for expressions; maps and slices are resolved recursively into fresh
// containers; all other values are returned unchanged.
func Resolve(value any, ctx *Context) any {
	switch v := value.(type) {
	case string:
		return resolveString(v, ctx)
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, item := range v {
			out[k] = Resolve(item, ctx)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = Resolve(item, ctx)
		}
		return out
	default:
		return value
	}
}

// ResolveParameters resolves a step parameter map into a fresh map.
// A nil input yields an empty, non-nil map so adapters always receive a map.
func ResolveParameters(params map[string]any, ctx *Context) map[string]any {
	out := make(map[string]any, len(params))
	for k, v := range params {
		out[k] = Resolve(v, ctx)
	}
	return out
}

// resolveString handles one string value. A string that is exactly one
// expression resolves to the looked-up value with its original type
// preserved (nil when the path is missing). Any other string substitutes
// each expression's stringified value, with missing paths becoming empty.
func resolveString(s string, ctx *Context) any {
	trimmed := strings.TrimSpace(s)
	if m := exprPattern.FindStringSubmatch(trimmed); m != nil && m[0] == trimmed {
		value, _ := lookupExpression(m[1], ctx)
		return value
	}

	return exprPattern.ReplaceAllStringFunc(s, func(match string) string {
		expr := exprPattern.FindStringSubmatch(match)[1]
		value, ok := lookupExpression(expr, ctx)
		if !ok || value == nil {
			return ""
		}
		return stringify(value)
	})
}

// lookupExpression walks a dotted path through its namespace root.
func lookupExpression(expr string, ctx *Context) (any, bool) {
	segments := strings.Split(expr, ".")
	namespace := segments[0]
	rest := segments[1:]

	switch namespace {
	case "alert":
		if ctx == nil || ctx.Alert == nil {
			return nil, false
		}
		return walkPath(ctx.Alert, rest)
	case "steps":
		if ctx == nil || ctx.Steps == nil {
			return nil, false
		}
		return walkPath(ctx.Steps, rest)
	case "context":
		if ctx == nil || ctx.Context == nil {
			return nil, false
		}
		return walkPath(ctx.Context, rest)
	case "env":
		// env.NAME resolves one level deep; anything further is undefined.
		if len(rest) != 1 {
			return nil, false
		}
		value, ok := ctx.lookupEnv(rest[0])
		if !ok {
			return nil, false
		}
		return value, true
	default:
		return nil, false
	}
}

// walkPath descends one segment at a time through nested maps. Any missing
// segment or non-map intermediate yields undefined.
func walkPath(root map[string]any, segments []string) (any, bool) {
	if len(segments) == 0 {
		return root, true
	}
	var current any = root
	for _, seg := range segments {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[seg]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// stringify renders a resolved value for substitution inside a larger
// string. Scalars render naturally; composites render as compact JSON.
func stringify(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case json.Number:
		return v.String()
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(b)
	}
}
