// Package template resolves {{ ... }} expressions embedded in the string
// fields of a task's configuration. Expressions are dotted paths rooted at
// one of four namespaces: env, vars, tasks and meta.
package template

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

var exprPattern = regexp.MustCompile(`\{\{\s*([^{}]+?)\s*\}\}`)

// ResolutionError reports a template expression that could not be resolved.
type ResolutionError struct {
	Expr   string // the expression as written, without braces
	Reason string
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("cannot resolve {{%s}}: %s", e.Expr, e.Reason)
}

// Context supplies the values template expressions resolve against.
type Context struct {
	// Env is the document-level env mapping.
	Env map[string]any
	// Vars are run variables, possibly pre-seeded by the caller.
	Vars map[string]any
	// TaskOutput returns the recorded output of a task that has succeeded.
	// ok is false when the task is unknown or has not succeeded yet.
	TaskOutput func(taskID string) (any, bool)
	// RunID and StartTime back the meta namespace.
	RunID     string
	StartTime time.Time
}

// Resolve walks an arbitrarily nested value and resolves every template
// expression found in its string scalars. Maps and slices are copied, never
// mutated. A string consisting of exactly one expression resolves to the
// referenced value with its type preserved.
func Resolve(value any, ctx *Context) (any, error) {
	switch v := value.(type) {
	case string:
		return resolveString(v, ctx)
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, elem := range v {
			resolved, err := Resolve(elem, ctx)
			if err != nil {
				return nil, err
			}
			out[k] = resolved
		}
		return out, nil
	case []any:
		out := make([]any, len(v))
		for i, elem := range v {
			resolved, err := Resolve(elem, ctx)
			if err != nil {
				return nil, err
			}
			out[i] = resolved
		}
		return out, nil
	default:
		// Non-string scalars pass through untouched.
		return value, nil
	}
}

func resolveString(s string, ctx *Context) (any, error) {
	matches := exprPattern.FindAllStringSubmatchIndex(s, -1)
	if len(matches) == 0 {
		return s, nil
	}

	// Whole-string single expression keeps the referenced value's type.
	if len(matches) == 1 && matches[0][0] == 0 && matches[0][1] == len(s) {
		expr := s[matches[0][2]:matches[0][3]]
		return evaluate(expr, ctx)
	}

	// Otherwise interleave literal text and stringified expression values.
	var b strings.Builder
	last := 0
	for _, m := range matches {
		b.WriteString(s[last:m[0]])
		val, err := evaluate(s[m[2]:m[3]], ctx)
		if err != nil {
			return nil, err
		}
		fmt.Fprintf(&b, "%v", val)
		last = m[1]
	}
	b.WriteString(s[last:])
	return b.String(), nil
}

func evaluate(expr string, ctx *Context) (any, error) {
	parts := strings.Split(expr, ".")
	if len(parts) < 2 {
		return nil, &ResolutionError{Expr: expr, Reason: "expected <namespace>.<path>"}
	}

	switch parts[0] {
	case "env":
		return lookupMap(expr, "env", ctx.Env, parts[1:])
	case "vars":
		return lookupMap(expr, "vars", ctx.Vars, parts[1:])
	case "meta":
		if len(parts) != 2 {
			return nil, &ResolutionError{Expr: expr, Reason: "meta keys have no sub-fields"}
		}
		switch parts[1] {
		case "runId":
			return ctx.RunID, nil
		case "startTime":
			return ctx.StartTime.Format(time.RFC3339), nil
		default:
			return nil, &ResolutionError{Expr: expr, Reason: fmt.Sprintf("unknown meta key %q", parts[1])}
		}
	case "tasks":
		if len(parts) < 3 {
			return nil, &ResolutionError{Expr: expr, Reason: "expected tasks.<taskId>.<field>"}
		}
		if ctx.TaskOutput == nil {
			return nil, &ResolutionError{Expr: expr, Reason: "task outputs unavailable in this context"}
		}
		output, ok := ctx.TaskOutput(parts[1])
		if !ok {
			return nil, &ResolutionError{Expr: expr, Reason: fmt.Sprintf("task %q has no output (unknown or not succeeded)", parts[1])}
		}
		return navigate(expr, output, parts[2:])
	default:
		return nil, &ResolutionError{Expr: expr, Reason: fmt.Sprintf("unknown namespace %q", parts[0])}
	}
}

func lookupMap(expr, ns string, m map[string]any, path []string) (any, error) {
	if len(path) != 1 {
		return navigateFromMap(expr, m, path)
	}
	v, ok := m[path[0]]
	if !ok {
		return nil, &ResolutionError{Expr: expr, Reason: fmt.Sprintf("key %q not found in %s", path[0], ns)}
	}
	return v, nil
}

func navigateFromMap(expr string, m map[string]any, path []string) (any, error) {
	return navigate(expr, any(m), path)
}

// navigate follows a dotted field path through nested maps.
func navigate(expr string, value any, path []string) (any, error) {
	current := value
	for _, field := range path {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, &ResolutionError{Expr: expr, Reason: fmt.Sprintf("field %q: value is not an object", field)}
		}
		next, ok := m[field]
		if !ok {
			return nil, &ResolutionError{Expr: expr, Reason: fmt.Sprintf("field %q not found", field)}
		}
		current = next
	}
	return current, nil
}

// TaskRefs collects the ids of every tasks.<id>.* reference inside a nested
// value. Used by document validation to check references statically.
func TaskRefs(value any) []string {
	seen := map[string]bool{}
	var ids []string
	collectTaskRefs(value, seen, &ids)
	return ids
}

func collectTaskRefs(value any, seen map[string]bool, ids *[]string) {
	switch v := value.(type) {
	case string:
		for _, m := range exprPattern.FindAllStringSubmatch(v, -1) {
			parts := strings.Split(strings.TrimSpace(m[1]), ".")
			if len(parts) >= 3 && parts[0] == "tasks" && !seen[parts[1]] {
				seen[parts[1]] = true
				*ids = append(*ids, parts[1])
			}
		}
	case map[string]any:
		for _, elem := range v {
			collectTaskRefs(elem, seen, ids)
		}
	case []any:
		for _, elem := range v {
			collectTaskRefs(elem, seen, ids)
		}
	}
}
