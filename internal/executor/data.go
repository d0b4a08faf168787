package executor

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// delay sleeps for the configured duration, honoring cancellation.
// Config: durationMs (required, positive).
func delay(ctx context.Context, config map[string]any, _ RunContext) (any, error) {
	ms, ok := int64Opt(config, "durationMs")
	if !ok || ms < 0 {
		return nil, fmt.Errorf("config key %q is required and must be a non-negative integer", "durationMs")
	}

	timer := time.NewTimer(time.Duration(ms) * time.Millisecond)
	defer timer.Stop()

	select {
	case <-timer.C:
		return map[string]any{"sleptMs": ms}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// transform passes its input through, optionally picking a nested field.
// Config: input (required, usually a template expression), pick (optional
// dotted path into the input).
func transform(_ context.Context, config map[string]any, _ RunContext) (any, error) {
	input, ok := config["input"]
	if !ok {
		return nil, fmt.Errorf("config key %q is required", "input")
	}
	pick, ok := stringOpt(config, "pick")
	if !ok || pick == "" {
		return map[string]any{"value": input}, nil
	}

	current := input
	for _, field := range strings.Split(pick, ".") {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("pick %q: value at %q is not an object", pick, field)
		}
		current, ok = m[field]
		if !ok {
			return nil, fmt.Errorf("pick %q: field %q not found", pick, field)
		}
	}
	return map[string]any{"value": current}, nil
}

// collect gathers a list of values, usually upstream task outputs referenced
// through templates, into a single output.
// Config: items (required list).
func collect(_ context.Context, config map[string]any, _ RunContext) (any, error) {
	items, ok := sliceOpt(config, "items")
	if !ok {
		return nil, fmt.Errorf("config key %q is required and must be a list", "items")
	}
	return map[string]any{
		"items": items,
		"count": len(items),
	}, nil
}

// jsonMerge deep-merges a list of objects, rightmost source winning.
// Config: sources (required list of objects).
func jsonMerge(_ context.Context, config map[string]any, _ RunContext) (any, error) {
	sources, ok := sliceOpt(config, "sources")
	if !ok || len(sources) == 0 {
		return nil, fmt.Errorf("config key %q is required and must be a non-empty list", "sources")
	}

	merged := map[string]any{}
	for i, src := range sources {
		obj, ok := src.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("sources[%d] is not an object (got %T)", i, src)
		}
		merged = deepMerge(merged, obj)
	}
	return merged, nil
}

func deepMerge(dst, src map[string]any) map[string]any {
	out := make(map[string]any, len(dst)+len(src))
	for k, v := range dst {
		out[k] = v
	}
	for k, v := range src {
		if existing, ok := out[k].(map[string]any); ok {
			if incoming, ok := v.(map[string]any); ok {
				out[k] = deepMerge(existing, incoming)
				continue
			}
		}
		out[k] = v
	}
	return out
}
