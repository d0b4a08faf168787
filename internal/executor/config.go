package executor

import "fmt"

// Helpers for reading an executor's subset of the open with block. Each
// adapter interprets only the keys it understands.

func stringOpt(config map[string]any, key string) (string, bool) {
	v, ok := config[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

func requireString(config map[string]any, key string) (string, error) {
	s, ok := stringOpt(config, key)
	if !ok || s == "" {
		return "", fmt.Errorf("config key %q is required and must be a non-empty string", key)
	}
	return s, nil
}

func stringOrDefault(config map[string]any, key, def string) string {
	if s, ok := stringOpt(config, key); ok && s != "" {
		return s
	}
	return def
}

func int64Opt(config map[string]any, key string) (int64, bool) {
	switch n := config[key].(type) {
	case int:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		return int64(n), true
	}
	return 0, false
}

func sliceOpt(config map[string]any, key string) ([]any, bool) {
	v, ok := config[key]
	if !ok {
		return nil, false
	}
	s, ok := v.([]any)
	return s, ok
}

func stringSlice(config map[string]any, key string) ([]string, error) {
	raw, ok := sliceOpt(config, key)
	if !ok {
		return nil, nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("config key %q must be a list of strings, got %T", key, v)
		}
		out = append(out, s)
	}
	return out, nil
}

func mapOpt(config map[string]any, key string) (map[string]any, bool) {
	v, ok := config[key]
	if !ok {
		return nil, false
	}
	m, ok := v.(map[string]any)
	return m, ok
}
