package executor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// fileRead reads a file and exposes its content to downstream templates.
// Config: path (required).
func fileRead(ctx context.Context, config map[string]any, _ RunContext) (any, error) {
	path, err := requireString(config, "path")
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	return map[string]any{
		"path":    path,
		"content": string(data),
		"bytes":   len(data),
	}, nil
}

// fileWrite writes content to a file, creating parent directories.
// Config: path (required), content (required, stringified if not a string).
func fileWrite(ctx context.Context, config map[string]any, _ RunContext) (any, error) {
	path, err := requireString(config, "path")
	if err != nil {
		return nil, err
	}
	content, ok := config["content"]
	if !ok {
		return nil, fmt.Errorf("config key %q is required", "content")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var data []byte
	if s, ok := content.(string); ok {
		data = []byte(s)
	} else {
		data = []byte(fmt.Sprintf("%v", content))
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("creating parent directories for %s: %w", path, err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return nil, fmt.Errorf("writing %s: %w", path, err)
	}

	return map[string]any{
		"path":  path,
		"bytes": len(data),
	}, nil
}
