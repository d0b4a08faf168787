package executor

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// zipCreate builds a zip archive from a list of files and directories.
// Config: output (required archive path), sources (required list of paths).
func zipCreate(ctx context.Context, config map[string]any, _ RunContext) (any, error) {
	output, err := requireString(config, "output")
	if err != nil {
		return nil, err
	}
	sources, err := stringSlice(config, "sources")
	if err != nil {
		return nil, err
	}
	if len(sources) == 0 {
		return nil, fmt.Errorf("config key %q is required and must be a non-empty list", "sources")
	}

	if err := os.MkdirAll(filepath.Dir(output), 0755); err != nil {
		return nil, fmt.Errorf("creating parent directories for %s: %w", output, err)
	}
	f, err := os.Create(output)
	if err != nil {
		return nil, fmt.Errorf("creating %s: %w", output, err)
	}
	defer f.Close()

	w := zip.NewWriter(f)
	entries := 0
	for _, source := range sources {
		err := filepath.Walk(source, func(path string, info os.FileInfo, err error) error {
			if err != nil {
				return err
			}
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			if info.IsDir() {
				return nil
			}
			rel, err := filepath.Rel(filepath.Dir(source), path)
			if err != nil {
				return err
			}
			entry, err := w.Create(filepath.ToSlash(rel))
			if err != nil {
				return err
			}
			src, err := os.Open(path)
			if err != nil {
				return err
			}
			defer src.Close()
			if _, err := io.Copy(entry, src); err != nil {
				return err
			}
			entries++
			return nil
		})
		if err != nil {
			w.Close()
			return nil, fmt.Errorf("archiving %s: %w", source, err)
		}
	}

	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("finalizing %s: %w", output, err)
	}
	return map[string]any{
		"path":    output,
		"entries": entries,
	}, nil
}
