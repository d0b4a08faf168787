package pipeline

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Defaults applied when the document omits settings.
const (
	DefaultMaxConcurrency = 1
	DefaultFailFast       = true
)

// Load reads and parses a pipeline document from a YAML file.
func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	doc, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	return doc, nil
}

// Parse decodes a pipeline document from YAML bytes and applies setting
// defaults. Structural validation beyond YAML well-formedness is the
// validator's job, not the parser's.
func Parse(data []byte) (*Document, error) {
	// Decode settings through a shadow struct so that an absent failFast
	// defaults to true while an explicit `failFast: false` is preserved.
	type rawSettings struct {
		MaxConcurrency *int  `yaml:"maxConcurrency"`
		FailFast       *bool `yaml:"failFast"`
	}
	type rawDocument struct {
		Name     string         `yaml:"name"`
		Version  string         `yaml:"version"`
		Env      map[string]any `yaml:"env"`
		Settings rawSettings    `yaml:"settings"`
		Tasks    []TaskSpec     `yaml:"tasks"`
	}

	var raw rawDocument
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decoding pipeline document: %w", err)
	}

	doc := &Document{
		Name:    raw.Name,
		Version: raw.Version,
		Env:     raw.Env,
		Tasks:   raw.Tasks,
		Settings: Settings{
			MaxConcurrency: DefaultMaxConcurrency,
			FailFast:       DefaultFailFast,
		},
	}
	if raw.Settings.MaxConcurrency != nil {
		doc.Settings.MaxConcurrency = *raw.Settings.MaxConcurrency
	}
	if raw.Settings.FailFast != nil {
		doc.Settings.FailFast = *raw.Settings.FailFast
	}
	if doc.Env == nil {
		doc.Env = map[string]any{}
	}

	return doc, nil
}
