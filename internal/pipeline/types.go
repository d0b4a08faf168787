package pipeline

// Settings holds run-wide execution settings.
type Settings struct {
	// MaxConcurrency bounds the number of tasks executing at once.
	MaxConcurrency int `yaml:"maxConcurrency"`
	// FailFast stops dispatching new tasks after a non-allowed failure.
	FailFast bool `yaml:"failFast"`
}

// TaskSpec describes a single task in a pipeline document.
// It is read-only once the document has been validated.
type TaskSpec struct {
	ID          string         `yaml:"id"`
	Type        string         `yaml:"type"`
	DependsOn   []string       `yaml:"dependsOn"`
	With        map[string]any `yaml:"with"`
	Description string         `yaml:"description"`
}

// Document is a parsed pipeline document. Task order is preserved from the
// source document and used as the deterministic dispatch tie-break.
type Document struct {
	Name     string         `yaml:"name"`
	Version  string         `yaml:"version"`
	Env      map[string]any `yaml:"env"`
	Settings Settings       `yaml:"settings"`
	Tasks    []TaskSpec     `yaml:"tasks"`
}

// Task returns the task with the given id, or nil if it is not declared.
func (d *Document) Task(id string) *TaskSpec {
	for i := range d.Tasks {
		if d.Tasks[i].ID == id {
			return &d.Tasks[i]
		}
	}
	return nil
}

// TimeoutMs returns the per-task timeout budget in milliseconds, read from
// the task's with block. Zero means no timeout.
func (t *TaskSpec) TimeoutMs() int64 {
	return intFromWith(t.With, "timeoutMs")
}

// AllowFailure reports whether a failure of this task should still satisfy
// its dependents' readiness.
func (t *TaskSpec) AllowFailure() bool {
	v, ok := t.With["allowFailure"]
	if !ok {
		return false
	}
	b, ok := v.(bool)
	return ok && b
}

func intFromWith(with map[string]any, key string) int64 {
	v, ok := with[key]
	if !ok {
		return 0
	}
	switch n := v.(type) {
	case int:
		return int64(n)
	case int64:
		return n
	case float64:
		return int64(n)
	}
	return 0
}
