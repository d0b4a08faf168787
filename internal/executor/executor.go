// Package executor defines the contract between the scheduling core and the
// pluggable per-type task adapters, and provides the built-in adapters.
package executor

import (
	"context"
	"sort"
	"sync"
	"time"
)

// RunContext carries run-scoped values into an executor. Executors treat it
// as read-only.
type RunContext struct {
	RunID     string
	StartTime time.Time
	Vars      map[string]any
	Env       map[string]any
}

// Executor is the contract every task-type adapter must satisfy: return
// exactly once, honor ctx cancellation, and produce output representable as
// a structured value usable by template resolution.
type Executor interface {
	Execute(ctx context.Context, config map[string]any, run RunContext) (any, error)
}

// Func adapts a plain function into an Executor.
type Func func(ctx context.Context, config map[string]any, run RunContext) (any, error)

func (f Func) Execute(ctx context.Context, config map[string]any, run RunContext) (any, error) {
	return f(ctx, config, run)
}

// Registry maps task type names to executors.
type Registry struct {
	mu        sync.RWMutex
	executors map[string]Executor
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{executors: make(map[string]Executor)}
}

// Register adds or replaces the executor for a type name.
func (r *Registry) Register(taskType string, e Executor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.executors[taskType] = e
}

// Get returns the executor registered for a type name.
func (r *Registry) Get(taskType string) (Executor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.executors[taskType]
	return e, ok
}

// Known reports whether a type name has a registered executor. Satisfies the
// validator's TypeChecker.
func (r *Registry) Known(taskType string) bool {
	_, ok := r.Get(taskType)
	return ok
}

// Types returns the sorted registered type names.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.executors))
	for name := range r.executors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DefaultRegistry returns a registry with every built-in executor type.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register("file.read", Func(fileRead))
	r.Register("file.write", Func(fileWrite))
	r.Register("http.request", Func(httpRequest))
	r.Register("delay", Func(delay))
	r.Register("transform", Func(transform))
	r.Register("collect", Func(collect))
	r.Register("json.merge", Func(jsonMerge))
	r.Register("shell.exec", Func(shellExec))
	r.Register("git.exec", Func(gitExec))
	r.Register("npm.run", Func(npmRun))
	r.Register("zip.create", Func(zipCreate))
	return r
}
