package scheduler

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gammazero/toposort"

	"github.com/skein-dev/skein/internal/pipeline"
)

// taskState is the mutable per-task record tracked by the graph.
type taskState struct {
	spec       *pipeline.TaskSpec
	index      int // position in document declaration order
	status     Status
	output     any
	err        error
	startedAt  time.Time
	finishedAt time.Time
}

// Graph is the dependency DAG for one run, derived from a document's
// dependsOn edges. It owns all per-task runtime state; every transition goes
// through its mutex so concurrent executor completions cannot race on
// readiness computation.
type Graph struct {
	mu         sync.RWMutex
	order      []string // task ids in document declaration order
	tasks      map[string]*taskState
	dependents map[string][]string // taskID -> ids of tasks that depend on it
}

// NewGraph builds a graph from a validated document. All tasks start Pending;
// tasks with no dependencies are promoted to Ready immediately.
func NewGraph(doc *pipeline.Document) (*Graph, error) {
	g := &Graph{
		tasks:      make(map[string]*taskState, len(doc.Tasks)),
		dependents: make(map[string][]string),
	}

	for i := range doc.Tasks {
		spec := &doc.Tasks[i]
		if _, exists := g.tasks[spec.ID]; exists {
			return nil, fmt.Errorf("task with id %q already exists", spec.ID)
		}
		g.tasks[spec.ID] = &taskState{spec: spec, index: i, status: StatusPending}
		g.order = append(g.order, spec.ID)
		for _, dep := range spec.DependsOn {
			g.dependents[dep] = append(g.dependents[dep], spec.ID)
		}
	}

	if _, err := g.TopoOrder(); err != nil {
		return nil, err
	}

	g.mu.Lock()
	g.promoteReadyLocked()
	g.mu.Unlock()

	return g, nil
}

// TopoOrder returns the task ids in a topological order of the dependsOn
// edges, or an error if the graph has a cycle or an undeclared dependency.
func (g *Graph) TopoOrder() ([]string, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var edges []toposort.Edge
	for _, id := range g.order {
		st := g.tasks[id]
		if len(st.spec.DependsOn) == 0 {
			edges = append(edges, toposort.Edge{nil, id})
			continue
		}
		for _, dep := range st.spec.DependsOn {
			if _, ok := g.tasks[dep]; !ok {
				return nil, fmt.Errorf("task %q depends on undeclared task %q", id, dep)
			}
			edges = append(edges, toposort.Edge{dep, id})
		}
	}

	sorted, err := toposort.Toposort(edges)
	if err != nil {
		return nil, fmt.Errorf("dependency graph contains a cycle: %w", err)
	}

	order := make([]string, 0, len(g.tasks))
	for _, id := range sorted {
		if id != nil {
			order = append(order, id.(string))
		}
	}
	if len(order) != len(g.tasks) {
		missing := make([]string, 0)
		seen := make(map[string]bool, len(order))
		for _, id := range order {
			seen[id] = true
		}
		for _, id := range g.order {
			if !seen[id] {
				missing = append(missing, id)
			}
		}
		return nil, fmt.Errorf("topological sort lost %d tasks: %s", len(missing), strings.Join(missing, ", "))
	}

	return order, nil
}

// NextReady pops the first Ready task in document declaration order and
// marks it Running. Returns nil when nothing is ready.
func (g *Graph) NextReady() *pipeline.TaskSpec {
	g.mu.Lock()
	defer g.mu.Unlock()

	for _, id := range g.order {
		st := g.tasks[id]
		if st.status == StatusReady {
			st.status = StatusRunning
			st.startedAt = time.Now()
			return st.spec
		}
	}
	return nil
}

// satisfiedLocked reports whether a dependency's terminal state allows
// dependents to proceed: Succeeded, or Failed with allowFailure.
func satisfiedLocked(dep *taskState) bool {
	switch dep.status {
	case StatusSucceeded:
		return true
	case StatusFailed:
		return dep.spec.AllowFailure()
	default:
		return false
	}
}

// promoteReadyLocked transitions every Pending task whose dependencies are
// all satisfied to Ready. Caller must hold the write lock.
func (g *Graph) promoteReadyLocked() {
	for _, id := range g.order {
		st := g.tasks[id]
		if st.status != StatusPending {
			continue
		}
		ready := true
		for _, dep := range st.spec.DependsOn {
			if !satisfiedLocked(g.tasks[dep]) {
				ready = false
				break
			}
		}
		if ready {
			st.status = StatusReady
		}
	}
}

// MarkSucceeded records a task's output, transitions it to Succeeded, and
// promotes any dependents that became ready.
func (g *Graph) MarkSucceeded(taskID string, output any) {
	g.mu.Lock()
	defer g.mu.Unlock()

	st := g.tasks[taskID]
	st.status = StatusSucceeded
	st.output = output
	st.finishedAt = time.Now()
	g.promoteReadyLocked()
}

// MarkFailed transitions a task to Failed. If the task allows failure its
// dependents may still become ready. Otherwise every task that transitively
// depends on it is skipped, and the returned ids name those skipped tasks.
func (g *Graph) MarkFailed(taskID string, err error) (skipped []string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	st := g.tasks[taskID]
	st.status = StatusFailed
	st.err = err
	st.finishedAt = time.Now()

	if st.spec.AllowFailure() {
		g.promoteReadyLocked()
		return nil
	}

	skipped = g.skipDependentsLocked(taskID)
	g.promoteReadyLocked()
	return skipped
}

// skipDependentsLocked marks every non-terminal transitive dependent of
// taskID as Skipped with a SkippedDependencyError naming the failed task.
func (g *Graph) skipDependentsLocked(taskID string) []string {
	var skipped []string
	queue := append([]string(nil), g.dependents[taskID]...)
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		st := g.tasks[id]
		if st.status != StatusPending && st.status != StatusReady {
			continue
		}
		st.status = StatusSkipped
		st.err = &SkippedDependencyError{TaskID: id, DependencyID: taskID}
		st.finishedAt = time.Now()
		skipped = append(skipped, id)
		queue = append(queue, g.dependents[id]...)
	}
	return skipped
}

// SkipRemaining marks every task still Pending or Ready as Skipped with the
// given cause. Used when the run stops dispatching: fail-fast abort or
// caller cancellation. Returns the skipped ids.
func (g *Graph) SkipRemaining(cause string) []string {
	g.mu.Lock()
	defer g.mu.Unlock()

	var skipped []string
	for _, id := range g.order {
		st := g.tasks[id]
		if st.status == StatusPending || st.status == StatusReady {
			st.status = StatusSkipped
			st.err = &AbortedError{TaskID: id, Cause: cause}
			st.finishedAt = time.Now()
			skipped = append(skipped, id)
		}
	}
	return skipped
}

// Output returns a succeeded task's recorded output. ok is false when the
// task is unknown or has not succeeded; a failed allowFailure task exposes
// no output to downstream templates.
func (g *Graph) Output(taskID string) (any, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	st, ok := g.tasks[taskID]
	if !ok || st.status != StatusSucceeded {
		return nil, false
	}
	return st.output, true
}

// Live reports whether any task is still Pending, Ready or Running.
func (g *Graph) Live() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()

	for _, st := range g.tasks {
		if !st.status.Terminal() {
			return true
		}
	}
	return false
}

// Status returns a task's current status.
func (g *Graph) Status(taskID string) (Status, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	st, ok := g.tasks[taskID]
	if !ok {
		return "", false
	}
	return st.status, true
}

// Snapshot copies the current per-task state into report form.
func (g *Graph) Snapshot() map[string]*TaskResult {
	g.mu.RLock()
	defer g.mu.RUnlock()

	results := make(map[string]*TaskResult, len(g.tasks))
	for id, st := range g.tasks {
		r := &TaskResult{
			ID:         id,
			Status:     st.status,
			Output:     st.output,
			StartedAt:  st.startedAt,
			FinishedAt: st.finishedAt,
		}
		if st.err != nil {
			r.Error = st.err.Error()
		}
		if !st.startedAt.IsZero() && !st.finishedAt.IsZero() {
			r.DurationMs = st.finishedAt.Sub(st.startedAt).Milliseconds()
		}
		results[id] = r
	}
	return results
}
