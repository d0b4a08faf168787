package pipeline

import (
	"fmt"
	"strings"

	"github.com/skein-dev/skein/internal/template"
)

// ErrorKind classifies a validation finding.
type ErrorKind string

const (
	KindMissingField      ErrorKind = "MissingField"
	KindDuplicateTaskID   ErrorKind = "DuplicateTaskId"
	KindUnknownDependency ErrorKind = "UnknownDependency"
	KindCyclicDependency  ErrorKind = "CyclicDependency"
	KindUnknownTaskType   ErrorKind = "UnknownTaskType"
	KindInvalidSetting    ErrorKind = "InvalidSettingType"
	KindTemplateReference ErrorKind = "TemplateResolutionError"
)

// ValidationError is a single validation finding. Validation accumulates all
// findings rather than stopping at the first one.
type ValidationError struct {
	Kind    ErrorKind
	TaskID  string // empty for document-level findings
	Message string
}

func (e ValidationError) Error() string {
	if e.TaskID != "" {
		return fmt.Sprintf("%s: task %q: %s", e.Kind, e.TaskID, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// ValidationErrors is the batch of findings for one document.
type ValidationErrors []ValidationError

func (errs ValidationErrors) Error() string {
	msgs := make([]string, len(errs))
	for i, e := range errs {
		msgs[i] = e.Error()
	}
	return fmt.Sprintf("pipeline document invalid (%d findings): %s", len(errs), strings.Join(msgs, "; "))
}

// TypeChecker reports whether an executor type name is registered.
type TypeChecker interface {
	Known(taskType string) bool
}

// Validate statically checks a pipeline document against the set of known
// executor types. An empty result means the document is executable. A run
// never starts while this returns findings.
func Validate(doc *Document, types TypeChecker) ValidationErrors {
	var errs ValidationErrors

	if doc.Name == "" {
		errs = append(errs, ValidationError{Kind: KindMissingField, Message: "document field \"name\" is required"})
	}
	if doc.Version == "" {
		errs = append(errs, ValidationError{Kind: KindMissingField, Message: "document field \"version\" is required"})
	}
	if len(doc.Tasks) == 0 {
		errs = append(errs, ValidationError{Kind: KindMissingField, Message: "document declares no tasks"})
	}

	// Duplicate ids. Later checks operate on the first declaration of an id.
	declared := make(map[string]bool, len(doc.Tasks))
	for _, task := range doc.Tasks {
		if task.ID == "" {
			errs = append(errs, ValidationError{Kind: KindMissingField, Message: "task is missing an id"})
			continue
		}
		if declared[task.ID] {
			errs = append(errs, ValidationError{
				Kind:    KindDuplicateTaskID,
				TaskID:  task.ID,
				Message: fmt.Sprintf("task id %q declared more than once", task.ID),
			})
			continue
		}
		declared[task.ID] = true
	}

	// Dependency existence and self-reference.
	for _, task := range doc.Tasks {
		for _, dep := range task.DependsOn {
			if dep == task.ID {
				errs = append(errs, ValidationError{
					Kind:    KindCyclicDependency,
					TaskID:  task.ID,
					Message: fmt.Sprintf("cycle detected: %s -> %s", task.ID, task.ID),
				})
				continue
			}
			if !declared[dep] {
				errs = append(errs, ValidationError{
					Kind:    KindUnknownDependency,
					TaskID:  task.ID,
					Message: fmt.Sprintf("depends on undeclared task %q", dep),
				})
			}
		}
	}

	// Cycle detection over the declared edges. Self-edges and edges to
	// undeclared tasks were reported above and are excluded here.
	for _, cycle := range findCycles(doc, declared) {
		errs = append(errs, ValidationError{
			Kind:    KindCyclicDependency,
			TaskID:  cycle[0],
			Message: fmt.Sprintf("cycle detected: %s", strings.Join(cycle, " -> ")),
		})
	}

	// Executor types. Unknown types don't block the remaining checks.
	for _, task := range doc.Tasks {
		if task.Type == "" {
			errs = append(errs, ValidationError{Kind: KindMissingField, TaskID: task.ID, Message: "task is missing a type"})
			continue
		}
		if types != nil && !types.Known(task.Type) {
			errs = append(errs, ValidationError{
				Kind:    KindUnknownTaskType,
				TaskID:  task.ID,
				Message: fmt.Sprintf("no executor registered for type %q", task.Type),
			})
		}
	}

	if doc.Settings.MaxConcurrency < 1 {
		errs = append(errs, ValidationError{
			Kind:    KindInvalidSetting,
			Message: fmt.Sprintf("settings.maxConcurrency must be a positive integer, got %d", doc.Settings.MaxConcurrency),
		})
	}

	// Best-effort static template check: tasks.<id> references in a with
	// block must name a task reachable through the transitive dependsOn set,
	// otherwise resolution is guaranteed to fail at dispatch time.
	for _, task := range doc.Tasks {
		refs := template.TaskRefs(task.With)
		if len(refs) == 0 {
			continue
		}
		reachable := transitiveDeps(doc, task.ID)
		for _, ref := range refs {
			if !reachable[ref] {
				errs = append(errs, ValidationError{
					Kind:    KindTemplateReference,
					TaskID:  task.ID,
					Message: fmt.Sprintf("template references tasks.%s which is not in this task's dependency closure", ref),
				})
			}
		}
	}

	return errs
}

// transitiveDeps computes the transitive dependsOn closure of a task.
func transitiveDeps(doc *Document, id string) map[string]bool {
	closure := map[string]bool{}
	stack := []string{id}
	for len(stack) > 0 {
		current := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		task := doc.Task(current)
		if task == nil {
			continue
		}
		for _, dep := range task.DependsOn {
			if !closure[dep] {
				closure[dep] = true
				stack = append(stack, dep)
			}
		}
	}
	return closure
}

// findCycles runs a DFS with recursion-stack coloring over the dependsOn
// edges and returns each cycle found as a sequence of ids ending where it
// starts, for diagnostics.
func findCycles(doc *Document, declared map[string]bool) [][]string {
	const (
		white = 0 // unvisited
		grey  = 1 // on the recursion stack
		black = 2 // fully explored
	)

	color := make(map[string]int, len(doc.Tasks))
	var stack []string
	var cycles [][]string
	reported := map[string]bool{}

	var visit func(id string)
	visit = func(id string) {
		color[id] = grey
		stack = append(stack, id)

		task := doc.Task(id)
		if task != nil {
			for _, dep := range task.DependsOn {
				if dep == id || !declared[dep] {
					continue
				}
				switch color[dep] {
				case white:
					visit(dep)
				case grey:
					// Back edge: the cycle is the stack segment from dep to id.
					start := 0
					for i, s := range stack {
						if s == dep {
							start = i
							break
						}
					}
					cycle := append(append([]string{}, stack[start:]...), dep)
					if !reported[cycleKey(cycle)] {
						reported[cycleKey(cycle)] = true
						cycles = append(cycles, cycle)
					}
				}
			}
		}

		stack = stack[:len(stack)-1]
		color[id] = black
	}

	for _, task := range doc.Tasks {
		if declared[task.ID] && color[task.ID] == white {
			visit(task.ID)
		}
	}
	return cycles
}

// cycleKey normalizes a cycle to its set of participants so the same cycle
// discovered from different entry points is reported once.
func cycleKey(cycle []string) string {
	members := append([]string{}, cycle[:len(cycle)-1]...)
	min := 0
	for i, m := range members {
		if m < members[min] {
			min = i
		}
	}
	rotated := append(append([]string{}, members[min:]...), members[:min]...)
	return strings.Join(rotated, "\x00")
}
