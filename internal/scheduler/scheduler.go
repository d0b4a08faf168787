// Package scheduler drives a validated pipeline document to completion:
// it derives the dependency graph, dispatches ready tasks to their executors
// under bounded concurrency, applies the fail-fast and allowFailure policies,
// and accumulates the run report.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/skein-dev/skein/internal/events"
	"github.com/skein-dev/skein/internal/executor"
	"github.com/skein-dev/skein/internal/pipeline"
	"github.com/skein-dev/skein/internal/template"
)

// Scheduler executes pipeline documents. It is stateless across runs; all
// per-run state lives in the run's Graph.
type Scheduler struct {
	registry *executor.Registry
	bus      *events.Bus // optional
	log      zerolog.Logger
}

// New creates a scheduler dispatching to the given executor registry.
// bus may be nil when no observer is interested in lifecycle events.
func New(registry *executor.Registry, log zerolog.Logger, bus *events.Bus) *Scheduler {
	return &Scheduler{
		registry: registry,
		bus:      bus,
		log:      log.With().Str("component", "scheduler").Logger(),
	}
}

// completion is the single message type workers send back to the run loop.
type completion struct {
	id     string
	output any
	err    error
}

// Run executes a document to completion and returns the finalized report.
// The document must have passed validation; Run itself never executes a task
// before all of its dependencies are terminal. Individual task failures are
// recorded in the report, never returned: a run always produces a report.
//
// All state transitions are applied by this goroutine, which serializes
// worker completions through one channel; workers only execute and report.
func (s *Scheduler) Run(ctx context.Context, doc *pipeline.Document, vars map[string]any, runID string) *RunReport {
	if runID == "" {
		runID = uuid.NewString()
	}
	startTime := time.Now()
	log := s.log.With().Str("run_id", runID).Str("pipeline", doc.Name).Logger()

	report := &RunReport{
		RunID:        runID,
		PipelineName: doc.Name,
		Tasks:        map[string]*TaskResult{},
		StartedAt:    startTime,
	}

	g, err := NewGraph(doc)
	if err != nil {
		// Unreachable for validated documents; still terminate cleanly.
		log.Error().Err(err).Msg("graph construction failed")
		report.OverallStatus = RunFailed
		report.FinishedAt = time.Now()
		return report
	}

	// Run variables are copied so a run never mutates caller state.
	runVars := make(map[string]any, len(vars))
	for k, v := range vars {
		runVars[k] = v
	}

	runCtx := executor.RunContext{
		RunID:     runID,
		StartTime: startTime,
		Vars:      runVars,
		Env:       doc.Env,
	}
	tmplCtx := &template.Context{
		Env:        doc.Env,
		Vars:       runVars,
		TaskOutput: g.Output,
		RunID:      runID,
		StartTime:  startTime,
	}

	s.publish(events.RunStartedEvent{
		RunID:        runID,
		PipelineName: doc.Name,
		TaskCount:    len(doc.Tasks),
		Timestamp:    startTime,
	})
	log.Info().Int("tasks", len(doc.Tasks)).Int("max_concurrency", doc.Settings.MaxConcurrency).
		Bool("fail_fast", doc.Settings.FailFast).Msg("run started")

	var eg errgroup.Group
	done := make(chan completion)
	inFlight := 0
	aborting := false

	for {
		// Caller cancellation suppresses new dispatch; in-flight executors
		// receive the cancellation through their contexts.
		if !aborting && ctx.Err() != nil {
			aborting = true
			s.skipAll(g, runID, "run cancelled")
		}

		for !aborting && inFlight < doc.Settings.MaxConcurrency {
			spec := g.NextReady() // document declaration order
			if spec == nil {
				break
			}
			log.Debug().Str("task", spec.ID).Str("type", spec.Type).Msg("dispatching")
			s.publish(events.TaskStartedEvent{RunID: runID, ID: spec.ID, Type: spec.Type, Timestamp: time.Now()})

			// Templates resolve immediately before dispatch, never earlier,
			// because tasks.* references need completed upstream outputs.
			resolved, rerr := template.Resolve(spec.With, tmplCtx)
			if rerr != nil {
				aborting = s.applyFailure(g, doc, runID, spec, rerr, aborting)
				continue
			}
			exec, ok := s.registry.Get(spec.Type)
			if !ok {
				aborting = s.applyFailure(g, doc, runID, spec,
					fmt.Errorf("no executor registered for type %q", spec.Type), aborting)
				continue
			}

			id := spec.ID
			budget := time.Duration(spec.TimeoutMs()) * time.Millisecond
			config, _ := resolved.(map[string]any)
			inFlight++
			eg.Go(func() error {
				output, execErr := s.execute(ctx, exec, config, runCtx, id, budget)
				done <- completion{id: id, output: output, err: execErr}
				return nil
			})
		}

		if inFlight == 0 {
			if !g.Live() {
				break
			}
			if aborting {
				break
			}
			// Nothing running, nothing ready, tasks still pending: cannot
			// happen when skip cascades are applied on every failure, but
			// guarantee termination anyway.
			s.skipAll(g, runID, "no satisfiable dependencies remain")
			break
		}

		c := <-done
		inFlight--
		if c.err != nil {
			spec := doc.Task(c.id)
			aborting = s.applyFailure(g, doc, runID, spec, c.err, aborting)
			continue
		}
		g.MarkSucceeded(c.id, c.output)
		log.Debug().Str("task", c.id).Msg("task succeeded")
		s.publish(events.TaskSucceededEvent{RunID: runID, ID: c.id, Timestamp: time.Now()})
	}

	_ = eg.Wait() // workers never return errors; failures travel via done

	report.Tasks = g.Snapshot()
	report.FinishedAt = time.Now()
	report.OverallStatus = overallStatus(doc, report.Tasks)

	s.publish(events.RunFinishedEvent{
		RunID:         runID,
		PipelineName:  doc.Name,
		OverallStatus: string(report.OverallStatus),
		Duration:      report.FinishedAt.Sub(report.StartedAt),
		Timestamp:     report.FinishedAt,
	})
	log.Info().Str("status", string(report.OverallStatus)).
		Dur("duration", report.FinishedAt.Sub(report.StartedAt)).Msg("run finished")

	return report
}

// execute invokes one executor with the per-task timeout budget applied.
func (s *Scheduler) execute(ctx context.Context, exec executor.Executor, config map[string]any, run executor.RunContext, id string, budget time.Duration) (any, error) {
	tctx := ctx
	if budget > 0 {
		var cancel context.CancelFunc
		tctx, cancel = context.WithTimeout(ctx, budget)
		defer cancel()
	}

	output, err := exec.Execute(tctx, config, run)
	if err != nil {
		if budget > 0 && errors.Is(tctx.Err(), context.DeadlineExceeded) {
			return nil, &TimeoutError{TaskID: id, Budget: budget}
		}
		return nil, &ExecutionError{TaskID: id, Err: err}
	}
	return output, nil
}

// applyFailure records a task failure and applies the failure policy:
// dependents of a non-allowFailure task are skipped, and with failFast the
// whole run stops dispatching. Returns the updated aborting flag.
func (s *Scheduler) applyFailure(g *Graph, doc *pipeline.Document, runID string, spec *pipeline.TaskSpec, err error, aborting bool) bool {
	allow := spec.AllowFailure()
	s.log.Warn().Str("run_id", runID).Str("task", spec.ID).Bool("allow_failure", allow).Err(err).Msg("task failed")

	skipped := g.MarkFailed(spec.ID, err)
	s.publish(events.TaskFailedEvent{RunID: runID, ID: spec.ID, Err: err, AllowFailure: allow, Timestamp: time.Now()})
	for _, id := range skipped {
		s.publish(events.TaskSkippedEvent{RunID: runID, ID: id, Reason: fmt.Sprintf("dependency %q did not succeed", spec.ID), Timestamp: time.Now()})
	}

	if !allow && doc.Settings.FailFast && !aborting {
		aborting = true
		s.skipAll(g, runID, fmt.Sprintf("run aborted: task %q failed with fail-fast enabled", spec.ID))
	}
	return aborting
}

// skipAll marks everything not yet dispatched as skipped.
func (s *Scheduler) skipAll(g *Graph, runID, cause string) {
	for _, id := range g.SkipRemaining(cause) {
		s.publish(events.TaskSkippedEvent{RunID: runID, ID: id, Reason: cause, Timestamp: time.Now()})
	}
}

func (s *Scheduler) publish(event events.Event) {
	if s.bus != nil {
		s.bus.Publish(event)
	}
}

// overallStatus derives the run outcome: failed when any task was skipped or
// failed without allowFailure.
func overallStatus(doc *pipeline.Document, tasks map[string]*TaskResult) RunStatus {
	for id, r := range tasks {
		switch r.Status {
		case StatusSkipped:
			return RunFailed
		case StatusFailed:
			spec := doc.Task(id)
			if spec == nil || !spec.AllowFailure() {
				return RunFailed
			}
		}
	}
	return RunSucceeded
}
