// Package engine is the control-plane facade over the core: it validates
// documents, drives runs synchronously or asynchronously, and hands out run
// reports, persisting them when a store is configured.
package engine

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/skein-dev/skein/internal/events"
	"github.com/skein-dev/skein/internal/executor"
	"github.com/skein-dev/skein/internal/persistence"
	"github.com/skein-dev/skein/internal/pipeline"
	"github.com/skein-dev/skein/internal/scheduler"
)

var (
	// ErrRunNotFound is returned when no run with the given id is known.
	ErrRunNotFound = errors.New("run not found")
	// ErrRunActive is returned when a run exists but has not finished yet.
	ErrRunActive = errors.New("run still in progress")
)

// Options configures an Engine.
type Options struct {
	Registry *executor.Registry // defaults to DefaultRegistry
	Store    persistence.Store  // optional; nil disables persistence
	Bus      *events.Bus        // optional; nil disables lifecycle events
	Logger   zerolog.Logger
}

// Engine owns the executor registry and tracks in-flight and completed runs.
type Engine struct {
	registry *executor.Registry
	store    persistence.Store
	bus      *events.Bus
	log      zerolog.Logger

	mu   sync.RWMutex
	runs map[string]*runEntry
}

type runEntry struct {
	report *scheduler.RunReport // nil until the run finishes
	done   chan struct{}
}

// New creates an engine.
func New(opts Options) *Engine {
	registry := opts.Registry
	if registry == nil {
		registry = executor.DefaultRegistry()
	}
	return &Engine{
		registry: registry,
		store:    opts.Store,
		bus:      opts.Bus,
		log:      opts.Logger.With().Str("component", "engine").Logger(),
		runs:     make(map[string]*runEntry),
	}
}

// Registry exposes the engine's executor registry, e.g. for callers that
// register additional task types before running documents.
func (e *Engine) Registry() *executor.Registry {
	return e.registry
}

// Validate statically checks a document against the registered types.
func (e *Engine) Validate(doc *pipeline.Document) pipeline.ValidationErrors {
	return pipeline.Validate(doc, e.registry)
}

// Run validates a document and drives it to completion synchronously.
// Validation findings are returned as a pipeline.ValidationErrors error and
// no task ever starts; once a run starts, it always yields a report.
func (e *Engine) Run(ctx context.Context, doc *pipeline.Document, vars map[string]any) (*scheduler.RunReport, error) {
	runID, err := e.prepare(doc)
	if err != nil {
		return nil, err
	}
	return e.drive(ctx, doc, vars, runID), nil
}

// StartRun validates a document and launches the run in the background,
// returning its run id immediately. The report becomes available through
// Report once the run finishes.
func (e *Engine) StartRun(ctx context.Context, doc *pipeline.Document, vars map[string]any) (string, error) {
	runID, err := e.prepare(doc)
	if err != nil {
		return "", err
	}
	go e.drive(ctx, doc, vars, runID)
	return runID, nil
}

// Report returns the finalized report for a run id, from memory or from the
// store. ErrRunActive signals a run that has started but not finished.
func (e *Engine) Report(ctx context.Context, runID string) (*scheduler.RunReport, error) {
	e.mu.RLock()
	entry, ok := e.runs[runID]
	e.mu.RUnlock()

	if ok {
		select {
		case <-entry.done:
			return entry.report, nil
		default:
			return nil, ErrRunActive
		}
	}

	if e.store != nil {
		report, err := e.store.GetReport(ctx, runID)
		if err == nil {
			return report, nil
		}
	}
	return nil, ErrRunNotFound
}

// Wait blocks until the given run finishes or the context is cancelled.
func (e *Engine) Wait(ctx context.Context, runID string) (*scheduler.RunReport, error) {
	e.mu.RLock()
	entry, ok := e.runs[runID]
	e.mu.RUnlock()
	if !ok {
		return nil, ErrRunNotFound
	}

	select {
	case <-entry.done:
		return entry.report, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// prepare validates the document and registers a run entry.
func (e *Engine) prepare(doc *pipeline.Document) (string, error) {
	if errs := e.Validate(doc); len(errs) > 0 {
		return "", errs
	}

	runID := uuid.NewString()
	e.mu.Lock()
	e.runs[runID] = &runEntry{done: make(chan struct{})}
	e.mu.Unlock()
	return runID, nil
}

// drive executes the run, records the report, and persists it.
func (e *Engine) drive(ctx context.Context, doc *pipeline.Document, vars map[string]any, runID string) *scheduler.RunReport {
	sched := scheduler.New(e.registry, e.log, e.bus)
	report := sched.Run(ctx, doc, vars, runID)

	e.mu.Lock()
	entry := e.runs[runID]
	entry.report = report
	close(entry.done)
	e.mu.Unlock()

	if e.store != nil {
		if err := e.store.SaveReport(context.Background(), report); err != nil {
			e.log.Error().Err(err).Str("run_id", runID).Msg("persisting run report failed")
		}
	}
	return report
}
