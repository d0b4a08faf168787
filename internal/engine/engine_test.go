package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/skein-dev/skein/internal/executor"
	"github.com/skein-dev/skein/internal/persistence"
	"github.com/skein-dev/skein/internal/pipeline"
	"github.com/skein-dev/skein/internal/scheduler"
)

func testEngine(t *testing.T, store persistence.Store) *Engine {
	t.Helper()
	registry := executor.NewRegistry()
	registry.Register("ok", executor.Func(func(ctx context.Context, config map[string]any, run executor.RunContext) (any, error) {
		return map[string]any{"done": true}, nil
	}))
	registry.Register("slow", executor.Func(func(ctx context.Context, config map[string]any, run executor.RunContext) (any, error) {
		select {
		case <-time.After(50 * time.Millisecond):
			return nil, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}))
	return New(Options{Registry: registry, Store: store, Logger: zerolog.Nop()})
}

func simpleDoc(taskType string) *pipeline.Document {
	return &pipeline.Document{
		Name:     "simple",
		Version:  "1.0",
		Settings: pipeline.Settings{MaxConcurrency: 1, FailFast: true},
		Tasks:    []pipeline.TaskSpec{{ID: "a", Type: taskType}},
	}
}

func TestRunSynchronous(t *testing.T) {
	eng := testEngine(t, nil)

	report, err := eng.Run(context.Background(), simpleDoc("ok"), nil)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if report.OverallStatus != scheduler.RunSucceeded {
		t.Errorf("overall status = %s", report.OverallStatus)
	}
	if report.RunID == "" {
		t.Error("report has no run id")
	}

	// The finished run is immediately addressable.
	got, err := eng.Report(context.Background(), report.RunID)
	if err != nil {
		t.Fatalf("Report() error: %v", err)
	}
	if got.RunID != report.RunID {
		t.Errorf("Report() returned run %q", got.RunID)
	}
}

func TestRunRefusesInvalidDocument(t *testing.T) {
	eng := testEngine(t, nil)
	doc := simpleDoc("ok")
	doc.Tasks[0].Type = "mystery"

	_, err := eng.Run(context.Background(), doc, nil)
	if err == nil {
		t.Fatal("Run() accepted a document with an unknown task type")
	}
	var verrs pipeline.ValidationErrors
	if !errors.As(err, &verrs) {
		t.Fatalf("error type = %T, want ValidationErrors", err)
	}
	if len(verrs) != 1 || verrs[0].Kind != pipeline.KindUnknownTaskType {
		t.Errorf("findings = %v", verrs)
	}
}

func TestStartRunReportLifecycle(t *testing.T) {
	eng := testEngine(t, nil)

	runID, err := eng.StartRun(context.Background(), simpleDoc("slow"), nil)
	if err != nil {
		t.Fatalf("StartRun() error: %v", err)
	}

	if _, err := eng.Report(context.Background(), runID); !errors.Is(err, ErrRunActive) {
		t.Errorf("Report() during the run = %v, want ErrRunActive", err)
	}

	report, err := eng.Wait(context.Background(), runID)
	if err != nil {
		t.Fatalf("Wait() error: %v", err)
	}
	if report.OverallStatus != scheduler.RunSucceeded {
		t.Errorf("overall status = %s", report.OverallStatus)
	}

	if _, err := eng.Report(context.Background(), runID); err != nil {
		t.Errorf("Report() after the run = %v", err)
	}
}

func TestReportUnknownRun(t *testing.T) {
	eng := testEngine(t, nil)
	if _, err := eng.Report(context.Background(), "ghost"); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("Report() = %v, want ErrRunNotFound", err)
	}
	if _, err := eng.Wait(context.Background(), "ghost"); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("Wait() = %v, want ErrRunNotFound", err)
	}
}

func TestRunPersistsReport(t *testing.T) {
	ctx := context.Background()
	store, err := persistence.NewMemoryStore(ctx)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	eng := testEngine(t, store)
	report, err := eng.Run(ctx, simpleDoc("ok"), nil)
	if err != nil {
		t.Fatal(err)
	}

	stored, err := store.GetReport(ctx, report.RunID)
	if err != nil {
		t.Fatalf("report was not persisted: %v", err)
	}
	if stored.OverallStatus != scheduler.RunSucceeded {
		t.Errorf("stored status = %s", stored.OverallStatus)
	}

	// A second engine instance finds the run through the store.
	other := testEngine(t, store)
	if _, err := other.Report(ctx, report.RunID); err != nil {
		t.Errorf("Report() via store fallback = %v", err)
	}
}

func TestWaitHonorsContext(t *testing.T) {
	eng := testEngine(t, nil)
	runID, err := eng.StartRun(context.Background(), simpleDoc("slow"), nil)
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond)
	defer cancel()
	if _, err := eng.Wait(ctx, runID); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Wait() = %v, want deadline exceeded", err)
	}

	// Drain the run so the test does not leak the goroutine.
	if _, err := eng.Wait(context.Background(), runID); err != nil {
		t.Fatal(err)
	}
}
