package persistence

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/skein-dev/skein/internal/scheduler"
)

func sampleReport(runID string, started time.Time) *scheduler.RunReport {
	return &scheduler.RunReport{
		RunID:         runID,
		PipelineName:  "sample",
		OverallStatus: scheduler.RunFailed,
		StartedAt:     started,
		FinishedAt:    started.Add(2 * time.Second),
		Tasks: map[string]*scheduler.TaskResult{
			"a": {
				ID:         "a",
				Status:     scheduler.StatusSucceeded,
				Output:     map[string]any{"count": float64(3)},
				StartedAt:  started,
				FinishedAt: started.Add(time.Second),
				DurationMs: 1000,
			},
			"b": {
				ID:     "b",
				Status: scheduler.StatusSkipped,
				Error:  `task "b" skipped: dependency "a" did not succeed`,
			},
		},
	}
}

func TestSaveAndGetReport(t *testing.T) {
	ctx := context.Background()
	store, err := NewMemoryStore(ctx)
	if err != nil {
		t.Fatalf("NewMemoryStore() error: %v", err)
	}
	defer store.Close()

	started := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	if err := store.SaveReport(ctx, sampleReport("run-1", started)); err != nil {
		t.Fatalf("SaveReport() error: %v", err)
	}

	got, err := store.GetReport(ctx, "run-1")
	if err != nil {
		t.Fatalf("GetReport() error: %v", err)
	}
	if got.PipelineName != "sample" || got.OverallStatus != scheduler.RunFailed {
		t.Errorf("report header = %q/%s", got.PipelineName, got.OverallStatus)
	}
	if len(got.Tasks) != 2 {
		t.Fatalf("loaded %d tasks, want 2", len(got.Tasks))
	}

	a := got.Tasks["a"]
	if a.Status != scheduler.StatusSucceeded || a.DurationMs != 1000 {
		t.Errorf("task a = %+v", a)
	}
	output, ok := a.Output.(map[string]any)
	if !ok || output["count"] != float64(3) {
		t.Errorf("task a output = %#v", a.Output)
	}

	b := got.Tasks["b"]
	if b.Status != scheduler.StatusSkipped || b.Error == "" {
		t.Errorf("task b = %+v", b)
	}
	if b.Output != nil {
		t.Errorf("task b output = %v, want none", b.Output)
	}
}

func TestSaveReportIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store, err := NewMemoryStore(ctx)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	started := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	report := sampleReport("run-1", started)
	if err := store.SaveReport(ctx, report); err != nil {
		t.Fatal(err)
	}

	report.OverallStatus = scheduler.RunSucceeded
	delete(report.Tasks, "b")
	if err := store.SaveReport(ctx, report); err != nil {
		t.Fatalf("second SaveReport() error: %v", err)
	}

	got, err := store.GetReport(ctx, "run-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.OverallStatus != scheduler.RunSucceeded {
		t.Errorf("overall status = %s after resave", got.OverallStatus)
	}
	if len(got.Tasks) != 1 {
		t.Errorf("stale task rows survived the resave: %v", got.Tasks)
	}

	runs, err := store.ListRuns(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 1 {
		t.Errorf("ListRuns() = %d rows, want 1", len(runs))
	}
}

func TestGetReportUnknownRun(t *testing.T) {
	ctx := context.Background()
	store, err := NewMemoryStore(ctx)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	if _, err := store.GetReport(ctx, "ghost"); err == nil {
		t.Error("GetReport() for an unknown run should fail")
	}
}

func TestListRunsOrdering(t *testing.T) {
	ctx := context.Background()
	store, err := NewMemoryStore(ctx)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()

	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	if err := store.SaveReport(ctx, sampleReport("older", base)); err != nil {
		t.Fatal(err)
	}
	if err := store.SaveReport(ctx, sampleReport("newer", base.Add(time.Hour))); err != nil {
		t.Fatal(err)
	}

	runs, err := store.ListRuns(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 2 || runs[0].RunID != "newer" {
		t.Errorf("ListRuns() order = %v, want newest first", runs)
	}
}

func TestSQLiteStoreOnDisk(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "skein.db")

	store, err := NewSQLiteStore(ctx, path)
	if err != nil {
		t.Fatalf("NewSQLiteStore() error: %v", err)
	}

	started := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	if err := store.SaveReport(ctx, sampleReport("run-1", started)); err != nil {
		t.Fatal(err)
	}
	if err := store.Close(); err != nil {
		t.Fatal(err)
	}

	// Reports survive reopening the file.
	reopened, err := NewSQLiteStore(ctx, path)
	if err != nil {
		t.Fatal(err)
	}
	defer reopened.Close()

	got, err := reopened.GetReport(ctx, "run-1")
	if err != nil {
		t.Fatalf("GetReport() after reopen: %v", err)
	}
	if got.PipelineName != "sample" {
		t.Errorf("pipeline name = %q", got.PipelineName)
	}
}
