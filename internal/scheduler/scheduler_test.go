package scheduler

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/skein-dev/skein/internal/executor"
	"github.com/skein-dev/skein/internal/pipeline"
)

// testRegistry wires ad hoc executors keyed by type name.
func testRegistry(execs map[string]executor.Func) *executor.Registry {
	r := executor.NewRegistry()
	for name, fn := range execs {
		r.Register(name, fn)
	}
	return r
}

func newTestScheduler(execs map[string]executor.Func) *Scheduler {
	return New(testRegistry(execs), zerolog.Nop(), nil)
}

func succeed(output any) executor.Func {
	return func(ctx context.Context, config map[string]any, run executor.RunContext) (any, error) {
		return output, nil
	}
}

func fail(msg string) executor.Func {
	return func(ctx context.Context, config map[string]any, run executor.RunContext) (any, error) {
		return nil, errors.New(msg)
	}
}

func doc(settings pipeline.Settings, tasks ...pipeline.TaskSpec) *pipeline.Document {
	return &pipeline.Document{Name: "test", Version: "1.0", Settings: settings, Tasks: tasks}
}

func serial() pipeline.Settings {
	return pipeline.Settings{MaxConcurrency: 1, FailFast: true}
}

func TestRunHappyPathRespectsDependencies(t *testing.T) {
	s := newTestScheduler(map[string]executor.Func{
		"work": func(ctx context.Context, config map[string]any, run executor.RunContext) (any, error) {
			time.Sleep(2 * time.Millisecond)
			return map[string]any{"done": true}, nil
		},
	})

	d := doc(pipeline.Settings{MaxConcurrency: 4, FailFast: true},
		pipeline.TaskSpec{ID: "a", Type: "work"},
		pipeline.TaskSpec{ID: "b", Type: "work", DependsOn: []string{"a"}},
		pipeline.TaskSpec{ID: "c", Type: "work", DependsOn: []string{"a"}},
		pipeline.TaskSpec{ID: "d", Type: "work", DependsOn: []string{"b", "c"}},
	)

	report := s.Run(context.Background(), d, nil, "run-1")

	if report.OverallStatus != RunSucceeded {
		t.Fatalf("overall status = %s, want succeeded", report.OverallStatus)
	}
	for _, task := range d.Tasks {
		r := report.Tasks[task.ID]
		if r.Status != StatusSucceeded {
			t.Errorf("task %q status = %s", task.ID, r.Status)
		}
		for _, dep := range task.DependsOn {
			depResult := report.Tasks[dep]
			if r.StartedAt.Before(depResult.FinishedAt) {
				t.Errorf("task %q started at %v before dependency %q finished at %v",
					task.ID, r.StartedAt, dep, depResult.FinishedAt)
			}
		}
	}
}

func TestRunBoundsConcurrency(t *testing.T) {
	var running, peak int64
	s := newTestScheduler(map[string]executor.Func{
		"work": func(ctx context.Context, config map[string]any, run executor.RunContext) (any, error) {
			n := atomic.AddInt64(&running, 1)
			for {
				p := atomic.LoadInt64(&peak)
				if n <= p || atomic.CompareAndSwapInt64(&peak, p, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			atomic.AddInt64(&running, -1)
			return nil, nil
		},
	})

	tasks := make([]pipeline.TaskSpec, 6)
	for i := range tasks {
		tasks[i] = pipeline.TaskSpec{ID: string(rune('a' + i)), Type: "work"}
	}
	d := doc(pipeline.Settings{MaxConcurrency: 2, FailFast: true}, tasks...)

	report := s.Run(context.Background(), d, nil, "run-1")

	if report.OverallStatus != RunSucceeded {
		t.Fatalf("overall status = %s", report.OverallStatus)
	}
	if got := atomic.LoadInt64(&peak); got > 2 {
		t.Errorf("observed %d concurrent tasks, cap is 2", got)
	}
}

func TestRunFailFastSkipsButFinishesInFlight(t *testing.T) {
	// c is dispatched alongside a; a fails only after c has started, so the
	// abort must skip b while letting c run to completion.
	cStarted := make(chan struct{})
	s := newTestScheduler(map[string]executor.Func{
		"failing": func(ctx context.Context, config map[string]any, run executor.RunContext) (any, error) {
			<-cStarted
			return nil, errors.New("boom")
		},
		"slow": func(ctx context.Context, config map[string]any, run executor.RunContext) (any, error) {
			close(cStarted)
			time.Sleep(10 * time.Millisecond)
			return map[string]any{"ok": true}, nil
		},
	})

	d := doc(pipeline.Settings{MaxConcurrency: 2, FailFast: true},
		pipeline.TaskSpec{ID: "a", Type: "failing"},
		pipeline.TaskSpec{ID: "b", Type: "slow", DependsOn: []string{"a"}},
		pipeline.TaskSpec{ID: "c", Type: "slow"},
	)

	report := s.Run(context.Background(), d, nil, "run-1")

	if report.OverallStatus != RunFailed {
		t.Errorf("overall status = %s, want failed", report.OverallStatus)
	}
	want := map[string]Status{"a": StatusFailed, "b": StatusSkipped, "c": StatusSucceeded}
	for id, status := range want {
		if got := report.Tasks[id].Status; got != status {
			t.Errorf("task %q status = %s, want %s", id, got, status)
		}
	}
}

func TestRunWithoutFailFastContinuesIndependentWork(t *testing.T) {
	s := newTestScheduler(map[string]executor.Func{
		"failing": fail("boom"),
		"fine":    succeed(nil),
	})

	d := doc(pipeline.Settings{MaxConcurrency: 1, FailFast: false},
		pipeline.TaskSpec{ID: "a", Type: "failing"},
		pipeline.TaskSpec{ID: "b", Type: "fine", DependsOn: []string{"a"}},
		pipeline.TaskSpec{ID: "c", Type: "fine"},
	)

	report := s.Run(context.Background(), d, nil, "run-1")

	if report.OverallStatus != RunFailed {
		t.Errorf("overall status = %s, want failed", report.OverallStatus)
	}
	want := map[string]Status{"a": StatusFailed, "b": StatusSkipped, "c": StatusSucceeded}
	for id, status := range want {
		if got := report.Tasks[id].Status; got != status {
			t.Errorf("task %q status = %s, want %s", id, got, status)
		}
	}
}

func TestRunAllowFailureUnblocksDependents(t *testing.T) {
	s := newTestScheduler(map[string]executor.Func{
		"failing": fail("boom"),
		"fine":    succeed(nil),
	})

	d := doc(serial(),
		pipeline.TaskSpec{ID: "a", Type: "failing", With: map[string]any{"allowFailure": true}},
		pipeline.TaskSpec{ID: "b", Type: "fine", DependsOn: []string{"a"}},
	)

	report := s.Run(context.Background(), d, nil, "run-1")

	if report.OverallStatus != RunSucceeded {
		t.Errorf("overall status = %s, want succeeded despite tolerated failure", report.OverallStatus)
	}
	if report.Tasks["a"].Status != StatusFailed {
		t.Errorf("task a status = %s, want failed", report.Tasks["a"].Status)
	}
	if report.Tasks["b"].Status != StatusSucceeded {
		t.Errorf("task b status = %s, want succeeded", report.Tasks["b"].Status)
	}
}

func TestRunResolvesTypedTemplateValues(t *testing.T) {
	var mu sync.Mutex
	var seen any
	s := newTestScheduler(map[string]executor.Func{
		"produce": succeed(map[string]any{"count": 3}),
		"consume": func(ctx context.Context, config map[string]any, run executor.RunContext) (any, error) {
			mu.Lock()
			seen = config["value"]
			mu.Unlock()
			return nil, nil
		},
	})

	d := doc(serial(),
		pipeline.TaskSpec{ID: "a", Type: "produce"},
		pipeline.TaskSpec{ID: "b", Type: "consume", DependsOn: []string{"a"},
			With: map[string]any{"value": "{{tasks.a.count}}"}},
	)

	report := s.Run(context.Background(), d, nil, "run-1")

	if report.OverallStatus != RunSucceeded {
		t.Fatalf("overall status = %s", report.OverallStatus)
	}
	mu.Lock()
	defer mu.Unlock()
	if got, ok := seen.(int); !ok || got != 3 {
		t.Errorf("resolved value = %#v (%T), want the integer 3", seen, seen)
	}
}

func TestRunTemplateResolutionFailureFailsTask(t *testing.T) {
	s := newTestScheduler(map[string]executor.Func{
		"fine": succeed(nil),
	})

	d := doc(serial(),
		pipeline.TaskSpec{ID: "a", Type: "fine", With: map[string]any{"value": "{{vars.absent}}"}},
	)

	report := s.Run(context.Background(), d, nil, "run-1")

	if report.OverallStatus != RunFailed {
		t.Errorf("overall status = %s, want failed", report.OverallStatus)
	}
	if report.Tasks["a"].Status != StatusFailed {
		t.Errorf("task a status = %s, want failed", report.Tasks["a"].Status)
	}
	if !strings.Contains(report.Tasks["a"].Error, "vars.absent") {
		t.Errorf("task error %q does not name the expression", report.Tasks["a"].Error)
	}
}

func TestRunTimeoutBudget(t *testing.T) {
	s := newTestScheduler(map[string]executor.Func{
		"hang": func(ctx context.Context, config map[string]any, run executor.RunContext) (any, error) {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(5 * time.Second):
				return nil, nil
			}
		},
	})

	d := doc(serial(),
		pipeline.TaskSpec{ID: "a", Type: "hang", With: map[string]any{"timeoutMs": 20}},
	)

	start := time.Now()
	report := s.Run(context.Background(), d, nil, "run-1")

	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Fatalf("run took %v, timeout budget was not applied", elapsed)
	}
	if report.Tasks["a"].Status != StatusFailed {
		t.Errorf("task a status = %s, want failed", report.Tasks["a"].Status)
	}
	if !strings.Contains(report.Tasks["a"].Error, "timed out") {
		t.Errorf("task error = %q, want timeout diagnostic", report.Tasks["a"].Error)
	}
}

func TestRunCallerCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := newTestScheduler(map[string]executor.Func{
		"first": func(ctx context.Context, config map[string]any, run executor.RunContext) (any, error) {
			cancel()
			return nil, nil
		},
		"later": succeed(nil),
	})

	d := doc(serial(),
		pipeline.TaskSpec{ID: "a", Type: "first"},
		pipeline.TaskSpec{ID: "b", Type: "later", DependsOn: []string{"a"}},
	)

	report := s.Run(ctx, d, nil, "run-1")

	if report.OverallStatus != RunFailed {
		t.Errorf("overall status = %s, want failed after cancellation", report.OverallStatus)
	}
	if report.Tasks["a"].Status != StatusSucceeded {
		t.Errorf("task a status = %s, dispatched work should finish", report.Tasks["a"].Status)
	}
	if report.Tasks["b"].Status != StatusSkipped {
		t.Errorf("task b status = %s, want skipped", report.Tasks["b"].Status)
	}
}

func TestRunGeneratesRunID(t *testing.T) {
	s := newTestScheduler(map[string]executor.Func{"fine": succeed(nil)})
	d := doc(serial(), pipeline.TaskSpec{ID: "a", Type: "fine"})

	report := s.Run(context.Background(), d, nil, "")
	if report.RunID == "" {
		t.Error("Run() with empty runID should mint one")
	}
}

func TestRunUnregisteredTypeFailsTask(t *testing.T) {
	s := newTestScheduler(map[string]executor.Func{})
	d := doc(serial(), pipeline.TaskSpec{ID: "a", Type: "mystery"})

	report := s.Run(context.Background(), d, nil, "run-1")

	if report.Tasks["a"].Status != StatusFailed {
		t.Errorf("task a status = %s, want failed", report.Tasks["a"].Status)
	}
	if report.OverallStatus != RunFailed {
		t.Errorf("overall status = %s, want failed", report.OverallStatus)
	}
}
