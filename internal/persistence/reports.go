package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/skein-dev/skein/internal/scheduler"
)

// SaveReport persists a finalized run report. Saves are idempotent: saving
// the same run id again replaces the previous rows.
func (s *SQLiteStore) SaveReport(ctx context.Context, report *scheduler.RunReport) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (run_id, pipeline_name, overall_status, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(run_id) DO UPDATE SET
			pipeline_name = excluded.pipeline_name,
			overall_status = excluded.overall_status,
			started_at = excluded.started_at,
			finished_at = excluded.finished_at
	`, report.RunID, report.PipelineName, string(report.OverallStatus), report.StartedAt.UTC(), report.FinishedAt.UTC())
	if err != nil {
		return fmt.Errorf("upserting run: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM run_tasks WHERE run_id = ?`, report.RunID); err != nil {
		return fmt.Errorf("clearing previous task rows: %w", err)
	}

	for id, task := range report.Tasks {
		var output []byte
		if task.Output != nil {
			output, err = json.Marshal(task.Output)
			if err != nil {
				return fmt.Errorf("encoding output of task %s: %w", id, err)
			}
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO run_tasks (run_id, task_id, status, output, error, started_at, finished_at, duration_ms)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		`, report.RunID, id, string(task.Status), nullableString(output), task.Error,
			nullableTime(task.StartedAt), nullableTime(task.FinishedAt), task.DurationMs)
		if err != nil {
			return fmt.Errorf("inserting task %s: %w", id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// GetReport loads a run report by run id.
func (s *SQLiteStore) GetReport(ctx context.Context, runID string) (*scheduler.RunReport, error) {
	report := &scheduler.RunReport{RunID: runID, Tasks: map[string]*scheduler.TaskResult{}}
	var status string

	err := s.db.QueryRowContext(ctx, `
		SELECT pipeline_name, overall_status, started_at, finished_at
		FROM runs WHERE run_id = ?
	`, runID).Scan(&report.PipelineName, &status, &report.StartedAt, &report.FinishedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("run not found: %s", runID)
	}
	if err != nil {
		return nil, fmt.Errorf("querying run: %w", err)
	}
	report.OverallStatus = scheduler.RunStatus(status)

	rows, err := s.db.QueryContext(ctx, `
		SELECT task_id, status, output, error, started_at, finished_at, duration_ms
		FROM run_tasks WHERE run_id = ?
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("querying tasks: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		task := &scheduler.TaskResult{}
		var taskStatus string
		var output, taskErr sql.NullString
		var startedAt, finishedAt sql.NullTime

		if err := rows.Scan(&task.ID, &taskStatus, &output, &taskErr, &startedAt, &finishedAt, &task.DurationMs); err != nil {
			return nil, fmt.Errorf("scanning task row: %w", err)
		}
		task.Status = scheduler.Status(taskStatus)
		task.Error = taskErr.String
		if startedAt.Valid {
			task.StartedAt = startedAt.Time
		}
		if finishedAt.Valid {
			task.FinishedAt = finishedAt.Time
		}
		if output.Valid && output.String != "" {
			var decoded any
			if err := json.Unmarshal([]byte(output.String), &decoded); err != nil {
				return nil, fmt.Errorf("decoding output of task %s: %w", task.ID, err)
			}
			task.Output = decoded
		}
		report.Tasks[task.ID] = task
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating tasks: %w", err)
	}

	return report, nil
}

// ListRuns returns summaries of all stored runs, most recent first.
func (s *SQLiteStore) ListRuns(ctx context.Context) ([]RunSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, pipeline_name, overall_status, started_at, finished_at
		FROM runs ORDER BY started_at DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("querying runs: %w", err)
	}
	defer rows.Close()

	var runs []RunSummary
	for rows.Next() {
		var r RunSummary
		if err := rows.Scan(&r.RunID, &r.PipelineName, &r.OverallStatus, &r.StartedAt, &r.FinishedAt); err != nil {
			return nil, fmt.Errorf("scanning run row: %w", err)
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating runs: %w", err)
	}
	return runs, nil
}

func nullableString(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}

func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC()
}
