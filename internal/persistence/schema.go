package persistence

import "context"

// initSchema creates all required tables if they don't exist.
func (s *SQLiteStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		run_id TEXT PRIMARY KEY,
		pipeline_name TEXT NOT NULL,
		overall_status TEXT NOT NULL,
		started_at DATETIME NOT NULL,
		finished_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS run_tasks (
		run_id TEXT NOT NULL,
		task_id TEXT NOT NULL,
		status TEXT NOT NULL,
		output TEXT,
		error TEXT,
		started_at DATETIME,
		finished_at DATETIME,
		duration_ms INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (run_id, task_id),
		FOREIGN KEY (run_id) REFERENCES runs(run_id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_run_tasks_run_id ON run_tasks(run_id);
	CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}
