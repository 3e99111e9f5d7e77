package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/haasonsaas/steward/pkg/models"
)

// executionResultLimit caps the stored result of a scheduled run.
const executionResultLimit = 2000

// CreateTask persists a scheduled task and verifies the row by reading
// it back. Callers must not report success to the user until this
// returns nil.
func (s *Store) CreateTask(ctx context.Context, task *models.ScheduledTask) error {
	if task == nil {
		return fmt.Errorf("task is required")
	}
	if task.UserID == "" || task.Name == "" || task.Prompt == "" {
		return fmt.Errorf("user id, name, and prompt are required")
	}
	if task.ID == "" {
		task.ID = uuid.New().String()
	}
	if task.CreatedAt.IsZero() {
		task.CreatedAt = s.now().UTC()
	}

	scheduleJSON, err := json.Marshal(task.Schedule)
	if err != nil {
		return fmt.Errorf("marshal schedule: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO scheduled_tasks (
			id, user_id, platform, name, prompt, schedule_type, schedule_data,
			created_at, next_run, last_run, run_count, enabled
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		task.ID,
		task.UserID,
		string(task.Platform),
		task.Name,
		task.Prompt,
		string(task.Schedule.Kind),
		string(scheduleJSON),
		task.CreatedAt.UTC(),
		task.NextRun.UTC(),
		nullableTime(task.LastRun),
		task.RunCount,
		boolToInt(task.Enabled),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") {
			return fmt.Errorf("task %q: %w", task.Name, ErrAlreadyExists)
		}
		return fmt.Errorf("create task: %w", err)
	}

	// Read-back verification: the task must be visible and intact
	// before the caller reports the schedule as saved.
	saved, err := s.TaskByID(ctx, task.ID)
	if err != nil {
		return fmt.Errorf("verify task %q after save: %w", task.Name, err)
	}
	if saved.Name != task.Name || saved.Prompt != task.Prompt ||
		saved.Schedule.Kind != task.Schedule.Kind ||
		saved.NextRun.Unix() != task.NextRun.UTC().Unix() {
		return fmt.Errorf("task %q was not saved correctly, please retry", task.Name)
	}

	return nil
}

// TaskByID retrieves a task by ID. Returns ErrNotFound when absent.
func (s *Store) TaskByID(ctx context.Context, id string) (*models.ScheduledTask, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, platform, name, prompt, schedule_data,
		       created_at, next_run, last_run, run_count, enabled
		FROM scheduled_tasks WHERE id = ?
	`, id)

	task, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	return task, nil
}

// TaskByName retrieves a user's task by its unique name.
func (s *Store) TaskByName(ctx context.Context, userID, name string) (*models.ScheduledTask, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, platform, name, prompt, schedule_data,
		       created_at, next_run, last_run, run_count, enabled
		FROM scheduled_tasks WHERE user_id = ? AND name = ?
	`, userID, name)

	task, err := scanTask(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	return task, nil
}

// Tasks lists a user's tasks ordered by next run time. Disabled tasks
// are included so users can see paused and completed one-shot tasks.
func (s *Store) Tasks(ctx context.Context, userID string) ([]*models.ScheduledTask, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, platform, name, prompt, schedule_data,
		       created_at, next_run, last_run, run_count, enabled
		FROM scheduled_tasks
		WHERE user_id = ?
		ORDER BY next_run ASC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	return collectTasks(rows)
}

// DueTasks returns enabled tasks whose next_run is at or before now,
// soonest first. Overdue tasks surface here on the first tick after a
// restart.
func (s *Store) DueTasks(ctx context.Context, now time.Time) ([]*models.ScheduledTask, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, platform, name, prompt, schedule_data,
		       created_at, next_run, last_run, run_count, enabled
		FROM scheduled_tasks
		WHERE enabled = 1 AND next_run <= ?
		ORDER BY next_run ASC
	`, now.UTC())
	if err != nil {
		return nil, fmt.Errorf("get due tasks: %w", err)
	}
	defer rows.Close()

	return collectTasks(rows)
}

// MarkTaskRan records a completed run: bumps run_count, sets last_run,
// and advances next_run.
func (s *Store) MarkTaskRan(ctx context.Context, id string, ranAt, nextRun time.Time) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE scheduled_tasks
		SET run_count = run_count + 1, last_run = ?, next_run = ?
		WHERE id = ?
	`, ranAt.UTC(), nextRun.UTC(), id)
	if err != nil {
		return fmt.Errorf("mark task ran: %w", err)
	}
	return requireRow(result)
}

// SetTaskEnabled pauses or resumes a task.
func (s *Store) SetTaskEnabled(ctx context.Context, id string, enabled bool) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE scheduled_tasks SET enabled = ? WHERE id = ?
	`, boolToInt(enabled), id)
	if err != nil {
		return fmt.Errorf("set task enabled: %w", err)
	}
	return requireRow(result)
}

// UpdateTask rewrites a task's mutable fields: name, prompt, schedule,
// next_run, and enabled.
func (s *Store) UpdateTask(ctx context.Context, task *models.ScheduledTask) error {
	if task == nil {
		return fmt.Errorf("task is required")
	}

	scheduleJSON, err := json.Marshal(task.Schedule)
	if err != nil {
		return fmt.Errorf("marshal schedule: %w", err)
	}

	result, err := s.db.ExecContext(ctx, `
		UPDATE scheduled_tasks SET
			name = ?,
			prompt = ?,
			schedule_type = ?,
			schedule_data = ?,
			next_run = ?,
			enabled = ?
		WHERE id = ?
	`,
		task.Name,
		task.Prompt,
		string(task.Schedule.Kind),
		string(scheduleJSON),
		task.NextRun.UTC(),
		boolToInt(task.Enabled),
		task.ID,
	)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	return requireRow(result)
}

// DeleteTask removes a task. Its execution history is kept.
func (s *Store) DeleteTask(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM scheduled_tasks WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	return requireRow(result)
}

// RecordExecution appends a run to the execution history. The result
// text is truncated to 2000 characters.
func (s *Store) RecordExecution(ctx context.Context, exec *models.Execution) error {
	if exec == nil {
		return fmt.Errorf("execution is required")
	}
	if exec.ID == "" {
		exec.ID = uuid.New().String()
	}
	if exec.RanAt.IsZero() {
		exec.RanAt = s.now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO scheduled_executions (id, task_id, task_name, user_id, platform, result, success, ran_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		exec.ID,
		exec.TaskID,
		exec.TaskName,
		exec.UserID,
		string(exec.Platform),
		truncate(exec.Result, executionResultLimit),
		boolToInt(exec.Success),
		exec.RanAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("record execution: %w", err)
	}
	return nil
}

// Executions returns a task's run history, most recent first.
func (s *Store) Executions(ctx context.Context, taskID string, limit int) ([]*models.Execution, error) {
	query := `
		SELECT id, task_id, task_name, user_id, platform, result, success, ran_at
		FROM scheduled_executions
		WHERE task_id = ?
		ORDER BY ran_at DESC
	`
	args := []any{taskID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list executions: %w", err)
	}
	defer rows.Close()

	var execs []*models.Execution
	for rows.Next() {
		exec, err := scanTaskExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("scan execution: %w", err)
		}
		execs = append(execs, exec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list executions: %w", err)
	}
	return execs, nil
}

func collectTasks(rows *sql.Rows) ([]*models.ScheduledTask, error) {
	var tasks []*models.ScheduledTask
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("collect tasks: %w", err)
	}
	return tasks, nil
}

func scanTask(sc scanner) (*models.ScheduledTask, error) {
	var task models.ScheduledTask
	var platform, scheduleJSON string
	var lastRun sql.NullTime
	var enabled int

	err := sc.Scan(
		&task.ID,
		&task.UserID,
		&platform,
		&task.Name,
		&task.Prompt,
		&scheduleJSON,
		&task.CreatedAt,
		&task.NextRun,
		&lastRun,
		&task.RunCount,
		&enabled,
	)
	if err != nil {
		return nil, err
	}

	task.Platform = models.Platform(platform)
	task.Enabled = enabled != 0
	if lastRun.Valid {
		task.LastRun = &lastRun.Time
	}
	if err := json.Unmarshal([]byte(scheduleJSON), &task.Schedule); err != nil {
		return nil, fmt.Errorf("unmarshal schedule: %w", err)
	}
	return &task, nil
}

func scanTaskExecution(sc scanner) (*models.Execution, error) {
	var exec models.Execution
	var platform string
	var success int

	err := sc.Scan(
		&exec.ID,
		&exec.TaskID,
		&exec.TaskName,
		&exec.UserID,
		&platform,
		&exec.Result,
		&success,
		&exec.RanAt,
	)
	if err != nil {
		return nil, err
	}

	exec.Platform = models.Platform(platform)
	exec.Success = success != 0
	return &exec, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func requireRow(result sql.Result) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}
