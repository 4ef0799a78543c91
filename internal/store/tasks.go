package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

const taskColumns = `id, task_type, block_id, program_key, report_date, claim_token, priority, status,
    attempts, max_attempts, worker_id, lease_expires_at, available_at, last_error,
    created_at, last_attempt_at, updated_at, finished_at`

// Enqueue inserts a pending task.
func (s *Store) Enqueue(ctx context.Context, spec TaskSpec) (*Task, error) {
	ctx = ensureContext(ctx)
	var id int64
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		var err error
		id, err = s.insertTask(ctx, tx, spec)
		return err
	})
	if err != nil {
		return nil, err
	}
	return s.GetTask(ctx, id)
}

func (s *Store) insertTask(ctx context.Context, tx *sql.Tx, spec TaskSpec) (int64, error) {
	if _, ok := ParseTaskType(string(spec.Type)); !ok {
		return 0, fmt.Errorf("enqueue: unknown task type %q", spec.Type)
	}
	if spec.Type.BlockScoped() && spec.BlockID <= 0 {
		return 0, fmt.Errorf("enqueue %s: block id required", spec.Type)
	}
	if !spec.Type.BlockScoped() && !spec.Unit.Valid() {
		return 0, fmt.Errorf("enqueue %s: reporting unit required", spec.Type)
	}
	maxAttempts := spec.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = s.maxAttempts
	}
	now := nowString()
	res, err := tx.ExecContext(ctx,
		`INSERT INTO tasks (
            task_type, block_id, program_key, report_date, claim_token, priority, status,
            attempts, max_attempts, available_at, created_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?, ?, ?, ?)`,
		spec.Type,
		nullableInt64(spec.BlockID),
		nullableString(spec.Unit.Program),
		nullableString(spec.Unit.Date),
		nullableString(spec.ClaimToken),
		spec.Type.Priority(),
		TaskPending,
		maxAttempts,
		now, now, now,
	)
	if err != nil {
		return 0, fmt.Errorf("insert task: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("last insert id: %w", err)
	}
	return id, nil
}

// ClaimNext atomically moves the highest-priority available pending task to running
// under workerID. The selection and the ownership change are one statement, so two
// workers can never claim the same row. It returns nil when nothing is available.
func (s *Store) ClaimNext(ctx context.Context, workerID string, lease time.Duration) (*Task, error) {
	ctx = ensureContext(ctx)
	now := time.Now()
	nowText := formatTime(now)
	var task *Task
	err := retryOnBusy(ctx, func() error {
		row := s.db.QueryRowContext(ctx,
			`UPDATE tasks
             SET status = ?, worker_id = ?, attempts = attempts + 1,
                 lease_expires_at = ?, last_attempt_at = ?, updated_at = ?
             WHERE id = (
                 SELECT id FROM tasks
                 WHERE status = ? AND available_at <= ?
                 ORDER BY priority DESC, created_at, id
                 LIMIT 1
             ) AND status = ?
             RETURNING `+taskColumns,
			TaskRunning, workerID, formatTime(now.Add(lease)), nowText, nowText,
			TaskPending, nowText,
			TaskPending,
		)
		claimed, err := scanTask(row)
		if err != nil {
			return err
		}
		task = claimed
		return nil
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim task: %w", err)
	}
	return task, nil
}

// ExtendLease pushes the lease expiry of a running task owned by workerID.
func (s *Store) ExtendLease(ctx context.Context, id int64, workerID string, lease time.Duration) error {
	now := time.Now()
	ok, err := s.execAffected(ctx,
		`UPDATE tasks SET lease_expires_at = ?, updated_at = ?
         WHERE id = ? AND status = ? AND worker_id = ?`,
		formatTime(now.Add(lease)), formatTime(now), id, TaskRunning, workerID,
	)
	if err != nil {
		return fmt.Errorf("extend lease: %w", err)
	}
	if !ok {
		return ErrLeaseLost
	}
	return nil
}

// CompleteTask marks a running task completed and inserts follow-on tasks in the same
// transaction. It returns ErrLeaseLost when the worker no longer owns the task.
func (s *Store) CompleteTask(ctx context.Context, id int64, workerID string, followOns ...TaskSpec) error {
	ctx = ensureContext(ctx)
	return s.withTx(ctx, func(tx *sql.Tx) error {
		now := nowString()
		res, err := tx.ExecContext(ctx,
			`UPDATE tasks
             SET status = ?, worker_id = NULL, lease_expires_at = NULL, last_error = NULL,
                 updated_at = ?, finished_at = ?
             WHERE id = ? AND status = ? AND worker_id = ?`,
			TaskCompleted, now, now, id, TaskRunning, workerID,
		)
		if err != nil {
			return fmt.Errorf("complete task: %w", err)
		}
		if affected, err := res.RowsAffected(); err != nil {
			return fmt.Errorf("rows affected: %w", err)
		} else if affected == 0 {
			return ErrLeaseLost
		}
		for _, spec := range followOns {
			if _, err := s.insertTask(ctx, tx, spec); err != nil {
				return err
			}
		}
		return nil
	})
}

// RetryTask returns a running task to pending after backoff when attempts remain,
// otherwise marks it failed. It reports the resulting status.
func (s *Store) RetryTask(ctx context.Context, id int64, workerID, message string, backoff time.Duration) (TaskStatus, error) {
	ctx = ensureContext(ctx)
	now := time.Now()
	nowText := formatTime(now)
	var status string
	err := retryOnBusy(ctx, func() error {
		return s.db.QueryRowContext(ctx,
			`UPDATE tasks
             SET status = CASE WHEN attempts < max_attempts THEN ? ELSE ? END,
                 finished_at = CASE WHEN attempts < max_attempts THEN NULL ELSE ? END,
                 available_at = ?, worker_id = NULL, lease_expires_at = NULL,
                 last_error = ?, updated_at = ?
             WHERE id = ? AND status = ? AND worker_id = ?
             RETURNING status`,
			TaskPending, TaskFailed, nowText,
			formatTime(now.Add(backoff)), nullableString(message), nowText,
			id, TaskRunning, workerID,
		).Scan(&status)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrLeaseLost
	}
	if err != nil {
		return "", fmt.Errorf("retry task: %w", err)
	}
	return TaskStatus(status), nil
}

// FailTask marks a running task failed without further retries.
func (s *Store) FailTask(ctx context.Context, id int64, workerID, message string) error {
	now := nowString()
	ok, err := s.execAffected(ctx,
		`UPDATE tasks
         SET status = ?, worker_id = NULL, lease_expires_at = NULL, last_error = ?,
             updated_at = ?, finished_at = ?
         WHERE id = ? AND status = ? AND worker_id = ?`,
		TaskFailed, nullableString(message), now, now, id, TaskRunning, workerID,
	)
	if err != nil {
		return fmt.Errorf("fail task: %w", err)
	}
	if !ok {
		return ErrLeaseLost
	}
	return nil
}

// ReclaimExpiredLeases returns running tasks whose lease expired to pending, or to
// failed when their attempts are exhausted, and returns the affected tasks.
func (s *Store) ReclaimExpiredLeases(ctx context.Context) ([]*Task, error) {
	ctx = ensureContext(ctx)
	nowText := nowString()
	var reclaimed []*Task
	err := retryOnBusy(ctx, func() error {
		reclaimed = nil
		rows, err := s.db.QueryContext(ctx,
			`UPDATE tasks
             SET status = CASE WHEN attempts < max_attempts THEN ? ELSE ? END,
                 finished_at = CASE WHEN attempts < max_attempts THEN NULL ELSE ? END,
                 last_error = 'lease expired (last worker ' || COALESCE(worker_id, '?') || ')',
                 worker_id = NULL, lease_expires_at = NULL, available_at = ?, updated_at = ?
             WHERE status = ? AND lease_expires_at < ?
             RETURNING `+taskColumns,
			TaskPending, TaskFailed, nowText,
			nowText, nowText,
			TaskRunning, nowText,
		)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			task, err := scanTask(rows)
			if err != nil {
				return err
			}
			reclaimed = append(reclaimed, task)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, fmt.Errorf("reclaim expired leases: %w", err)
	}
	return reclaimed, nil
}

// RetryFailedTasks moves failed tasks back to pending with a fresh attempt budget.
// With no ids every failed task is retried.
func (s *Store) RetryFailedTasks(ctx context.Context, ids ...int64) (int64, error) {
	now := nowString()
	query := `UPDATE tasks
        SET status = ?, attempts = 0, worker_id = NULL, lease_expires_at = NULL,
            finished_at = NULL, available_at = ?, updated_at = ?
        WHERE status = ?`
	args := []any{TaskPending, now, now, TaskFailed}
	if len(ids) > 0 {
		query += ` AND id IN (` + makePlaceholders(len(ids)) + `)`
		for _, id := range ids {
			args = append(args, id)
		}
	}
	res, err := s.execWithRetry(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("retry failed tasks: %w", err)
	}
	return res.RowsAffected()
}

// GetTask fetches a task by identifier.
func (s *Store) GetTask(ctx context.Context, id int64) (*Task, error) {
	row := s.db.QueryRowContext(ensureContext(ctx), `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	task, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("task %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	return task, nil
}

// ListTasks returns tasks matching filter, newest first.
func (s *Store) ListTasks(ctx context.Context, filter TaskFilter) ([]*Task, error) {
	var (
		clauses []string
		args    []any
	)
	if len(filter.Types) > 0 {
		clauses = append(clauses, "task_type IN ("+makePlaceholders(len(filter.Types))+")")
		for _, taskType := range filter.Types {
			args = append(args, taskType)
		}
	}
	if len(filter.Statuses) > 0 {
		clauses = append(clauses, "status IN ("+makePlaceholders(len(filter.Statuses))+")")
		for _, status := range filter.Statuses {
			args = append(args, status)
		}
	}
	if filter.Unit.Program != "" {
		clauses = append(clauses, "program_key = ?")
		args = append(args, filter.Unit.Program)
	}
	if filter.Unit.Date != "" {
		clauses = append(clauses, "report_date = ?")
		args = append(args, filter.Unit.Date)
	}
	query := `SELECT ` + taskColumns + ` FROM tasks`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY id DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ensureContext(ctx), query, args...)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()
	var tasks []*Task
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

// HasActiveTask reports whether a pending or running task of taskType exists for unit.
// The answer is advisory; claims remain the authority on who does the work.
func (s *Store) HasActiveTask(ctx context.Context, taskType TaskType, unit Unit) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ensureContext(ctx),
		`SELECT COUNT(1) FROM tasks
         WHERE task_type = ? AND program_key = ? AND report_date = ? AND status IN (?, ?)`,
		taskType, unit.Program, unit.Date, TaskPending, TaskRunning,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("active task lookup: %w", err)
	}
	return count > 0, nil
}

func scanTask(scanner rowScanner) (*Task, error) {
	var (
		task          Task
		taskType      string
		blockID       sql.NullInt64
		program       sql.NullString
		date          sql.NullString
		claimToken    sql.NullString
		status        string
		workerID      sql.NullString
		leaseRaw      sql.NullString
		availableRaw  string
		lastError     sql.NullString
		createdRaw    string
		lastAttemptAt sql.NullString
		updatedRaw    string
		finishedRaw   sql.NullString
	)
	if err := scanner.Scan(
		&task.ID, &taskType, &blockID, &program, &date, &claimToken, &task.Priority, &status,
		&task.Attempts, &task.MaxAttempts, &workerID, &leaseRaw, &availableRaw, &lastError,
		&createdRaw, &lastAttemptAt, &updatedRaw, &finishedRaw,
	); err != nil {
		return nil, err
	}
	task.Type = TaskType(taskType)
	task.BlockID = blockID.Int64
	task.Unit = Unit{Program: program.String, Date: date.String}
	task.ClaimToken = claimToken.String
	task.Status = TaskStatus(status)
	task.WorkerID = workerID.String
	task.LeaseExpiresAt = parseTimePtr(leaseRaw.String)
	task.AvailableAt = parseTimeValue(availableRaw)
	task.LastError = lastError.String
	task.CreatedAt = parseTimeValue(createdRaw)
	task.LastAttemptAt = parseTimePtr(lastAttemptAt.String)
	task.UpdatedAt = parseTimeValue(updatedRaw)
	task.FinishedAt = parseTimePtr(finishedRaw.String)
	return &task, nil
}
