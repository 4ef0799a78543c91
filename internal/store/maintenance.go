package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
)

// Stats returns row counts grouped by type and status.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	ctx = ensureContext(ctx)
	stats := Stats{
		Tasks:   make(map[TaskType]map[TaskStatus]int),
		Blocks:  make(map[BlockStatus]int),
		Digests: make(map[DigestStatus]int),
	}

	rows, err := s.db.QueryContext(ctx, `SELECT task_type, status, COUNT(1) FROM tasks GROUP BY task_type, status`)
	if err != nil {
		return stats, fmt.Errorf("task stats: %w", err)
	}
	for rows.Next() {
		var (
			taskType TaskType
			status   TaskStatus
			count    int
		)
		if err := rows.Scan(&taskType, &status, &count); err != nil {
			rows.Close()
			return stats, err
		}
		if stats.Tasks[taskType] == nil {
			stats.Tasks[taskType] = make(map[TaskStatus]int)
		}
		stats.Tasks[taskType][status] = count
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return stats, err
	}

	if err := s.countByStatus(ctx, "blocks", func(status string, count int) {
		stats.Blocks[BlockStatus(status)] = count
	}); err != nil {
		return stats, err
	}
	if err := s.countByStatus(ctx, "digests", func(status string, count int) {
		stats.Digests[DigestStatus(status)] = count
	}); err != nil {
		return stats, err
	}
	return stats, nil
}

func (s *Store) countByStatus(ctx context.Context, table string, record func(string, int)) error {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(1) FROM `+table+` GROUP BY status`)
	if err != nil {
		return fmt.Errorf("%s stats: %w", table, err)
	}
	defer rows.Close()
	for rows.Next() {
		var (
			status string
			count  int
		)
		if err := rows.Scan(&status, &count); err != nil {
			return err
		}
		record(status, count)
	}
	return rows.Err()
}

// Health aggregates task state for diagnostic output.
func (s *Store) Health(ctx context.Context) (HealthSummary, error) {
	stats, err := s.Stats(ctx)
	if err != nil {
		return HealthSummary{}, err
	}
	health := HealthSummary{}
	for _, byStatus := range stats.Tasks {
		for status, count := range byStatus {
			health.Total += count
			switch status {
			case TaskPending:
				health.Pending += count
			case TaskRunning:
				health.Running += count
			case TaskFailed:
				health.Failed += count
			case TaskCompleted:
				health.Completed += count
			}
		}
	}
	return health, nil
}

// CheckHealth returns diagnostic information about the pipeline database.
func (s *Store) CheckHealth(ctx context.Context) (DatabaseHealth, error) {
	ctx = ensureContext(ctx)
	health := DatabaseHealth{DBPath: s.path}

	if s.path == "" {
		return health, errors.New("database path is unknown")
	}

	info, err := os.Stat(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return health, nil
		}
		return health, fmt.Errorf("stat database: %w", err)
	}
	if info.IsDir() {
		return health, fmt.Errorf("database path %q is a directory", s.path)
	}
	health.DatabaseExists = true

	if s.db == nil {
		return health, errors.New("database connection unavailable")
	}

	connCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	if err := s.db.PingContext(connCtx); err != nil {
		health.Error = err.Error()
		return health, fmt.Errorf("ping database: %w", err)
	}
	health.DatabaseReadable = true

	if err := s.db.QueryRowContext(connCtx, "SELECT version FROM schema_version LIMIT 1").Scan(&health.SchemaVersion); err != nil {
		health.Error = err.Error()
		return health, fmt.Errorf("read schema version: %w", err)
	}

	for _, table := range requiredTables {
		var count int
		if err := s.db.QueryRowContext(connCtx,
			"SELECT COUNT(1) FROM sqlite_master WHERE type = 'table' AND name = ?", table,
		).Scan(&count); err != nil {
			health.Error = err.Error()
			return health, fmt.Errorf("query table info: %w", err)
		}
		if count == 0 {
			health.MissingTables = append(health.MissingTables, table)
		}
	}

	var integrityResult string
	if err := s.db.QueryRowContext(connCtx, "PRAGMA integrity_check").Scan(&integrityResult); err != nil {
		health.Error = err.Error()
		return health, fmt.Errorf("integrity check: %w", err)
	}
	health.IntegrityCheck = strings.EqualFold(integrityResult, "ok")

	return health, nil
}
