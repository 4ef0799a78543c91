package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

const blockColumns = `id, program_key, block_code, report_date, status, failed_from, error_message,
    audio_path, transcript_path, summary, summary_format, participants, created_at, updated_at,
    recording_at, recorded_at, transcribing_at, transcribed_at, summarizing_at, completed_at, failed_at`

// CreateBlock inserts a block in the scheduled status. A second block for the same
// program, code, and date is rejected by the UNIQUE constraint and reported as ErrDuplicate.
func (s *Store) CreateBlock(ctx context.Context, unit Unit, code string) (*Block, error) {
	ctx = ensureContext(ctx)
	now := nowString()
	var id int64
	err := retryOnBusy(ctx, func() error {
		return s.db.QueryRowContext(ctx,
			`INSERT INTO blocks (program_key, block_code, report_date, status, created_at, updated_at)
             VALUES (?, ?, ?, ?, ?, ?)
             RETURNING id`,
			unit.Program, code, unit.Date, BlockScheduled, now, now,
		).Scan(&id)
	})
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("insert block %s/%s: %w", unit, code, ErrDuplicate)
		}
		return nil, fmt.Errorf("insert block: %w", err)
	}
	return s.GetBlock(ctx, id)
}

// GetBlock fetches a block by identifier.
func (s *Store) GetBlock(ctx context.Context, id int64) (*Block, error) {
	row := s.db.QueryRowContext(ensureContext(ctx), `SELECT `+blockColumns+` FROM blocks WHERE id = ?`, id)
	block, err := scanBlock(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("block %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get block: %w", err)
	}
	return block, nil
}

// FindBlock fetches the block for a program, code, and date.
func (s *Store) FindBlock(ctx context.Context, unit Unit, code string) (*Block, error) {
	row := s.db.QueryRowContext(ensureContext(ctx),
		`SELECT `+blockColumns+` FROM blocks WHERE program_key = ? AND block_code = ? AND report_date = ?`,
		unit.Program, code, unit.Date,
	)
	block, err := scanBlock(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("block %s/%s: %w", unit, code, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("find block: %w", err)
	}
	return block, nil
}

// ListBlocks returns blocks matching filter ordered by date, program, and code.
func (s *Store) ListBlocks(ctx context.Context, filter BlockFilter) ([]*Block, error) {
	var (
		clauses []string
		args    []any
	)
	if filter.Program != "" {
		clauses = append(clauses, "program_key = ?")
		args = append(args, filter.Program)
	}
	if filter.Date != "" {
		clauses = append(clauses, "report_date = ?")
		args = append(args, filter.Date)
	}
	if len(filter.Statuses) > 0 {
		clauses = append(clauses, "status IN ("+makePlaceholders(len(filter.Statuses))+")")
		for _, status := range filter.Statuses {
			args = append(args, status)
		}
	}
	query := `SELECT ` + blockColumns + ` FROM blocks`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY report_date DESC, program_key, block_code"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}
	return s.queryBlocks(ctx, query, args...)
}

// CompletedBlocks returns the completed blocks of a unit ordered by block code so
// aggregation does not depend on completion order.
func (s *Store) CompletedBlocks(ctx context.Context, unit Unit) ([]*Block, error) {
	return s.queryBlocks(ctx,
		`SELECT `+blockColumns+` FROM blocks
         WHERE program_key = ? AND report_date = ? AND status = ?
         ORDER BY block_code`,
		unit.Program, unit.Date, BlockCompleted,
	)
}

// UnitCounts returns how many blocks exist for the unit and how many are completed.
func (s *Store) UnitCounts(ctx context.Context, unit Unit) (total, completed int, err error) {
	err = s.db.QueryRowContext(ensureContext(ctx),
		`SELECT COUNT(1), COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0)
         FROM blocks WHERE program_key = ? AND report_date = ?`,
		BlockCompleted, unit.Program, unit.Date,
	).Scan(&total, &completed)
	if err != nil {
		return 0, 0, fmt.Errorf("count unit blocks: %w", err)
	}
	return total, completed, nil
}

// TransitionBlock moves a block from one status to another as a compare-and-swap on
// the current status. When followOn is non-nil the task is inserted in the same
// transaction. It returns false when the block was no longer in status from.
func (s *Store) TransitionBlock(ctx context.Context, id int64, from, to BlockStatus, update BlockUpdate, followOn *TaskSpec) (bool, error) {
	ctx = ensureContext(ctx)
	now := nowString()
	sets := []string{"status = ?", "updated_at = ?"}
	args := []any{to, now}
	if column := to.timestampColumn(); column != "" {
		sets = append(sets, column+" = ?")
		args = append(args, now)
	}
	switch {
	case to == BlockFailed:
		sets = append(sets, "failed_from = ?", "error_message = ?")
		args = append(args, from, nullableString(update.ErrorMessage))
	case from == BlockFailed:
		sets = append(sets, "failed_from = NULL", "error_message = NULL")
	}
	if update.AudioPath != "" {
		sets = append(sets, "audio_path = ?")
		args = append(args, update.AudioPath)
	}
	if update.TranscriptPath != "" {
		sets = append(sets, "transcript_path = ?")
		args = append(args, update.TranscriptPath)
	}
	if update.Summary != "" {
		sets = append(sets, "summary = ?")
		args = append(args, update.Summary)
	}
	if update.SummaryFormat != "" {
		sets = append(sets, "summary_format = ?")
		args = append(args, update.SummaryFormat)
	}
	if update.Participants != nil {
		sets = append(sets, "participants = ?")
		args = append(args, *update.Participants)
	}
	args = append(args, id, from)
	query := `UPDATE blocks SET ` + strings.Join(sets, ", ") + ` WHERE id = ? AND status = ?`

	var swapped bool
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		swapped = false
		res, err := tx.ExecContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("update block status: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		if affected == 0 {
			return nil
		}
		if followOn != nil {
			if _, err := s.insertTask(ctx, tx, *followOn); err != nil {
				return err
			}
		}
		swapped = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("transition block %d %s->%s: %w", id, from, to, err)
	}
	return swapped, nil
}

// UpdateBlockMetadata writes metadata without changing status.
func (s *Store) UpdateBlockMetadata(ctx context.Context, id int64, update BlockUpdate) error {
	_, err := s.execWithRetry(ctx,
		`UPDATE blocks SET
            audio_path = COALESCE(?, audio_path),
            transcript_path = COALESCE(?, transcript_path),
            updated_at = ?
         WHERE id = ?`,
		nullableString(update.AudioPath), nullableString(update.TranscriptPath), nowString(), id,
	)
	if err != nil {
		return fmt.Errorf("update block metadata: %w", err)
	}
	return nil
}

func (s *Store) queryBlocks(ctx context.Context, query string, args ...any) ([]*Block, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx), query, args...)
	if err != nil {
		return nil, fmt.Errorf("query blocks: %w", err)
	}
	defer rows.Close()

	var blocks []*Block
	for rows.Next() {
		block, err := scanBlock(rows)
		if err != nil {
			return nil, fmt.Errorf("scan block: %w", err)
		}
		blocks = append(blocks, block)
	}
	return blocks, rows.Err()
}

func scanBlock(scanner rowScanner) (*Block, error) {
	var (
		block          Block
		status         string
		failedFrom     sql.NullString
		errorMessage   sql.NullString
		audioPath      sql.NullString
		transcriptPath sql.NullString
		summary        sql.NullString
		summaryFormat  sql.NullString
		createdRaw     string
		updatedRaw     string
		stamps         [7]sql.NullString
	)
	if err := scanner.Scan(
		&block.ID, &block.Program, &block.Code, &block.Date, &status, &failedFrom, &errorMessage,
		&audioPath, &transcriptPath, &summary, &summaryFormat, &block.Participants, &createdRaw, &updatedRaw,
		&stamps[0], &stamps[1], &stamps[2], &stamps[3], &stamps[4], &stamps[5], &stamps[6],
	); err != nil {
		return nil, err
	}
	block.Status = BlockStatus(status)
	block.FailedFrom = BlockStatus(failedFrom.String)
	block.ErrorMessage = errorMessage.String
	block.AudioPath = audioPath.String
	block.TranscriptPath = transcriptPath.String
	block.Summary = summary.String
	block.SummaryFormat = summaryFormat.String
	block.CreatedAt = parseTimeValue(createdRaw)
	block.UpdatedAt = parseTimeValue(updatedRaw)

	stampStatuses := [7]BlockStatus{
		BlockRecording, BlockRecorded, BlockTranscribing, BlockTranscribed,
		BlockSummarizing, BlockCompleted, BlockFailed,
	}
	block.Transitions = make(map[BlockStatus]time.Time, len(stampStatuses))
	for idx, raw := range stamps {
		if ts := parseTimePtr(raw.String); ts != nil {
			block.Transitions[stampStatuses[idx]] = *ts
		}
	}
	return &block, nil
}
