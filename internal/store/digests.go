package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const digestColumns = `id, program_key, report_date, status, claim_token, claimed_at, content, content_format,
    block_count, participants, rebuilds, error_message, created_at, updated_at, ready_at, sent_at`

// DigestClaim is the result of an attempt to take ownership of a reporting unit.
type DigestClaim struct {
	Token   string
	Claimed bool
	// Existing is the row that blocked the claim when Claimed is false.
	Existing *Digest
}

// ClaimDigest inserts a building row for unit under a fresh claim token. The unique
// key on (program, date) makes exactly one concurrent caller succeed; the others get
// Claimed=false and the existing row.
func (s *Store) ClaimDigest(ctx context.Context, unit Unit) (DigestClaim, error) {
	if !unit.Valid() {
		return DigestClaim{}, fmt.Errorf("claim digest: invalid unit %q", unit)
	}
	token := uuid.NewString()
	now := nowString()
	inserted, err := s.execAffected(ctx,
		`INSERT INTO digests (program_key, report_date, status, claim_token, claimed_at, created_at, updated_at)
         VALUES (?, ?, ?, ?, ?, ?, ?)
         ON CONFLICT (program_key, report_date) DO NOTHING`,
		unit.Program, unit.Date, DigestBuilding, token, now, now, now,
	)
	if err != nil {
		return DigestClaim{}, fmt.Errorf("claim digest %s: %w", unit, err)
	}
	if inserted {
		return DigestClaim{Token: token, Claimed: true}, nil
	}
	existing, err := s.GetDigest(ctx, unit)
	if err != nil {
		return DigestClaim{}, err
	}
	return DigestClaim{Existing: existing}, nil
}

// ResumeDigestClaim refreshes claimed_at for a building row still owned by token.
// It returns false when the token no longer owns the row.
func (s *Store) ResumeDigestClaim(ctx context.Context, unit Unit, token string) (bool, error) {
	if strings.TrimSpace(token) == "" {
		return false, nil
	}
	now := nowString()
	ok, err := s.execAffected(ctx,
		`UPDATE digests SET claimed_at = ?, updated_at = ?
         WHERE program_key = ? AND report_date = ? AND claim_token = ? AND status = ?`,
		now, now, unit.Program, unit.Date, token, DigestBuilding,
	)
	if err != nil {
		return false, fmt.Errorf("resume digest claim %s: %w", unit, err)
	}
	return ok, nil
}

// PublishDigest stores content and moves the row from building to ready, provided
// token still owns it. When send is non-nil the delivery task is enqueued in the
// same transaction.
func (s *Store) PublishDigest(ctx context.Context, unit Unit, token string, content DigestContent, send *TaskSpec) error {
	ctx = ensureContext(ctx)
	return s.withTx(ctx, func(tx *sql.Tx) error {
		now := nowString()
		res, err := tx.ExecContext(ctx,
			`UPDATE digests
             SET status = ?, content = ?, content_format = ?, block_count = ?, participants = ?,
                 error_message = NULL, ready_at = ?, updated_at = ?
             WHERE program_key = ? AND report_date = ? AND claim_token = ? AND status = ?`,
			DigestReady, content.Body, nullableString(content.Format), content.BlockCount, content.Participants,
			now, now,
			unit.Program, unit.Date, token, DigestBuilding,
		)
		if err != nil {
			return fmt.Errorf("publish digest %s: %w", unit, err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		if affected == 0 {
			return fmt.Errorf("publish digest %s: %w", unit, ErrClaimLost)
		}
		if send != nil {
			if _, err := s.insertTask(ctx, tx, *send); err != nil {
				return err
			}
		}
		return nil
	})
}

// ReleaseDigestClaim deletes a building row owned by token so a later trigger can
// claim the unit again.
func (s *Store) ReleaseDigestClaim(ctx context.Context, unit Unit, token string) (bool, error) {
	ok, err := s.execAffected(ctx,
		`DELETE FROM digests
         WHERE program_key = ? AND report_date = ? AND claim_token = ? AND status = ?`,
		unit.Program, unit.Date, token, DigestBuilding,
	)
	if err != nil {
		return false, fmt.Errorf("release digest claim %s: %w", unit, err)
	}
	return ok, nil
}

// FailDigest marks a building row failed. An empty token matches any owner, which the
// orphan sweeper uses once the rebuild budget is spent.
func (s *Store) FailDigest(ctx context.Context, unit Unit, token, message string) (bool, error) {
	now := nowString()
	query := `UPDATE digests SET status = ?, error_message = ?, updated_at = ?
        WHERE program_key = ? AND report_date = ? AND status = ?`
	args := []any{DigestFailed, nullableString(message), now, unit.Program, unit.Date, DigestBuilding}
	if token != "" {
		query += ` AND claim_token = ?`
		args = append(args, token)
	}
	ok, err := s.execAffected(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("fail digest %s: %w", unit, err)
	}
	return ok, nil
}

// OrphanedDigests lists building rows whose claim is older than cutoff.
func (s *Store) OrphanedDigests(ctx context.Context, cutoff time.Time) ([]*Digest, error) {
	return s.queryDigests(ctx,
		`SELECT `+digestColumns+` FROM digests WHERE status = ? AND claimed_at < ? ORDER BY claimed_at, id`,
		DigestBuilding, formatTime(cutoff),
	)
}

// HandOffDigest moves ownership of an orphaned building row from oldToken to a fresh
// token, bumps the rebuild counter, and enqueues spec carrying the new token, all in
// one transaction. It returns the new token, or "" when oldToken no longer owns the row.
func (s *Store) HandOffDigest(ctx context.Context, unit Unit, oldToken string, spec TaskSpec) (string, error) {
	ctx = ensureContext(ctx)
	newToken := uuid.NewString()
	spec.Type = TaskCreateDigest
	spec.Unit = unit
	spec.ClaimToken = newToken
	var handed bool
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		handed = false
		now := nowString()
		res, err := tx.ExecContext(ctx,
			`UPDATE digests
             SET claim_token = ?, claimed_at = ?, rebuilds = rebuilds + 1, updated_at = ?
             WHERE program_key = ? AND report_date = ? AND claim_token = ? AND status = ?`,
			newToken, now, now, unit.Program, unit.Date, oldToken, DigestBuilding,
		)
		if err != nil {
			return fmt.Errorf("hand off digest %s: %w", unit, err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		if affected == 0 {
			return nil
		}
		if _, err := s.insertTask(ctx, tx, spec); err != nil {
			return err
		}
		handed = true
		return nil
	})
	if err != nil {
		return "", err
	}
	if !handed {
		return "", nil
	}
	return newToken, nil
}

// ResetFailedDigest deletes a failed digest row and enqueues spec so the unit can be
// rebuilt. It returns false when the unit has no failed digest.
func (s *Store) ResetFailedDigest(ctx context.Context, unit Unit, spec TaskSpec) (bool, error) {
	ctx = ensureContext(ctx)
	spec.Type = TaskCreateDigest
	spec.Unit = unit
	spec.ClaimToken = ""
	var reset bool
	err := s.withTx(ctx, func(tx *sql.Tx) error {
		reset = false
		res, err := tx.ExecContext(ctx,
			`DELETE FROM digests WHERE program_key = ? AND report_date = ? AND status = ?`,
			unit.Program, unit.Date, DigestFailed,
		)
		if err != nil {
			return fmt.Errorf("reset digest %s: %w", unit, err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		if affected == 0 {
			return nil
		}
		if _, err := s.insertTask(ctx, tx, spec); err != nil {
			return err
		}
		reset = true
		return nil
	})
	return reset, err
}

// GetDigest returns the digest row for unit or ErrNotFound.
func (s *Store) GetDigest(ctx context.Context, unit Unit) (*Digest, error) {
	row := s.db.QueryRowContext(ensureContext(ctx),
		`SELECT `+digestColumns+` FROM digests WHERE program_key = ? AND report_date = ?`,
		unit.Program, unit.Date,
	)
	digest, err := scanDigest(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("digest %s: %w", unit, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get digest: %w", err)
	}
	return digest, nil
}

// ListDigests returns digests for program (all programs when empty), newest date first.
func (s *Store) ListDigests(ctx context.Context, program string, statuses []DigestStatus, limit int) ([]*Digest, error) {
	var (
		clauses []string
		args    []any
	)
	if program != "" {
		clauses = append(clauses, "program_key = ?")
		args = append(args, program)
	}
	if len(statuses) > 0 {
		clauses = append(clauses, "status IN ("+makePlaceholders(len(statuses))+")")
		for _, status := range statuses {
			args = append(args, status)
		}
	}
	query := `SELECT ` + digestColumns + ` FROM digests`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY report_date DESC, program_key"
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}
	return s.queryDigests(ctx, query, args...)
}

func (s *Store) queryDigests(ctx context.Context, query string, args ...any) ([]*Digest, error) {
	rows, err := s.db.QueryContext(ensureContext(ctx), query, args...)
	if err != nil {
		return nil, fmt.Errorf("query digests: %w", err)
	}
	defer rows.Close()
	var digests []*Digest
	for rows.Next() {
		digest, err := scanDigest(rows)
		if err != nil {
			return nil, fmt.Errorf("scan digest: %w", err)
		}
		digests = append(digests, digest)
	}
	return digests, rows.Err()
}

func scanDigest(scanner rowScanner) (*Digest, error) {
	var (
		digest     Digest
		status     string
		claimedRaw string
		content    sql.NullString
		format     sql.NullString
		errMsg     sql.NullString
		createdRaw string
		updatedRaw string
		readyRaw   sql.NullString
		sentRaw    sql.NullString
	)
	if err := scanner.Scan(
		&digest.ID, &digest.Unit.Program, &digest.Unit.Date, &status, &digest.ClaimToken, &claimedRaw,
		&content, &format, &digest.BlockCount, &digest.Participants, &digest.Rebuilds, &errMsg,
		&createdRaw, &updatedRaw, &readyRaw, &sentRaw,
	); err != nil {
		return nil, err
	}
	digest.Status = DigestStatus(status)
	digest.ClaimedAt = parseTimeValue(claimedRaw)
	digest.Content = content.String
	digest.ContentFormat = format.String
	digest.ErrorMessage = errMsg.String
	digest.CreatedAt = parseTimeValue(createdRaw)
	digest.UpdatedAt = parseTimeValue(updatedRaw)
	digest.ReadyAt = parseTimePtr(readyRaw.String)
	digest.SentAt = parseTimePtr(sentRaw.String)
	return &digest, nil
}
