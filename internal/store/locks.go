package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const lockColumns = `program_key, report_date, status, claim_token, claimed_at, expires_at, sent_at,
    attempts, last_error, recipients, updated_at`

// SendClaim is the result of an attempt to take the send lock for a reporting unit.
type SendClaim struct {
	Token   string
	Claimed bool
	// Existing is the lock that blocked the claim when Claimed is false.
	Existing *NotificationLock
}

// ClaimSendLock takes the send lock for unit. A new row always wins. An existing row
// is taken over only when its previous attempt failed or its hold has expired; the
// takeover is a single conditional upsert, so concurrent senders cannot both win.
func (s *Store) ClaimSendLock(ctx context.Context, unit Unit, recipients []string, hold time.Duration) (SendClaim, error) {
	token := uuid.NewString()
	now := time.Now()
	nowText := formatTime(now)
	claimed, err := s.execAffected(ctx,
		`INSERT INTO notification_locks (
            program_key, report_date, status, claim_token, claimed_at, expires_at,
            attempts, recipients, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, 1, ?, ?)
        ON CONFLICT (program_key, report_date) DO UPDATE SET
            status = excluded.status,
            claim_token = excluded.claim_token,
            claimed_at = excluded.claimed_at,
            expires_at = excluded.expires_at,
            attempts = notification_locks.attempts + 1,
            last_error = NULL,
            recipients = excluded.recipients,
            updated_at = excluded.updated_at
        WHERE notification_locks.status = ? OR notification_locks.expires_at < excluded.claimed_at`,
		unit.Program, unit.Date, LockSending, token, nowText, formatTime(now.Add(hold)),
		joinList(recipients), nowText,
		LockFailed,
	)
	if err != nil {
		return SendClaim{}, fmt.Errorf("claim send lock %s: %w", unit, err)
	}
	if claimed {
		return SendClaim{Token: token, Claimed: true}, nil
	}
	existing, err := s.GetSendLock(ctx, unit)
	if err != nil {
		return SendClaim{}, err
	}
	return SendClaim{Existing: existing}, nil
}

// MarkSent records a successful delivery. The lock stays held for window so repeated
// send tasks inside the window are suppressed, and the digest moves from ready to sent
// in the same transaction.
func (s *Store) MarkSent(ctx context.Context, unit Unit, token string, window time.Duration) error {
	ctx = ensureContext(ctx)
	return s.withTx(ctx, func(tx *sql.Tx) error {
		now := time.Now()
		nowText := formatTime(now)
		res, err := tx.ExecContext(ctx,
			`UPDATE notification_locks
             SET status = ?, sent_at = ?, expires_at = ?, last_error = NULL, updated_at = ?
             WHERE program_key = ? AND report_date = ? AND claim_token = ? AND status = ?`,
			LockSent, nowText, formatTime(now.Add(window)), nowText,
			unit.Program, unit.Date, token, LockSending,
		)
		if err != nil {
			return fmt.Errorf("mark lock sent %s: %w", unit, err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("rows affected: %w", err)
		}
		if affected == 0 {
			return fmt.Errorf("mark sent %s: %w", unit, ErrClaimLost)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE digests SET status = ?, sent_at = ?, updated_at = ?
             WHERE program_key = ? AND report_date = ? AND status = ?`,
			DigestSent, nowText, nowText, unit.Program, unit.Date, DigestReady,
		); err != nil {
			return fmt.Errorf("mark digest sent %s: %w", unit, err)
		}
		return nil
	})
}

// MarkSendFailed releases the send lock after a failed delivery so a retry can claim it.
func (s *Store) MarkSendFailed(ctx context.Context, unit Unit, token, message string) error {
	ok, err := s.execAffected(ctx,
		`UPDATE notification_locks SET status = ?, last_error = ?, updated_at = ?
         WHERE program_key = ? AND report_date = ? AND claim_token = ? AND status = ?`,
		LockFailed, nullableString(message), nowString(),
		unit.Program, unit.Date, token, LockSending,
	)
	if err != nil {
		return fmt.Errorf("mark send failed %s: %w", unit, err)
	}
	if !ok {
		return fmt.Errorf("mark send failed %s: %w", unit, ErrClaimLost)
	}
	return nil
}

// GetSendLock returns the send lock for unit or ErrNotFound.
func (s *Store) GetSendLock(ctx context.Context, unit Unit) (*NotificationLock, error) {
	row := s.db.QueryRowContext(ensureContext(ctx),
		`SELECT `+lockColumns+` FROM notification_locks WHERE program_key = ? AND report_date = ?`,
		unit.Program, unit.Date,
	)
	var (
		lock       NotificationLock
		status     string
		claimedRaw string
		expiresRaw string
		sentRaw    sql.NullString
		lastError  sql.NullString
		recipients sql.NullString
		updatedRaw string
	)
	err := row.Scan(
		&lock.Unit.Program, &lock.Unit.Date, &status, &lock.ClaimToken, &claimedRaw, &expiresRaw, &sentRaw,
		&lock.Attempts, &lastError, &recipients, &updatedRaw,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("send lock %s: %w", unit, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get send lock: %w", err)
	}
	lock.Status = LockStatus(status)
	lock.ClaimedAt = parseTimeValue(claimedRaw)
	lock.ExpiresAt = parseTimeValue(expiresRaw)
	lock.SentAt = parseTimePtr(sentRaw.String)
	lock.LastError = lastError.String
	lock.Recipients = splitList(recipients.String)
	lock.UpdatedAt = parseTimeValue(updatedRaw)
	return &lock, nil
}
