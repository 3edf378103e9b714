// Package violation persists moderation outcomes and serves the history
// queries the policy engine depends on.
package violation

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/streamguard/streamguard/pkg/models"
)

// History windows used by the policy engine.
const (
	spamWindow     = 24 * time.Hour
	criticalWindow = 30 * 24 * time.Hour
)

// Store persists user violations in PostgreSQL.
type Store struct {
	db *sql.DB
}

// NewStore creates a violation store on an existing connection pool.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Record inserts a violation. A zero ViolationID gets a fresh UUID; a zero
// CreatedAt gets the current time. The stored record is returned.
func (s *Store) Record(ctx context.Context, v models.UserViolation) (models.UserViolation, error) {
	if v.ViolationID == "" {
		v.ViolationID = uuid.NewString()
	}
	if v.CreatedAt.IsZero() {
		v.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO violations (id, message_id, user_id, channel_id, decision, severity, action_kind, reason, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		v.ViolationID, v.MessageID, v.UserID, v.ChannelID,
		string(v.Decision), string(v.Severity), string(v.ActionKind),
		v.Reason, v.CreatedAt, v.ExpiresAt,
	)
	if err != nil {
		return models.UserViolation{}, fmt.Errorf("failed to insert violation: %w", err)
	}
	return v, nil
}

// Recent returns the user's violations created within the window, newest
// first, capped at limit.
func (s *Store) Recent(ctx context.Context, userID string, window time.Duration, limit int) ([]models.UserViolation, error) {
	since := time.Now().UTC().Add(-window)

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, message_id, user_id, channel_id, decision, severity, action_kind, reason, created_at, expires_at
		FROM violations
		WHERE user_id = $1 AND created_at >= $2
		ORDER BY created_at DESC
		LIMIT $3`,
		userID, since, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query violations: %w", err)
	}
	defer rows.Close()

	var out []models.UserViolation
	for rows.Next() {
		var (
			v         models.UserViolation
			decision  string
			severity  string
			kind      string
			expiresAt sql.NullTime
		)
		if err := rows.Scan(&v.ViolationID, &v.MessageID, &v.UserID, &v.ChannelID,
			&decision, &severity, &kind, &v.Reason, &v.CreatedAt, &expiresAt); err != nil {
			return nil, fmt.Errorf("failed to scan violation: %w", err)
		}
		v.Decision = models.VerdictDecision(decision)
		v.Severity = models.Severity(severity)
		v.ActionKind = models.ActionKind(kind)
		if expiresAt.Valid {
			t := expiresAt.Time
			v.ExpiresAt = &t
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate violations: %w", err)
	}
	return out, nil
}

// Counts aggregates the history signals the policy engine consumes: total and
// per-severity counts in the last 30 days, spam violations in the last 24
// hours, and critical violations in the last 30 days.
func (s *Store) Counts(ctx context.Context, userID string) (*models.HistoryCounts, error) {
	now := time.Now().UTC()
	counts := &models.HistoryCounts{BySeverity: map[models.Severity]int{}}

	rows, err := s.db.QueryContext(ctx, `
		SELECT severity, COUNT(*)
		FROM violations
		WHERE user_id = $1 AND created_at >= $2
		GROUP BY severity`,
		userID, now.Add(-criticalWindow),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query severity counts: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			severity string
			n        int
		)
		if err := rows.Scan(&severity, &n); err != nil {
			return nil, fmt.Errorf("failed to scan severity count: %w", err)
		}
		counts.BySeverity[models.Severity(severity)] = n
		counts.Total += n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate severity counts: %w", err)
	}
	counts.Critical30d = counts.BySeverity[models.SeverityCritical]

	err = s.db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM violations
		WHERE user_id = $1 AND decision = $2 AND created_at >= $3`,
		userID, string(models.VerdictSpam), now.Add(-spamWindow),
	).Scan(&counts.Spam24h)
	if err != nil {
		return nil, fmt.Errorf("failed to query spam count: %w", err)
	}

	return counts, nil
}

// PurgeAged deletes violations older than the retention window and returns
// the number of rows removed. expires_at is enforcement state, not record
// lifetime: an expired timeout stays in the history until it ages out, so
// repeat-offender escalation keeps seeing it.
func (s *Store) PurgeAged(ctx context.Context, olderThan time.Duration) (int64, error) {
	cutoff := time.Now().UTC().Add(-olderThan)

	res, err := s.db.ExecContext(ctx, `
		DELETE FROM violations
		WHERE created_at < $1`,
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to purge violations: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read purge count: %w", err)
	}
	return n, nil
}
