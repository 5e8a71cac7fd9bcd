package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lubeve/insider-trading-bot-new/internal/domain"
)

// SaveSession upserts the user's single session record.
func (r *SQLiteRepo) SaveSession(ctx context.Context, rec domain.SessionRecord) error {
	if rec.Status == domain.StatusConnecting {
		return fmt.Errorf("save session[%d]: status %s is not persistable", rec.UserID, rec.Status)
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO sessions (user_id, token, status, last_validated_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			token             = excluded.token,
			status            = excluded.status,
			last_validated_at = excluded.last_validated_at,
			updated_at        = excluded.updated_at`,
		rec.UserID, rec.Token, string(rec.Status),
		toNullMillis(&rec.LastValidatedAt), toMillis(r.now()),
	)
	if err != nil {
		return fmt.Errorf("save session[%d]: %w", rec.UserID, err)
	}
	return nil
}

// LoadSession returns nil, nil when the user has no record.
func (r *SQLiteRepo) LoadSession(ctx context.Context, userID int64) (*domain.SessionRecord, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT user_id, token, status, last_validated_at
		FROM sessions WHERE user_id = ?`, userID)
	rec, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load session[%d]: %w", userID, err)
	}
	return &rec, nil
}

// InvalidateSession marks the record DISCONNECTED and drops the token.
// It is a no-op for users without a record.
func (r *SQLiteRepo) InvalidateSession(ctx context.Context, userID int64) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE sessions
		SET token = '', status = ?, updated_at = ?
		WHERE user_id = ?`,
		string(domain.StatusDisconnected), toMillis(r.now()), userID,
	)
	if err != nil {
		return fmt.Errorf("invalidate session[%d]: %w", userID, err)
	}
	return nil
}

// ListSessionsByStatus returns all records in the given status.
func (r *SQLiteRepo) ListSessionsByStatus(ctx context.Context, status domain.SessionStatus) ([]domain.SessionRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT user_id, token, status, last_validated_at
		FROM sessions WHERE status = ? ORDER BY user_id`, string(status))
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var res []domain.SessionRecord
	for rows.Next() {
		rec, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		res = append(res, rec)
	}
	return res, rows.Err()
}

func scanSession(s scanner) (domain.SessionRecord, error) {
	var (
		rec       domain.SessionRecord
		status    string
		validated sql.NullInt64
	)
	if err := s.Scan(&rec.UserID, &rec.Token, &status, &validated); err != nil {
		return domain.SessionRecord{}, err
	}
	rec.Status = domain.SessionStatus(status)
	if t := fromNullMillis(validated); t != nil {
		rec.LastValidatedAt = *t
	}
	return rec, nil
}
