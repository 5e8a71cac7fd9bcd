package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lubeve/insider-trading-bot-new/internal/domain"
)

// PutCredential replaces the user's encrypted credential record.
func (r *SQLiteRepo) PutCredential(ctx context.Context, rec domain.CredentialRecord) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO credentials (user_id, blob, nonce, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			blob       = excluded.blob,
			nonce      = excluded.nonce,
			created_at = excluded.created_at`,
		rec.UserID, rec.Blob, rec.Nonce, toMillis(rec.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("put credential[%d]: %w", rec.UserID, err)
	}
	return nil
}

// GetCredential returns the record or domain.ErrNotFound.
func (r *SQLiteRepo) GetCredential(ctx context.Context, userID int64) (domain.CredentialRecord, error) {
	var (
		rec       = domain.CredentialRecord{UserID: userID}
		createdAt int64
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT blob, nonce, created_at FROM credentials WHERE user_id = ?`, userID,
	).Scan(&rec.Blob, &rec.Nonce, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.CredentialRecord{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.CredentialRecord{}, fmt.Errorf("get credential[%d]: %w", userID, err)
	}
	rec.CreatedAt = fromMillis(createdAt)
	return rec, nil
}

// DeleteCredential removes the record; deleting a missing record is not an error.
func (r *SQLiteRepo) DeleteCredential(ctx context.Context, userID int64) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM credentials WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("delete credential[%d]: %w", userID, err)
	}
	return nil
}
