package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lubeve/insider-trading-bot-new/internal/domain"
)

// GetSystemState reads the singleton row.
func (r *SQLiteRepo) GetSystemState(ctx context.Context) (domain.SystemState, error) {
	var (
		st              domain.SystemState
		lastTick, lease sql.NullInt64
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT last_tick_at, lock_holder, lock_expires_at, config_version
		FROM system_state WHERE id = 1`,
	).Scan(&lastTick, &st.LockHolder, &lease, &st.ConfigVersion)
	if err != nil {
		return domain.SystemState{}, fmt.Errorf("get system state: %w", err)
	}
	st.LastTickAt = fromNullMillis(lastTick)
	st.LockExpiresAt = fromNullMillis(lease)
	return st, nil
}

// RecordTick stores the start time of the last executed tick.
func (r *SQLiteRepo) RecordTick(ctx context.Context, at time.Time) error {
	if _, err := r.db.ExecContext(ctx,
		`UPDATE system_state SET last_tick_at = ? WHERE id = 1`, toMillis(at),
	); err != nil {
		return fmt.Errorf("record tick: %w", err)
	}
	return nil
}

// SetConfigVersion stores a fingerprint of the running configuration.
func (r *SQLiteRepo) SetConfigVersion(ctx context.Context, version string) error {
	if _, err := r.db.ExecContext(ctx,
		`UPDATE system_state SET config_version = ? WHERE id = 1`, version,
	); err != nil {
		return fmt.Errorf("set config version: %w", err)
	}
	return nil
}

// AcquireLease takes or renews the scheduler lease for holder. It succeeds
// when the lease is free, expired, or already held by holder.
func (r *SQLiteRepo) AcquireLease(ctx context.Context, holder string, now time.Time, ttl time.Duration) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE system_state
		SET lock_holder = ?, lock_expires_at = ?
		WHERE id = 1
		  AND (lock_holder = '' OR lock_holder = ?
		       OR lock_expires_at IS NULL OR lock_expires_at <= ?)`,
		holder, toMillis(now.Add(ttl)), holder, toMillis(now),
	)
	if err != nil {
		return false, fmt.Errorf("acquire lease: %w", err)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

// ReleaseLease frees the lease if holder still owns it.
func (r *SQLiteRepo) ReleaseLease(ctx context.Context, holder string) error {
	if _, err := r.db.ExecContext(ctx, `
		UPDATE system_state
		SET lock_holder = '', lock_expires_at = NULL
		WHERE id = 1 AND lock_holder = ?`, holder,
	); err != nil {
		return fmt.Errorf("release lease: %w", err)
	}
	return nil
}
