package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lubeve/insider-trading-bot-new/internal/domain"
)

const userColumns = `chat_id, username, first_name, subscribed, is_admin,
	notify_buys, notify_sells, min_value, tz, active_from_m, active_to_m,
	created_at, updated_at`

// UpsertUser inserts a user or updates every mutable field of an existing one.
// created_at is kept from the first insert.
func (r *SQLiteRepo) UpsertUser(ctx context.Context, u *domain.User) error {
	if u == nil {
		return errors.New("nil user")
	}

	now := r.now().UTC()
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	u.UpdatedAt = now
	if u.Prefs.TZ == "" {
		u.Prefs.TZ = "UTC"
	}

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO users (`+userColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(chat_id) DO UPDATE SET
			username      = excluded.username,
			first_name    = excluded.first_name,
			subscribed    = excluded.subscribed,
			is_admin      = excluded.is_admin,
			notify_buys   = excluded.notify_buys,
			notify_sells  = excluded.notify_sells,
			min_value     = excluded.min_value,
			tz            = excluded.tz,
			active_from_m = excluded.active_from_m,
			active_to_m   = excluded.active_to_m,
			updated_at    = excluded.updated_at`,
		u.ChatID, u.Username, u.FirstName, boolToInt(u.Subscribed), boolToInt(u.IsAdmin),
		boolToInt(u.Prefs.NotifyBuys), boolToInt(u.Prefs.NotifySells), u.Prefs.MinValue,
		u.Prefs.TZ, u.Prefs.ActiveFromM, u.Prefs.ActiveToM,
		toMillis(u.CreatedAt), toMillis(u.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("upsert user[%d]: %w", u.ChatID, err)
	}
	return nil
}

// GetUser returns a user by chatID or domain.ErrNotFound.
func (r *SQLiteRepo) GetUser(ctx context.Context, chatID int64) (*domain.User, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE chat_id = ?`, chatID)
	u, err := scanUser(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user[%d]: %w", chatID, err)
	}
	return &u, nil
}

// ListSubscribed returns every subscribed user ordered by chat id.
func (r *SQLiteRepo) ListSubscribed(ctx context.Context) ([]domain.User, error) {
	return r.listUsers(ctx, `WHERE subscribed = 1`)
}

// ListAdmins returns every admin regardless of subscription.
func (r *SQLiteRepo) ListAdmins(ctx context.Context) ([]domain.User, error) {
	return r.listUsers(ctx, `WHERE is_admin = 1`)
}

func (r *SQLiteRepo) listUsers(ctx context.Context, where string) ([]domain.User, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+userColumns+` FROM users `+where+` ORDER BY chat_id`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	var res []domain.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		res = append(res, u)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return res, nil
}

// SetSubscribed toggles the subscription flag. Users are never deleted.
func (r *SQLiteRepo) SetSubscribed(ctx context.Context, chatID int64, subscribed bool) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE users
		SET subscribed = ?, updated_at = ?
		WHERE chat_id = ?`,
		boolToInt(subscribed), toMillis(r.now()), chatID,
	)
	if err != nil {
		return fmt.Errorf("set subscribed[%d]: %w", chatID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// CountUsers returns the total and subscribed user counts.
func (r *SQLiteRepo) CountUsers(ctx context.Context) (total, subscribed int, err error) {
	err = r.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(subscribed), 0) FROM users`,
	).Scan(&total, &subscribed)
	if err != nil {
		return 0, 0, fmt.Errorf("count users: %w", err)
	}
	return total, subscribed, nil
}

func scanUser(s scanner) (domain.User, error) {
	var (
		u                    domain.User
		subscribed, admin    int
		buys, sells          int
		createdAt, updatedAt int64
	)
	if err := s.Scan(
		&u.ChatID, &u.Username, &u.FirstName, &subscribed, &admin,
		&buys, &sells, &u.Prefs.MinValue, &u.Prefs.TZ, &u.Prefs.ActiveFromM, &u.Prefs.ActiveToM,
		&createdAt, &updatedAt,
	); err != nil {
		return domain.User{}, err
	}
	u.Subscribed = subscribed != 0
	u.IsAdmin = admin != 0
	u.Prefs.NotifyBuys = buys != 0
	u.Prefs.NotifySells = sells != 0
	u.CreatedAt = fromMillis(createdAt)
	u.UpdatedAt = fromMillis(updatedAt)
	return u, nil
}
