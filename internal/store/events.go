package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lubeve/insider-trading-bot-new/internal/domain"
)

// SaveEvent stores an event once; later saves of the same id are ignored
// so events stay immutable.
func (r *SQLiteRepo) SaveEvent(ctx context.Context, ev domain.AnalysisEvent) (bool, error) {
	payload, err := json.Marshal(ev.Payload)
	if err != nil {
		return false, fmt.Errorf("encode event %s: %w", ev.ID, err)
	}
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO events (event_id, payload, discovered_at)
		VALUES (?, ?, ?)
		ON CONFLICT(event_id) DO NOTHING`,
		ev.ID, string(payload), toMillis(ev.DiscoveredAt),
	)
	if err != nil {
		return false, fmt.Errorf("save event %s: %w", ev.ID, err)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

// GetEvent returns a stored event or domain.ErrNotFound.
func (r *SQLiteRepo) GetEvent(ctx context.Context, eventID string) (domain.AnalysisEvent, error) {
	evs, err := r.queryEvents(ctx, `WHERE event_id = ?`, eventID)
	if err != nil {
		return domain.AnalysisEvent{}, err
	}
	if len(evs) == 0 {
		return domain.AnalysisEvent{}, domain.ErrNotFound
	}
	return evs[0], nil
}

// ListEventsSince returns events discovered at or after since, oldest first.
func (r *SQLiteRepo) ListEventsSince(ctx context.Context, since time.Time) ([]domain.AnalysisEvent, error) {
	return r.queryEvents(ctx, `WHERE discovered_at >= ? ORDER BY discovered_at, event_id`, toMillis(since))
}

func (r *SQLiteRepo) queryEvents(ctx context.Context, where string, args ...any) ([]domain.AnalysisEvent, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT event_id, payload, discovered_at FROM events `+where, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var res []domain.AnalysisEvent
	for rows.Next() {
		var (
			ev           domain.AnalysisEvent
			payload      string
			discoveredAt int64
		)
		if err := rows.Scan(&ev.ID, &payload, &discoveredAt); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		if err := json.Unmarshal([]byte(payload), &ev.Payload); err != nil {
			return nil, fmt.Errorf("decode event %s: %w", ev.ID, err)
		}
		ev.DiscoveredAt = fromMillis(discoveredAt)
		res = append(res, ev)
	}
	return res, rows.Err()
}

// DeliveredUsers returns the set of users that already have a delivery record for eventID.
func (r *SQLiteRepo) DeliveredUsers(ctx context.Context, eventID string) (map[int64]struct{}, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT user_id FROM deliveries WHERE event_id = ?`, eventID)
	if err != nil {
		return nil, fmt.Errorf("delivered users %s: %w", eventID, err)
	}
	defer rows.Close()

	res := make(map[int64]struct{})
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan delivery: %w", err)
		}
		res[id] = struct{}{}
	}
	return res, rows.Err()
}

// InsertDelivery records a successful send. Records are never updated:
// a second insert for the same (event_id, user_id) is ignored and reports false.
func (r *SQLiteRepo) InsertDelivery(ctx context.Context, rec domain.DeliveryRecord) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO deliveries (event_id, user_id, delivered_at)
		VALUES (?, ?, ?)
		ON CONFLICT(event_id, user_id) DO NOTHING`,
		rec.EventID, rec.UserID, toMillis(rec.DeliveredAt),
	)
	if err != nil {
		return false, fmt.Errorf("insert delivery %s/%d: %w", rec.EventID, rec.UserID, err)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}
