package session

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/samber/lo"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/lubeve/insider-trading-bot-new/internal/domain"
)

// Recover re-validates every ACTIVE record after a restart, since the remote
// side may have ended sessions while the process was down. Failures follow
// the reconnect path and are logged, not returned.
func (m *Manager) Recover(ctx context.Context) error {
	gens := m.generations()
	recs, err := m.store.ListSessionsByStatus(ctx, domain.StatusActive)
	if err != nil {
		return fmt.Errorf("list active sessions: %w", err)
	}
	if len(recs) == 0 {
		return nil
	}

	started := time.Now()
	ok, failed := m.revalidateAll(ctx, recs, gens)
	m.log.Info("sessions recovered",
		zap.Int("total", len(recs)),
		zap.Int("active", ok),
		zap.Int("failed", failed),
		zap.Duration("took", time.Since(started)),
	)
	return nil
}

// revalidateAll checks recs concurrently. gens holds the generations seen
// before recs were listed.
func (m *Manager) revalidateAll(ctx context.Context, recs []domain.SessionRecord, gens map[int64]uint64) (ok, failed int) {
	var okN, failedN atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.opts.RecoverConcurrency)
	for _, rec := range recs {
		g.Go(func() error {
			if _, err := m.revalidate(gctx, rec, gens[rec.UserID]); err != nil {
				failedN.Add(1)
				m.log.Warn("session not recovered", zap.Int64("user_id", rec.UserID), zap.Error(err))
				return nil
			}
			okN.Add(1)
			return nil
		})
	}
	_ = g.Wait()
	return int(okN.Load()), int(failedN.Load())
}

// Refresh re-validates every ACTIVE session that is no longer fresh.
// The analysis cycle calls it when portfolio refresh is enabled.
func (m *Manager) Refresh(ctx context.Context) error {
	gens := m.generations()
	recs, err := m.store.ListSessionsByStatus(ctx, domain.StatusActive)
	if err != nil {
		return fmt.Errorf("list active sessions: %w", err)
	}
	now := m.now()
	stale := lo.Filter(recs, func(rec domain.SessionRecord, _ int) bool {
		return !rec.FreshAt(now, m.opts.Freshness)
	})
	if len(stale) == 0 {
		return nil
	}
	ok, failed := m.revalidateAll(ctx, stale, gens)
	m.log.Debug("sessions refreshed", zap.Int("active", ok), zap.Int("failed", failed))
	return nil
}
