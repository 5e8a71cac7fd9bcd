package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/lubeve/insider-trading-bot-new/internal/domain"
)

// newBackOff returns base * 2^attempt delays capped at MaxDelay with ±10% jitter.
func (m *Manager) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = m.opts.BaseDelay
	b.Multiplier = 2
	b.RandomizationFactor = 0.1
	b.MaxInterval = m.opts.MaxDelay
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// loginWithBackoff waits before every attempt, so three attempts with a 1s
// base observe delays of about 1s, 2s and 4s. Rejected credentials and
// cancellation stop the loop immediately.
func (m *Manager) loginWithBackoff(ctx context.Context, userID int64, creds domain.Credentials) (string, error) {
	b := m.newBackOff()

	var lastErr error
	for attempt := 1; attempt <= m.opts.MaxAttempts; attempt++ {
		delay := b.NextBackOff()
		if delay == backoff.Stop {
			break
		}
		if err := m.sleep(ctx, delay); err != nil {
			return "", err
		}

		token, err := m.login(ctx, creds)
		if err == nil {
			if attempt > 1 {
				m.log.Info("reconnected", zap.Int64("user_id", userID), zap.Int("attempt", attempt))
			}
			return token, nil
		}
		if errors.Is(err, domain.ErrAuthentication) || ctx.Err() != nil {
			return "", err
		}

		lastErr = err
		m.log.Warn("reconnect attempt failed",
			zap.Int64("user_id", userID),
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
	}
	return "", fmt.Errorf("%w after %d attempts: %w", domain.ErrReconnectExhausted, m.opts.MaxAttempts, lastErr)
}
