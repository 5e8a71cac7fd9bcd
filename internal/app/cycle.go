package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/lubeve/insider-trading-bot-new/internal/analysis"
	"github.com/lubeve/insider-trading-bot-new/internal/domain"
)

const (
	redeliverWindow = 24 * time.Hour
	retention       = 90 * 24 * time.Hour
)

// EventStore persists discovered events and prunes old rows.
type EventStore interface {
	SaveEvent(ctx context.Context, ev domain.AnalysisEvent) (bool, error)
	PruneBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// Publisher fans events out to subscribers.
type Publisher interface {
	Publish(ctx context.Context, ev domain.AnalysisEvent) ([]int64, error)
	Redeliver(ctx context.Context, since time.Time) (int, error)
}

// Cycle is one analysis run: ingest the feed, alert on new trades, retry
// undelivered recent ones and keep the database small.
type Cycle struct {
	source    analysis.Source
	events    EventStore
	publisher Publisher
	refresh   func(ctx context.Context) error // optional session refresh
	log       *zap.Logger
	now       func() time.Time
}

func NewCycle(source analysis.Source, events EventStore, publisher Publisher, refresh func(ctx context.Context) error, log *zap.Logger) *Cycle {
	return &Cycle{
		source:    source,
		events:    events,
		publisher: publisher,
		refresh:   refresh,
		log:       log,
		now:       time.Now,
	}
}

// Run executes one cycle. It matches scheduler.Task.
func (c *Cycle) Run(ctx context.Context) error {
	var errs []error
	started := c.now()

	found, fresh, sent := 0, 0, 0
	for ev, err := range c.source.Events(ctx) {
		if err != nil {
			errs = append(errs, fmt.Errorf("analysis source: %w", err))
			continue
		}
		found++
		isNew, err := c.events.SaveEvent(ctx, ev)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if !isNew {
			continue
		}
		fresh++
		users, err := c.publisher.Publish(ctx, ev)
		if err != nil {
			errs = append(errs, fmt.Errorf("publish %s: %w", ev.ID, err))
		}
		sent += len(users)
	}
	if err := ctx.Err(); err != nil {
		return errors.Join(append(errs, err)...)
	}

	retried, err := c.publisher.Redeliver(ctx, started.Add(-redeliverWindow))
	if err != nil {
		errs = append(errs, fmt.Errorf("redeliver: %w", err))
	}

	if c.refresh != nil {
		if err := c.refresh(ctx); err != nil {
			errs = append(errs, fmt.Errorf("session refresh: %w", err))
		}
	}

	pruned, err := c.events.PruneBefore(ctx, started.Add(-retention))
	if err != nil {
		errs = append(errs, err)
	}

	c.log.Info("analysis cycle finished",
		zap.Int("events", found),
		zap.Int("new", fresh),
		zap.Int("delivered", sent),
		zap.Int("redelivered", retried),
		zap.Int64("pruned", pruned),
		zap.Duration("took", c.now().Sub(started)),
	)
	return errors.Join(errs...)
}
