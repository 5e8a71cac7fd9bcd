// Package dispatcher delivers analysis events to subscribed users exactly
// once per (event, user), as far as a durable delivery record allows.
package dispatcher

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/samber/lo"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/lubeve/insider-trading-bot-new/internal/domain"
)

// Sender is the chat transport.
type Sender interface {
	SendMessage(chatID int64, text string) error
}

// Store is the subset of persistence the dispatcher needs.
type Store interface {
	ListSubscribed(ctx context.Context) ([]domain.User, error)
	DeliveredUsers(ctx context.Context, eventID string) (map[int64]struct{}, error)
	InsertDelivery(ctx context.Context, rec domain.DeliveryRecord) (bool, error)
	ListEventsSince(ctx context.Context, since time.Time) ([]domain.AnalysisEvent, error)
}

// Renderer turns an event into message text.
type Renderer func(ev domain.AnalysisEvent) (string, error)

// Options bound outbound traffic.
type Options struct {
	Concurrency int     // parallel sends per event
	RatePerSec  float64 // global send rate; <= 0 disables limiting
}

type Dispatcher struct {
	store   Store
	sender  Sender
	render  Renderer
	log     *zap.Logger
	limiter *rate.Limiter
	workers int
	now     func() time.Time

	flight singleflight.Group
}

func New(store Store, sender Sender, render Renderer, log *zap.Logger, opts Options) *Dispatcher {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 8
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if opts.RatePerSec > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RatePerSec), max(1, int(opts.RatePerSec)))
	}
	return &Dispatcher{
		store:   store,
		sender:  sender,
		render:  render,
		log:     log.Named("dispatcher"),
		limiter: limiter,
		workers: opts.Concurrency,
		now:     time.Now,
	}
}

// Publish sends ev to every subscribed user who accepts it and has no
// delivery record for it yet, and returns the users reached, sorted.
// A failed send only skips that user, who stays eligible for a later pass.
// Concurrent publishes of the same event share one pass.
func (d *Dispatcher) Publish(ctx context.Context, ev domain.AnalysisEvent) ([]int64, error) {
	return d.publishOnce(ctx, ev, nil)
}

func (d *Dispatcher) publishOnce(ctx context.Context, ev domain.AnalysisEvent, joinedBefore *time.Time) ([]int64, error) {
	v, err, _ := d.flight.Do(ev.ID, func() (any, error) {
		return d.publish(ctx, ev, joinedBefore)
	})
	ids, _ := v.([]int64)
	return slices.Clone(ids), err
}

func (d *Dispatcher) publish(ctx context.Context, ev domain.AnalysisEvent, joinedBefore *time.Time) ([]int64, error) {
	users, err := d.store.ListSubscribed(ctx)
	if err != nil {
		return nil, fmt.Errorf("list subscribed: %w", err)
	}
	delivered, err := d.store.DeliveredUsers(ctx, ev.ID)
	if err != nil {
		return nil, fmt.Errorf("delivered users: %w", err)
	}

	now := d.now()
	targets := lo.Filter(users, func(u domain.User, _ int) bool {
		if _, done := delivered[u.ChatID]; done {
			return false
		}
		if joinedBefore != nil && u.CreatedAt.After(*joinedBefore) {
			return false
		}
		return u.Prefs.Accepts(ev.Payload, now)
	})
	if len(targets) == 0 {
		return nil, nil
	}

	text, err := d.render(ev)
	if err != nil {
		return nil, fmt.Errorf("render event %s: %w", ev.ID, err)
	}

	var (
		mu      sync.Mutex
		reached []int64
		failed  int
	)
	var g errgroup.Group
	g.SetLimit(d.workers)
	for _, u := range targets {
		g.Go(func() error {
			if err := d.limiter.Wait(ctx); err != nil {
				return nil
			}
			if ok := d.deliver(ctx, ev.ID, u.ChatID, text); !ok {
				mu.Lock()
				failed++
				mu.Unlock()
				return nil
			}
			mu.Lock()
			reached = append(reached, u.ChatID)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	slices.Sort(reached)
	d.log.Info("event published",
		zap.String("event_id", ev.ID),
		zap.String("company", ev.Payload.Company),
		zap.Int("targets", len(targets)),
		zap.Int("delivered", len(reached)),
		zap.Int("failed", failed),
	)
	return reached, ctx.Err()
}

// deliver sends and then records. The record is written only after the
// transport confirmed the send, so a crash in between can cause a repeat,
// never a silent drop.
func (d *Dispatcher) deliver(ctx context.Context, eventID string, chatID int64, text string) bool {
	if err := d.sender.SendMessage(chatID, text); err != nil {
		d.log.Warn("send failed", zap.String("event_id", eventID), zap.Int64("chat_id", chatID), zap.Error(err))
		return false
	}

	rec := domain.DeliveryRecord{EventID: eventID, UserID: chatID, DeliveredAt: d.now().UTC()}
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if _, err := d.store.InsertDelivery(rctx, rec); err != nil {
		d.log.Error("delivery sent but not recorded", zap.String("event_id", eventID), zap.Int64("chat_id", chatID), zap.Error(err))
	}
	return true
}

// Redeliver re-publishes events discovered since the given time, reaching
// users whose earlier send failed or who were outside their active hours.
// Users who joined after an event was discovered do not receive it.
func (d *Dispatcher) Redeliver(ctx context.Context, since time.Time) (int, error) {
	evs, err := d.store.ListEventsSince(ctx, since)
	if err != nil {
		return 0, fmt.Errorf("list events: %w", err)
	}
	total := 0
	for _, ev := range evs {
		discovered := ev.DiscoveredAt
		ids, err := d.publishOnce(ctx, ev, &discovered)
		total += len(ids)
		if err != nil {
			return total, err
		}
	}
	if total > 0 {
		d.log.Info("redelivered", zap.Int("messages", total))
	}
	return total, nil
}
