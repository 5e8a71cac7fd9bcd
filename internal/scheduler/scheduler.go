package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/lubeve/insider-trading-bot-new/internal/domain"
)

// Task is one analysis cycle.
type Task func(ctx context.Context) error

// StateStore keeps the last tick timestamp across restarts.
type StateStore interface {
	GetSystemState(ctx context.Context) (domain.SystemState, error)
	RecordTick(ctx context.Context, at time.Time) error
}

// Locker guards ticks when several instances share the same state.
type Locker interface {
	TryLock(ctx context.Context) (bool, error)
	Unlock(ctx context.Context) error
}

// Ticker abstracts time.Ticker.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type realTicker struct{ *time.Ticker }

func (t realTicker) C() <-chan time.Time { return t.Ticker.C }

func newRealTicker(d time.Duration) Ticker { return realTicker{time.NewTicker(d)} }

// Stats is a snapshot of scheduler counters.
type Stats struct {
	Interval   time.Duration `json:"interval"`
	Running    bool          `json:"running"`
	Ticks      int64         `json:"ticks"`
	Failed     int64         `json:"failed"`
	Skipped    int64         `json:"skipped"`
	LockMissed int64         `json:"lock_missed"`
	LastTickAt *time.Time    `json:"last_tick_at,omitempty"`
	LastError  string        `json:"last_error,omitempty"`
}

// Scheduler runs a task on a fixed period. Ticks never overlap: a tick that
// comes due while the previous one still runs is skipped, not queued.
// The period is measured from tick starts, so slow ticks do not drift.
type Scheduler struct {
	state     StateStore
	log       *zap.Logger
	lock      Locker
	now       func() time.Time
	newTicker func(time.Duration) Ticker
	onFailure func(ctx context.Context, err error)

	running     atomic.Bool
	skipNoticed atomic.Bool
	ticks       atomic.Int64
	failed      atomic.Int64
	skipped     atomic.Int64
	lockMissed  atomic.Int64

	mu       sync.Mutex
	interval time.Duration
	lastTick *time.Time
	lastErr  string
	cancel   context.CancelFunc
	loopDone chan struct{}
	inflight sync.WaitGroup
}

// Option customizes a Scheduler.
type Option func(*Scheduler)

// WithLocker makes every tick acquire l first; ticks that miss the lock are dropped.
func WithLocker(l Locker) Option { return func(s *Scheduler) { s.lock = l } }

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option { return func(s *Scheduler) { s.now = now } }

// WithTicker overrides ticker construction.
func WithTicker(f func(time.Duration) Ticker) Option { return func(s *Scheduler) { s.newTicker = f } }

// WithFailureHook is called after every failed tick.
func WithFailureHook(f func(ctx context.Context, err error)) Option {
	return func(s *Scheduler) { s.onFailure = f }
}

func New(state StateStore, log *zap.Logger, opts ...Option) *Scheduler {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Scheduler{
		state:     state,
		log:       log.Named("scheduler"),
		now:       time.Now,
		newTicker: newRealTicker,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Start begins ticking every interval until Stop or ctx cancellation.
// If the last recorded tick is older than one interval (or there is none),
// one catch-up tick runs immediately; missed intervals are never replayed.
func (s *Scheduler) Start(ctx context.Context, interval time.Duration, task Task) error {
	if interval <= 0 {
		return errors.New("interval must be positive")
	}
	if task == nil {
		return errors.New("nil task")
	}

	s.mu.Lock()
	if s.cancel != nil {
		s.mu.Unlock()
		return errors.New("scheduler already started")
	}
	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.interval = interval
	s.loopDone = make(chan struct{})
	s.mu.Unlock()

	catchUp := true
	st, err := s.state.GetSystemState(ctx)
	switch {
	case err != nil:
		s.log.Error("read system state failed; running catch-up tick", zap.Error(err))
	case st.LastTickAt != nil:
		s.setLastTick(*st.LastTickAt)
		catchUp = s.now().Sub(*st.LastTickAt) > interval
	}

	ticker := s.newTicker(interval)
	if catchUp {
		s.log.Info("catch-up tick", zap.Any("last_tick_at", st.LastTickAt))
		s.fire(loopCtx, task)
	}

	go s.loop(loopCtx, ticker, task)
	s.log.Info("scheduler started", zap.Duration("interval", interval))
	return nil
}

func (s *Scheduler) loop(ctx context.Context, ticker Ticker, task Task) {
	defer close(s.loopDone)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			s.fire(ctx, task)
		}
	}
}

// fire starts a tick unless one is already running.
func (s *Scheduler) fire(ctx context.Context, task Task) {
	if !s.running.CompareAndSwap(false, true) {
		s.skipped.Add(1)
		if s.skipNoticed.CompareAndSwap(false, true) {
			s.log.Warn("tick skipped: previous tick still running")
		}
		return
	}
	s.skipNoticed.Store(false)

	s.inflight.Add(1)
	go s.run(ctx, task)
}

func (s *Scheduler) run(ctx context.Context, task Task) {
	defer s.inflight.Done()
	defer s.running.Store(false)

	start := s.now().UTC()

	if s.lock != nil {
		ok, err := s.lock.TryLock(ctx)
		if err != nil || !ok {
			s.lockMissed.Add(1)
			s.log.Debug("tick lock not acquired", zap.Error(err))
			return
		}
		defer func() {
			uctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			if err := s.lock.Unlock(uctx); err != nil {
				s.log.Warn("tick lock release failed", zap.Error(err))
			}
		}()
	}

	err := safeRun(ctx, task)
	s.ticks.Add(1)
	if err != nil {
		s.failed.Add(1)
		s.setLastErr(err.Error())
		s.log.Error("tick failed", zap.Error(err), zap.Duration("took", s.now().Sub(start)))
		if s.onFailure != nil {
			s.onFailure(ctx, err)
		}
	} else {
		s.setLastErr("")
		s.log.Debug("tick done", zap.Duration("took", s.now().Sub(start)))
	}

	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := s.state.RecordTick(rctx, start); err != nil {
		s.log.Error("record tick failed", zap.Error(err))
		return
	}
	s.setLastTick(start)
}

// safeRun converts task errors and panics into *domain.TickFailure.
func safeRun(ctx context.Context, task Task) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = &domain.TickFailure{Panic: p}
		}
	}()
	if terr := task(ctx); terr != nil {
		return &domain.TickFailure{Err: terr}
	}
	return nil
}

// Stop halts the ticker and waits for a running tick to return.
// The running tick's context is cancelled. Stop is idempotent.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.loopDone
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
	s.inflight.Wait()
	s.log.Info("scheduler stopped")
}

// Stats returns current counters.
func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Stats{
		Interval:   s.interval,
		Running:    s.running.Load(),
		Ticks:      s.ticks.Load(),
		Failed:     s.failed.Load(),
		Skipped:    s.skipped.Load(),
		LockMissed: s.lockMissed.Load(),
		LastError:  s.lastErr,
	}
	if s.lastTick != nil {
		t := *s.lastTick
		st.LastTickAt = &t
	}
	return st
}

func (s *Scheduler) setLastTick(t time.Time) {
	s.mu.Lock()
	s.lastTick = &t
	s.mu.Unlock()
}

func (s *Scheduler) setLastErr(msg string) {
	s.mu.Lock()
	s.lastErr = msg
	s.mu.Unlock()
}
