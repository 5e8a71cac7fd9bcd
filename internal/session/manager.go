// Package session owns the brokerage session of every user.
//
// Per user the state machine is DISCONNECTED -> CONNECTING -> ACTIVE ->
// (EXPIRED | DISCONNECTED), with EXPIRED -> CONNECTING on reconnect.
// Concurrent connects for one user collapse into a single remote login,
// and Disconnect cancels whatever connect is in flight.
package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/lubeve/insider-trading-bot-new/internal/brokerage"
	"github.com/lubeve/insider-trading-bot-new/internal/domain"
	"github.com/lubeve/insider-trading-bot-new/internal/logger"
)

// CredentialSource hands out plaintext credentials.
type CredentialSource interface {
	Retrieve(ctx context.Context, userID int64) (domain.Credentials, error)
}

// Store persists session records.
type Store interface {
	SaveSession(ctx context.Context, rec domain.SessionRecord) error
	LoadSession(ctx context.Context, userID int64) (*domain.SessionRecord, error)
	InvalidateSession(ctx context.Context, userID int64) error
	ListSessionsByStatus(ctx context.Context, status domain.SessionStatus) ([]domain.SessionRecord, error)
}

// Notifier tells a user that their session is gone and why.
type Notifier interface {
	NotifySessionLost(ctx context.Context, userID int64, cause error)
}

// Options tune freshness, timeouts and reconnect backoff.
type Options struct {
	Freshness          time.Duration // ACTIVE records validated more recently are trusted as is
	RemoteTimeout      time.Duration // per remote call
	BaseDelay          time.Duration
	MaxDelay           time.Duration
	MaxAttempts        int
	RecoverConcurrency int
}

func (o Options) withDefaults() Options {
	if o.Freshness <= 0 {
		o.Freshness = 5 * time.Minute
	}
	if o.RemoteTimeout <= 0 {
		o.RemoteTimeout = 15 * time.Second
	}
	if o.BaseDelay <= 0 {
		o.BaseDelay = time.Second
	}
	if o.MaxDelay < o.BaseDelay {
		o.MaxDelay = 30 * time.Second
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 3
	}
	if o.RecoverConcurrency <= 0 {
		o.RecoverConcurrency = 4
	}
	return o
}

// Option customizes a Manager.
type Option func(*Manager)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option { return func(m *Manager) { m.now = now } }

// WithSleep overrides how backoff delays are waited out.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(m *Manager) { m.sleep = sleep }
}

// Manager is the only writer of session records.
type Manager struct {
	remote brokerage.Client
	creds  CredentialSource
	store  Store
	notify Notifier
	log    *zap.Logger
	opts   Options

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	flight  singleflight.Group
	waiters atomic.Int64 // callers currently awaiting a connect result

	mu    sync.Mutex
	users map[int64]*userState
}

type userState struct {
	mu     sync.Mutex
	status domain.SessionStatus
	token  string
	gen    uint64 // bumped by Disconnect; work started under an older generation is discarded
	cancel context.CancelFunc
}

func New(remote brokerage.Client, creds CredentialSource, store Store, notify Notifier, log *zap.Logger, opts Options, extra ...Option) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	m := &Manager{
		remote: remote,
		creds:  creds,
		store:  store,
		notify: notify,
		log:    log.Named("session"),
		opts:   opts.withDefaults(),
		now:    time.Now,
		sleep:  sleepCtx,
		users:  make(map[int64]*userState),
	}
	for _, o := range extra {
		o(m)
	}
	return m
}

func (m *Manager) state(userID int64) *userState {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.users[userID]
	if !ok {
		st = &userState{}
		m.users[userID] = st
	}
	return st
}

func (m *Manager) generation(userID int64) uint64 {
	st := m.state(userID)
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.gen
}

// generations snapshots the generation of every known user. Users missing
// from the snapshot are at generation 0.
func (m *Manager) generations() map[int64]uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[int64]uint64, len(m.users))
	for id, st := range m.users {
		st.mu.Lock()
		out[id] = st.gen
		st.mu.Unlock()
	}
	return out
}

// Connect logs in with stored credentials and persists an ACTIVE record.
// It makes a single attempt; failures leave the user DISCONNECTED.
func (m *Manager) Connect(ctx context.Context, userID int64) (domain.SessionRecord, error) {
	return m.connect(ctx, userID, m.generation(userID), false)
}

// connect joins the in-flight attempt for userID in generation gen or starts
// one. The attempt runs detached from ctx so an impatient caller does not
// abort it for others; only Disconnect cancels it.
func (m *Manager) connect(ctx context.Context, userID int64, gen uint64, auto bool) (domain.SessionRecord, error) {
	ch := m.flight.DoChan(flightKey(userID, gen), func() (any, error) {
		return m.runConnect(userID, gen, auto)
	})
	m.waiters.Add(1)
	defer m.waiters.Add(-1)

	select {
	case <-ctx.Done():
		return domain.SessionRecord{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return domain.SessionRecord{}, res.Err
		}
		return res.Val.(domain.SessionRecord), nil
	}
}

func (m *Manager) runConnect(userID int64, gen uint64, auto bool) (domain.SessionRecord, error) {
	st := m.state(userID)
	st.mu.Lock()
	if st.gen != gen {
		st.mu.Unlock()
		m.log.Info("connect skipped: disconnected meanwhile", zap.Int64("user_id", userID))
		return domain.SessionRecord{}, domain.ErrCancelled
	}
	ctx, cancel := context.WithCancel(context.Background())
	st.cancel = cancel
	st.status = domain.StatusConnecting
	st.mu.Unlock()
	defer cancel()

	// Another caller may have finished a reconnect while we waited to start.
	if auto {
		if rec, err := m.store.LoadSession(ctx, userID); err == nil && rec != nil && rec.FreshAt(m.now(), m.opts.Freshness) {
			return m.settle(userID, gen, rec.Token, nil, auto)
		}
	}

	creds, err := m.creds.Retrieve(ctx, userID)
	if err != nil {
		return m.settle(userID, gen, "", m.credentialError(userID, err), auto)
	}

	var token string
	if auto {
		token, err = m.loginWithBackoff(ctx, userID, creds)
	} else {
		token, err = m.login(ctx, creds)
	}
	return m.settle(userID, gen, token, err, auto)
}

func (m *Manager) credentialError(userID int64, err error) error {
	if errors.Is(err, domain.ErrDecryption) {
		m.log.Error("stored credentials failed authentication; treating as missing",
			zap.Int64("user_id", userID))
		return fmt.Errorf("%w: %w", domain.ErrNoCredentials, err)
	}
	return err
}

func (m *Manager) login(ctx context.Context, creds domain.Credentials) (string, error) {
	cctx, cancel := context.WithTimeout(ctx, m.opts.RemoteTimeout)
	defer cancel()

	token, err := m.remote.Login(cctx, creds)
	switch {
	case err == nil:
		return token, nil
	case errors.Is(err, domain.ErrAuthentication), errors.Is(err, domain.ErrTransientRemote):
		return "", err
	default:
		return "", fmt.Errorf("%w: %w", domain.ErrTransientRemote, err)
	}
}

// settle applies the outcome of a connect attempt unless a Disconnect
// happened since it started.
func (m *Manager) settle(userID int64, gen uint64, token string, err error, auto bool) (domain.SessionRecord, error) {
	st := m.state(userID)
	st.mu.Lock()

	if st.gen != gen {
		st.mu.Unlock()
		m.log.Info("connect result discarded after disconnect", zap.Int64("user_id", userID))
		return domain.SessionRecord{}, domain.ErrCancelled
	}

	ctx, cancel := context.WithTimeout(context.Background(), m.opts.RemoteTimeout)
	defer cancel()

	if err == nil {
		rec := domain.SessionRecord{
			UserID:          userID,
			Token:           token,
			Status:          domain.StatusActive,
			LastValidatedAt: m.now().UTC(),
		}
		if serr := m.store.SaveSession(ctx, rec); serr != nil {
			err = fmt.Errorf("persist session: %w", serr)
		} else {
			st.status, st.token = domain.StatusActive, token
			st.mu.Unlock()
			m.log.Info("session active", zap.Int64("user_id", userID), logger.Token(token))
			return rec, nil
		}
	}

	st.status, st.token = domain.StatusDisconnected, ""
	if ierr := m.store.InvalidateSession(ctx, userID); ierr != nil {
		m.log.Error("invalidate session failed", zap.Int64("user_id", userID), zap.Error(ierr))
	}
	st.mu.Unlock()

	m.log.Warn("connect failed", zap.Int64("user_id", userID), zap.Bool("auto", auto), zap.Error(err))
	if auto && m.notify != nil {
		m.notify.NotifySessionLost(ctx, userID, err)
	}
	return domain.SessionRecord{}, err
}

// EnsureActive returns a usable session for userID. A fresh ACTIVE record is
// returned without remote calls; otherwise the session is probed and, on
// failure, reconnected with backoff. Users that never connected or
// disconnected on purpose get domain.ErrNotConnected.
func (m *Manager) EnsureActive(ctx context.Context, userID int64) (domain.SessionRecord, error) {
	return m.ensureActive(ctx, userID, m.generation(userID))
}

// ensureActive works on behalf of generation gen, read before the record
// is loaded, so a Disconnect that lands mid-way is never undone.
func (m *Manager) ensureActive(ctx context.Context, userID int64, gen uint64) (domain.SessionRecord, error) {
	rec, err := m.store.LoadSession(ctx, userID)
	if err != nil {
		return domain.SessionRecord{}, err
	}
	if rec == nil || rec.Status == domain.StatusDisconnected {
		return domain.SessionRecord{}, domain.ErrNotConnected
	}
	if rec.FreshAt(m.now(), m.opts.Freshness) {
		return *rec, nil
	}
	return m.revalidate(ctx, *rec, gen)
}

// revalidate probes rec regardless of freshness and reconnects on failure,
// unless the user disconnected after generation gen.
func (m *Manager) revalidate(ctx context.Context, rec domain.SessionRecord, gen uint64) (domain.SessionRecord, error) {
	if rec.Status == domain.StatusActive && rec.Token != "" {
		ok, err := m.probe(ctx, rec.Token)
		if err != nil {
			m.log.Warn("session probe failed", zap.Int64("user_id", rec.UserID), zap.Error(err))
		}
		if ok {
			return m.markValidated(rec, gen)
		}
	}

	if err := m.markExpired(rec.UserID, gen); err != nil {
		return domain.SessionRecord{}, err
	}
	return m.connect(ctx, rec.UserID, gen, true)
}

func (m *Manager) probe(ctx context.Context, token string) (bool, error) {
	cctx, cancel := context.WithTimeout(ctx, m.opts.RemoteTimeout)
	defer cancel()
	return m.remote.Validate(cctx, token)
}

func (m *Manager) markValidated(rec domain.SessionRecord, gen uint64) (domain.SessionRecord, error) {
	st := m.state(rec.UserID)
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.gen != gen {
		return domain.SessionRecord{}, domain.ErrNotConnected
	}

	rec.Status = domain.StatusActive
	rec.LastValidatedAt = m.now().UTC()
	ctx, cancel := context.WithTimeout(context.Background(), m.opts.RemoteTimeout)
	defer cancel()
	if err := m.store.SaveSession(ctx, rec); err != nil {
		return domain.SessionRecord{}, err
	}
	st.status, st.token = domain.StatusActive, rec.Token
	return rec, nil
}

func (m *Manager) markExpired(userID int64, gen uint64) error {
	st := m.state(userID)
	st.mu.Lock()
	defer st.mu.Unlock()
	if st.gen != gen {
		return domain.ErrNotConnected
	}
	if st.status == domain.StatusConnecting {
		// a reconnect is already running; the caller will join it
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), m.opts.RemoteTimeout)
	defer cancel()
	if err := m.store.SaveSession(ctx, domain.SessionRecord{UserID: userID, Status: domain.StatusExpired}); err != nil {
		return err
	}
	st.status, st.token = domain.StatusExpired, ""
	m.log.Info("session expired", zap.Int64("user_id", userID))
	return nil
}

// Disconnect invalidates the user's session and cancels any in-flight
// connect, whose result is then discarded. It is idempotent.
func (m *Manager) Disconnect(ctx context.Context, userID int64) error {
	st := m.state(userID)
	st.mu.Lock()
	defer st.mu.Unlock()

	m.flight.Forget(flightKey(userID, st.gen))
	st.gen++
	if st.cancel != nil {
		st.cancel()
		st.cancel = nil
	}
	st.status, st.token = domain.StatusDisconnected, ""

	if err := m.store.InvalidateSession(ctx, userID); err != nil {
		return err
	}
	m.log.Info("session disconnected", zap.Int64("user_id", userID))
	return nil
}

// Status reports the user's current state, preferring the in-memory view
// (which can be CONNECTING) over the persisted record.
func (m *Manager) Status(ctx context.Context, userID int64) (domain.SessionStatus, error) {
	m.mu.Lock()
	st, ok := m.users[userID]
	m.mu.Unlock()
	if ok {
		st.mu.Lock()
		status := st.status
		st.mu.Unlock()
		if status != "" {
			return status, nil
		}
	}

	rec, err := m.store.LoadSession(ctx, userID)
	if err != nil {
		return "", err
	}
	if rec == nil {
		return domain.StatusDisconnected, nil
	}
	return rec.Status, nil
}

// FetchPortfolio ensures an active session and reads the portfolio. A token
// the remote side rejects triggers one reconnect and retry.
func (m *Manager) FetchPortfolio(ctx context.Context, userID int64) (brokerage.Portfolio, error) {
	gen := m.generation(userID)
	rec, err := m.ensureActive(ctx, userID, gen)
	if err != nil {
		return brokerage.Portfolio{}, err
	}

	pf, err := m.fetch(ctx, rec.Token)
	if !errors.Is(err, brokerage.ErrSessionInvalid) {
		return pf, err
	}

	rec.Status = domain.StatusExpired
	if rec, err = m.revalidate(ctx, rec, gen); err != nil {
		return brokerage.Portfolio{}, err
	}
	return m.fetch(ctx, rec.Token)
}

func (m *Manager) fetch(ctx context.Context, token string) (brokerage.Portfolio, error) {
	cctx, cancel := context.WithTimeout(ctx, m.opts.RemoteTimeout)
	defer cancel()

	pf, err := m.remote.FetchPortfolio(cctx, token)
	switch {
	case err == nil:
		return pf, nil
	case errors.Is(err, brokerage.ErrSessionInvalid), errors.Is(err, domain.ErrTransientRemote):
		return brokerage.Portfolio{}, err
	default:
		return brokerage.Portfolio{}, fmt.Errorf("%w: %w", domain.ErrTransientRemote, err)
	}
}

func flightKey(userID int64, gen uint64) string {
	return strconv.FormatInt(userID, 10) + "/" + strconv.FormatUint(gen, 10)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
