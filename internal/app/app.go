// Package app wires configuration, storage and the chat transport into a
// running bot.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/lubeve/insider-trading-bot-new/internal/analysis"
	"github.com/lubeve/insider-trading-bot-new/internal/brokerage"
	"github.com/lubeve/insider-trading-bot-new/internal/config"
	"github.com/lubeve/insider-trading-bot-new/internal/dispatcher"
	"github.com/lubeve/insider-trading-bot-new/internal/domain"
	"github.com/lubeve/insider-trading-bot-new/internal/lock"
	"github.com/lubeve/insider-trading-bot-new/internal/logger"
	"github.com/lubeve/insider-trading-bot-new/internal/scheduler"
	"github.com/lubeve/insider-trading-bot-new/internal/session"
	"github.com/lubeve/insider-trading-bot-new/internal/store"
	"github.com/lubeve/insider-trading-bot-new/internal/telegram"
	"github.com/lubeve/insider-trading-bot-new/internal/vault"
)

const (
	feedTimeout = 30 * time.Second
	lockKey     = "insider-bot:scheduler"
)

type App struct {
	cfg      config.Config
	log      *zap.Logger
	bot      *tgbotapi.BotAPI
	httpSrv  *http.Server
	repo     *store.SQLiteRepo
	vault    *vault.Vault
	router   *telegram.Router
	sessions *session.Manager
	sched    *scheduler.Scheduler
	cycle    *Cycle
	closers  []func() error
	updates  sync.WaitGroup
}

func New(cfg config.Config, log *zap.Logger) (*App, error) {
	bot, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		return nil, err
	}
	bot.Debug = false
	return &App{cfg: cfg, log: log, bot: bot}, nil
}

// wire builds every component on top of the given chat transport.
func (a *App) wire(ctx context.Context, bot telegram.BotAPI) error {
	repo, err := store.OpenSQLite(ctx, a.cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open sqlite: %w", err)
	}
	a.repo = repo
	a.closers = append(a.closers, repo.Close)
	a.log.Info("sqlite ready", zap.String("path", a.cfg.DBPath))

	key, err := a.cfg.MasterKey()
	if err != nil {
		return err
	}
	blobs, err := a.credentialBackend()
	if err != nil {
		return err
	}
	a.vault, err = vault.New(key, blobs, a.log)
	clear(key)
	if err != nil {
		return err
	}

	render, err := telegram.NewRenderer()
	if err != nil {
		return fmt.Errorf("parse templates: %w", err)
	}
	a.router = telegram.NewRouter(bot, a.log.Named("telegram"), telegram.Deps{
		Users:  repo,
		Vault:  a.vault,
		Render: render,
	})

	a.sessions = session.New(brokerage.NewPaper(), a.vault, repo, a.router, a.log, session.Options{
		Freshness:     a.cfg.SessionFreshness,
		RemoteTimeout: a.cfg.RemoteTimeout,
		BaseDelay:     a.cfg.ReconnectBase,
		MaxDelay:      a.cfg.ReconnectMax,
		MaxAttempts:   a.cfg.ReconnectAttempts,
	})
	a.router.SetSessions(a.sessions)

	disp := dispatcher.New(repo, a.router, render.Alert, a.log, dispatcher.Options{
		RatePerSec: a.cfg.SendRatePerSec,
	})

	var refresh func(context.Context) error
	if a.cfg.PortfolioRefresh {
		refresh = a.sessions.Refresh
	}
	a.cycle = NewCycle(a.analysisSource(), repo, disp, refresh, a.log.Named("cycle"))

	a.sched = scheduler.New(repo, a.log,
		scheduler.WithLocker(a.tickLock()),
		scheduler.WithFailureHook(func(ctx context.Context, err error) {
			a.router.NotifyAdmins(ctx, "Scheduled analysis failed: "+err.Error())
		}),
	)
	a.router.SetStats(a.sched.Stats)

	a.httpSrv = newOpsServer(a.cfg.HTTPAddr, opsHandler(repo.Ping, a.sched.Stats))

	if err := a.seedOwner(ctx); err != nil {
		return err
	}
	if err := repo.SetConfigVersion(ctx, a.configVersion()); err != nil {
		return err
	}
	return nil
}

func (a *App) credentialBackend() (vault.BlobStore, error) {
	if a.cfg.CredentialBackend != config.BackendHashicorp {
		return a.repo, nil
	}
	kv, err := vault.NewKVBlobStore(a.cfg.VaultAddr, a.cfg.VaultToken, a.cfg.VaultMount)
	if err != nil {
		return nil, fmt.Errorf("vault client: %w", err)
	}
	a.log.Info("credentials stored in hashicorp vault", zap.String("addr", a.cfg.VaultAddr))
	return kv, nil
}

func (a *App) analysisSource() analysis.Source {
	if a.cfg.FeedURL == "" {
		a.log.Info("no FEED_URL configured, using sample trades")
		return analysis.NewStaticSource()
	}
	return analysis.NewHTTPSource(a.cfg.FeedURL, feedTimeout, a.log,
		analysis.WithRetry(3, time.Second, 10*time.Second))
}

// tickLock picks Redis when configured, otherwise a lease row in SQLite.
func (a *App) tickLock() scheduler.Locker {
	holder := uuid.NewString()
	ttl := max(a.cfg.Interval(), time.Minute)
	if a.cfg.RedisAddr == "" {
		return lock.NewLease(a.repo, holder, ttl)
	}
	client := redis.NewClient(&redis.Options{Addr: a.cfg.RedisAddr})
	a.closers = append(a.closers, client.Close)
	a.log.Info("scheduler lock in redis", zap.String("addr", a.cfg.RedisAddr), zap.String("holder", holder))
	return lock.NewRedis(client, lockKey, holder, ttl)
}

// seedOwner makes OWNER_CHAT_ID an admin subscriber and stores the
// brokerage credentials given in the environment.
func (a *App) seedOwner(ctx context.Context) error {
	if a.cfg.OwnerChatID == 0 {
		return nil
	}
	owner, err := a.repo.GetUser(ctx, a.cfg.OwnerChatID)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		owner = &domain.User{ChatID: a.cfg.OwnerChatID, Subscribed: true, Prefs: domain.DefaultPreferences()}
	case err != nil:
		return err
	}
	owner.IsAdmin = true
	if err := a.repo.UpsertUser(ctx, owner); err != nil {
		return err
	}

	if a.cfg.SeedCredentials() {
		creds := domain.Credentials{Username: a.cfg.BrokerageUsername, Password: a.cfg.BrokeragePassword}
		if err := a.vault.Store(ctx, a.cfg.OwnerChatID, creds); err != nil {
			return fmt.Errorf("seed owner credentials: %w", err)
		}
		a.log.Info("owner credentials seeded", zap.Int64("chat_id", a.cfg.OwnerChatID))
	}
	return nil
}

func (a *App) configVersion() string {
	return logger.Fingerprint(fmt.Sprintf("%s|%s|%s|%t",
		a.cfg.Interval(), a.cfg.CredentialBackend, a.cfg.FeedURL, a.cfg.PortfolioRefresh))
}

func (a *App) Run(ctx context.Context) error {
	a.log.Info("starting insider-trading-bot",
		zap.String("http", a.cfg.HTTPAddr),
		zap.Duration("interval", a.cfg.Interval()),
	)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.wire(ctx, a.bot); err != nil {
		a.log.Error("startup failed", zap.Error(err))
		a.close()
		return err
	}
	defer a.close()

	go func() {
		if err := a.sessions.Recover(ctx); err != nil {
			a.log.Warn("session recovery failed", zap.Error(err))
		}
	}()

	go func() {
		if err := a.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error("http server error", zap.Error(err))
		}
	}()

	if err := a.sched.Start(ctx, a.cfg.Interval(), a.cycle.Run); err != nil {
		return err
	}

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updCh := a.bot.GetUpdatesChan(u)

	for {
		select {
		case <-ctx.Done():
			a.log.Info("shutdown signal received")
			a.shutdown()
			return nil

		case upd := <-updCh:
			// Handlers may wait on the brokerage; keep polling meanwhile.
			a.updates.Add(1)
			go func() {
				defer a.updates.Done()
				a.router.HandleUpdate(ctx, upd)
			}()
		}
	}
}

func (a *App) shutdown() {
	a.bot.StopReceivingUpdates()
	a.sched.Stop()
	a.updates.Wait()

	// Create a short-lived shutdown context and cancel it immediately after use.
	shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	err := a.httpSrv.Shutdown(shCtx)
	cancel()
	if err != nil {
		a.log.Warn("http server shutdown error", zap.Error(err))
	}
}

// close releases resources in reverse order of acquisition.
func (a *App) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.log.Warn("close failed", zap.Error(err))
		}
	}
	a.closers = nil
}
