package telegram

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/lubeve/insider-trading-bot-new/internal/brokerage"
	"github.com/lubeve/insider-trading-bot-new/internal/domain"
	"github.com/lubeve/insider-trading-bot-new/internal/scheduler"
	"github.com/lubeve/insider-trading-bot-new/internal/store"
)

var tickT = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

type fakeBot struct {
	mu       sync.Mutex
	sent     []tgbotapi.MessageConfig
	requests []tgbotapi.Chattable
}

func (b *fakeBot) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if m, ok := c.(tgbotapi.MessageConfig); ok {
		b.sent = append(b.sent, m)
	}
	return tgbotapi.Message{}, nil
}

func (b *fakeBot) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.requests = append(b.requests, c)
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (b *fakeBot) texts(chatID int64) []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []string
	for _, m := range b.sent {
		if m.ChatID == chatID {
			out = append(out, m.Text)
		}
	}
	return out
}

func (b *fakeBot) last(chatID int64) string {
	texts := b.texts(chatID)
	if len(texts) == 0 {
		return ""
	}
	return texts[len(texts)-1]
}

type fakeSessions struct {
	mu          sync.Mutex
	connectErr  error
	fetchErr    error
	connects    int
	disconnects int
	calls       []string
	status      domain.SessionStatus
}

func (f *fakeSessions) Connect(_ context.Context, userID int64) (domain.SessionRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
	f.calls = append(f.calls, "connect")
	if f.connectErr != nil {
		return domain.SessionRecord{}, f.connectErr
	}
	f.status = domain.StatusActive
	return domain.SessionRecord{UserID: userID, Token: "tok", Status: domain.StatusActive}, nil
}

func (f *fakeSessions) Disconnect(context.Context, int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnects++
	f.calls = append(f.calls, "disconnect")
	f.status = domain.StatusDisconnected
	return nil
}

func (f *fakeSessions) Status(context.Context, int64) (domain.SessionStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.status == "" {
		return domain.StatusDisconnected, nil
	}
	return f.status, nil
}

func (f *fakeSessions) FetchPortfolio(context.Context, int64) (brokerage.Portfolio, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fetchErr != nil {
		return brokerage.Portfolio{}, f.fetchErr
	}
	if f.status != domain.StatusActive {
		return brokerage.Portfolio{}, domain.ErrNotConnected
	}
	return brokerage.Portfolio{
		Currency:  "EUR",
		Positions: []brokerage.Position{{Symbol: "AAPL", Name: "Apple Inc.", Quantity: 10, Price: 150.25, TotalValue: 1502.5}},
	}, nil
}

type fakeVault struct {
	mu    sync.Mutex
	creds map[int64]domain.Credentials
}

func (v *fakeVault) Store(_ context.Context, userID int64, c domain.Credentials) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.creds[userID] = c
	return nil
}

func (v *fakeVault) Has(_ context.Context, userID int64) (bool, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	_, ok := v.creds[userID]
	return ok, nil
}

func (v *fakeVault) Delete(_ context.Context, userID int64) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.creds, userID)
	return nil
}

type harness struct {
	router   *Router
	bot      *fakeBot
	repo     *store.SQLiteRepo
	sessions *fakeSessions
	vault    *fakeVault
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	repo, err := store.OpenSQLite(context.Background(), ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })

	render, err := NewRenderer()
	require.NoError(t, err)

	h := &harness{
		bot:      &fakeBot{},
		repo:     repo,
		sessions: &fakeSessions{},
		vault:    &fakeVault{creds: map[int64]domain.Credentials{}},
	}
	h.router = NewRouter(h.bot, zap.NewNop(), Deps{
		Users:    repo,
		Sessions: h.sessions,
		Vault:    h.vault,
		Render:   render,
		Stats: func() scheduler.Stats {
			last := tickT
			return scheduler.Stats{Interval: time.Hour, LastTickAt: &last}
		},
	})
	return h
}

func (h *harness) text(chatID int64, text string) {
	h.router.HandleUpdate(context.Background(), tgbotapi.Update{Message: &tgbotapi.Message{
		MessageID: 42,
		Chat:      &tgbotapi.Chat{ID: chatID},
		From:      &tgbotapi.User{ID: chatID, UserName: "alice", FirstName: "Alice"},
		Text:      text,
	}})
}

func (h *harness) callback(chatID int64, data string) {
	h.router.HandleUpdate(context.Background(), tgbotapi.Update{CallbackQuery: &tgbotapi.CallbackQuery{
		ID:      "cb",
		Data:    data,
		Message: &tgbotapi.Message{Chat: &tgbotapi.Chat{ID: chatID}},
	}})
}

func (h *harness) user(t *testing.T, chatID int64) *domain.User {
	t.Helper()
	u, err := h.repo.GetUser(context.Background(), chatID)
	require.NoError(t, err)
	return u
}

func TestStartSubscribesWithDefaults(t *testing.T) {
	h := newHarness(t)
	h.text(1, "/start")

	u := h.user(t, 1)
	assert.True(t, u.Subscribed)
	assert.Equal(t, "alice", u.Username)
	assert.Equal(t, domain.DefaultPreferences(), u.Prefs)
	assert.Equal(t, startText, h.bot.last(1))
}

func TestStartReactivatesPausedUser(t *testing.T) {
	h := newHarness(t)
	h.text(1, "/start")
	h.text(1, "/pause")
	assert.False(t, h.user(t, 1).Subscribed)

	h.text(1, "/start")
	assert.True(t, h.user(t, 1).Subscribed)
	assert.Equal(t, welcomeBackText, h.bot.last(1))
}

func TestCommandWithBotSuffix(t *testing.T) {
	h := newHarness(t)
	h.text(1, "/start@insider_bot")
	assert.True(t, h.user(t, 1).Subscribed)

	h.text(1, "/nope")
	assert.Equal(t, unknownCommandText, h.bot.last(1))
}

func TestStatusShowsPrefsAndBot(t *testing.T) {
	h := newHarness(t)
	h.text(1, "/start")
	h.text(1, "/status")

	body := h.bot.last(1)
	assert.Contains(t, body, "Alerts: ✅ On")
	assert.Contains(t, body, "Min value: any")
	assert.Contains(t, body, "Active hours: always (UTC)")
	assert.Contains(t, body, "Brokerage: DISCONNECTED")
	assert.Contains(t, body, "Subscribers: 1 of 1")
	assert.Contains(t, body, "Check interval: 1h0m0s")
	assert.Contains(t, body, "Last check: 2024-05-01 12:00")
}

func TestConnectStoresCredentialsAndDeletesMessage(t *testing.T) {
	h := newHarness(t)
	h.text(1, "/connect alice s3cr3t")

	assert.Equal(t, domain.Credentials{Username: "alice", Password: "s3cr3t"}, h.vault.creds[1])
	assert.Equal(t, 1, h.sessions.connects)
	assert.Equal(t, connectedText, h.bot.last(1))
	assert.Equal(t, []string{"disconnect", "connect"}, h.sessions.calls, "new credentials never join an older attempt")

	require.Len(t, h.bot.requests, 1)
	del, ok := h.bot.requests[0].(tgbotapi.DeleteMessageConfig)
	require.True(t, ok)
	assert.Equal(t, 42, del.MessageID)

	for _, s := range h.bot.texts(1) {
		assert.NotContains(t, s, "s3cr3t")
	}
}

func TestConnectWithoutSavedCredentials(t *testing.T) {
	h := newHarness(t)
	h.text(1, "/connect")

	assert.Equal(t, connectUsageText, h.bot.last(1))
	assert.Zero(t, h.sessions.connects)
	assert.Empty(t, h.bot.requests)
}

func TestConnectReusesSavedCredentials(t *testing.T) {
	h := newHarness(t)
	h.vault.creds[1] = domain.Credentials{Username: "a", Password: "b"}
	h.text(1, "/connect")
	assert.Equal(t, 1, h.sessions.connects)
	assert.Zero(t, h.sessions.disconnects)
	assert.Equal(t, connectedText, h.bot.last(1))
}

func TestConnectMalformedArgsStillDeletesMessage(t *testing.T) {
	h := newHarness(t)
	h.text(1, "/connect only-password")

	assert.Len(t, h.bot.requests, 1)
	assert.Equal(t, connectUsageText, h.bot.last(1))
	assert.Empty(t, h.vault.creds)
}

func TestConnectFailureIsExplained(t *testing.T) {
	h := newHarness(t)
	h.sessions.connectErr = fmt.Errorf("login: %w", domain.ErrAuthentication)
	h.text(1, "/connect alice wrong")
	assert.Equal(t, authFailedText, h.bot.last(1))
}

func TestPortfolio(t *testing.T) {
	h := newHarness(t)
	h.text(1, "/portfolio")
	assert.Equal(t, notConnectedText, h.bot.last(1))

	h.text(1, "/connect alice s3cr3t")
	h.text(1, "/portfolio")

	h.bot.mu.Lock()
	last := h.bot.sent[len(h.bot.sent)-1]
	h.bot.mu.Unlock()
	assert.Equal(t, tgbotapi.ModeHTML, last.ParseMode)
	assert.Contains(t, last.Text, "Apple Inc. (AAPL)")
}

func TestDisconnectAndForget(t *testing.T) {
	h := newHarness(t)
	h.text(1, "/connect alice s3cr3t")

	h.text(1, "/disconnect")
	assert.Equal(t, disconnectedText, h.bot.last(1))
	assert.Contains(t, h.vault.creds, int64(1))

	h.text(1, "/forget")
	assert.Equal(t, forgottenText, h.bot.last(1))
	assert.NotContains(t, h.vault.creds, int64(1))
	assert.Equal(t, []string{"disconnect", "connect", "disconnect", "disconnect"}, h.sessions.calls)
}

func TestBrokerageDisabled(t *testing.T) {
	h := newHarness(t)
	h.router.deps.Sessions = nil
	h.text(1, "/portfolio")
	assert.Equal(t, brokerageDisabledText, h.bot.last(1))
}

func TestToggleBuys(t *testing.T) {
	h := newHarness(t)
	h.text(1, "/start")
	h.callback(1, "toggle_buys")

	p := h.user(t, 1).Prefs
	assert.False(t, p.NotifyBuys)
	assert.True(t, p.NotifySells)
	assert.Equal(t, "Buys: off, sells: on", h.bot.last(1))
}

func TestMinValueCustomFlow(t *testing.T) {
	h := newHarness(t)
	h.text(1, "/start")

	h.callback(1, "min:custom")
	h.text(1, "250k")
	assert.Equal(t, 250000.0, h.user(t, 1).Prefs.MinValue)
	assert.Equal(t, "Minimum trade value updated: $250k", h.bot.last(1))

	h.callback(1, "min:1m")
	assert.Equal(t, 1e6, h.user(t, 1).Prefs.MinValue)

	h.callback(1, "min:custom")
	h.text(1, "lots")
	assert.True(t, strings.HasPrefix(h.bot.last(1), "Invalid amount"))
	assert.Equal(t, 1e6, h.user(t, 1).Prefs.MinValue)
}

func TestCommandAbortsPendingFlow(t *testing.T) {
	h := newHarness(t)
	h.text(1, "/start")
	h.callback(1, "tz:custom")
	h.text(1, "/status")
	h.text(1, "Europe/Berlin")

	assert.Equal(t, "UTC", h.user(t, 1).Prefs.TZ)
	assert.Equal(t, helpText, h.bot.last(1))
}

func TestHoursAndTZ(t *testing.T) {
	h := newHarness(t)
	h.text(1, "/start")

	h.callback(1, "hours:09:30-16:00")
	p := h.user(t, 1).Prefs
	assert.Equal(t, 9*60+30, p.ActiveFromM)
	assert.Equal(t, 16*60, p.ActiveToM)

	h.callback(1, "hours:always")
	p = h.user(t, 1).Prefs
	assert.Equal(t, p.ActiveFromM, p.ActiveToM)
	assert.Equal(t, "Active hours updated: always", h.bot.last(1))

	h.callback(1, "tz:custom")
	h.text(1, "America/New_York")
	assert.Equal(t, "America/New_York", h.user(t, 1).Prefs.TZ)

	h.callback(1, "tz:Mars/Olympus")
	assert.Equal(t, "America/New_York", h.user(t, 1).Prefs.TZ)
}

func TestNotifySessionLost(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	require.NoError(t, h.repo.UpsertUser(ctx, &domain.User{ChatID: 99, IsAdmin: true, Prefs: domain.DefaultPreferences()}))

	h.router.NotifySessionLost(ctx, 1, fmt.Errorf("connect: %w", domain.ErrReconnectExhausted))
	assert.Equal(t, sessionLostPrefix+reconnectExhaustedText, h.bot.last(1))
	assert.Empty(t, h.bot.texts(99))

	h.router.NotifySessionLost(ctx, 1, fmt.Errorf("%w: %w", domain.ErrNoCredentials, domain.ErrDecryption))
	assert.Equal(t, sessionLostPrefix+credentialsUnreadableText, h.bot.last(1))
	require.Len(t, h.bot.texts(99), 1)
	assert.True(t, strings.HasPrefix(h.bot.last(99), adminPrefix))
}

func TestErrorText(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{domain.ErrNoCredentials, noCredentialsText},
		{fmt.Errorf("x: %w", domain.ErrNotConnected), notConnectedText},
		{domain.ErrAuthentication, authFailedText},
		{domain.ErrReconnectExhausted, reconnectExhaustedText},
		{domain.ErrCancelled, connectCancelledText},
		{domain.ErrTransientRemote, brokerageUnavailableText},
		{fmt.Errorf("boom"), genericErrorText},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, errorText(c.err), c.err.Error())
	}
}
