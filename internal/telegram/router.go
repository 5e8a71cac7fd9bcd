package telegram

import (
	"context"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/lubeve/insider-trading-bot-new/internal/brokerage"
	"github.com/lubeve/insider-trading-bot-new/internal/domain"
	"github.com/lubeve/insider-trading-bot-new/internal/scheduler"
)

// Pending state keys used in conversational flows.
const (
	pendingMinValue = "await_min_value_text"
	pendingHours    = "await_hours_text"
	pendingTZ       = "await_tz_text"
)

// BotAPI is the part of *tgbotapi.BotAPI the router uses.
type BotAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

// Users persists subscribers and their preferences.
type Users interface {
	UpsertUser(ctx context.Context, u *domain.User) error
	GetUser(ctx context.Context, chatID int64) (*domain.User, error)
	ListAdmins(ctx context.Context) ([]domain.User, error)
	SetSubscribed(ctx context.Context, chatID int64, subscribed bool) error
	CountUsers(ctx context.Context) (total, subscribed int, err error)
}

// Sessions is the brokerage session surface exposed to chat commands.
type Sessions interface {
	Connect(ctx context.Context, userID int64) (domain.SessionRecord, error)
	Disconnect(ctx context.Context, userID int64) error
	Status(ctx context.Context, userID int64) (domain.SessionStatus, error)
	FetchPortfolio(ctx context.Context, userID int64) (brokerage.Portfolio, error)
}

// Credentials stores brokerage logins.
type Credentials interface {
	Store(ctx context.Context, userID int64, creds domain.Credentials) error
	Has(ctx context.Context, userID int64) (bool, error)
	Delete(ctx context.Context, userID int64) error
}

// Deps groups the collaborators of a Router. Sessions, Vault and Stats are
// optional; commands that need a missing one answer with a "not available" text.
type Deps struct {
	Users    Users
	Sessions Sessions
	Vault    Credentials
	Render   *Renderer
	Stats    func() scheduler.Stats
}

// Router wires Telegram updates to handlers and holds minimal in-memory state.
type Router struct {
	bot   BotAPI
	log   *zap.Logger
	deps  Deps
	now   func() time.Time
	state map[int64]string // chatID -> pending state
	mu    sync.RWMutex
}

// NewRouter creates a new Telegram router.
func NewRouter(bot BotAPI, log *zap.Logger, deps Deps) *Router {
	return &Router{
		bot:   bot,
		log:   log,
		deps:  deps,
		now:   time.Now,
		state: make(map[int64]string),
	}
}

// SetSessions attaches the session manager. The manager notifies through the
// router, so it is built after it. Call before the first update.
func (r *Router) SetSessions(s Sessions) { r.deps.Sessions = s }

// SetStats attaches scheduler counters shown by /status.
func (r *Router) SetStats(f func() scheduler.Stats) { r.deps.Stats = f }

func (r *Router) setPending(chatID int64, s string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.state[chatID] = s
}

func (r *Router) getPending(chatID int64) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state[chatID]
}

func (r *Router) clearPending(chatID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.state, chatID)
}

// splitCommand returns "/cmd" without a @botname suffix and the remaining arguments.
func splitCommand(text string) (string, []string) {
	fields := strings.Fields(text)
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "/") {
		return "", fields
	}
	cmd, _, _ := strings.Cut(fields[0], "@")
	return strings.ToLower(cmd), fields[1:]
}

// HandleUpdate routes a single update to appropriate handler.
func (r *Router) HandleUpdate(ctx context.Context, upd tgbotapi.Update) {
	if upd.Message != nil && upd.Message.Chat != nil {
		msg := upd.Message
		chatID := msg.Chat.ID
		text := strings.TrimSpace(msg.Text)
		cmd, args := splitCommand(text)

		if cmd != "" {
			// Any command aborts an unfinished custom-input flow.
			r.clearPending(chatID)
		}

		switch cmd {
		case "/start":
			r.handleStart(ctx, msg)
		case "/help":
			r.sendText(chatID, helpText)
		case "/status":
			r.handleStatus(ctx, chatID)
		case "/settings":
			r.handleSettings(ctx, chatID)
		case "/pause":
			r.handlePause(ctx, chatID)
		case "/resume":
			r.handleResume(ctx, chatID)
		case "/connect":
			r.handleConnect(ctx, msg, args)
		case "/portfolio":
			r.handlePortfolio(ctx, chatID)
		case "/disconnect":
			r.handleDisconnect(ctx, chatID)
		case "/forget":
			r.handleForget(ctx, chatID)
		case "":
			r.handleFreeForm(ctx, chatID, text)
		default:
			r.sendText(chatID, unknownCommandText)
		}
		return
	}

	if cb := upd.CallbackQuery; cb != nil && cb.Message != nil && cb.Message.Chat != nil {
		data := cb.Data
		chatID := cb.Message.Chat.ID

		switch {
		case data == "toggle_buys", data == "toggle_sells":
			r.handleToggle(ctx, chatID, data, cb.ID)

		case data == "set_min":
			r.askMinValuePresets(chatID, cb.ID)
		case strings.HasPrefix(data, "min:"):
			r.handleMinValueCallback(ctx, chatID, data, cb.ID)

		case data == "set_hours":
			r.askHoursPresets(chatID, cb.ID)
		case strings.HasPrefix(data, "hours:"):
			r.handleHoursCallback(ctx, chatID, data, cb.ID)

		case data == "set_tz":
			r.askTZPresets(chatID, cb.ID)
		case strings.HasPrefix(data, "tz:"):
			r.handleTZCallback(ctx, chatID, data, cb.ID)

		case data == "back_to_menu":
			_ = r.answerCallback(cb.ID, "")
			r.handleSettings(ctx, chatID)

		default:
			_ = r.answerCallback(cb.ID, "")
		}
	}
}

// SendMessage sends an HTML-formatted message to the given chat.
// This makes Router satisfy dispatcher.Sender.
func (r *Router) SendMessage(chatID int64, text string) error {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	msg.DisableWebPagePreview = true
	_, err := r.bot.Send(msg)
	return err
}
