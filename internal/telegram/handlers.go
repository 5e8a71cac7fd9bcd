package telegram

import (
	"context"
	"errors"
	"fmt"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/lubeve/insider-trading-bot-new/internal/domain"
)

// ensureUser makes sure a user row exists; if not, creates a subscribed one with defaults.
func (r *Router) ensureUser(ctx context.Context, chatID int64) (*domain.User, error) {
	u, err := r.deps.Users.GetUser(ctx, chatID)
	if err == nil {
		return u, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}
	u = &domain.User{
		ChatID:     chatID,
		Subscribed: true,
		Prefs:      domain.DefaultPreferences(),
	}
	if err := r.deps.Users.UpsertUser(ctx, u); err != nil {
		return nil, err
	}
	return u, nil
}

// --- Generic helpers ---

func (r *Router) sendPlain(chatID int64, text string) error {
	_, err := r.bot.Send(tgbotapi.NewMessage(chatID, text))
	return err
}

func (r *Router) sendText(chatID int64, text string) {
	if err := r.sendPlain(chatID, text); err != nil {
		r.log.Warn("send failed", zap.Int64("chat_id", chatID), zap.Error(err))
	}
}

func (r *Router) answerCallback(id, text string) error {
	_, err := r.bot.Request(tgbotapi.NewCallback(id, text))
	return err
}

// --- Core commands ---

func (r *Router) handleStart(ctx context.Context, msg *tgbotapi.Message) {
	chatID := msg.Chat.ID
	u, err := r.ensureUser(ctx, chatID)
	if err != nil {
		r.log.Error("ensureUser failed", zap.Error(err))
		r.sendText(chatID, "Profile initialization error. Please try again later.")
		return
	}

	text := startText
	if !u.Subscribed {
		text = welcomeBackText
	}
	u.Subscribed = true
	if from := msg.From; from != nil {
		u.Username, u.FirstName = from.UserName, from.FirstName
	}
	if err := r.deps.Users.UpsertUser(ctx, u); err != nil {
		r.log.Error("subscribe failed", zap.Int64("chat_id", chatID), zap.Error(err))
		r.sendText(chatID, "Profile initialization error. Please try again later.")
		return
	}
	r.log.Info("user subscribed", zap.Int64("chat_id", chatID))

	reply := tgbotapi.NewMessage(chatID, text)
	reply.ReplyMarkup = mainMenuKeyboard(true)
	_, _ = r.bot.Send(reply)
}

func (r *Router) handleStatus(ctx context.Context, chatID int64) {
	u, err := r.ensureUser(ctx, chatID)
	if err != nil {
		r.log.Error("ensureUser failed", zap.Error(err))
		r.sendText(chatID, "Error reading your settings.")
		return
	}

	alerts := "✅ On"
	if !u.Subscribed {
		alerts = "⏸ Paused"
	}
	brokerage := "not available"
	if r.deps.Sessions != nil {
		st, err := r.deps.Sessions.Status(ctx, chatID)
		if err != nil {
			r.log.Warn("session status failed", zap.Int64("chat_id", chatID), zap.Error(err))
			st = domain.StatusDisconnected
		}
		brokerage = string(st)
	}

	body := fmt.Sprintf(statusFmt,
		alerts,
		onOff(u.Prefs.NotifyBuys), onOff(u.Prefs.NotifySells),
		domain.FormatAmount(u.Prefs.MinValue),
		domain.FormatWindow(u.Prefs.ActiveFromM, u.Prefs.ActiveToM),
		u.Prefs.TZ,
		brokerage,
	)

	total, subscribed, err := r.deps.Users.CountUsers(ctx)
	if err != nil {
		r.log.Warn("count users failed", zap.Error(err))
	}
	interval, last := "—", "never"
	if r.deps.Stats != nil {
		st := r.deps.Stats()
		if st.Interval > 0 {
			interval = st.Interval.String()
		}
		if st.LastTickAt != nil {
			if s, err := domain.LocalizeTime(*st.LastTickAt, u.Prefs.TZ); err == nil {
				last = s
			}
		}
	}
	body += fmt.Sprintf(botStatusFmt, subscribed, total, interval, last)

	reply := tgbotapi.NewMessage(chatID, body)
	reply.ReplyMarkup = mainMenuKeyboard(u.Subscribed)
	_, _ = r.bot.Send(reply)
}

// --- Pause / Resume ---

func (r *Router) handlePause(ctx context.Context, chatID int64) {
	r.setSubscribed(ctx, chatID, false, "Paused ⏸ No alerts until /resume.")
}

func (r *Router) handleResume(ctx context.Context, chatID int64) {
	r.setSubscribed(ctx, chatID, true, "Resumed ✅")
}

func (r *Router) setSubscribed(ctx context.Context, chatID int64, on bool, done string) {
	if _, err := r.ensureUser(ctx, chatID); err != nil {
		r.log.Error("ensureUser failed", zap.Error(err))
		r.sendText(chatID, genericErrorText)
		return
	}
	if err := r.deps.Users.SetSubscribed(ctx, chatID, on); err != nil {
		r.log.Error("set subscribed failed", zap.Int64("chat_id", chatID), zap.Bool("on", on), zap.Error(err))
		r.sendText(chatID, genericErrorText)
		return
	}
	reply := tgbotapi.NewMessage(chatID, done)
	reply.ReplyMarkup = mainMenuKeyboard(on)
	_, _ = r.bot.Send(reply)
}

// --- Brokerage ---

func (r *Router) brokerageEnabled(chatID int64) bool {
	if r.deps.Sessions == nil || r.deps.Vault == nil {
		r.sendText(chatID, brokerageDisabledText)
		return false
	}
	return true
}

func (r *Router) handleConnect(ctx context.Context, msg *tgbotapi.Message, args []string) {
	chatID := msg.Chat.ID
	if len(args) > 0 {
		// The message carries a password; never leave it in the chat history.
		if _, err := r.bot.Request(tgbotapi.NewDeleteMessage(chatID, msg.MessageID)); err != nil {
			r.log.Warn("delete credentials message failed", zap.Int64("chat_id", chatID), zap.Error(err))
		}
	}
	if !r.brokerageEnabled(chatID) {
		return
	}
	if _, err := r.ensureUser(ctx, chatID); err != nil {
		r.log.Error("ensureUser failed", zap.Error(err))
		r.sendText(chatID, genericErrorText)
		return
	}

	switch len(args) {
	case 0:
		ok, err := r.deps.Vault.Has(ctx, chatID)
		if err != nil {
			r.log.Error("credential lookup failed", zap.Int64("chat_id", chatID), zap.Error(err))
			r.sendText(chatID, genericErrorText)
			return
		}
		if !ok {
			r.sendText(chatID, connectUsageText)
			return
		}
	case 2:
		creds := domain.Credentials{Username: args[0], Password: args[1]}
		if err := r.deps.Vault.Store(ctx, chatID, creds); err != nil {
			r.log.Error("store credentials failed", zap.Int64("chat_id", chatID), zap.Error(err))
			r.sendText(chatID, "Could not save your credentials. Please try again later.")
			return
		}
		// Drop any session or reconnect still running on the previous credentials.
		if err := r.deps.Sessions.Disconnect(ctx, chatID); err != nil {
			r.log.Warn("reset session before reconnect failed", zap.Int64("chat_id", chatID), zap.Error(err))
		}
	default:
		r.sendText(chatID, connectUsageText)
		return
	}

	r.sendText(chatID, "Connecting to your brokerage…")
	start := r.now()
	rec, err := r.deps.Sessions.Connect(ctx, chatID)
	if err != nil {
		r.log.Info("connect failed", zap.Int64("chat_id", chatID), zap.Error(err))
		r.sendText(chatID, errorText(err))
		return
	}
	r.log.Info("brokerage connected",
		zap.Int64("chat_id", chatID),
		zap.Duration("took", r.now().Sub(start)),
		zap.String("status", string(rec.Status)),
	)
	r.sendText(chatID, connectedText)
}

func (r *Router) handlePortfolio(ctx context.Context, chatID int64) {
	if !r.brokerageEnabled(chatID) {
		return
	}
	pf, err := r.deps.Sessions.FetchPortfolio(ctx, chatID)
	if err != nil {
		r.log.Info("portfolio fetch failed", zap.Int64("chat_id", chatID), zap.Error(err))
		r.sendText(chatID, errorText(err))
		return
	}
	text, err := r.deps.Render.Portfolio(pf)
	if err != nil {
		r.log.Error("render portfolio failed", zap.Error(err))
		r.sendText(chatID, genericErrorText)
		return
	}
	if err := r.SendMessage(chatID, text); err != nil {
		r.log.Warn("send portfolio failed", zap.Int64("chat_id", chatID), zap.Error(err))
	}
}

func (r *Router) handleDisconnect(ctx context.Context, chatID int64) {
	if !r.brokerageEnabled(chatID) {
		return
	}
	if err := r.deps.Sessions.Disconnect(ctx, chatID); err != nil {
		r.log.Error("disconnect failed", zap.Int64("chat_id", chatID), zap.Error(err))
		r.sendText(chatID, genericErrorText)
		return
	}
	r.sendText(chatID, disconnectedText)
}

func (r *Router) handleForget(ctx context.Context, chatID int64) {
	if !r.brokerageEnabled(chatID) {
		return
	}
	dctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := r.deps.Sessions.Disconnect(dctx, chatID); err != nil {
		r.log.Error("disconnect failed", zap.Int64("chat_id", chatID), zap.Error(err))
		r.sendText(chatID, genericErrorText)
		return
	}
	if err := r.deps.Vault.Delete(dctx, chatID); err != nil {
		r.log.Error("delete credentials failed", zap.Int64("chat_id", chatID), zap.Error(err))
		r.sendText(chatID, genericErrorText)
		return
	}
	r.sendText(chatID, forgottenText)
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}
