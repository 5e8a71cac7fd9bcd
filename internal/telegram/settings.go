package telegram

import (
	"context"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/lubeve/insider-trading-bot-new/internal/domain"
)

func (r *Router) handleSettings(ctx context.Context, chatID int64) {
	u, err := r.ensureUser(ctx, chatID)
	if err != nil {
		r.log.Error("ensureUser failed", zap.Error(err))
		r.sendText(chatID, "Error opening settings.")
		return
	}
	msg := tgbotapi.NewMessage(chatID, "What do you want to configure?")
	msg.ReplyMarkup = settingsInlineKeyboard(u.Prefs)
	_, _ = r.bot.Send(msg)
}

// updatePrefs loads the user, applies fn to the preferences and saves them.
func (r *Router) updatePrefs(ctx context.Context, chatID int64, fn func(p *domain.Preferences)) (domain.Preferences, error) {
	u, err := r.ensureUser(ctx, chatID)
	if err != nil {
		return domain.Preferences{}, err
	}
	fn(&u.Prefs)
	if err := r.deps.Users.UpsertUser(ctx, u); err != nil {
		return domain.Preferences{}, err
	}
	return u.Prefs, nil
}

// --- Buy / sell toggles ---

func (r *Router) handleToggle(ctx context.Context, chatID int64, data, cbID string) {
	_ = r.answerCallback(cbID, "")
	p, err := r.updatePrefs(ctx, chatID, func(p *domain.Preferences) {
		if data == "toggle_buys" {
			p.NotifyBuys = !p.NotifyBuys
		} else {
			p.NotifySells = !p.NotifySells
		}
	})
	if err != nil {
		r.log.Error("toggle failed", zap.String("data", data), zap.Error(err))
		r.sendText(chatID, "Could not save settings.")
		return
	}
	msg := tgbotapi.NewMessage(chatID, "Buys: "+onOff(p.NotifyBuys)+", sells: "+onOff(p.NotifySells))
	msg.ReplyMarkup = settingsInlineKeyboard(p)
	_, _ = r.bot.Send(msg)
}

// --- Minimum value flow ---

func (r *Router) askMinValuePresets(chatID int64, cbID string) {
	_ = r.answerCallback(cbID, "")
	msg := tgbotapi.NewMessage(chatID, "Only alert on trades worth at least:")
	msg.ReplyMarkup = minValuePresetsKeyboard()
	_, _ = r.bot.Send(msg)
}

func (r *Router) handleMinValueCallback(ctx context.Context, chatID int64, data, cbID string) {
	_ = r.answerCallback(cbID, "")
	if data == "min:custom" {
		r.sendText(chatID, "Enter an amount, e.g.: 50000, 250k, 1.5m")
		r.setPending(chatID, pendingMinValue)
		return
	}
	r.applyMinValue(ctx, chatID, strings.TrimPrefix(data, "min:"))
}

func (r *Router) applyMinValue(ctx context.Context, chatID int64, raw string) {
	v, err := domain.ParseAmountHuman(raw)
	if err != nil {
		r.sendText(chatID, "Invalid amount. Examples: 0, 50000, 250k, 1.5m.")
		return
	}
	if _, err := r.updatePrefs(ctx, chatID, func(p *domain.Preferences) { p.MinValue = v }); err != nil {
		r.log.Error("update min value failed", zap.Error(err))
		r.sendText(chatID, "Could not save minimum value.")
		return
	}
	r.sendText(chatID, "Minimum trade value updated: "+domain.FormatAmount(v))
}

// --- Free-form dispatcher (for all "Custom" inputs) ---

func (r *Router) handleFreeForm(ctx context.Context, chatID int64, text string) {
	switch r.getPending(chatID) {
	case pendingMinValue:
		r.clearPending(chatID)
		r.applyMinValue(ctx, chatID, text)
	case pendingHours:
		r.clearPending(chatID)
		r.applyHours(ctx, chatID, text)
	case pendingTZ:
		r.clearPending(chatID)
		r.applyTZ(ctx, chatID, text)
	default:
		r.sendText(chatID, helpText)
	}
}

// --- Active hours flow ---

func (r *Router) askHoursPresets(chatID int64, cbID string) {
	_ = r.answerCallback(cbID, "")
	msg := tgbotapi.NewMessage(chatID, "Choose when alerts may reach you (or Custom):")
	msg.ReplyMarkup = hoursPresetsKeyboard()
	_, _ = r.bot.Send(msg)
}

func (r *Router) handleHoursCallback(ctx context.Context, chatID int64, data, cbID string) {
	_ = r.answerCallback(cbID, "")
	switch data {
	case "hours:custom":
		r.sendText(chatID, "Enter active hours as HH:MM–HH:MM (e.g., 09:00–21:00)")
		r.setPending(chatID, pendingHours)
	case "hours:always":
		r.saveHours(ctx, chatID, 0, 0)
	default:
		r.applyHours(ctx, chatID, strings.TrimPrefix(data, "hours:"))
	}
}

func (r *Router) applyHours(ctx context.Context, chatID int64, raw string) {
	fromM, toM, err := domain.ParseActiveWindow(raw)
	if err != nil {
		r.sendText(chatID, "Invalid format. Example: 09:00–21:00")
		return
	}
	r.saveHours(ctx, chatID, fromM, toM)
}

func (r *Router) saveHours(ctx context.Context, chatID int64, fromM, toM int) {
	_, err := r.updatePrefs(ctx, chatID, func(p *domain.Preferences) {
		p.ActiveFromM, p.ActiveToM = fromM, toM
	})
	if err != nil {
		r.log.Error("update hours failed", zap.Error(err))
		r.sendText(chatID, "Could not save active hours.")
		return
	}
	r.sendText(chatID, "Active hours updated: "+domain.FormatWindow(fromM, toM))
}

// --- Timezone flow ---

func (r *Router) askTZPresets(chatID int64, cbID string) {
	_ = r.answerCallback(cbID, "")
	msg := tgbotapi.NewMessage(chatID, "Choose a timezone or enter your own (Region/City):")
	msg.ReplyMarkup = tzPresetsKeyboard()
	_, _ = r.bot.Send(msg)
}

func (r *Router) handleTZCallback(ctx context.Context, chatID int64, data, cbID string) {
	_ = r.answerCallback(cbID, "")
	if data == "tz:custom" {
		r.sendText(chatID, "Enter timezone (e.g., America/New_York):")
		r.setPending(chatID, pendingTZ)
		return
	}
	r.applyTZ(ctx, chatID, strings.TrimPrefix(data, "tz:"))
}

func (r *Router) applyTZ(ctx context.Context, chatID int64, raw string) {
	tz, err := domain.ValidateTZ(raw)
	if err != nil {
		r.sendText(chatID, "Invalid timezone. Example: America/New_York")
		return
	}
	if _, err := r.updatePrefs(ctx, chatID, func(p *domain.Preferences) { p.TZ = tz }); err != nil {
		r.log.Error("update tz failed", zap.Error(err))
		r.sendText(chatID, "Could not save timezone.")
		return
	}
	r.sendText(chatID, "Timezone updated: "+tz)
}
