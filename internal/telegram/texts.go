package telegram

import (
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/lubeve/insider-trading-bot-new/internal/domain"
)

// UI texts in English
const (
	startText = "👋 I watch insider trades and alert you when company insiders buy or sell.\n\n" +
		"Use /settings to filter alerts by side, size, active hours and timezone.\n" +
		"Optionally link your brokerage with /connect to check your /portfolio here."
	welcomeBackText = "👋 Welcome back! Alerts are on again."
	helpText        = "Commands:\n" +
		"/start – subscribe to alerts\n" +
		"/status – your settings and bot status\n" +
		"/settings – alert filters\n" +
		"/pause, /resume – stop or restart alerts\n" +
		"/connect <login> <password> – link your brokerage (the message is deleted)\n" +
		"/connect – reconnect with saved credentials\n" +
		"/portfolio – show your brokerage portfolio\n" +
		"/disconnect – end the brokerage session\n" +
		"/forget – disconnect and delete saved credentials"
	unknownCommandText = "Unknown command. Try /help."

	statusFmt = "🧾 Your settings:\n" +
		"• Alerts: %s\n" +
		"• Buys: %s, sells: %s\n" +
		"• Min value: %s\n" +
		"• Active hours: %s (%s)\n" +
		"• Brokerage: %s\n"
	botStatusFmt = "\n🤖 Bot:\n" +
		"• Subscribers: %d of %d\n" +
		"• Check interval: %s\n" +
		"• Last check: %s\n"

	connectUsageText      = "Send /connect <login> <password> to link your brokerage. The message will be deleted right away."
	connectedText         = "✅ Brokerage connected. Try /portfolio."
	disconnectedText      = "Brokerage session ended. Your credentials are kept; /connect reconnects, /forget deletes them."
	forgottenText         = "Brokerage disconnected and credentials deleted."
	brokerageDisabledText = "Brokerage integration is not available on this bot."

	noCredentialsText         = "No saved brokerage credentials. Send /connect <login> <password>."
	credentialsUnreadableText = "Your saved credentials could not be read. Please send /connect <login> <password> again."
	notConnectedText          = "Brokerage not connected. Use /connect first."
	authFailedText            = "The brokerage rejected your login. Check it and send /connect <login> <password> again."
	reconnectExhaustedText    = "The brokerage is not reachable right now. Try /connect later."
	brokerageUnavailableText  = "The brokerage did not respond. Please try again in a minute."
	connectCancelledText      = "Connection cancelled."
	genericErrorText          = "Something went wrong. Please try again later."

	sessionLostPrefix = "⚠️ Your brokerage session was lost. "
	adminPrefix       = "🛠 Admin notice:\n"
)

// mainMenuKeyboard builds a reply keyboard with a subscription toggle:
// if subscribed is true -> "/pause", else -> "/resume".
func mainMenuKeyboard(subscribed bool) tgbotapi.ReplyKeyboardMarkup {
	toggle := "/pause"
	if !subscribed {
		toggle = "/resume"
	}
	return tgbotapi.NewReplyKeyboard(
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton("/status"),
			tgbotapi.NewKeyboardButton("/settings"),
		),
		tgbotapi.NewKeyboardButtonRow(
			tgbotapi.NewKeyboardButton("/portfolio"),
			tgbotapi.NewKeyboardButton(toggle),
		),
	)
}

func check(b bool) string {
	if b {
		return "✅ "
	}
	return "❌ "
}

// settingsInlineKeyboard shows the toggles with their current state.
func settingsInlineKeyboard(p domain.Preferences) tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(check(p.NotifyBuys)+"Buys", "toggle_buys"),
			tgbotapi.NewInlineKeyboardButtonData(check(p.NotifySells)+"Sells", "toggle_sells"),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("💵 Min value", "set_min"),
			tgbotapi.NewInlineKeyboardButtonData("🕘 Active hours", "set_hours"),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("🌍 Timezone", "set_tz"),
		),
	)
}

func minValuePresetsKeyboard() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Any", "min:0"),
			tgbotapi.NewInlineKeyboardButtonData("$50k", "min:50k"),
			tgbotapi.NewInlineKeyboardButtonData("$100k", "min:100k"),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("$500k", "min:500k"),
			tgbotapi.NewInlineKeyboardButtonData("$1M", "min:1m"),
			tgbotapi.NewInlineKeyboardButtonData("✍️ Custom…", "min:custom"),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("⬅️ Back", "back_to_menu"),
		),
	)
}

func hoursPresetsKeyboard() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Always", "hours:always"),
			tgbotapi.NewInlineKeyboardButtonData("09:30–16:00", "hours:09:30-16:00"),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("08:00–22:00", "hours:08:00-22:00"),
			tgbotapi.NewInlineKeyboardButtonData("✍️ Custom…", "hours:custom"),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("⬅️ Back", "back_to_menu"),
		),
	)
}

func tzPresetsKeyboard() tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("America/New_York", "tz:America/New_York"),
			tgbotapi.NewInlineKeyboardButtonData("Europe/London", "tz:Europe/London"),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("Europe/Berlin", "tz:Europe/Berlin"),
			tgbotapi.NewInlineKeyboardButtonData("UTC", "tz:UTC"),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("✍️ Custom…", "tz:custom"),
		),
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData("⬅️ Back", "back_to_menu"),
		),
	)
}
