package telegram

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/lubeve/insider-trading-bot-new/internal/domain"
)

// errorText maps brokerage and vault failures to what the user should do next.
func errorText(err error) string {
	switch {
	case errors.Is(err, domain.ErrDecryption):
		return credentialsUnreadableText
	case errors.Is(err, domain.ErrNoCredentials):
		return noCredentialsText
	case errors.Is(err, domain.ErrNotConnected):
		return notConnectedText
	case errors.Is(err, domain.ErrAuthentication):
		return authFailedText
	case errors.Is(err, domain.ErrReconnectExhausted):
		return reconnectExhaustedText
	case errors.Is(err, domain.ErrCancelled):
		return connectCancelledText
	case errors.Is(err, domain.ErrTransientRemote):
		return brokerageUnavailableText
	default:
		return genericErrorText
	}
}

// NotifySessionLost tells a user their automatic reconnect failed.
// This makes Router satisfy session.Notifier.
func (r *Router) NotifySessionLost(ctx context.Context, userID int64, cause error) {
	r.sendText(userID, sessionLostPrefix+errorText(cause))
	if errors.Is(cause, domain.ErrDecryption) {
		r.NotifyAdmins(ctx, "Stored credentials of a user failed to decrypt. Check the master key.")
	}
}

// NotifyAdmins broadcasts an operational notice to every admin.
func (r *Router) NotifyAdmins(ctx context.Context, text string) {
	admins, err := r.deps.Users.ListAdmins(ctx)
	if err != nil {
		r.log.Error("list admins failed", zap.Error(err))
		return
	}
	for _, a := range admins {
		if err := r.sendPlain(a.ChatID, adminPrefix+text); err != nil {
			r.log.Warn("admin notice failed", zap.Int64("chat_id", a.ChatID), zap.Error(err))
		}
	}
}
