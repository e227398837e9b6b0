package service

import (
	"context"
	"log/slog"
)

// Security notification events.
const (
	EventTokenReuse        = "refresh_token_reuse"
	EventSessionsRevoked   = "all_sessions_revoked"
	EventTwoFactorEnabled  = "two_factor_enabled"
	EventTwoFactorDisabled = "two_factor_disabled"
	EventRecoveryCodeUsed  = "recovery_code_used"
	EventProviderLinked    = "external_provider_linked"
	EventProviderUnlinked  = "external_provider_unlinked"
	EventAccountLocked     = "account_locked"
)

// NotificationSender delivers security notifications to the account owner.
// Delivery is best effort; authentication outcomes never depend on it.
type NotificationSender interface {
	Notify(ctx context.Context, userID, event string, meta map[string]any)
}

// LogNotifier is the default sender: it writes the event to the structured
// log. A mail or push integration replaces it in deployments that have one.
type LogNotifier struct {
	Log *slog.Logger
}

func (n *LogNotifier) Notify(_ context.Context, userID, event string, meta map[string]any) {
	log := n.Log
	if log == nil {
		log = slog.Default()
	}
	attrs := []any{"user_id", userID, "event", event}
	for k, v := range meta {
		attrs = append(attrs, k, v)
	}
	log.Info("security_notification", attrs...)
}
