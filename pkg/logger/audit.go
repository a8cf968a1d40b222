package logger

import (
	"context"
	"log/slog"
)

// Security event types
const (
	EventLogin                = "login"
	EventLockoutEngaged       = "lockout_engaged"
	EventLogout               = "logout"
	EventTokenRefresh         = "token_refresh"
	EventRegister             = "register"
	EventEmailVerified        = "email_verified"
	EventPasswordResetRequest = "password_reset_requested"
	EventPasswordReset        = "password_reset"
	EventAccountActivated     = "account_activated"
	EventAccountDeactivated   = "account_deactivated"
	EventAccountUnlocked      = "account_unlocked"
)

// AuditEvent represents a security audit event
type AuditEvent struct {
	EventType     string
	UserID        string
	Email         string // masked before logging
	IPAddress     string
	Success       bool
	FailureReason string
	Metadata      map[string]string
}

// AuditLogger writes security events to the application log with an
// audit_type attribute so they can be filtered downstream.
type AuditLogger struct {
	logger *slog.Logger
}

func NewAuditLogger(logger *slog.Logger) *AuditLogger {
	return &AuditLogger{logger: logger}
}

// Log records event. Failures are logged at warn level.
func (al *AuditLogger) Log(ctx context.Context, event AuditEvent) {
	if al == nil {
		return
	}

	attrs := []slog.Attr{
		slog.String("audit_type", "auth"),
		slog.String("event_type", event.EventType),
		slog.Bool("success", event.Success),
	}

	if event.UserID != "" {
		attrs = append(attrs, slog.String("user_id", event.UserID))
	}
	if event.Email != "" {
		attrs = append(attrs, slog.String("email", SanitizedEmail(event.Email)))
	}
	if event.IPAddress != "" {
		attrs = append(attrs, slog.String("ip_address", event.IPAddress))
	}
	if event.FailureReason != "" {
		attrs = append(attrs, slog.String("failure_reason", event.FailureReason))
	}
	for key, val := range event.Metadata {
		attrs = append(attrs, slog.String(key, val))
	}

	level := slog.LevelInfo
	if !event.Success {
		level = slog.LevelWarn
	}
	al.logger.LogAttrs(ctx, level, "audit", attrs...)
}
