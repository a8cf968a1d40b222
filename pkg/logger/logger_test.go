package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizedEmail(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"alice@example.com", "a****@*******.com"},
		{"a@x.com", "a@*.com"},
		{"bob@localhost", "b**@localhost"},
		{"not-an-email", "[invalid-email]"},
		{"a@b@c.com", "[invalid-email]"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, SanitizedEmail(tt.in), tt.in)
	}
}

func TestSanitizeQueryString(t *testing.T) {
	assert.True(t, SanitizeQueryString("token=abc"))
	assert.True(t, SanitizeQueryString("Email=a%40x.com"))
	assert.True(t, SanitizeQueryString("refresh_token=x"))
	assert.False(t, SanitizeQueryString("page=2&sort=asc"))
	assert.False(t, SanitizeQueryString(""))
}

func TestAuditLogger_Log(t *testing.T) {
	var buf bytes.Buffer
	al := NewAuditLogger(slog.New(slog.NewJSONHandler(&buf, nil)))

	al.Log(context.Background(), AuditEvent{
		EventType:     EventLogin,
		UserID:        "user-1",
		Email:         "alice@example.com",
		Success:       false,
		FailureReason: "invalid_credentials",
	})

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "WARN", entry["level"])
	assert.Equal(t, "auth", entry["audit_type"])
	assert.Equal(t, "login", entry["event_type"])
	assert.Equal(t, "a****@*******.com", entry["email"])
	assert.Equal(t, "invalid_credentials", entry["failure_reason"])
	assert.NotContains(t, buf.String(), "alice@example.com")
}

func TestAuditLogger_NilIsNoop(t *testing.T) {
	var al *AuditLogger
	assert.NotPanics(t, func() {
		al.Log(context.Background(), AuditEvent{EventType: EventLogout, Success: true})
	})
}
