package models

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRole(t *testing.T) {
	tests := []struct {
		in      string
		want    Role
		wantErr bool
	}{
		{"USER", RoleUser, false},
		{"admin", RoleAdmin, false},
		{" Admin ", RoleAdmin, false},
		{"root", "", true},
		{"", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseRole(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestUser_RecordFailedLogin_LocksAtThreshold(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	u := &User{}

	for i := 1; i < 5; i++ {
		locked := u.RecordFailedLogin(now, 5, 15*time.Minute)
		assert.False(t, locked)
		assert.Equal(t, i, u.FailedLoginAttempts)
		assert.Nil(t, u.LockedUntil)
	}

	locked := u.RecordFailedLogin(now, 5, 15*time.Minute)
	assert.True(t, locked)
	assert.Equal(t, 5, u.FailedLoginAttempts)
	require.NotNil(t, u.LockedUntil)
	assert.Equal(t, now.Add(15*time.Minute), *u.LockedUntil)
	assert.Equal(t, now, *u.LastFailedLogin)
}

func TestUser_IsLocked(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	until := now.Add(time.Minute)
	u := &User{LockedUntil: &until}

	assert.True(t, u.IsLocked(now))
	assert.True(t, u.IsLocked(until.Add(-time.Nanosecond)))
	assert.False(t, u.IsLocked(until))
	assert.False(t, (&User{}).IsLocked(now))
}

func TestUser_ResetLockout(t *testing.T) {
	now := time.Now()
	u := &User{FailedLoginAttempts: 3, LockedUntil: &now, LastFailedLogin: &now}

	u.ResetLockout()

	assert.Zero(t, u.FailedLoginAttempts)
	assert.Nil(t, u.LockedUntil)
	assert.Nil(t, u.LastFailedLogin)
}

func TestUser_CloneIsDeep(t *testing.T) {
	now := time.Now()
	token := "digest"
	u := &User{ID: "1", PasswordResetToken: &token, PasswordResetTokenExpiry: &now, LockedUntil: &now}

	c := u.Clone()
	*c.PasswordResetToken = "changed"
	*c.LockedUntil = now.Add(time.Hour)

	assert.Equal(t, "digest", *u.PasswordResetToken)
	assert.Equal(t, now, *u.LockedUntil)

	c.ClearPasswordReset()
	assert.NotNil(t, u.PasswordResetToken)
	assert.Nil(t, c.PasswordResetTokenExpiry)
}

func TestAccountLockedError(t *testing.T) {
	until := time.Date(2026, 1, 1, 0, 15, 0, 0, time.UTC)
	var err error = &AccountLockedError{Until: until}

	assert.True(t, errors.Is(err, ErrAccountLocked))
	assert.Contains(t, err.Error(), "2026-01-01T00:15:00Z")

	var locked *AccountLockedError
	require.True(t, errors.As(err, &locked))
	assert.Equal(t, until, locked.Until)
}
