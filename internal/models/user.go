package models

import (
	"fmt"
	"strings"
	"time"
)

// Role is the closed set of authorization roles a user can hold
type Role string

const (
	RoleUser  Role = "USER"
	RoleAdmin Role = "ADMIN"
)

// ParseRole converts a stored or claimed role string into a Role
func ParseRole(s string) (Role, error) {
	switch Role(strings.ToUpper(strings.TrimSpace(s))) {
	case RoleUser:
		return RoleUser, nil
	case RoleAdmin:
		return RoleAdmin, nil
	default:
		return "", fmt.Errorf("unknown role: %q", s)
	}
}

type User struct {
	ID          string
	Email       string
	FirstName   string
	LastName    string
	PhoneNumber *string

	PasswordHash      string
	PasswordChangedAt *time.Time // refresh tokens issued before this instant are rejected

	Role Role

	EmailVerified          bool
	EmailVerificationToken *string // SHA-256 hex of the mailed nonce

	PasswordResetToken       *string // SHA-256 hex of the mailed nonce
	PasswordResetTokenExpiry *time.Time

	// Lockout state, owned by the credential gate
	FailedLoginAttempts int
	LockedUntil         *time.Time
	LastFailedLogin     *time.Time

	Active bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsLocked reports whether the lockout window is still open at now.
func (u *User) IsLocked(now time.Time) bool {
	return u.LockedUntil != nil && now.Before(*u.LockedUntil)
}

// RecordFailedLogin bumps the attempt counter and engages the lockout window
// once the counter reaches maxAttempts. It reports whether a lock was engaged.
func (u *User) RecordFailedLogin(now time.Time, maxAttempts int, lockDuration time.Duration) bool {
	u.FailedLoginAttempts++
	u.LastFailedLogin = &now

	if u.FailedLoginAttempts >= maxAttempts {
		until := now.Add(lockDuration)
		u.LockedUntil = &until
		return true
	}
	return false
}

// ResetLockout clears all three lockout fields together
func (u *User) ResetLockout() {
	u.FailedLoginAttempts = 0
	u.LockedUntil = nil
	u.LastFailedLogin = nil
}

// ClearPasswordReset drops the pending reset nonce and its expiry
func (u *User) ClearPasswordReset() {
	u.PasswordResetToken = nil
	u.PasswordResetTokenExpiry = nil
}

// Clone returns a deep copy so stores can hand out records without sharing pointers.
func (u *User) Clone() *User {
	c := *u
	c.PhoneNumber = cloneString(u.PhoneNumber)
	c.EmailVerificationToken = cloneString(u.EmailVerificationToken)
	c.PasswordResetToken = cloneString(u.PasswordResetToken)
	c.PasswordChangedAt = cloneTime(u.PasswordChangedAt)
	c.PasswordResetTokenExpiry = cloneTime(u.PasswordResetTokenExpiry)
	c.LockedUntil = cloneTime(u.LockedUntil)
	c.LastFailedLogin = cloneTime(u.LastFailedLogin)
	return &c
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
