package models

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for common failure conditions
var (
	ErrNotFound         = errors.New("resource not found")
	ErrConflict         = errors.New("resource already exists")
	ErrConcurrentUpdate = errors.New("concurrent update conflict")
	ErrUnauthorized     = errors.New("unauthorized")
	ErrForbidden        = errors.New("forbidden")
	ErrBadRequest       = errors.New("bad request")

	// Credential gate errors
	ErrInvalidCredentials         = errors.New("invalid email or password")
	ErrAccountLocked              = errors.New("account is temporarily locked")
	ErrAccountDisabled            = errors.New("account is disabled")
	ErrEmailNotVerified           = errors.New("email address not verified")
	ErrInvalidOrExpiredResetToken = errors.New("invalid or expired password reset token")
	ErrInvalidVerificationToken   = errors.New("invalid email verification token")

	// Token errors
	ErrTokenMalformed        = errors.New("token is malformed")
	ErrTokenInvalidSignature = errors.New("token signature is invalid")
	ErrTokenExpired          = errors.New("token has expired")
	ErrTokenRevoked          = errors.New("token has been revoked")

	// ErrUnavailable marks transient store or revocation index failures; callers may retry.
	ErrUnavailable = errors.New("service temporarily unavailable")

	// ErrConfiguration is fatal at startup
	ErrConfiguration = errors.New("invalid configuration")
)

// AccountLockedError is returned while a lockout window is open. It matches
// ErrAccountLocked with errors.Is.
type AccountLockedError struct {
	Until time.Time
}

func (e *AccountLockedError) Error() string {
	return fmt.Sprintf("%s until %s", ErrAccountLocked.Error(), e.Until.UTC().Format(time.RFC3339))
}

func (e *AccountLockedError) Unwrap() error {
	return ErrAccountLocked
}
