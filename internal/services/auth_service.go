package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/BradenHooton/bastion/internal/auth"
	"github.com/BradenHooton/bastion/internal/models"
	pkgauth "github.com/BradenHooton/bastion/pkg/auth"
	pkglogger "github.com/BradenHooton/bastion/pkg/logger"
	"github.com/jonboulle/clockwork"
)

// UserRepository is the user store the credential gate consumes
type UserRepository interface {
	UserLocker
	GetByID(ctx context.Context, id string) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	GetByEmailVerificationToken(ctx context.Context, digest string) (*models.User, error)
	GetByPasswordResetToken(ctx context.Context, digest string) (*models.User, error)
	ExistsByEmail(ctx context.Context, email string) (bool, error)
	Create(ctx context.Context, user *models.User) (*models.User, error)
}

// TokenRevocationRepository is a TTL set of revoked token values. Revoke
// must not return before the entry is visible to IsRevoked.
type TokenRevocationRepository interface {
	Revoke(ctx context.Context, token string, ttl time.Duration) error
	IsRevoked(ctx context.Context, token string) (bool, error)
}

// PasswordHasher hashes and verifies passwords. Compare returns a non-nil
// error for any password that does not match.
type PasswordHasher interface {
	Hash(password string) (string, error)
	Compare(hashedPassword, password string) error
}

// AuthServiceConfig holds the credential gate's tunables
type AuthServiceConfig struct {
	MaxAttempts         int
	LockDuration        time.Duration
	ResetTokenTTL       time.Duration
	VerificationTTL     time.Duration
	RotateRefreshTokens bool
}

// DefaultAuthServiceConfig returns the documented defaults
func DefaultAuthServiceConfig() AuthServiceConfig {
	return AuthServiceConfig{
		MaxAttempts:         5,
		LockDuration:        15 * time.Minute,
		ResetTokenTTL:       time.Hour,
		VerificationTTL:     24 * time.Hour,
		RotateRefreshTokens: true,
	}
}

// AuthDependencies groups AuthService collaborators. Timing and Audit may be nil.
type AuthDependencies struct {
	Users       UserRepository
	Revocations TokenRevocationRepository
	Tokens      *auth.TokenManager
	Hasher      PasswordHasher
	Mailer      EmailService
	Timing      *auth.TimingDelay
	Clock       clockwork.Clock
	Logger      *slog.Logger
	Audit       *pkglogger.AuditLogger
}

// AuthService is the credential gate: login with lockout, logout, refresh
// with rotation, password reset and email verification.
type AuthService struct {
	users       UserRepository
	revocations TokenRevocationRepository
	tokens      *auth.TokenManager
	hasher      PasswordHasher
	mailer      EmailService
	timing      *auth.TimingDelay
	clock       clockwork.Clock
	logger      *slog.Logger
	audit       *pkglogger.AuditLogger
	cfg         AuthServiceConfig

	// compared against when the email is unknown so both paths pay for bcrypt
	dummyHash string
}

// NewAuthService validates cfg and precomputes the dummy password hash
func NewAuthService(deps AuthDependencies, cfg AuthServiceConfig) (*AuthService, error) {
	if cfg.MaxAttempts < 1 || cfg.LockDuration <= 0 || cfg.ResetTokenTTL <= 0 || cfg.VerificationTTL <= 0 {
		return nil, fmt.Errorf("%w: lockout and nonce settings must be positive", models.ErrConfiguration)
	}
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	dummy, err := deps.Hasher.Hash("timing-equalisation-placeholder")
	if err != nil {
		return nil, fmt.Errorf("failed to prepare dummy hash: %w", err)
	}

	return &AuthService{
		users:       deps.Users,
		revocations: deps.Revocations,
		tokens:      deps.Tokens,
		hasher:      deps.Hasher,
		mailer:      deps.Mailer,
		timing:      deps.Timing,
		clock:       deps.Clock,
		logger:      deps.Logger,
		audit:       deps.Audit,
		cfg:         cfg,
		dummyHash:   dummy,
	}, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// unavailable logs the cause and reports a retryable failure to the caller
func (s *AuthService) unavailable(ctx context.Context, op string, err error) error {
	s.logger.ErrorContext(ctx, op+" failed", slog.Any("error", err))
	return fmt.Errorf("%w: %s", models.ErrUnavailable, op)
}

// Login checks the credentials of email and returns a fresh token pair.
// Wrong passwords count toward the lockout threshold; the lock itself is
// reported on the next attempt.
func (s *AuthService) Login(ctx context.Context, email, password string) (*models.TokenPair, error) {
	email = normalizeEmail(email)
	started := s.timing.Start()

	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			_ = s.hasher.Compare(s.dummyHash, password)
			s.audit.Log(ctx, pkglogger.AuditEvent{
				EventType:     pkglogger.EventLogin,
				Email:         email,
				FailureReason: "invalid_credentials",
			})
			s.timing.WaitFrom(ctx, started)
			return nil, models.ErrInvalidCredentials
		}
		return nil, s.unavailable(ctx, "load user", err)
	}

	// account-state rejections take as long as a wrong password
	reject := func(reason string, err error) (*models.TokenPair, error) {
		_ = s.hasher.Compare(s.dummyHash, password)
		s.auditFailure(ctx, pkglogger.EventLogin, user.ID, reason)
		s.timing.WaitFrom(ctx, started)
		return nil, err
	}

	if !user.Active {
		return reject("account_disabled", models.ErrAccountDisabled)
	}
	if !user.EmailVerified {
		return reject("email_not_verified", models.ErrEmailNotVerified)
	}
	if user.IsLocked(s.clock.Now()) {
		return reject("account_locked", &models.AccountLockedError{Until: *user.LockedUntil})
	}

	if err := s.hasher.Compare(user.PasswordHash, password); err != nil {
		if !errors.Is(err, pkgauth.ErrPasswordMismatch) {
			s.logger.ErrorContext(ctx, "stored password hash unusable", slog.String("user_id", user.ID), slog.Any("error", err))
		}
		err := s.recordFailedLogin(ctx, user.ID)
		s.timing.WaitFrom(ctx, started)
		return nil, err
	}

	updated, err := updateWithRetry(ctx, s.users, user.ID, func(u *models.User) error {
		if !u.Active {
			return models.ErrAccountDisabled
		}
		// a concurrent failure may have engaged the lock after our read
		if u.IsLocked(s.clock.Now()) {
			return &models.AccountLockedError{Until: *u.LockedUntil}
		}
		u.ResetLockout()
		return nil
	})
	if err != nil {
		if errors.Is(err, models.ErrAccountLocked) || errors.Is(err, models.ErrAccountDisabled) {
			s.timing.WaitFrom(ctx, started)
			return nil, err
		}
		return nil, s.unavailable(ctx, "reset lockout", err)
	}

	pair, err := s.issueTokenPair(updated)
	if err != nil {
		return nil, s.unavailable(ctx, "issue tokens", err)
	}

	s.logger.InfoContext(ctx, "user logged in", slog.String("user_id", updated.ID))
	s.audit.Log(ctx, pkglogger.AuditEvent{EventType: pkglogger.EventLogin, UserID: updated.ID, Success: true})
	return pair, nil
}

func (s *AuthService) recordFailedLogin(ctx context.Context, userID string) error {
	var engaged bool
	var lockedUntil time.Time

	_, err := updateWithRetry(ctx, s.users, userID, func(u *models.User) error {
		engaged = u.RecordFailedLogin(s.clock.Now(), s.cfg.MaxAttempts, s.cfg.LockDuration)
		if engaged {
			lockedUntil = *u.LockedUntil
		}
		return nil
	})
	if err != nil {
		// An uncounted failure must not look like an ordinary mismatch
		return s.unavailable(ctx, "record failed login", err)
	}

	s.auditFailure(ctx, pkglogger.EventLogin, userID, "invalid_credentials")
	if engaged {
		s.logger.WarnContext(ctx, "account locked after repeated failures",
			slog.String("user_id", userID),
			slog.Time("locked_until", lockedUntil))
		s.audit.Log(ctx, pkglogger.AuditEvent{
			EventType: pkglogger.EventLockoutEngaged,
			UserID:    userID,
			Metadata:  map[string]string{"locked_until": lockedUntil.UTC().Format(time.RFC3339)},
		})
	}
	return models.ErrInvalidCredentials
}

func (s *AuthService) issueTokenPair(user *models.User) (*models.TokenPair, error) {
	access, err := s.tokens.GenerateAccessToken(user.ID, user.Email, user.Role)
	if err != nil {
		return nil, err
	}
	refresh, err := s.tokens.GenerateRefreshToken(user.ID)
	if err != nil {
		return nil, err
	}
	return &models.TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresIn:    s.tokens.AccessTokenExpiry(),
	}, nil
}

// Logout revokes each supplied token for the rest of its lifetime. Tokens
// that do not verify are skipped. A revocation store failure is reported,
// since the caller would otherwise believe the tokens are dead.
func (s *AuthService) Logout(ctx context.Context, tokens ...string) error {
	var userID string

	for _, token := range tokens {
		if token == "" {
			continue
		}
		claims, err := s.tokens.ValidateToken(token)
		if err != nil {
			continue
		}
		ttl, err := s.tokens.RemainingLifetime(token)
		if err != nil || ttl <= 0 {
			continue
		}
		if err := s.revocations.Revoke(ctx, token, ttl); err != nil {
			return s.unavailable(ctx, "revoke token", err)
		}
		userID = claims.Subject
	}

	if userID != "" {
		s.audit.Log(ctx, pkglogger.AuditEvent{EventType: pkglogger.EventLogout, UserID: userID, Success: true})
	}
	return nil
}

// ValidateAccessToken verifies an access token and checks the revocation
// index. If the index cannot be consulted the token is rejected.
func (s *AuthService) ValidateAccessToken(ctx context.Context, token string) (*models.TokenClaims, error) {
	claims, err := s.tokens.ValidateToken(token)
	if err != nil {
		return nil, err
	}
	if claims.Type != models.TokenTypeAccess {
		return nil, fmt.Errorf("%w: not an access token", models.ErrTokenMalformed)
	}
	if err := s.checkRevoked(ctx, token); err != nil {
		return nil, err
	}
	return claims, nil
}

func (s *AuthService) checkRevoked(ctx context.Context, token string) error {
	revoked, err := s.revocations.IsRevoked(ctx, token)
	if err != nil {
		return s.unavailable(ctx, "check revocation", err)
	}
	if revoked {
		return models.ErrTokenRevoked
	}
	return nil
}

// Refresh exchanges a refresh token for a new access token. With rotation
// enabled the presented refresh token is revoked and replaced.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (*models.TokenPair, error) {
	claims, err := s.tokens.ValidateToken(refreshToken)
	if err != nil {
		return nil, err
	}
	if claims.Type != models.TokenTypeRefresh {
		return nil, fmt.Errorf("%w: not a refresh token", models.ErrTokenMalformed)
	}
	if err := s.checkRevoked(ctx, refreshToken); err != nil {
		return nil, err
	}

	user, err := s.users.GetByID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.ErrTokenRevoked
		}
		return nil, s.unavailable(ctx, "load user", err)
	}
	if !user.Active {
		return nil, models.ErrAccountDisabled
	}
	// iat has second granularity, so compare against the truncated change time
	if user.PasswordChangedAt != nil && claims.IssuedAt != nil &&
		claims.IssuedAt.Time.Before(user.PasswordChangedAt.Truncate(time.Second)) {
		return nil, models.ErrTokenRevoked
	}

	access, err := s.tokens.GenerateAccessToken(user.ID, user.Email, user.Role)
	if err != nil {
		return nil, s.unavailable(ctx, "issue access token", err)
	}

	pair := &models.TokenPair{
		AccessToken:  access,
		RefreshToken: refreshToken,
		ExpiresIn:    s.tokens.AccessTokenExpiry(),
	}

	if s.cfg.RotateRefreshTokens {
		next, err := s.tokens.GenerateRefreshToken(user.ID)
		if err != nil {
			return nil, s.unavailable(ctx, "issue refresh token", err)
		}
		ttl, err := s.tokens.RemainingLifetime(refreshToken)
		if err != nil {
			return nil, err
		}
		if err := s.revocations.Revoke(ctx, refreshToken, ttl); err != nil {
			return nil, s.unavailable(ctx, "revoke rotated refresh token", err)
		}
		pair.RefreshToken = next
	}

	s.audit.Log(ctx, pkglogger.AuditEvent{EventType: pkglogger.EventTokenRefresh, UserID: user.ID, Success: true})
	return pair, nil
}

// RequestPasswordReset mails a reset nonce if email belongs to an account.
// It always returns nil and is padded so that known and unknown addresses
// take the same time.
func (s *AuthService) RequestPasswordReset(ctx context.Context, email string) error {
	started := s.timing.Start()
	defer s.timing.WaitFrom(ctx, started)

	email = normalizeEmail(email)
	user, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, models.ErrNotFound) {
			s.logger.ErrorContext(ctx, "password reset lookup failed", slog.Any("error", err))
		}
		s.audit.Log(ctx, pkglogger.AuditEvent{
			EventType:     pkglogger.EventPasswordResetRequest,
			Email:         email,
			FailureReason: "unknown_email",
		})
		return nil
	}

	nonce, err := pkgauth.GenerateNonce()
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to generate reset nonce", slog.Any("error", err))
		return nil
	}
	digest := pkgauth.HashNonce(nonce)
	expiresAt := s.clock.Now().Add(s.cfg.ResetTokenTTL)

	_, err = updateWithRetry(ctx, s.users, user.ID, func(u *models.User) error {
		u.PasswordResetToken = &digest
		u.PasswordResetTokenExpiry = &expiresAt
		return nil
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to store reset nonce", slog.String("user_id", user.ID), slog.Any("error", err))
		return nil
	}

	if err := s.mailer.SendPasswordResetEmail(ctx, user.Email, nonce, expiresAt); err != nil {
		s.logger.ErrorContext(ctx, "failed to send reset email", slog.String("user_id", user.ID), slog.Any("error", err))
	}

	s.audit.Log(ctx, pkglogger.AuditEvent{EventType: pkglogger.EventPasswordResetRequest, UserID: user.ID, Success: true})
	return nil
}

// ConsumePasswordReset sets a new password for the holder of a live reset
// nonce. It also clears the lockout and invalidates refresh tokens issued
// before the change.
func (s *AuthService) ConsumePasswordReset(ctx context.Context, nonce, newPassword string) error {
	if nonce == "" {
		return models.ErrInvalidOrExpiredResetToken
	}
	if newPassword == "" || len(newPassword) > pkgauth.MaxPasswordLen {
		return fmt.Errorf("%w: password must be 1 to %d bytes", models.ErrBadRequest, pkgauth.MaxPasswordLen)
	}

	digest := pkgauth.HashNonce(nonce)
	user, err := s.users.GetByPasswordResetToken(ctx, digest)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.ErrInvalidOrExpiredResetToken
		}
		return s.unavailable(ctx, "load user by reset nonce", err)
	}
	if resetExpired(user, s.clock.Now()) {
		return models.ErrInvalidOrExpiredResetToken
	}

	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return s.unavailable(ctx, "hash password", err)
	}

	_, err = updateWithRetry(ctx, s.users, user.ID, func(u *models.User) error {
		now := s.clock.Now()
		if u.PasswordResetToken == nil || *u.PasswordResetToken != digest || resetExpired(u, now) {
			return models.ErrInvalidOrExpiredResetToken
		}
		u.PasswordHash = hash
		u.PasswordChangedAt = &now
		u.ClearPasswordReset()
		u.ResetLockout()
		return nil
	})
	if err != nil {
		if errors.Is(err, models.ErrInvalidOrExpiredResetToken) {
			return err
		}
		return s.unavailable(ctx, "store new password", err)
	}

	s.logger.InfoContext(ctx, "password reset completed", slog.String("user_id", user.ID))
	s.audit.Log(ctx, pkglogger.AuditEvent{EventType: pkglogger.EventPasswordReset, UserID: user.ID, Success: true})
	return nil
}

func resetExpired(u *models.User, now time.Time) bool {
	return u.PasswordResetTokenExpiry == nil || !now.Before(*u.PasswordResetTokenExpiry)
}

// VerifyEmail marks the holder of a verification nonce as verified and
// consumes the nonce.
func (s *AuthService) VerifyEmail(ctx context.Context, nonce string) error {
	if nonce == "" {
		return models.ErrInvalidVerificationToken
	}

	digest := pkgauth.HashNonce(nonce)
	user, err := s.users.GetByEmailVerificationToken(ctx, digest)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.ErrInvalidVerificationToken
		}
		return s.unavailable(ctx, "load user by verification nonce", err)
	}

	_, err = updateWithRetry(ctx, s.users, user.ID, func(u *models.User) error {
		if u.EmailVerificationToken == nil || *u.EmailVerificationToken != digest {
			return models.ErrInvalidVerificationToken
		}
		u.EmailVerified = true
		u.EmailVerificationToken = nil
		return nil
	})
	if err != nil {
		if errors.Is(err, models.ErrInvalidVerificationToken) {
			return err
		}
		return s.unavailable(ctx, "mark email verified", err)
	}

	s.audit.Log(ctx, pkglogger.AuditEvent{EventType: pkglogger.EventEmailVerified, UserID: user.ID, Success: true})
	return nil
}

// RegisterInput carries the fields accepted at sign-up
type RegisterInput struct {
	Email       string
	Password    string
	FirstName   string
	LastName    string
	PhoneNumber *string
}

// Register creates an active, unverified USER and mails a verification
// nonce. A taken email yields models.ErrConflict; a weak password yields
// *pkgauth.PasswordValidationError.
func (s *AuthService) Register(ctx context.Context, in RegisterInput) (*models.User, error) {
	email := normalizeEmail(in.Email)
	if err := pkgauth.ValidatePassword(in.Password); err != nil {
		return nil, err
	}

	exists, err := s.users.ExistsByEmail(ctx, email)
	if err != nil {
		return nil, s.unavailable(ctx, "check email", err)
	}
	if exists {
		return nil, models.ErrConflict
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, s.unavailable(ctx, "hash password", err)
	}

	nonce, err := pkgauth.GenerateNonce()
	if err != nil {
		return nil, s.unavailable(ctx, "generate verification nonce", err)
	}
	digest := pkgauth.HashNonce(nonce)

	created, err := s.users.Create(ctx, &models.User{
		Email:                  email,
		FirstName:              strings.TrimSpace(in.FirstName),
		LastName:               strings.TrimSpace(in.LastName),
		PhoneNumber:            in.PhoneNumber,
		PasswordHash:           hash,
		Role:                   models.RoleUser,
		EmailVerified:          false,
		EmailVerificationToken: &digest,
		Active:                 true,
	})
	if err != nil {
		if errors.Is(err, models.ErrConflict) {
			return nil, err
		}
		return nil, s.unavailable(ctx, "create user", err)
	}

	s.sendVerification(ctx, created.ID, created.Email, nonce)
	s.audit.Log(ctx, pkglogger.AuditEvent{EventType: pkglogger.EventRegister, UserID: created.ID, Success: true})
	return created, nil
}

var errAlreadyVerified = errors.New("email already verified")

// ResendVerification rotates and re-mails the verification nonce of an
// unverified account. It always returns nil.
func (s *AuthService) ResendVerification(ctx context.Context, email string) error {
	started := s.timing.Start()
	defer s.timing.WaitFrom(ctx, started)

	user, err := s.users.GetByEmail(ctx, normalizeEmail(email))
	if err != nil {
		if !errors.Is(err, models.ErrNotFound) {
			s.logger.ErrorContext(ctx, "resend verification lookup failed", slog.Any("error", err))
		}
		return nil
	}
	if user.EmailVerified {
		return nil
	}

	nonce, err := pkgauth.GenerateNonce()
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to generate verification nonce", slog.Any("error", err))
		return nil
	}
	digest := pkgauth.HashNonce(nonce)

	_, err = updateWithRetry(ctx, s.users, user.ID, func(u *models.User) error {
		if u.EmailVerified {
			return errAlreadyVerified
		}
		u.EmailVerificationToken = &digest
		return nil
	})
	if err != nil {
		if !errors.Is(err, errAlreadyVerified) {
			s.logger.ErrorContext(ctx, "failed to store verification nonce", slog.String("user_id", user.ID), slog.Any("error", err))
		}
		return nil
	}

	s.sendVerification(ctx, user.ID, user.Email, nonce)
	return nil
}

func (s *AuthService) sendVerification(ctx context.Context, userID, email, nonce string) {
	expiresAt := s.clock.Now().Add(s.cfg.VerificationTTL)
	if err := s.mailer.SendVerificationEmail(ctx, email, nonce, expiresAt); err != nil {
		s.logger.ErrorContext(ctx, "failed to send verification email", slog.String("user_id", userID), slog.Any("error", err))
	}
}

// CurrentUser returns the stored profile behind an authenticated subject
func (s *AuthService) CurrentUser(ctx context.Context, userID string) (*models.User, error) {
	user, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, err
		}
		return nil, s.unavailable(ctx, "load user", err)
	}
	return user, nil
}

func (s *AuthService) auditFailure(ctx context.Context, eventType, userID, reason string) {
	s.audit.Log(ctx, pkglogger.AuditEvent{EventType: eventType, UserID: userID, FailureReason: reason})
}
