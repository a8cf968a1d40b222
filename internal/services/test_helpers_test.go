package services

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/BradenHooton/bastion/internal/auth"
	"github.com/BradenHooton/bastion/internal/models"
	"github.com/BradenHooton/bastion/internal/repositories"
	pkgauth "github.com/BradenHooton/bastion/pkg/auth"
	pkglogger "github.com/BradenHooton/bastion/pkg/logger"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const (
	testSecret   = "test-signing-key-that-is-at-least-32-bytes"
	testPassword = "Correct-Horse-9!"
)

var testEpoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// MockUserRepository implements UserRepository with overridable functions
type MockUserRepository struct {
	GetByIDFunc                     func(ctx context.Context, id string) (*models.User, error)
	GetByEmailFunc                  func(ctx context.Context, email string) (*models.User, error)
	GetByEmailVerificationTokenFunc func(ctx context.Context, digest string) (*models.User, error)
	GetByPasswordResetTokenFunc     func(ctx context.Context, digest string) (*models.User, error)
	ExistsByEmailFunc               func(ctx context.Context, email string) (bool, error)
	CreateFunc                      func(ctx context.Context, user *models.User) (*models.User, error)
	UpdateLockedFunc                func(ctx context.Context, id string, fn func(*models.User) error) (*models.User, error)
}

func (m *MockUserRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	if m.GetByIDFunc != nil {
		return m.GetByIDFunc(ctx, id)
	}
	return nil, models.ErrNotFound
}

func (m *MockUserRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	if m.GetByEmailFunc != nil {
		return m.GetByEmailFunc(ctx, email)
	}
	return nil, models.ErrNotFound
}

func (m *MockUserRepository) GetByEmailVerificationToken(ctx context.Context, digest string) (*models.User, error) {
	if m.GetByEmailVerificationTokenFunc != nil {
		return m.GetByEmailVerificationTokenFunc(ctx, digest)
	}
	return nil, models.ErrNotFound
}

func (m *MockUserRepository) GetByPasswordResetToken(ctx context.Context, digest string) (*models.User, error) {
	if m.GetByPasswordResetTokenFunc != nil {
		return m.GetByPasswordResetTokenFunc(ctx, digest)
	}
	return nil, models.ErrNotFound
}

func (m *MockUserRepository) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	if m.ExistsByEmailFunc != nil {
		return m.ExistsByEmailFunc(ctx, email)
	}
	return false, nil
}

func (m *MockUserRepository) Create(ctx context.Context, user *models.User) (*models.User, error) {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, user)
	}
	return nil, models.ErrUnavailable
}

func (m *MockUserRepository) UpdateLocked(ctx context.Context, id string, fn func(*models.User) error) (*models.User, error) {
	if m.UpdateLockedFunc != nil {
		return m.UpdateLockedFunc(ctx, id, fn)
	}
	return nil, models.ErrNotFound
}

// MockTokenRevocationRepository implements TokenRevocationRepository for testing
type MockTokenRevocationRepository struct {
	RevokeFunc    func(ctx context.Context, token string, ttl time.Duration) error
	IsRevokedFunc func(ctx context.Context, token string) (bool, error)
}

func (m *MockTokenRevocationRepository) Revoke(ctx context.Context, token string, ttl time.Duration) error {
	if m.RevokeFunc != nil {
		return m.RevokeFunc(ctx, token, ttl)
	}
	return nil
}

func (m *MockTokenRevocationRepository) IsRevoked(ctx context.Context, token string) (bool, error) {
	if m.IsRevokedFunc != nil {
		return m.IsRevokedFunc(ctx, token)
	}
	return false, nil
}

// sentMail is one message captured by recordingMailer
type sentMail struct {
	Kind      string
	Email     string
	Nonce     string
	ExpiresAt time.Time
}

// recordingMailer is the mailer sink used by service tests
type recordingMailer struct {
	mu   sync.Mutex
	sent []sentMail
}

func (m *recordingMailer) SendVerificationEmail(ctx context.Context, email, nonce string, expiresAt time.Time) error {
	m.record(sentMail{Kind: "verification", Email: email, Nonce: nonce, ExpiresAt: expiresAt})
	return nil
}

func (m *recordingMailer) SendPasswordResetEmail(ctx context.Context, email, nonce string, expiresAt time.Time) error {
	m.record(sentMail{Kind: "reset", Email: email, Nonce: nonce, ExpiresAt: expiresAt})
	return nil
}

func (m *recordingMailer) record(mail sentMail) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, mail)
}

// last returns the most recent mail of kind, or nil
func (m *recordingMailer) last(kind string) *sentMail {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.sent) - 1; i >= 0; i-- {
		if m.sent[i].Kind == kind {
			mail := m.sent[i]
			return &mail
		}
	}
	return nil
}

func (m *recordingMailer) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

// testEnv wires an AuthService to in-memory stores sharing one fake clock
type testEnv struct {
	svc         *AuthService
	users       *repositories.MemoryUserRepository
	revocations *repositories.MemoryTokenRevocationRepository
	tokens      *auth.TokenManager
	hasher      *pkgauth.BcryptHasher
	mailer      *recordingMailer
	clock       *clockwork.FakeClock
}

// envOption adjusts the service config or collaborators before construction
type envOption func(*AuthServiceConfig, *AuthDependencies)

func withConfig(fn func(*AuthServiceConfig)) envOption {
	return func(cfg *AuthServiceConfig, _ *AuthDependencies) { fn(cfg) }
}

func withUsers(users UserRepository) envOption {
	return func(_ *AuthServiceConfig, deps *AuthDependencies) { deps.Users = users }
}

func withRevocations(revocations TokenRevocationRepository) envOption {
	return func(_ *AuthServiceConfig, deps *AuthDependencies) { deps.Revocations = revocations }
}

func withTiming(timing *auth.TimingDelay) envOption {
	return func(_ *AuthServiceConfig, deps *AuthDependencies) { deps.Timing = timing }
}

func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()

	clock := clockwork.NewFakeClockAt(testEpoch)
	tokens, err := auth.NewTokenManager(testSecret, 15*time.Minute, 7*24*time.Hour, clock)
	require.NoError(t, err)

	env := &testEnv{
		users:       repositories.NewMemoryUserRepository(clock),
		revocations: repositories.NewMemoryTokenRevocationRepository(clock),
		tokens:      tokens,
		hasher:      pkgauth.NewBcryptHasher(bcrypt.MinCost),
		mailer:      &recordingMailer{},
		clock:       clock,
	}

	cfg := DefaultAuthServiceConfig()
	deps := AuthDependencies{
		Users:       env.users,
		Revocations: env.revocations,
		Tokens:      tokens,
		Hasher:      env.hasher,
		Mailer:      env.mailer,
		Clock:       clock,
		Logger:      discardLogger(),
		Audit:       pkglogger.NewAuditLogger(discardLogger()),
	}
	for _, opt := range opts {
		opt(&cfg, &deps)
	}

	env.svc, err = NewAuthService(deps, cfg)
	require.NoError(t, err)
	return env
}

// seedUser stores an active user with testPassword
func (e *testEnv) seedUser(t *testing.T, email string, verified bool) *models.User {
	t.Helper()
	hash, err := e.hasher.Hash(testPassword)
	require.NoError(t, err)

	user, err := e.users.Create(context.Background(), &models.User{
		Email:         email,
		PasswordHash:  hash,
		Role:          models.RoleUser,
		EmailVerified: verified,
		Active:        true,
	})
	require.NoError(t, err)
	return user
}

func (e *testEnv) reload(t *testing.T, id string) *models.User {
	t.Helper()
	user, err := e.users.GetByID(context.Background(), id)
	require.NoError(t, err)
	return user
}
