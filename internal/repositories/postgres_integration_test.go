//go:build integration

package repositories

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/BradenHooton/bastion/internal/database"
	"github.com/BradenHooton/bastion/internal/models"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupPostgres starts a throwaway Postgres container and applies the
// embedded migrations.
func setupPostgres(t *testing.T) *database.DB {
	t.Helper()
	ctx := context.Background()

	container, err := postgres.RunContainer(ctx,
		testcontainers.WithImage("postgres:16-alpine"),
		postgres.WithDatabase("bastion"),
		postgres.WithUsername("postgres"),
		postgres.WithPassword("postgres"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	require.NoError(t, database.Migrate(ctx, pool, logger))

	return database.New(pool, logger)
}

func TestPostgresUserRepository(t *testing.T) {
	db := setupPostgres(t)
	clock := clockwork.NewFakeClockAt(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	repo := NewUserRepository(db, clock)
	ctx := context.Background()

	created, err := repo.Create(ctx, &models.User{
		Email:        "Alice@Example.com",
		FirstName:    "Alice",
		PasswordHash: "hash",
		Active:       true,
	})
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", created.Email)
	assert.Equal(t, models.RoleUser, created.Role)

	t.Run("duplicate email conflicts case-insensitively", func(t *testing.T) {
		_, err := repo.Create(ctx, &models.User{Email: "ALICE@example.com", PasswordHash: "x"})
		assert.ErrorIs(t, err, models.ErrConflict)
	})

	t.Run("lookups", func(t *testing.T) {
		got, err := repo.GetByEmail(ctx, "ALICE@EXAMPLE.COM")
		require.NoError(t, err)
		assert.Equal(t, created.ID, got.ID)

		exists, err := repo.ExistsByEmail(ctx, "alice@example.com")
		require.NoError(t, err)
		assert.True(t, exists)

		_, err = repo.GetByEmail(ctx, "nobody@example.com")
		assert.ErrorIs(t, err, models.ErrNotFound)
	})

	t.Run("update locked persists mutation", func(t *testing.T) {
		clock.Advance(time.Minute)
		digest := "reset-digest"
		expiry := clock.Now().Add(time.Hour)

		updated, err := repo.UpdateLocked(ctx, created.ID, func(u *models.User) error {
			u.PasswordResetToken = &digest
			u.PasswordResetTokenExpiry = &expiry
			u.RecordFailedLogin(clock.Now(), 5, 15*time.Minute)
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 1, updated.FailedLoginAttempts)

		got, err := repo.GetByPasswordResetToken(ctx, digest)
		require.NoError(t, err)
		assert.Equal(t, 1, got.FailedLoginAttempts)
		assert.WithinDuration(t, clock.Now(), got.UpdatedAt, time.Millisecond)
	})

	t.Run("update locked rolls back on error", func(t *testing.T) {
		_, err := repo.UpdateLocked(ctx, created.ID, func(u *models.User) error {
			u.FailedLoginAttempts = 42
			return models.ErrInvalidCredentials
		})
		assert.ErrorIs(t, err, models.ErrInvalidCredentials)

		got, err := repo.GetByID(ctx, created.ID)
		require.NoError(t, err)
		assert.Equal(t, 1, got.FailedLoginAttempts)
	})

	t.Run("concurrent increments are not lost", func(t *testing.T) {
		const n = 20
		var wg sync.WaitGroup
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := repo.UpdateLocked(ctx, created.ID, func(u *models.User) error {
					u.FailedLoginAttempts++
					return nil
				})
				assert.NoError(t, err)
			}()
		}
		wg.Wait()

		got, err := repo.GetByID(ctx, created.ID)
		require.NoError(t, err)
		assert.Equal(t, 1+n, got.FailedLoginAttempts)
	})
}

func TestPostgresTokenRevocationRepository(t *testing.T) {
	db := setupPostgres(t)
	clock := clockwork.NewFakeClockAt(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	repo := NewTokenRevocationRepository(db, clock)
	ctx := context.Background()

	require.NoError(t, repo.Revoke(ctx, "token-a", time.Minute))
	require.NoError(t, repo.Revoke(ctx, "token-b", time.Hour))
	require.NoError(t, repo.Revoke(ctx, "token-c", 0))

	revoked, err := repo.IsRevoked(ctx, "token-a")
	require.NoError(t, err)
	assert.True(t, revoked)

	revoked, err = repo.IsRevoked(ctx, "token-c")
	require.NoError(t, err)
	assert.False(t, revoked)

	clock.Advance(time.Minute)
	revoked, err = repo.IsRevoked(ctx, "token-a")
	require.NoError(t, err)
	assert.False(t, revoked, "expired rows are ignored before the sweep")

	removed, err := repo.CleanupExpiredTokens(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	revoked, err = repo.IsRevoked(ctx, "token-b")
	require.NoError(t, err)
	assert.True(t, revoked)
}
