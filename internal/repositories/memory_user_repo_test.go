package repositories

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/BradenHooton/bastion/internal/models"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedMemoryUser(t *testing.T, repo *MemoryUserRepository, email string) *models.User {
	t.Helper()
	user, err := repo.Create(context.Background(), &models.User{
		Email:        email,
		PasswordHash: "hash",
		Active:       true,
	})
	require.NoError(t, err)
	return user
}

func TestMemoryUserRepository_CreateAssignsIdentityAndTimestamps(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	repo := NewMemoryUserRepository(clock)

	user := seedMemoryUser(t, repo, "  Alice@Example.COM ")

	assert.NotEmpty(t, user.ID)
	assert.Equal(t, "alice@example.com", user.Email)
	assert.Equal(t, models.RoleUser, user.Role)
	assert.Equal(t, clock.Now(), user.CreatedAt)
	assert.Equal(t, clock.Now(), user.UpdatedAt)
}

func TestMemoryUserRepository_EmailIsUniqueAndCaseInsensitive(t *testing.T) {
	repo := NewMemoryUserRepository(nil)
	seedMemoryUser(t, repo, "a@x.com")

	_, err := repo.Create(context.Background(), &models.User{Email: "A@X.com"})
	assert.ErrorIs(t, err, models.ErrConflict)

	got, err := repo.GetByEmail(context.Background(), "A@x.COM")
	require.NoError(t, err)
	assert.Equal(t, "a@x.com", got.Email)

	exists, err := repo.ExistsByEmail(context.Background(), "A@X.COM")
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = repo.ExistsByEmail(context.Background(), "b@x.com")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestMemoryUserRepository_LookupByTokenDigest(t *testing.T) {
	repo := NewMemoryUserRepository(nil)
	ctx := context.Background()
	user := seedMemoryUser(t, repo, "a@x.com")

	_, err := repo.UpdateLocked(ctx, user.ID, func(u *models.User) error {
		verify, reset := "verify-digest", "reset-digest"
		u.EmailVerificationToken = &verify
		u.PasswordResetToken = &reset
		return nil
	})
	require.NoError(t, err)

	got, err := repo.GetByEmailVerificationToken(ctx, "verify-digest")
	require.NoError(t, err)
	assert.Equal(t, user.ID, got.ID)

	got, err = repo.GetByPasswordResetToken(ctx, "reset-digest")
	require.NoError(t, err)
	assert.Equal(t, user.ID, got.ID)

	_, err = repo.GetByPasswordResetToken(ctx, "unknown")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestMemoryUserRepository_ReturnedRecordsAreCopies(t *testing.T) {
	repo := NewMemoryUserRepository(nil)
	user := seedMemoryUser(t, repo, "a@x.com")

	got, err := repo.GetByID(context.Background(), user.ID)
	require.NoError(t, err)
	got.FailedLoginAttempts = 99

	again, err := repo.GetByID(context.Background(), user.ID)
	require.NoError(t, err)
	assert.Zero(t, again.FailedLoginAttempts)
}

func TestMemoryUserRepository_UpdateLockedDiscardsOnError(t *testing.T) {
	repo := NewMemoryUserRepository(nil)
	user := seedMemoryUser(t, repo, "a@x.com")
	abort := errors.New("abort")

	_, err := repo.UpdateLocked(context.Background(), user.ID, func(u *models.User) error {
		u.FailedLoginAttempts = 3
		return abort
	})
	assert.ErrorIs(t, err, abort)

	got, _ := repo.GetByID(context.Background(), user.ID)
	assert.Zero(t, got.FailedLoginAttempts)
}

func TestMemoryUserRepository_UpdateLockedDiscardsOnCancel(t *testing.T) {
	repo := NewMemoryUserRepository(nil)
	user := seedMemoryUser(t, repo, "a@x.com")
	ctx, cancel := context.WithCancel(context.Background())

	_, err := repo.UpdateLocked(ctx, user.ID, func(u *models.User) error {
		u.FailedLoginAttempts = 1
		cancel()
		return nil
	})
	assert.ErrorIs(t, err, models.ErrUnavailable)

	got, _ := repo.GetByID(context.Background(), user.ID)
	assert.Zero(t, got.FailedLoginAttempts)
}

func TestMemoryUserRepository_UpdateLockedSetsUpdatedAt(t *testing.T) {
	clock := clockwork.NewFakeClock()
	repo := NewMemoryUserRepository(clock)
	user := seedMemoryUser(t, repo, "a@x.com")

	clock.Advance(time.Minute)
	updated, err := repo.UpdateLocked(context.Background(), user.ID, func(u *models.User) error { return nil })
	require.NoError(t, err)

	assert.Equal(t, user.CreatedAt, updated.CreatedAt)
	assert.Equal(t, clock.Now(), updated.UpdatedAt)
}

func TestMemoryUserRepository_UpdateLockedSerializesPerUser(t *testing.T) {
	repo := NewMemoryUserRepository(nil)
	user := seedMemoryUser(t, repo, "a@x.com")

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := repo.UpdateLocked(context.Background(), user.ID, func(u *models.User) error {
				u.FailedLoginAttempts++
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	got, err := repo.GetByID(context.Background(), user.ID)
	require.NoError(t, err)
	assert.Equal(t, n, got.FailedLoginAttempts)
}

func TestMemoryUserRepository_UpdateLockedUnknownUser(t *testing.T) {
	repo := NewMemoryUserRepository(nil)
	_, err := repo.UpdateLocked(context.Background(), "missing", func(u *models.User) error { return nil })
	assert.ErrorIs(t, err, models.ErrNotFound)
}
