package repositories

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/BradenHooton/bastion/internal/models"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
)

// MemoryUserRepository keeps users in process memory. Per-user mutexes give
// UpdateLocked the same serialization as the Postgres row lock, but only
// within a single instance.
type MemoryUserRepository struct {
	clock clockwork.Clock

	mu    sync.RWMutex
	users map[string]*models.User

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

func NewMemoryUserRepository(clock clockwork.Clock) *MemoryUserRepository {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &MemoryUserRepository{
		clock: clock,
		users: make(map[string]*models.User),
		locks: make(map[string]*sync.Mutex),
	}
}

func (r *MemoryUserRepository) find(ctx context.Context, match func(*models.User) bool) (*models.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", models.ErrUnavailable, err)
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, u := range r.users {
		if match(u) {
			return u.Clone(), nil
		}
	}
	return nil, models.ErrNotFound
}

func (r *MemoryUserRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	return r.find(ctx, func(u *models.User) bool { return u.ID == id })
}

func (r *MemoryUserRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	return r.find(ctx, func(u *models.User) bool { return strings.EqualFold(u.Email, email) })
}

func (r *MemoryUserRepository) GetByEmailVerificationToken(ctx context.Context, digest string) (*models.User, error) {
	return r.find(ctx, func(u *models.User) bool {
		return u.EmailVerificationToken != nil && *u.EmailVerificationToken == digest
	})
}

func (r *MemoryUserRepository) GetByPasswordResetToken(ctx context.Context, digest string) (*models.User, error) {
	return r.find(ctx, func(u *models.User) bool {
		return u.PasswordResetToken != nil && *u.PasswordResetToken == digest
	})
}

func (r *MemoryUserRepository) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	_, err := r.GetByEmail(ctx, email)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, models.ErrNotFound):
		return false, nil
	default:
		return false, err
	}
}

func (r *MemoryUserRepository) Create(ctx context.Context, user *models.User) (*models.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", models.ErrUnavailable, err)
	}

	u := user.Clone()
	u.ID = uuid.New().String()
	u.Email = strings.ToLower(strings.TrimSpace(u.Email))
	if u.Role == "" {
		u.Role = models.RoleUser
	}
	now := r.clock.Now()
	u.CreatedAt = now
	u.UpdatedAt = now

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, existing := range r.users {
		if existing.Email == u.Email {
			return nil, models.ErrConflict
		}
	}
	r.users[u.ID] = u
	return u.Clone(), nil
}

// UpdateLocked applies fn to a private copy of the user while holding that
// user's mutex. The copy replaces the stored record only when fn succeeds
// and ctx is still live.
func (r *MemoryUserRepository) UpdateLocked(ctx context.Context, id string, fn func(*models.User) error) (*models.User, error) {
	lock := r.userLock(id)
	lock.Lock()
	defer lock.Unlock()

	user, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := fn(user); err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", models.ErrUnavailable, err)
	}

	user.UpdatedAt = r.clock.Now()

	r.mu.Lock()
	r.users[id] = user.Clone()
	r.mu.Unlock()

	return user, nil
}

func (r *MemoryUserRepository) userLock(id string) *sync.Mutex {
	r.locksMu.Lock()
	defer r.locksMu.Unlock()

	lock, ok := r.locks[id]
	if !ok {
		lock = &sync.Mutex{}
		r.locks[id] = lock
	}
	return lock
}
