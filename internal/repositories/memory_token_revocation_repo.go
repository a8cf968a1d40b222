package repositories

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/BradenHooton/bastion/internal/models"
	"github.com/jonboulle/clockwork"
)

// MemoryTokenRevocationRepository is a process-local TTL set. Expired
// entries are invisible to IsRevoked and removed by CleanupExpiredTokens.
type MemoryTokenRevocationRepository struct {
	clock clockwork.Clock

	mu      sync.RWMutex
	entries map[string]time.Time
}

func NewMemoryTokenRevocationRepository(clock clockwork.Clock) *MemoryTokenRevocationRepository {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &MemoryTokenRevocationRepository{
		clock:   clock,
		entries: make(map[string]time.Time),
	}
}

func (r *MemoryTokenRevocationRepository) Revoke(ctx context.Context, token string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", models.ErrUnavailable, err)
	}

	expiresAt := r.clock.Now().Add(ttl)

	r.mu.Lock()
	defer r.mu.Unlock()
	if current, ok := r.entries[token]; !ok || expiresAt.After(current) {
		r.entries[token] = expiresAt
	}
	return nil
}

func (r *MemoryTokenRevocationRepository) IsRevoked(ctx context.Context, token string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, fmt.Errorf("%w: %w", models.ErrUnavailable, err)
	}

	r.mu.RLock()
	expiresAt, ok := r.entries[token]
	r.mu.RUnlock()

	return ok && r.clock.Now().Before(expiresAt), nil
}

func (r *MemoryTokenRevocationRepository) CleanupExpiredTokens(ctx context.Context) (int64, error) {
	now := r.clock.Now()

	r.mu.Lock()
	defer r.mu.Unlock()

	var removed int64
	for token, expiresAt := range r.entries {
		if !now.Before(expiresAt) {
			delete(r.entries, token)
			removed++
		}
	}
	return removed, nil
}

func (r *MemoryTokenRevocationRepository) HealthCheck(ctx context.Context) error {
	return nil
}
