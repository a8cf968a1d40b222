package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/BradenHooton/bastion/internal/models"
	"github.com/redis/go-redis/v9"
)

// RevocationKeyPrefix namespaces revocation entries in Redis
const RevocationKeyPrefix = "blacklist:"

const revokedValue = "1"

// RedisTokenRevocationRepository stores revoked tokens as Redis keys with a
// native TTL, so entries disappear on their own when the token would have
// expired anyway.
type RedisTokenRevocationRepository struct {
	client redis.UniversalClient
}

func NewRedisTokenRevocationRepository(client redis.UniversalClient) *RedisTokenRevocationRepository {
	return &RedisTokenRevocationRepository{client: client}
}

// NewRedisClient parses a redis:// URL into a client
func NewRedisClient(url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid REDIS_URL: %v", models.ErrConfiguration, err)
	}
	return redis.NewClient(opts), nil
}

func revocationKey(token string) string {
	return RevocationKeyPrefix + token
}

// Revoke issues a synchronous SET with expiry. The call returns only after
// the server acknowledged the write.
func (r *RedisTokenRevocationRepository) Revoke(ctx context.Context, token string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	if err := r.client.Set(ctx, revocationKey(token), revokedValue, ttl).Err(); err != nil {
		return fmt.Errorf("%w: revoke token: %w", models.ErrUnavailable, err)
	}
	return nil
}

func (r *RedisTokenRevocationRepository) IsRevoked(ctx context.Context, token string) (bool, error) {
	n, err := r.client.Exists(ctx, revocationKey(token)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: check revocation: %w", models.ErrUnavailable, err)
	}
	return n > 0, nil
}

func (r *RedisTokenRevocationRepository) HealthCheck(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
