package repositories

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/BradenHooton/bastion/internal/database"
	"github.com/jonboulle/clockwork"
)

// TokenRevocationRepository is the Postgres-backed revocation index. Rows
// carry an absolute expiry; lookups ignore expired rows and a background
// sweeper deletes them.
type TokenRevocationRepository struct {
	db    *database.DB
	clock clockwork.Clock
}

func NewTokenRevocationRepository(db *database.DB, clock clockwork.Clock) *TokenRevocationRepository {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &TokenRevocationRepository{db: db, clock: clock}
}

// tokenDigest keys rows by the SHA-256 of the token so the table holds
// fixed-width keys instead of full bearer strings.
func tokenDigest(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// Revoke records token as revoked for ttl. A non-positive ttl is a no-op.
// Re-revoking keeps the later of the two expiries.
func (r *TokenRevocationRepository) Revoke(ctx context.Context, token string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}

	now := r.clock.Now()
	query := `
		INSERT INTO revoked_tokens (token_hash, expires_at, revoked_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token_hash) DO UPDATE
		SET expires_at = GREATEST(revoked_tokens.expires_at, EXCLUDED.expires_at)
	`

	if _, err := r.db.Pool.Exec(ctx, query, tokenDigest(token), now.Add(ttl), now); err != nil {
		return database.MapPostgresError(err)
	}
	return nil
}

func (r *TokenRevocationRepository) IsRevoked(ctx context.Context, token string) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM revoked_tokens WHERE token_hash = $1 AND expires_at > $2)`

	var exists bool
	if err := r.db.Pool.QueryRow(ctx, query, tokenDigest(token), r.clock.Now()).Scan(&exists); err != nil {
		return false, database.MapPostgresError(err)
	}
	return exists, nil
}

// CleanupExpiredTokens removes rows whose expiry has passed
func (r *TokenRevocationRepository) CleanupExpiredTokens(ctx context.Context) (int64, error) {
	result, err := r.db.Pool.Exec(ctx, `DELETE FROM revoked_tokens WHERE expires_at <= $1`, r.clock.Now())
	if err != nil {
		return 0, database.MapPostgresError(err)
	}
	return result.RowsAffected(), nil
}

func (r *TokenRevocationRepository) HealthCheck(ctx context.Context) error {
	return r.db.HealthCheck(ctx)
}
