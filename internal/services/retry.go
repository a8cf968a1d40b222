package services

import (
	"context"
	"errors"
	"time"

	"github.com/BradenHooton/bastion/internal/models"
	"github.com/cenkalti/backoff/v4"
)

// maxUpdateAttempts bounds retries of a per-user mutation that lost a
// serialization race.
const maxUpdateAttempts = 3

// UserLocker runs a read-modify-write on one user under that user's lock
type UserLocker interface {
	UpdateLocked(ctx context.Context, id string, fn func(*models.User) error) (*models.User, error)
}

// updateWithRetry calls UpdateLocked, retrying only models.ErrConcurrentUpdate
// with exponential backoff. Every other error, including those returned by
// fn, ends the loop immediately.
func updateWithRetry(ctx context.Context, users UserLocker, id string, fn func(*models.User) error) (*models.User, error) {
	var updated *models.User

	operation := func() error {
		u, err := users.UpdateLocked(ctx, id, fn)
		if err != nil {
			if errors.Is(err, models.ErrConcurrentUpdate) {
				return err
			}
			return backoff.Permanent(err)
		}
		updated = u
		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 10 * time.Millisecond
	policy.MaxInterval = 100 * time.Millisecond

	err := backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(policy, maxUpdateAttempts-1), ctx))
	if err != nil {
		return nil, err
	}
	return updated, nil
}
