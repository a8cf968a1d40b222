package auth

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"time"

	"github.com/jonboulle/clockwork"
)

// TimingConfig holds configuration for response-time equalisation
type TimingConfig struct {
	BaseDelayMs   int // floor every padded operation is stretched to
	RandomDelayMs int // random jitter added on top of the floor
}

// TimingDelay pads security-sensitive operations to a common floor so that
// "unknown email" and "wrong password" (or "reset mailed" and "no such
// account") are not distinguishable by latency.
type TimingDelay struct {
	config TimingConfig
	clock  clockwork.Clock
}

// NewTimingDelay creates a new TimingDelay instance
func NewTimingDelay(config TimingConfig, clock clockwork.Clock) *TimingDelay {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &TimingDelay{config: config, clock: clock}
}

// cryptoRandIntn returns a secure random number in [0, max)
func cryptoRandIntn(max int) (int, error) {
	if max <= 0 {
		return 0, nil
	}

	randomBytes := make([]byte, 8)
	if _, err := rand.Read(randomBytes); err != nil {
		return 0, err
	}

	return int(binary.BigEndian.Uint64(randomBytes) % uint64(max)), nil
}

func (td *TimingDelay) target() time.Duration {
	delay := time.Duration(td.config.BaseDelayMs) * time.Millisecond
	if td.config.RandomDelayMs > 0 {
		if n, err := cryptoRandIntn(td.config.RandomDelayMs); err == nil {
			delay += time.Duration(n) * time.Millisecond
		}
	}
	return delay
}

// Start marks the beginning of a padded operation on the delay's own clock
func (td *TimingDelay) Start() time.Time {
	if td == nil {
		return time.Time{}
	}
	return td.clock.Now()
}

// WaitFrom blocks until at least the configured floor has elapsed since
// start. It returns early when ctx is done. A nil receiver does nothing.
func (td *TimingDelay) WaitFrom(ctx context.Context, start time.Time) {
	if td == nil {
		return
	}

	remaining := td.target() - td.clock.Since(start)
	if remaining <= 0 {
		return
	}

	select {
	case <-td.clock.After(remaining):
	case <-ctx.Done():
	}
}
