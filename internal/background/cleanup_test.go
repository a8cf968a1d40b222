package background

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
)

type countingSweeper struct {
	calls atomic.Int32
	err   error
}

func (s *countingSweeper) CleanupExpiredTokens(ctx context.Context) (int64, error) {
	s.calls.Add(1)
	return 3, s.err
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestCleanupManager_SweepsOnStartAndEachInterval(t *testing.T) {
	clock := clockwork.NewFakeClock()
	sweeper := &countingSweeper{}
	cm := NewCleanupManager(sweeper, discardLogger(), time.Hour, clock)

	done := make(chan struct{})
	go func() {
		cm.Start(context.Background())
		close(done)
	}()

	assert.Eventually(t, func() bool { return sweeper.calls.Load() >= 1 }, time.Second, 5*time.Millisecond)

	assert.Eventually(t, func() bool {
		clock.Advance(time.Hour)
		return sweeper.calls.Load() >= 2
	}, time.Second, 5*time.Millisecond)

	cm.Stop()
	cm.Stop()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("cleanup manager did not stop")
	}
}

func TestCleanupManager_StopsOnContextCancel(t *testing.T) {
	sweeper := &countingSweeper{err: errors.New("db down")}
	cm := NewCleanupManager(sweeper, discardLogger(), time.Hour, clockwork.NewFakeClock())
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		cm.Start(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool { return sweeper.calls.Load() >= 1 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("cleanup manager ignored cancellation")
	}
}
