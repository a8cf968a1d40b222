package background

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// ExpiredTokenSweeper is implemented by revocation stores whose entries do
// not expire on their own.
type ExpiredTokenSweeper interface {
	CleanupExpiredTokens(ctx context.Context) (int64, error)
}

// CleanupManager periodically removes expired revocation entries
type CleanupManager struct {
	sweeper  ExpiredTokenSweeper
	logger   *slog.Logger
	interval time.Duration
	clock    clockwork.Clock
	stopCh   chan struct{}
	stopOnce sync.Once
}

func NewCleanupManager(
	sweeper ExpiredTokenSweeper,
	logger *slog.Logger,
	interval time.Duration,
	clock clockwork.Clock,
) *CleanupManager {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &CleanupManager{
		sweeper:  sweeper,
		logger:   logger,
		interval: interval,
		clock:    clock,
		stopCh:   make(chan struct{}),
	}
}

// Start runs a sweep immediately and then once per interval until Stop is
// called or ctx is done. It blocks; run it in its own goroutine.
func (cm *CleanupManager) Start(ctx context.Context) {
	ticker := cm.clock.NewTicker(cm.interval)
	defer ticker.Stop()

	cm.runCleanup(ctx)

	for {
		select {
		case <-ticker.Chan():
			cm.runCleanup(ctx)
		case <-cm.stopCh:
			cm.logger.Info("revocation cleanup stopped")
			return
		case <-ctx.Done():
			cm.logger.Info("revocation cleanup context cancelled")
			return
		}
	}
}

func (cm *CleanupManager) runCleanup(ctx context.Context) {
	cleanupCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	removed, err := cm.sweeper.CleanupExpiredTokens(cleanupCtx)
	if err != nil {
		cm.logger.Error("failed to clean up expired revocations", slog.Any("error", err))
		return
	}

	if removed > 0 {
		cm.logger.Info("expired revocations removed", slog.Int64("rows_deleted", removed))
	}
}

// Stop signals the cleanup loop to exit. Safe to call more than once.
func (cm *CleanupManager) Stop() {
	cm.stopOnce.Do(func() { close(cm.stopCh) })
}
