package app

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/five82/storefront/internal/logging"
	"github.com/five82/storefront/internal/state"
)

const (
	defaultRetryInterval = 2 * time.Second
	maxBackoff           = 30 * time.Second
)

// Retrier re-sends failed server updates. *engine.Engine satisfies it.
type Retrier interface {
	RetryFailed(ctx context.Context) (int, error)
	SyncSnapshot() state.Snapshot
	Wait()
}

// StartRetrier launches a background goroutine that retries failed server
// updates, backing off while they keep failing. It returns immediately; the
// returned channel closes once ctx is cancelled and the loop has exited.
func StartRetrier(ctx context.Context, r Retrier, interval time.Duration, logger *zap.Logger) <-chan struct{} {
	if interval <= 0 {
		interval = defaultRetryInterval
	}
	logger = logging.OrNop(logger).Named("retrier")
	done := make(chan struct{})
	go func() {
		defer close(done)
		failures := 0
		for {
			timer := time.NewTimer(calculateBackoff(failures, interval))
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
			if retry(ctx, r, logger) {
				failures = 0
			} else {
				failures++
			}
		}
	}()
	return done
}

// retry runs one pass and reports whether everything is in sync afterwards.
func retry(ctx context.Context, r Retrier, logger *zap.Logger) bool {
	n, err := r.RetryFailed(ctx)
	r.Wait()
	if err != nil {
		logger.Warn("retry failed", zap.Error(err))
		return false
	}
	snap := r.SyncSnapshot()
	if n > 0 || len(snap.Failed) > 0 {
		logger.Debug("retry pass",
			zap.Int("resent", n),
			zap.Int("still_failed", len(snap.Failed)))
	}
	return len(snap.Failed) == 0
}

// calculateBackoff doubles base for every consecutive failure, capped at
// maxBackoff.
func calculateBackoff(failures int, base time.Duration) time.Duration {
	d := base
	for i := 0; i < failures && d < maxBackoff; i++ {
		d *= 2
	}
	return min(d, maxBackoff)
}
