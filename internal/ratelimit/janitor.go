package ratelimit

import (
	"context"
	"time"

	"formgate/pkg/metrics"
)

// Reclaim removes records that fell completely out of the window. It is a
// no-op for stores that cannot enumerate their records.
func (l *Limiter) Reclaim(ctx context.Context) (int, error) {
	r, ok := l.store.(Reclaimer)
	if !ok {
		return 0, nil
	}

	n, err := r.Reclaim(ctx, l.now().Add(-l.cfg.Window))
	if n > 0 {
		metrics.AddRateLimitReclaimed(l.store.Name(), n)
	}
	return n, err
}

// RunJanitor calls Reclaim every interval until ctx is done.
func (l *Limiter) RunJanitor(ctx context.Context, every time.Duration) error {
	if _, ok := l.store.(Reclaimer); !ok || every <= 0 {
		<-ctx.Done()
		return nil
	}

	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			n, err := l.Reclaim(ctx)
			if err != nil {
				l.logger.WarnwCtx(ctx, "Rate limit reclamation failed", "store", l.store.Name(), "error", err)
				continue
			}
			if n > 0 {
				l.logger.DebugwCtx(ctx, "Reclaimed stale rate limit records", "store", l.store.Name(), "count", n)
			}
		}
	}
}
