package requestauth

import (
	"context"
	"time"
)

// Retention is how long an accepted nonce is kept: twice the freshness window.
func (a *Authenticator) Retention() time.Duration {
	return 2 * a.window
}

// SweepOnce purges nonces older than the retention period.
func (a *Authenticator) SweepOnce(ctx context.Context) (int, error) {
	cutoff := a.now().Add(-a.Retention())
	removed, err := a.store.Sweep(ctx, cutoff)
	if err != nil {
		a.logStoreError("sweep", err)
		return 0, err
	}
	if a.observer != nil {
		a.observer.RecordNonceSweep(removed)
	}
	if removed > 0 {
		a.logger.Debug("nonces swept",
			"component", componentName,
			"operation", "sweep",
			"removed", removed,
		)
	}
	return removed, nil
}

// RunSweeper sweeps on the configured interval until ctx is cancelled.
func (a *Authenticator) RunSweeper(ctx context.Context) {
	ticker := time.NewTicker(a.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, _ = a.SweepOnce(ctx)
		}
	}
}
