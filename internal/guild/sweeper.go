package guild

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Sweeper periodically calls SweepRaids. It satisfies server.Service.
type Sweeper struct {
	svc      *Service
	interval time.Duration
	timeout  time.Duration
	logger   *zap.Logger
}

// NewSweeper creates a Sweeper that sweeps every interval, bounding each
// sweep by timeout.
//
// Precondition: svc and logger must be non-nil; interval and timeout > 0.
func NewSweeper(svc *Service, interval, timeout time.Duration, logger *zap.Logger) *Sweeper {
	if interval <= 0 || timeout <= 0 {
		panic("guild.NewSweeper: precondition violated: interval and timeout must be positive")
	}
	return &Sweeper{svc: svc, interval: interval, timeout: timeout, logger: logger}
}

// Run sweeps once immediately, then on every tick until ctx is cancelled.
// Sweep failures are logged and do not stop the loop.
func (sw *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(sw.interval)
	defer ticker.Stop()

	sw.sweep(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			sw.sweep(ctx)
		}
	}
}

func (sw *Sweeper) sweep(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, sw.timeout)
	defer cancel()
	start := time.Now()
	changes, _, err := sw.svc.SweepRaids(ctx)
	if err != nil {
		sw.logger.Warn("raid sweep failed", zap.Error(err), zap.Duration("elapsed", time.Since(start)))
	}
	if len(changes) > 0 {
		sw.logger.Info("raid sweep",
			zap.Int("changed", len(changes)),
			zap.Duration("elapsed", time.Since(start)),
		)
	}
}
