package worker

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// StalledRecoverer resolves payments left in PROCESSING longer than olderThan.
type StalledRecoverer interface {
	RecoverStalled(ctx context.Context, olderThan time.Duration) (int, error)
}

// Reconciler periodically recovers stalled payments.
type Reconciler struct {
	recoverer  StalledRecoverer
	interval   time.Duration
	stallAfter time.Duration
	l          *zap.Logger
}

func NewReconciler(recoverer StalledRecoverer, interval, stallAfter time.Duration) *Reconciler {
	return &Reconciler{
		recoverer:  recoverer,
		interval:   interval,
		stallAfter: stallAfter,
		l:          zap.L().Named("reconciler"),
	}
}

// Run blocks until ctx is done, sweeping once per interval.
func (r *Reconciler) Run(ctx context.Context) error {
	r.l.Info("Started",
		zap.Duration("interval", r.interval),
		zap.Duration("stall_after", r.stallAfter),
	)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.l.Info("Stopped")
			return nil
		case <-ticker.C:
			r.Sweep(ctx)
		}
	}
}

// Sweep runs one recovery pass and returns the number of payments resolved.
func (r *Reconciler) Sweep(ctx context.Context) int {
	n, err := r.recoverer.RecoverStalled(ctx, r.stallAfter)
	if err != nil {
		if ctx.Err() == nil {
			r.l.Warn("Failed recover stalled payments", zap.Int("recovered", n), zap.Error(err))
		}
		return n
	}
	if n > 0 {
		r.l.Info("Recovered stalled payments", zap.Int("count", n))
	}
	return n
}
