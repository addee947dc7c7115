package lifecycle

import (
	"context"
	"log/slog"
	"time"
)

// Reconciler processes deliveries whose achievement bookkeeping is missing.
type Reconciler interface {
	Reconcile(ctx context.Context) (int, error)
}

// Janitor periodically times out idle sessions, clears stale queued orders
// and reconciles unrecorded deliveries.
type Janitor struct {
	Sessions   *SessionManager
	Engine     *Engine
	Deliveries Reconciler
	QueuedTTL  time.Duration
	Every      time.Duration
	Logger     *slog.Logger
}

// Run sweeps until ctx is cancelled.
func (j *Janitor) Run(ctx context.Context) error {
	every := j.Every
	if every <= 0 {
		every = time.Minute
	}
	logger := j.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		j.Sweep(ctx, logger)
	}
}

// Sweep runs one pass.
func (j *Janitor) Sweep(ctx context.Context, logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	if j.Sessions != nil {
		if n, err := j.Sessions.ReapIdle(ctx); err != nil {
			logger.Error("reap idle sessions failed", "error", err)
		} else if n > 0 {
			logger.Info("timed out idle sessions", "count", n)
		}
	}
	if j.Engine != nil && j.QueuedTTL > 0 {
		if _, err := j.Engine.ClearQueued(ctx, j.QueuedTTL); err != nil {
			logger.Error("clear queued orders failed", "error", err)
		}
	}
	if j.Deliveries != nil {
		if n, err := j.Deliveries.Reconcile(ctx); err != nil {
			logger.Error("reconcile deliveries failed", "processed", n, "error", err)
		} else if n > 0 {
			logger.Info("reconciled deliveries", "processed", n)
		}
	}
}
