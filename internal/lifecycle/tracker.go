package lifecycle

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// DefaultTick is how often a tracker re-evaluates without a new fix.
const DefaultTick = time.Second

var ErrTrackerStarted = errors.New("tracker already started")

// Tracker re-evaluates one player's orders on a ticker and on every location
// fix. It is owned by a play session and stopped when the session ends.
type Tracker struct {
	engine   *Engine
	userID   string
	interval time.Duration
	logger   *slog.Logger
	onFix    func()

	mu      sync.Mutex
	pos     Position
	wait    WaitTimes
	started bool
	fixes   chan struct{}
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewTracker returns a stopped tracker for userID. onFix, if set, runs after
// each location fix is recorded.
func NewTracker(engine *Engine, userID string, interval time.Duration, logger *slog.Logger, onFix func()) *Tracker {
	if interval <= 0 {
		interval = DefaultTick
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Tracker{
		engine:   engine,
		userID:   userID,
		interval: interval,
		logger:   logger.With("user_id", userID),
		onFix:    onFix,
		wait:     ComputeWaitTimes(0),
		fixes:    make(chan struct{}, 1),
	}
}

// Start launches the evaluation loop. The loop ends when ctx is cancelled or
// Stop is called.
func (t *Tracker) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.started {
		return ErrTrackerStarted
	}
	t.started = true
	ctx, t.cancel = context.WithCancel(ctx)
	t.done = make(chan struct{})
	go t.loop(ctx)
	return nil
}

func (t *Tracker) loop(ctx context.Context) {
	defer close(t.done)
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-t.fixes:
		}
		// An evaluation already under way finishes even if Stop is called.
		evalCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		if _, err := t.evaluate(evalCtx); err != nil {
			t.logger.Warn("order evaluation failed", "error", err)
		}
		cancel()
	}
}

// Stop ends the loop and waits for an in-flight evaluation to finish.
// Stopping a tracker that was never started is a no-op.
func (t *Tracker) Stop() {
	t.mu.Lock()
	cancel, done := t.cancel, t.done
	t.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// Fix records the latest position and wakes the loop.
func (t *Tracker) Fix(pos Position) {
	t.setPosition(pos)
	select {
	case t.fixes <- struct{}{}:
	default:
	}
}

// Report records pos and evaluates immediately, returning what was applied.
func (t *Tracker) Report(ctx context.Context, pos Position) (*Evaluation, error) {
	t.setPosition(pos)
	return t.evaluate(ctx)
}

func (t *Tracker) setPosition(pos Position) {
	t.mu.Lock()
	t.pos = pos
	t.mu.Unlock()
	if t.onFix != nil {
		t.onFix()
	}
}

func (t *Tracker) evaluate(ctx context.Context) (*Evaluation, error) {
	t.mu.Lock()
	pos := t.pos
	t.mu.Unlock()

	ev, err := t.engine.Evaluate(ctx, t.userID, pos)
	if err != nil {
		return nil, err
	}
	t.mu.Lock()
	t.wait = ev.Wait
	t.mu.Unlock()
	return ev, nil
}

// WaitTime is the current total wait time for the player's load.
func (t *Tracker) WaitTime() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.wait.Total
}

// Position returns the latest recorded fix.
func (t *Tracker) Position() Position {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pos
}
