package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"pizzaRun/internal/clock"
	"pizzaRun/internal/metrics"
	"pizzaRun/models"
	"pizzaRun/repository"
)

// OrderStore is the part of the order repository the engine writes through.
type OrderStore interface {
	Claim(ctx context.Context, id, userID string) (bool, error)
	MarkDelivered(ctx context.Context, id, userID string) (bool, error)
	MarkCancelled(ctx context.Context, id, userID string) (bool, error)
	ListActiveByUser(ctx context.Context, userID string) ([]models.Order, error)
	DeleteStaleQueued(ctx context.Context, placedBefore time.Time) (int64, error)
}

// Transition is a status change the engine applied.
type Transition struct {
	OrderID string
	From    models.OrderStatus
	To      models.OrderStatus
}

// Evaluation is the outcome of one Evaluate call.
type Evaluation struct {
	Active      int
	Wait        WaitTimes
	Transitions []Transition
}

// Engine applies claims and position-driven transitions. Status writes go
// through conditional updates in the store; the engine additionally keeps
// one write per order in flight.
type Engine struct {
	orders  OrderStore
	clk     clock.Clock
	metrics *metrics.Collector
	logger  *slog.Logger

	mu       sync.Mutex
	inflight map[string]struct{}
}

func NewEngine(orders OrderStore, clk clock.Clock, m *metrics.Collector, logger *slog.Logger) *Engine {
	if clk == nil {
		clk = clock.New()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		orders:   orders,
		clk:      clk,
		metrics:  m,
		logger:   logger,
		inflight: make(map[string]struct{}),
	}
}

// ClaimError reports the orders a claim could not write. The claims that
// did succeed are still returned alongside it.
type ClaimError struct {
	Failed []string
	Err    error
}

func (e *ClaimError) Error() string {
	return fmt.Sprintf("claim failed for %d order(s): %v", len(e.Failed), e.Err)
}

func (e *ClaimError) Unwrap() error { return e.Err }

// Claim assigns each queued order in orderIDs to userID. Orders that are
// missing, already claimed or no longer queued are skipped. The ids won are
// returned in request order; store failures come back as a *ClaimError.
func (e *Engine) Claim(ctx context.Context, userID string, orderIDs []string) ([]string, error) {
	if userID == "" {
		return nil, errors.New("claim: user id is empty")
	}
	seen := make(map[string]bool, len(orderIDs))
	var claimed []string
	var failed []string
	var errs []error
	for _, id := range orderIDs {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		ok, err := e.orders.Claim(ctx, id, userID)
		switch {
		case errors.Is(err, repository.ErrNotFound):
			continue
		case err != nil:
			e.logger.Error("claim failed", "order_id", id, "user_id", userID, "error", err)
			failed = append(failed, id)
			errs = append(errs, fmt.Errorf("claim %s: %w", id, err))
		case ok:
			claimed = append(claimed, id)
			e.metrics.Transition(string(models.OrderStatusEnRoute))
		}
	}
	if len(failed) > 0 {
		return claimed, &ClaimError{Failed: failed, Err: errors.Join(errs...)}
	}
	return claimed, nil
}

// Evaluate decides every en route order of userID against pos and applies
// the resulting transitions. An order whose previous write is still in
// flight is skipped; a failed write is logged and retried on the next
// evaluation.
func (e *Engine) Evaluate(ctx context.Context, userID string, pos Position) (*Evaluation, error) {
	active, err := e.orders.ListActiveByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list active orders: %w", err)
	}
	ev := &Evaluation{Active: len(active), Wait: ComputeWaitTimes(len(active))}
	now := e.clk.Now()
	for _, o := range active {
		d := Decide(o, pos, now, len(active))
		if d.Action == ActionNone {
			continue
		}
		if t, ok := e.apply(ctx, userID, o, d); ok {
			ev.Transitions = append(ev.Transitions, t)
		}
	}
	return ev, nil
}

func (e *Engine) apply(ctx context.Context, userID string, o models.Order, d Decision) (Transition, bool) {
	if !e.acquire(o.ID) {
		return Transition{}, false
	}
	defer e.release(o.ID)

	to := d.Action.Target()
	logger := e.logger.With("order_id", o.ID, "user_id", userID, "status", string(to))

	var applied bool
	var err error
	switch d.Action {
	case ActionDeliver:
		applied, err = e.orders.MarkDelivered(ctx, o.ID, userID)
	case ActionCancel:
		applied, err = e.orders.MarkCancelled(ctx, o.ID, userID)
	}
	if err != nil {
		logger.Error("order status update failed", "error", err)
		e.metrics.TransitionFailed(string(to))
		return Transition{}, false
	}
	if !applied {
		return Transition{}, false
	}
	logger.Info("order status updated", "distance_m", d.DistanceMeters, "elapsed", d.Elapsed)
	e.metrics.Transition(string(to))
	return Transition{OrderID: o.ID, From: o.Status, To: to}, true
}

func (e *Engine) acquire(orderID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, busy := e.inflight[orderID]; busy {
		return false
	}
	e.inflight[orderID] = struct{}{}
	return true
}

func (e *Engine) release(orderID string) {
	e.mu.Lock()
	delete(e.inflight, orderID)
	e.mu.Unlock()
}

// ClearQueued removes unclaimed queued orders placed more than olderThan ago.
func (e *Engine) ClearQueued(ctx context.Context, olderThan time.Duration) (int64, error) {
	n, err := e.orders.DeleteStaleQueued(ctx, e.clk.Now().Add(-olderThan))
	if err != nil {
		return 0, fmt.Errorf("clear queued orders: %w", err)
	}
	if n > 0 {
		e.logger.Info("cleared stale queued orders", "count", n)
	}
	return n, nil
}
