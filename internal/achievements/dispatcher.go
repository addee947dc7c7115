package achievements

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"pizzaRun/internal/events"
	"pizzaRun/models"
)

// reconcileBatch is how many unrecorded deliveries one reconcile page loads.
const reconcileBatch = 100

// ChangeSource yields order changes in commit order.
type ChangeSource interface {
	Next(ctx context.Context) (models.OrderChange, error)
}

// Backlog lists delivered orders that have no delivery ledger entry.
type Backlog interface {
	ListUnrecordedDeliveries(ctx context.Context, limit int) ([]models.Order, error)
}

// Dispatcher drains the order change feed, runs the engine for each change
// and publishes the outcome to the claimant's subscribers. Deliveries whose
// processing failed, or whose change never reached the feed, are picked up
// from the backlog by Reconcile.
type Dispatcher struct {
	source  ChangeSource
	backlog Backlog
	engine  *Engine
	broker  *events.Broker
	logger  *slog.Logger
}

// NewDispatcher returns a dispatcher. backlog may be nil, which disables
// reconciliation.
func NewDispatcher(source ChangeSource, backlog Backlog, engine *Engine, broker *events.Broker, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{source: source, backlog: backlog, engine: engine, broker: broker, logger: logger}
}

// Run reconciles the backlog once, then processes changes until ctx is
// cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	if n, err := d.Reconcile(ctx); err != nil {
		d.logger.Error("reconcile deliveries failed", "processed", n, "error", err)
	} else if n > 0 {
		d.logger.Info("reconciled deliveries", "processed", n)
	}
	for {
		change, err := d.source.Next(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return err
		}
		d.handle(ctx, change)
	}
}

// Reconcile processes every delivered order missing from the delivery
// ledger. It returns how many were newly processed. Orders that fail again
// stay in the backlog for the next pass.
func (d *Dispatcher) Reconcile(ctx context.Context) (int, error) {
	if d.backlog == nil {
		return 0, nil
	}
	processed := 0
	var errs []error
	for {
		page, err := d.backlog.ListUnrecordedDeliveries(ctx, reconcileBatch)
		if err != nil {
			errs = append(errs, fmt.Errorf("list unrecorded deliveries: %w", err))
			break
		}
		progress := 0
		for i := range page {
			o := page[i]
			res, err := d.engine.Process(ctx, &o)
			if err != nil {
				errs = append(errs, fmt.Errorf("process %s: %w", o.ID, err))
				continue
			}
			progress++
			if !res.Duplicate {
				processed++
				d.publishResult(res)
			}
		}
		if len(page) < reconcileBatch || progress == 0 {
			break
		}
	}
	return processed, errors.Join(errs...)
}

func (d *Dispatcher) handle(ctx context.Context, change models.OrderChange) {
	if change.After.UserID == nil {
		return
	}
	userID := *change.After.UserID
	order := change.After
	d.publish(userID, events.Event{Type: events.TypeOrderStatus, Order: &order})

	res, err := d.engine.HandleOrderChange(ctx, change)
	if err != nil {
		d.logger.Error("achievement processing failed, left for reconcile", "order_id", change.After.ID, "user_id", userID, "error", err)
		return
	}
	d.publishResult(res)
}

func (d *Dispatcher) publishResult(res *Result) {
	if res == nil || res.Duplicate {
		return
	}
	for i := range res.Unlocked {
		a := res.Unlocked[i]
		d.publish(res.UserID, events.Event{Type: events.TypeAchievement, Achievement: &a})
	}
	d.publish(res.UserID, events.Event{Type: events.TypeStats, Stats: res.Stats})
}

func (d *Dispatcher) publish(userID string, ev events.Event) {
	if d.broker != nil {
		d.broker.Publish(userID, ev)
	}
}
