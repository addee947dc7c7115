package achievements

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"pizzaRun/internal/geo"
	"pizzaRun/internal/metrics"
	"pizzaRun/models"
	"pizzaRun/repository"
)

var ErrNotDelivered = errors.New("order is not a claimed delivery")

// Store is the transactional stats and achievements store.
type Store interface {
	RunInTx(ctx context.Context, fn func(*repository.AchievementTx) error) error
	Stats(ctx context.Context, userID string) (*models.LifetimeStats, error)
	ListUnlocked(ctx context.Context, userID string) ([]models.Achievement, error)
}

// Result is what processing one delivery changed. Duplicate is set when the
// delivery had already been processed and nothing was written.
type Result struct {
	UserID    string
	Stats     *models.LifetimeStats
	Unlocked  []models.Achievement
	Duplicate bool
}

// Engine folds delivered orders into lifetime stats and unlocks achievements.
type Engine struct {
	store   Store
	metrics *metrics.Collector
	logger  *slog.Logger
}

func NewEngine(store Store, m *metrics.Collector, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{store: store, metrics: m, logger: logger}
}

// HandleOrderChange processes the change only on the edge into delivered.
// Any other change returns a nil result.
func (e *Engine) HandleOrderChange(ctx context.Context, change models.OrderChange) (*Result, error) {
	if !change.BecameDelivered() || change.After.UserID == nil {
		return nil, nil
	}
	return e.Process(ctx, &change.After)
}

// Process applies one delivered order in a single transaction: ledger entry,
// stats update and achievement unlocks commit together or not at all. A
// delivery already in the ledger is a no-op.
func (e *Engine) Process(ctx context.Context, o *models.Order) (*Result, error) {
	if o == nil || o.Status != models.OrderStatusDelivered || o.UserID == nil {
		return nil, ErrNotDelivered
	}
	userID := *o.UserID

	var res *Result
	err := e.store.RunInTx(ctx, func(tx *repository.AchievementTx) error {
		res = &Result{UserID: userID}
		fresh, err := tx.RecordDelivery(ctx, o.ID, userID)
		if err != nil {
			return fmt.Errorf("record delivery: %w", err)
		}
		if !fresh {
			res.Duplicate = true
			return nil
		}

		stats, err := tx.LoadStats(ctx, userID)
		if err != nil {
			return fmt.Errorf("load stats: %w", err)
		}
		stats.TotalDeliveries++
		stats.TotalTips = stats.TotalTips.Add(o.Tip)
		if o.HasCoordinates() {
			stats.TotalDistanceKm += geo.ApproxKm(geo.Depot, geo.Point{Lat: *o.Latitude, Lon: *o.Longitude})
		}
		stats.AddStreet(o.Address.Street)
		if err := tx.SaveStats(ctx, stats); err != nil {
			return fmt.Errorf("save stats: %w", err)
		}
		res.Stats = stats

		held, err := tx.UnlockedIDs(ctx, userID)
		if err != nil {
			return fmt.Errorf("load achievements: %w", err)
		}
		for _, def := range Catalog {
			if held[def.ID] || !def.met(stats, o) {
				continue
			}
			a := def.achievement()
			ok, err := tx.Unlock(ctx, userID, a)
			if err != nil {
				return fmt.Errorf("unlock %s: %w", def.ID, err)
			}
			if ok {
				res.Unlocked = append(res.Unlocked, *a)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	logger := e.logger.With("order_id", o.ID, "user_id", userID)
	if res.Duplicate {
		logger.Info("delivery already processed")
		return res, nil
	}
	for _, a := range res.Unlocked {
		e.metrics.AchievementUnlocked(a.ID)
		logger.Info("achievement unlocked", "achievement", a.ID)
	}
	logger.Info("stats updated", "total_deliveries", res.Stats.TotalDeliveries)
	return res, nil
}

// Stats returns a user's lifetime stats, zero if the user has none yet.
func (e *Engine) Stats(ctx context.Context, userID string) (*models.LifetimeStats, error) {
	return e.store.Stats(ctx, userID)
}

// Unlocked returns the achievements a user holds.
func (e *Engine) Unlocked(ctx context.Context, userID string) ([]models.Achievement, error) {
	return e.store.ListUnlocked(ctx, userID)
}
