package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"pizzaRun/internal/clock"
	"pizzaRun/models"
)

// OrderRepository is the core repository for Order entities. Every status
// write is a conditional UPDATE so concurrent clients cannot both win, and
// every committed status change is published to the change feed.
type OrderRepository struct {
	db   *sql.DB
	clk  clock.Clock
	feed ChangeFeed
}

// NewOrderRepository creates a new OrderRepository. clk is the store's
// authoritative time source; feed may be nil.
func NewOrderRepository(db *sql.DB, clk clock.Clock, feed ChangeFeed) *OrderRepository {
	if clk == nil {
		clk = clock.New()
	}
	return &OrderRepository{db: db, clk: clk, feed: feed}
}

const orderColumns = `id, status, is_vip, date_placed, date_delivered, user_id, street, town, house_number, full_address, items, total_cost, tip, latitude, longitude`

// Create inserts a new queued, unclaimed order. The id and date_placed are
// assigned here, not by the caller.
func (r *OrderRepository) Create(ctx context.Context, o *models.Order) (*models.Order, error) {
	if o == nil {
		return nil, errors.New("order is nil")
	}
	o.ID = uuid.NewString()
	o.Status = models.OrderStatusQueued
	o.UserID = nil
	o.DateDelivered = nil
	o.DatePlaced = r.clk.Now()
	if err := o.Validate(); err != nil {
		return nil, err
	}
	items, err := json.Marshal(o.Items)
	if err != nil {
		return nil, fmt.Errorf("encode items: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	_, err = r.db.ExecContext(ctx, `INSERT INTO orders (id, status, is_vip, date_placed, street, town, house_number, full_address, items, total_cost, tip, latitude, longitude) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		o.ID, string(o.Status), o.IsVIP, formatTime(o.DatePlaced), o.Address.Street, o.Address.Town, o.Address.Number, o.Address.FullAddress,
		string(items), o.TotalCost.StringFixed(2), o.Tip.StringFixed(2), o.Latitude, o.Longitude)
	if err != nil {
		return nil, err
	}
	return r.GetByID(ctx, o.ID)
}

// GetByID fetches an order by its ID.
func (r *OrderRepository) GetByID(ctx context.Context, id string) (*models.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	o, err := scanOrder(r.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return o, nil
}

// Claim assigns a queued, unclaimed order to userID and moves it en route.
// It reports false when another claimant got there first or the order is
// no longer queued.
func (r *OrderRepository) Claim(ctx context.Context, id, userID string) (bool, error) {
	return r.transition(ctx, id, models.OrderStatusQueued, models.OrderStatusEnRoute,
		func(o *models.Order) { o.UserID = &userID },
		`UPDATE orders SET status = 'en_route', user_id = ? WHERE id = ? AND status = 'queued' AND user_id IS NULL`,
		userID, id)
}

// MarkDelivered moves an en route order held by userID to delivered, stamping
// date_delivered with the store clock.
func (r *OrderRepository) MarkDelivered(ctx context.Context, id, userID string) (bool, error) {
	stamp := r.clk.Now().UTC().Truncate(time.Microsecond)
	return r.transition(ctx, id, models.OrderStatusEnRoute, models.OrderStatusDelivered,
		func(o *models.Order) { o.DateDelivered = &stamp },
		`UPDATE orders SET status = 'delivered', date_delivered = ? WHERE id = ? AND user_id = ? AND status = 'en_route'`,
		formatTime(stamp), id, userID)
}

// MarkCancelled moves an en route order held by userID to cancelled.
func (r *OrderRepository) MarkCancelled(ctx context.Context, id, userID string) (bool, error) {
	return r.transition(ctx, id, models.OrderStatusEnRoute, models.OrderStatusCancelled,
		func(*models.Order) {},
		`UPDATE orders SET status = 'cancelled' WHERE id = ? AND user_id = ? AND status = 'en_route'`,
		id, userID)
}

// transition runs a conditional status update. Only the caller whose UPDATE
// touched the row publishes the change, so each edge is emitted once. If the
// row cannot be re-read after the update, the change is published from the
// pre-update order with apply's fields set, since the write has committed.
func (r *OrderRepository) transition(ctx context.Context, id string, from, to models.OrderStatus, apply func(*models.Order), query string, args ...any) (bool, error) {
	if !models.CanTransition(from, to) {
		return false, fmt.Errorf("illegal transition %s -> %s", from, to)
	}
	before, err := r.GetByID(ctx, id)
	if err != nil {
		return false, err
	}
	if before.Status != from {
		return false, nil
	}

	execCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	res, err := r.db.ExecContext(execCtx, query, args...)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		return false, nil
	}

	after, err := r.GetByID(ctx, id)
	if err != nil {
		synth := *before
		synth.Status = to
		apply(&synth)
		after = &synth
	}
	if r.feed != nil {
		r.feed.PublishOrderChange(models.OrderChange{Before: *before, After: *after})
	}
	return true, nil
}

// CountActiveByUser returns how many orders userID currently has en route.
func (r *OrderRepository) CountActiveByUser(ctx context.Context, userID string) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM orders WHERE user_id = ? AND status = 'en_route'`, userID).Scan(&n)
	return n, err
}

// DeleteStaleQueued removes unclaimed queued orders placed before the cutoff.
func (r *OrderRepository) DeleteStaleQueued(ctx context.Context, placedBefore time.Time) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	res, err := r.db.ExecContext(ctx, `DELETE FROM orders WHERE status = 'queued' AND user_id IS NULL AND date_placed < ?`, formatTime(placedBefore))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

type rowScanner interface {
	Scan(dest ...any) error
}

// scanOrder reads one row selected with orderColumns.
func scanOrder(row rowScanner) (*models.Order, error) {
	var o models.Order
	var status, placed, items string
	var delivered, userID sql.NullString
	var lat, lng sql.NullFloat64
	if err := row.Scan(&o.ID, &status, &o.IsVIP, &placed, &delivered, &userID,
		&o.Address.Street, &o.Address.Town, &o.Address.Number, &o.Address.FullAddress,
		&items, &o.TotalCost, &o.Tip, &lat, &lng); err != nil {
		return nil, err
	}
	o.Status = models.OrderStatus(status)
	var err error
	if o.DatePlaced, err = parseTime(placed); err != nil {
		return nil, fmt.Errorf("parse date_placed: %w", err)
	}
	if o.DateDelivered, err = parseNullTime(delivered); err != nil {
		return nil, fmt.Errorf("parse date_delivered: %w", err)
	}
	if userID.Valid {
		v := userID.String
		o.UserID = &v
	}
	if err := json.Unmarshal([]byte(items), &o.Items); err != nil {
		return nil, fmt.Errorf("decode items: %w", err)
	}
	if lat.Valid {
		v := lat.Float64
		o.Latitude = &v
	}
	if lng.Valid {
		v := lng.Float64
		o.Longitude = &v
	}
	return &o, nil
}
