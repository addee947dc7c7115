package repository

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"pizzaRun/models"
)

// ListActiveByUser returns the en route orders held by userID, oldest first.
func (r *OrderRepository) ListActiveByUser(ctx context.Context, userID string) ([]models.Order, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	rows, err := r.db.QueryContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE user_id = ? AND status = 'en_route' ORDER BY date_placed ASC, id ASC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanOrderRows(rows)
}

// ListQueued returns unclaimed queued orders, oldest first.
func (r *OrderRepository) ListQueued(ctx context.Context, limit int) ([]models.Order, error) {
	limit = clampPageSize(limit)
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	rows, err := r.db.QueryContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE status = 'queued' AND user_id IS NULL ORDER BY date_placed ASC, id ASC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanOrderRows(rows)
}

// ListUnrecordedDeliveries returns delivered orders that have no delivery
// ledger entry yet, oldest delivery first.
func (r *OrderRepository) ListUnrecordedDeliveries(ctx context.Context, limit int) ([]models.Order, error) {
	limit = clampPageSize(limit)
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	rows, err := r.db.QueryContext(ctx, `SELECT `+orderColumns+` FROM orders o
WHERE o.status = 'delivered' AND o.user_id IS NOT NULL
  AND NOT EXISTS (SELECT 1 FROM delivery_ledger l WHERE l.order_id = o.id)
ORDER BY o.date_delivered ASC, o.id ASC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanOrderRows(rows)
}

// ListOrdersParams represents filters and pagination for ListByUser.
type ListOrdersParams struct {
	UserID   string
	Statuses []models.OrderStatus
	PageSize int
	// Keyset cursor: the date_placed and id of the last order of the previous page.
	AfterPlaced string
	AfterID     string
}

// ListByUser returns a user's orders newest first with keyset pagination.
func (r *OrderRepository) ListByUser(ctx context.Context, p ListOrdersParams) ([]models.Order, error) {
	p.PageSize = clampPageSize(p.PageSize)
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	where := []string{"user_id = ?"}
	args := []any{p.UserID}

	if len(p.Statuses) > 0 {
		placeholders := make([]string, len(p.Statuses))
		for i, s := range p.Statuses {
			placeholders[i] = "?"
			args = append(args, string(s))
		}
		where = append(where, "status IN ("+strings.Join(placeholders, ",")+")")
	}
	if p.AfterPlaced != "" && p.AfterID != "" {
		where = append(where, "(date_placed < ? OR (date_placed = ? AND id < ?))")
		args = append(args, p.AfterPlaced, p.AfterPlaced, p.AfterID)
	}

	query := `SELECT ` + orderColumns + ` FROM orders WHERE ` + strings.Join(where, " AND ") +
		` ORDER BY date_placed DESC, id DESC LIMIT ?`
	args = append(args, p.PageSize)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanOrderRows(rows)
}

// Cursor returns the keyset cursor pointing after o.
func Cursor(o models.Order) (placed, id string) {
	return formatTime(o.DatePlaced), o.ID
}

func clampPageSize(n int) int {
	if n <= 0 {
		return 20
	}
	if n > 100 {
		return 100
	}
	return n
}

// scanOrderRows is a helper to scan rows into Order objects.
func scanOrderRows(rows *sql.Rows) ([]models.Order, error) {
	var out []models.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *o)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
