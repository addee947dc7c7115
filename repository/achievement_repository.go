package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"pizzaRun/internal/clock"
	"pizzaRun/internal/db"
	"pizzaRun/models"
)

// maxTxAttempts bounds retries of a transaction that lost a lock race.
const maxTxAttempts = 5

// AchievementRepository stores lifetime stats, unlocked achievements and the
// ledger of processed deliveries. Writes happen only through RunInTx.
type AchievementRepository struct {
	db  *sql.DB
	clk clock.Clock
}

func NewAchievementRepository(db *sql.DB, clk clock.Clock) *AchievementRepository {
	if clk == nil {
		clk = clock.New()
	}
	return &AchievementRepository{db: db, clk: clk}
}

// AchievementTx is the transactional view over one user's stats and achievements.
type AchievementTx struct {
	tx  *sql.Tx
	now time.Time
}

// Now is the store time shared by every write in this transaction.
func (t *AchievementTx) Now() time.Time { return t.now }

// RunInTx runs fn inside one IMMEDIATE transaction. If the transaction fails
// with lock contention, it is rolled back and fn runs again from scratch, so
// fn must not keep state between attempts.
func (r *AchievementRepository) RunInTx(ctx context.Context, fn func(*AchievementTx) error) error {
	var err error
	for attempt := 1; attempt <= maxTxAttempts; attempt++ {
		err = r.runOnce(ctx, fn)
		if err == nil || !db.IsBusy(err) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt*20) * time.Millisecond):
		}
	}
	return fmt.Errorf("transaction aborted after %d attempts: %w", maxTxAttempts, err)
}

func (r *AchievementRepository) runOnce(ctx context.Context, fn func(*AchievementTx) error) error {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(&AchievementTx{tx: tx, now: r.clk.Now()}); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// RecordDelivery adds orderID to the delivery ledger. It reports false when
// the order was already processed.
func (t *AchievementTx) RecordDelivery(ctx context.Context, orderID, userID string) (bool, error) {
	res, err := t.tx.ExecContext(ctx, `INSERT INTO delivery_ledger (order_id, user_id, processed_at) VALUES (?,?,?) ON CONFLICT(order_id) DO NOTHING`,
		orderID, userID, formatTime(t.now))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// LoadStats returns the user's stats, or zero stats if none exist yet.
func (t *AchievementTx) LoadStats(ctx context.Context, userID string) (*models.LifetimeStats, error) {
	return loadStats(t.tx.QueryRowContext(ctx, statsQuery, userID), userID)
}

// SaveStats upserts the stats row. Only the stats columns are written.
func (t *AchievementTx) SaveStats(ctx context.Context, s *models.LifetimeStats) error {
	streets := s.UniqueStreets
	if streets == nil {
		streets = []string{}
	}
	enc, err := json.Marshal(streets)
	if err != nil {
		return fmt.Errorf("encode streets: %w", err)
	}
	_, err = t.tx.ExecContext(ctx, `
INSERT INTO lifetime_stats (user_id, total_deliveries, total_distance_km, unique_streets, total_tips, updated_at)
VALUES (?,?,?,?,?,?)
ON CONFLICT(user_id) DO UPDATE SET
  total_deliveries = excluded.total_deliveries,
  total_distance_km = excluded.total_distance_km,
  unique_streets = excluded.unique_streets,
  total_tips = excluded.total_tips,
  updated_at = excluded.updated_at`,
		s.UserID, s.TotalDeliveries, s.TotalDistanceKm, string(enc), s.TotalTips.StringFixed(2), formatTime(t.now))
	return err
}

// UnlockedIDs returns the achievement ids userID already holds.
func (t *AchievementTx) UnlockedIDs(ctx context.Context, userID string) (map[string]bool, error) {
	rows, err := t.tx.QueryContext(ctx, `SELECT achievement_id FROM achievements WHERE user_id = ?`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[string]bool{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out[id] = true
	}
	return out, rows.Err()
}

// Unlock writes an achievement stamped with the transaction time. A second
// unlock of the same id is ignored and reported as false.
func (t *AchievementTx) Unlock(ctx context.Context, userID string, a *models.Achievement) (bool, error) {
	a.UnlockedAt = t.now
	res, err := t.tx.ExecContext(ctx, `INSERT INTO achievements (user_id, achievement_id, title, description, icon, unlocked_at) VALUES (?,?,?,?,?,?) ON CONFLICT(user_id, achievement_id) DO NOTHING`,
		userID, a.ID, a.Title, a.Description, a.Icon, formatTime(a.UnlockedAt))
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// Stats returns a user's lifetime stats outside of any transaction.
func (r *AchievementRepository) Stats(ctx context.Context, userID string) (*models.LifetimeStats, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return loadStats(r.db.QueryRowContext(ctx, statsQuery, userID), userID)
}

// ListUnlocked returns a user's achievements in unlock order.
func (r *AchievementRepository) ListUnlocked(ctx context.Context, userID string) ([]models.Achievement, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	rows, err := r.db.QueryContext(ctx, `SELECT achievement_id, title, description, icon, unlocked_at FROM achievements WHERE user_id = ? ORDER BY unlocked_at ASC, achievement_id ASC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.Achievement
	for rows.Next() {
		var a models.Achievement
		var unlocked string
		if err := rows.Scan(&a.ID, &a.Title, &a.Description, &a.Icon, &unlocked); err != nil {
			return nil, err
		}
		if a.UnlockedAt, err = parseTime(unlocked); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

const statsQuery = `SELECT total_deliveries, total_distance_km, unique_streets, total_tips FROM lifetime_stats WHERE user_id = ?`

func loadStats(row *sql.Row, userID string) (*models.LifetimeStats, error) {
	s := &models.LifetimeStats{UserID: userID, UniqueStreets: []string{}, TotalTips: decimal.Zero}
	var streets string
	err := row.Scan(&s.TotalDeliveries, &s.TotalDistanceKm, &streets, &s.TotalTips)
	if errors.Is(err, sql.ErrNoRows) {
		return s, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(streets), &s.UniqueStreets); err != nil {
		return nil, fmt.Errorf("decode streets: %w", err)
	}
	return s, nil
}
