package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"pizzaRun/internal/clock"
)

type TokenRepository struct {
	db  *sql.DB
	clk clock.Clock
}

func NewTokenRepository(db *sql.DB, clk clock.Clock) *TokenRepository {
	if clk == nil {
		clk = clock.New()
	}
	return &TokenRepository{db: db, clk: clk}
}

// Register stores a device token for userID. Re-registering is a no-op.
func (r *TokenRepository) Register(ctx context.Context, userID, token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return errors.New("token is empty")
	}
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	_, err := r.db.ExecContext(ctx, `INSERT INTO push_tokens (user_id, token, created_at) VALUES (?,?,?) ON CONFLICT(user_id, token) DO NOTHING`,
		userID, token, formatTime(r.clk.Now()))
	return err
}

// ListAll returns every distinct registered token across users.
func (r *TokenRepository) ListAll(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	rows, err := r.db.QueryContext(ctx, `SELECT DISTINCT token FROM push_tokens ORDER BY token`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
