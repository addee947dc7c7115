package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"pizzaRun/internal/clock"
	"pizzaRun/models"
)

type UserRepository struct {
	db  *sql.DB
	clk clock.Clock
}

func NewUserRepository(db *sql.DB, clk clock.Clock) *UserRepository {
	if clk == nil {
		clk = clock.New()
	}
	return &UserRepository{db: db, clk: clk}
}

// Ensure returns the user with the given id, creating it on first sight.
func (r *UserRepository) Ensure(ctx context.Context, id string) (*models.User, error) {
	if id == "" {
		return nil, errors.New("user id is empty")
	}
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	if _, err := r.db.ExecContext(ctx, `INSERT INTO users (id, created_at) VALUES (?, ?) ON CONFLICT(id) DO NOTHING`,
		id, formatTime(r.clk.Now())); err != nil {
		return nil, err
	}
	return r.GetByID(ctx, id)
}

func (r *UserRepository) GetByID(ctx context.Context, id string) (*models.User, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	var u models.User
	var created string
	err := r.db.QueryRowContext(ctx, `SELECT id, created_at FROM users WHERE id = ?`, id).Scan(&u.ID, &created)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if u.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	return &u, nil
}
