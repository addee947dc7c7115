package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"pizzaRun/internal/clock"
	"pizzaRun/models"
)

type SessionRepository struct {
	db  *sql.DB
	clk clock.Clock
}

func NewSessionRepository(db *sql.DB, clk clock.Clock) *SessionRepository {
	if clk == nil {
		clk = clock.New()
	}
	return &SessionRepository{db: db, clk: clk}
}

const sessionColumns = `id, user_id, status, started_at, ended_at, last_activity`

// Create opens a new active session for userID.
func (r *SessionRepository) Create(ctx context.Context, userID string) (*models.Session, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	now := r.clk.Now()
	s := &models.Session{
		ID:           uuid.NewString(),
		UserID:       userID,
		Status:       models.SessionStatusActive,
		StartedAt:    now,
		LastActivity: now,
	}
	_, err := r.db.ExecContext(ctx, `INSERT INTO sessions (id, user_id, status, started_at, last_activity) VALUES (?,?,?,?,?)`,
		s.ID, s.UserID, string(s.Status), formatTime(now), formatTime(now))
	if err != nil {
		return nil, err
	}
	return s, nil
}

// GetActiveByUser returns the user's open session.
func (r *SessionRepository) GetActiveByUser(ctx context.Context, userID string) (*models.Session, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	s, err := scanSession(r.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE user_id = ? AND status = 'active' ORDER BY started_at DESC LIMIT 1`, userID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return s, err
}

// GetByID fetches a session by id.
func (r *SessionRepository) GetByID(ctx context.Context, id string) (*models.Session, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	s, err := scanSession(r.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return s, err
}

// Touch records activity on an active session.
func (r *SessionRepository) Touch(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	_, err := r.db.ExecContext(ctx, `UPDATE sessions SET last_activity = ? WHERE id = ? AND status = 'active'`, formatTime(r.clk.Now()), id)
	return err
}

// Close ends an active session. Closing an already closed session is a no-op.
func (r *SessionRepository) Close(ctx context.Context, id string, status models.SessionStatus) error {
	if status == models.SessionStatusActive {
		return errors.New("cannot close a session as active")
	}
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	_, err := r.db.ExecContext(ctx, `UPDATE sessions SET status = ?, ended_at = ? WHERE id = ? AND status = 'active'`,
		string(status), formatTime(r.clk.Now()), id)
	return err
}

// ListIdle returns active sessions with no activity since the cutoff.
func (r *SessionRepository) ListIdle(ctx context.Context, inactiveSince time.Time) ([]models.Session, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	rows, err := r.db.QueryContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE status = 'active' AND last_activity < ? ORDER BY last_activity ASC`, formatTime(inactiveSince))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *s)
	}
	return out, rows.Err()
}

func scanSession(row rowScanner) (*models.Session, error) {
	var s models.Session
	var status, started, last string
	var ended sql.NullString
	if err := row.Scan(&s.ID, &s.UserID, &status, &started, &ended, &last); err != nil {
		return nil, err
	}
	s.Status = models.SessionStatus(status)
	var err error
	if s.StartedAt, err = parseTime(started); err != nil {
		return nil, err
	}
	if s.EndedAt, err = parseNullTime(ended); err != nil {
		return nil, err
	}
	if s.LastActivity, err = parseTime(last); err != nil {
		return nil, err
	}
	return &s, nil
}
