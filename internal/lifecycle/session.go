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

var (
	ErrSessionActive   = errors.New("session already active")
	ErrNoActiveSession = errors.New("no active session")
	ErrShuttingDown    = errors.New("session manager is shutting down")
)

// SessionStore persists play sessions.
type SessionStore interface {
	Create(ctx context.Context, userID string) (*models.Session, error)
	GetActiveByUser(ctx context.Context, userID string) (*models.Session, error)
	GetByID(ctx context.Context, id string) (*models.Session, error)
	Touch(ctx context.Context, id string) error
	Close(ctx context.Context, id string, status models.SessionStatus) error
	ListIdle(ctx context.Context, inactiveSince time.Time) ([]models.Session, error)
}

type liveSession struct {
	session models.Session
	tracker *Tracker
}

// SessionManager owns the tracker of every active play session.
type SessionManager struct {
	engine      *Engine
	sessions    SessionStore
	clk         clock.Clock
	idleTimeout time.Duration
	tick        time.Duration
	metrics     *metrics.Collector
	logger      *slog.Logger

	// base is the parent context for tracker loops; trackers outlive the
	// request that started them.
	base context.Context

	// mu guards the maps and closed only; store calls happen outside it.
	mu       sync.Mutex
	live     map[string]*liveSession
	starting map[string]struct{}
	closed   bool
}

// SessionConfig holds the timing of a SessionManager.
type SessionConfig struct {
	IdleTimeout time.Duration
	Tick        time.Duration
}

func NewSessionManager(base context.Context, engine *Engine, sessions SessionStore, clk clock.Clock, cfg SessionConfig, m *metrics.Collector, logger *slog.Logger) *SessionManager {
	if clk == nil {
		clk = clock.New()
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 15 * time.Minute
	}
	return &SessionManager{
		engine:      engine,
		sessions:    sessions,
		clk:         clk,
		idleTimeout: cfg.IdleTimeout,
		tick:        cfg.Tick,
		metrics:     m,
		logger:      logger,
		base:        base,
		live:        make(map[string]*liveSession),
		starting:    make(map[string]struct{}),
	}
}

// StartSession opens a session for userID and starts its tracker. A session
// left open in the store without a running tracker, for example after a
// restart, is closed as timed out first. The user is reserved while the
// session is being opened so a concurrent start fails with ErrSessionActive.
func (m *SessionManager) StartSession(ctx context.Context, userID string) (*models.Session, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrShuttingDown
	}
	_, live := m.live[userID]
	_, pending := m.starting[userID]
	if live || pending {
		m.mu.Unlock()
		return nil, ErrSessionActive
	}
	m.starting[userID] = struct{}{}
	m.mu.Unlock()

	ls, err := m.open(ctx, userID)

	m.mu.Lock()
	delete(m.starting, userID)
	if err != nil {
		m.mu.Unlock()
		return nil, err
	}
	if m.closed {
		m.mu.Unlock()
		if _, err := m.close(ctx, ls, models.SessionStatusEnded); err != nil {
			m.logger.Error("close session on shutdown failed", "session_id", ls.session.ID, "error", err)
		}
		return nil, ErrShuttingDown
	}
	m.live[userID] = ls
	m.mu.Unlock()

	m.logger.Info("session started", "user_id", userID, "session_id", ls.session.ID)
	s := ls.session
	return &s, nil
}

func (m *SessionManager) open(ctx context.Context, userID string) (*liveSession, error) {
	stale, err := m.sessions.GetActiveByUser(ctx, userID)
	switch {
	case err == nil:
		if err := m.sessions.Close(ctx, stale.ID, models.SessionStatusTimeout); err != nil {
			return nil, fmt.Errorf("close stale session: %w", err)
		}
	case !errors.Is(err, repository.ErrNotFound):
		return nil, fmt.Errorf("load active session: %w", err)
	}

	s, err := m.sessions.Create(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	sessionID := s.ID
	tr := NewTracker(m.engine, userID, m.tick, m.logger, func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(m.base), 3*time.Second)
		defer cancel()
		if err := m.sessions.Touch(ctx, sessionID); err != nil {
			m.logger.Warn("touch session failed", "session_id", sessionID, "error", err)
		}
	})
	if err := tr.Start(m.base); err != nil {
		return nil, err
	}
	m.metrics.SessionStarted()
	return &liveSession{session: *s, tracker: tr}, nil
}

// EndSession stops the player's tracker and closes the session as ended.
func (m *SessionManager) EndSession(ctx context.Context, userID string) (*models.Session, error) {
	m.mu.Lock()
	ls, ok := m.live[userID]
	delete(m.live, userID)
	m.mu.Unlock()
	if !ok {
		return nil, ErrNoActiveSession
	}
	return m.close(ctx, ls, models.SessionStatusEnded)
}

func (m *SessionManager) close(ctx context.Context, ls *liveSession, status models.SessionStatus) (*models.Session, error) {
	ls.tracker.Stop()
	m.metrics.SessionEnded()
	if err := m.sessions.Close(ctx, ls.session.ID, status); err != nil {
		return nil, fmt.Errorf("close session: %w", err)
	}
	m.logger.Info("session closed", "user_id", ls.session.UserID, "session_id", ls.session.ID, "status", string(status))
	return m.sessions.GetByID(ctx, ls.session.ID)
}

// ReportLocation feeds a fix to the player's tracker and evaluates at once.
// Without an active session the orders are evaluated directly.
func (m *SessionManager) ReportLocation(ctx context.Context, userID string, pos Position) (*Evaluation, error) {
	m.mu.Lock()
	ls, ok := m.live[userID]
	m.mu.Unlock()
	if ok {
		return ls.tracker.Report(ctx, pos)
	}
	return m.engine.Evaluate(ctx, userID, pos)
}

// WaitTime returns the tracker's current total wait time.
func (m *SessionManager) WaitTime(userID string) (time.Duration, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ls, ok := m.live[userID]
	if !ok {
		return 0, false
	}
	return ls.tracker.WaitTime(), true
}

// ReapIdle closes every active session without activity for the idle
// timeout as timed out. It returns how many were closed.
func (m *SessionManager) ReapIdle(ctx context.Context) (int, error) {
	idle, err := m.sessions.ListIdle(ctx, m.clk.Now().Add(-m.idleTimeout))
	if err != nil {
		return 0, fmt.Errorf("list idle sessions: %w", err)
	}
	closed := 0
	for _, s := range idle {
		m.mu.Lock()
		ls, ok := m.live[s.UserID]
		if ok && ls.session.ID == s.ID {
			delete(m.live, s.UserID)
		} else {
			ok = false
		}
		m.mu.Unlock()

		if ok {
			if _, err := m.close(ctx, ls, models.SessionStatusTimeout); err != nil {
				m.logger.Error("close idle session failed", "session_id", s.ID, "error", err)
				continue
			}
		} else if err := m.sessions.Close(ctx, s.ID, models.SessionStatusTimeout); err != nil {
			m.logger.Error("close idle session failed", "session_id", s.ID, "error", err)
			continue
		}
		closed++
	}
	return closed, nil
}

// Shutdown stops every tracker and closes their sessions as ended. Later
// starts fail with ErrShuttingDown.
func (m *SessionManager) Shutdown(ctx context.Context) {
	m.mu.Lock()
	m.closed = true
	live := m.live
	m.live = make(map[string]*liveSession)
	m.mu.Unlock()
	for _, ls := range live {
		if _, err := m.close(ctx, ls, models.SessionStatusEnded); err != nil {
			m.logger.Error("close session on shutdown failed", "session_id", ls.session.ID, "error", err)
		}
	}
}
