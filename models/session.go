package models

import "time"

// SessionStatus is the state of a play session.
type SessionStatus string

const (
	SessionStatusActive  SessionStatus = "active"
	SessionStatusEnded   SessionStatus = "ended"
	SessionStatusTimeout SessionStatus = "timeout"
)

// Session brackets one period of play. Closed sessions are never reopened.
type Session struct {
	ID           string        `db:"id" json:"id"`
	UserID       string        `db:"user_id" json:"user_id"`
	Status       SessionStatus `db:"status" json:"status"`
	StartedAt    time.Time     `db:"started_at" json:"started_at"`
	EndedAt      *time.Time    `db:"ended_at" json:"ended_at,omitempty"`
	LastActivity time.Time     `db:"last_activity" json:"last_activity"`
}
