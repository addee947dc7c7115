package models

import "time"

// User is a player. ID is the subject from the auth token.
// It maps to the `users` table in SQLite.
type User struct {
	ID        string    `db:"id" json:"id"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// PushToken is a device registration for broadcast notifications.
type PushToken struct {
	UserID    string    `db:"user_id" json:"user_id"`
	Token     string    `db:"token" json:"token"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}
