package repository

import (
	"context"
	"errors"
	"time"

	"pizzaRun/models"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

// ChangeFeed receives every committed order status change.
type ChangeFeed interface {
	PublishOrderChange(models.OrderChange)
}

// UserRepositoryI defines operations on User entities.
type UserRepositoryI interface {
	Ensure(ctx context.Context, id string) (*models.User, error)
	GetByID(ctx context.Context, id string) (*models.User, error)
}

// OrderRepositoryI defines operations on Order entities.
type OrderRepositoryI interface {
	Create(ctx context.Context, o *models.Order) (*models.Order, error)
	GetByID(ctx context.Context, id string) (*models.Order, error)
	Claim(ctx context.Context, id, userID string) (bool, error)
	MarkDelivered(ctx context.Context, id, userID string) (bool, error)
	MarkCancelled(ctx context.Context, id, userID string) (bool, error)
	ListActiveByUser(ctx context.Context, userID string) ([]models.Order, error)
	CountActiveByUser(ctx context.Context, userID string) (int, error)
	ListQueued(ctx context.Context, limit int) ([]models.Order, error)
	DeleteStaleQueued(ctx context.Context, placedBefore time.Time) (int64, error)
}

// SessionRepositoryI defines operations on play sessions.
type SessionRepositoryI interface {
	Create(ctx context.Context, userID string) (*models.Session, error)
	GetActiveByUser(ctx context.Context, userID string) (*models.Session, error)
	Touch(ctx context.Context, id string) error
	Close(ctx context.Context, id string, status models.SessionStatus) error
	ListIdle(ctx context.Context, inactiveSince time.Time) ([]models.Session, error)
}

// TokenRepositoryI defines operations on push registrations.
type TokenRepositoryI interface {
	Register(ctx context.Context, userID, token string) error
	ListAll(ctx context.Context) ([]string, error)
}
