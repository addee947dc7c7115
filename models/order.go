package models

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

// OrderStatus represents the current progress of an order.
type OrderStatus string

const (
	OrderStatusQueued    OrderStatus = "queued"
	OrderStatusEnRoute   OrderStatus = "en_route"
	OrderStatusDelivered OrderStatus = "delivered"
	OrderStatusCancelled OrderStatus = "cancelled"
)

// Terminal reports whether no further transitions apply.
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusDelivered || s == OrderStatusCancelled
}

// Valid reports whether s is a known status.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusQueued, OrderStatusEnRoute, OrderStatusDelivered, OrderStatusCancelled:
		return true
	}
	return false
}

// transitions lists the allowed forward moves. Nothing moves backwards.
var transitions = map[OrderStatus][]OrderStatus{
	OrderStatusQueued:  {OrderStatusEnRoute},
	OrderStatusEnRoute: {OrderStatusDelivered, OrderStatusCancelled},
}

// CanTransition reports whether from -> to is a legal move.
func CanTransition(from, to OrderStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ErrInvalidOrder is returned when an order violates an entity invariant.
var ErrInvalidOrder = errors.New("invalid order")

// Address is the street address an order is delivered to.
type Address struct {
	Street      string `json:"street" validate:"required"`
	Town        string `json:"town" validate:"required"`
	Number      string `json:"number" validate:"required"`
	FullAddress string `json:"full_address" validate:"required"`
}

// Order represents one delivery task. UserID is the claimant and stays nil
// while the order sits in the queue.
type Order struct {
	ID            string          `db:"id" json:"id"`
	Status        OrderStatus     `db:"status" json:"status" validate:"required"`
	IsVIP         bool            `db:"is_vip" json:"is_vip"`
	DatePlaced    time.Time       `db:"date_placed" json:"date_placed"`
	DateDelivered *time.Time      `db:"date_delivered" json:"date_delivered,omitempty"`
	UserID        *string         `db:"user_id" json:"user_id,omitempty"`
	Address       Address         `json:"address"`
	Items         []string        `db:"items" json:"items" validate:"required,min=1,dive,required"`
	TotalCost     decimal.Decimal `db:"total_cost" json:"total_cost"`
	Tip           decimal.Decimal `db:"tip" json:"tip"`
	Latitude      *float64        `db:"latitude" json:"latitude,omitempty" validate:"omitempty,latitude"`
	Longitude     *float64        `db:"longitude" json:"longitude,omitempty" validate:"omitempty,longitude"`
}

// HasCoordinates reports whether the delivery target is known.
func (o *Order) HasCoordinates() bool {
	return o.Latitude != nil && o.Longitude != nil
}

// ClaimedBy reports whether uid holds the claim on the order.
func (o *Order) ClaimedBy(uid string) bool {
	return o.UserID != nil && *o.UserID == uid
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func entityValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// Validate checks the struct tags and the cross-field invariants of an order.
func (o *Order) Validate() error {
	if o == nil {
		return fmt.Errorf("%w: nil", ErrInvalidOrder)
	}
	if err := entityValidator().Struct(o); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidOrder, err)
	}
	if !o.Status.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidOrder, o.Status)
	}
	if o.TotalCost.IsNegative() || o.Tip.IsNegative() {
		return fmt.Errorf("%w: negative amount", ErrInvalidOrder)
	}
	if (o.DateDelivered != nil) != (o.Status == OrderStatusDelivered) {
		return fmt.Errorf("%w: date_delivered must be set iff delivered", ErrInvalidOrder)
	}
	if o.Status == OrderStatusEnRoute && o.UserID == nil {
		return fmt.Errorf("%w: en_route order has no claimant", ErrInvalidOrder)
	}
	return nil
}

// OrderChange is the before/after pair the store emits on every status write.
type OrderChange struct {
	Before Order
	After  Order
}

// BecameDelivered reports whether the change is the edge into delivered.
func (c OrderChange) BecameDelivered() bool {
	return c.Before.Status != OrderStatusDelivered && c.After.Status == OrderStatusDelivered
}
