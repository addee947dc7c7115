package models

import (
	"slices"
	"time"

	"github.com/shopspring/decimal"
)

// LifetimeStats are a user's accumulated delivery totals. Values never decrease.
type LifetimeStats struct {
	UserID          string          `db:"user_id" json:"-"`
	TotalDeliveries int             `db:"total_deliveries" json:"total_deliveries"`
	TotalDistanceKm float64         `db:"total_distance_km" json:"total_distance_km"`
	UniqueStreets   []string        `db:"unique_streets" json:"unique_streets"`
	TotalTips       decimal.Decimal `db:"total_tips" json:"total_tips"`
}

// AddStreet records street once. Empty names are ignored.
func (s *LifetimeStats) AddStreet(street string) {
	if street == "" || slices.Contains(s.UniqueStreets, street) {
		return
	}
	s.UniqueStreets = append(s.UniqueStreets, street)
}

// Achievement records that a user unlocked a catalog entry.
type Achievement struct {
	ID          string    `db:"achievement_id" json:"id"`
	Title       string    `db:"title" json:"title"`
	Description string    `db:"description" json:"description"`
	Icon        string    `db:"icon" json:"icon"`
	UnlockedAt  time.Time `db:"unlocked_at" json:"unlocked_at"`
}
