// Package achievements keeps lifetime stats and awards achievements when an
// order is delivered.
package achievements

import (
	"time"

	"pizzaRun/models"
)

const (
	FirstSlice  = "first_slice"
	PizzaTycoon = "pizza_tycoon"
	SpeedDemon  = "speed_demon"

	tycoonDeliveries = 100
	speedDemonWindow = 5 * time.Minute
)

// Definition is a catalog entry and the rule that unlocks it.
type Definition struct {
	ID          string
	Title       string
	Description string
	Icon        string
	met         func(stats *models.LifetimeStats, order *models.Order) bool
}

// Catalog lists achievements in evaluation order.
var Catalog = []Definition{
	{
		ID:          FirstSlice,
		Title:       "First Slice",
		Description: "Complete your very first delivery.",
		Icon:        "🍕",
		met: func(s *models.LifetimeStats, _ *models.Order) bool {
			return s.TotalDeliveries == 1
		},
	},
	{
		ID:          PizzaTycoon,
		Title:       "Pizza Tycoon",
		Description: "Complete 100 total deliveries.",
		Icon:        "👑",
		met: func(s *models.LifetimeStats, _ *models.Order) bool {
			return s.TotalDeliveries >= tycoonDeliveries
		},
	},
	{
		ID:          SpeedDemon,
		Title:       "Speed Demon",
		Description: "Complete a delivery within 5 minutes of picking it up.",
		Icon:        "⚡",
		met: func(_ *models.LifetimeStats, o *models.Order) bool {
			return o.DateDelivered != nil && o.DateDelivered.Sub(o.DatePlaced) <= speedDemonWindow
		},
	},
}

// Lookup returns the catalog entry with the given id.
func Lookup(id string) (Definition, bool) {
	for _, d := range Catalog {
		if d.ID == id {
			return d, true
		}
	}
	return Definition{}, false
}

func (d Definition) achievement() *models.Achievement {
	return &models.Achievement{ID: d.ID, Title: d.Title, Description: d.Description, Icon: d.Icon}
}
