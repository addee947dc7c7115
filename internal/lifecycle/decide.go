// Package lifecycle moves claimed orders to delivered or cancelled based on
// the player's position and the time since each order was placed.
package lifecycle

import (
	"time"

	"pizzaRun/internal/geo"
	"pizzaRun/models"
)

const (
	// BaseWait is the wait time a player holding up to crowdThreshold
	// orders gets.
	BaseWait       = 30 * time.Minute
	crowdThreshold = 6
)

// WaitTimes are the timings derived from how many orders a player carries.
type WaitTimes struct {
	Extra    time.Duration // added once the player carries more than 6 orders
	Total    time.Duration // BaseWait + Extra
	Deadline time.Duration // Total + BaseWait, measured from date_placed
}

// ComputeWaitTimes returns the wait times for n active orders. Each order past
// the sixth adds BaseWait scaled by 1.1.
func ComputeWaitTimes(n int) WaitTimes {
	var extra time.Duration
	if n > crowdThreshold {
		extra = BaseWait * time.Duration(n-crowdThreshold) * 11 / 10
	}
	total := BaseWait + extra
	return WaitTimes{Extra: extra, Total: total, Deadline: total + BaseWait}
}

// Position is the latest geolocation fix. Available is false when the
// sensor has not produced a fix.
type Position struct {
	Point     geo.Point
	Available bool
}

// At returns an available fix at (lat, lon).
func At(lat, lon float64) Position {
	return Position{Point: geo.Point{Lat: lat, Lon: lon}, Available: true}
}

// Action is what an evaluation decided for one order.
type Action int

const (
	ActionNone Action = iota
	ActionDeliver
	ActionCancel
)

func (a Action) String() string {
	switch a {
	case ActionDeliver:
		return "deliver"
	case ActionCancel:
		return "cancel"
	}
	return "none"
}

// Target is the status the action moves an order to.
func (a Action) Target() models.OrderStatus {
	switch a {
	case ActionDeliver:
		return models.OrderStatusDelivered
	case ActionCancel:
		return models.OrderStatusCancelled
	}
	return ""
}

// Decision is the result of Decide. DistanceMeters is negative when it could
// not be measured.
type Decision struct {
	Action         Action
	DistanceMeters float64
	Elapsed        time.Duration
}

// Decide chooses the transition for one order. Only en route orders move.
// Reaching the geofence wins over the deadline, so an order reached at the
// same moment it expires is delivered.
func Decide(o models.Order, pos Position, now time.Time, activeCount int) Decision {
	d := Decision{DistanceMeters: -1, Elapsed: now.Sub(o.DatePlaced)}
	if o.Status != models.OrderStatusEnRoute {
		return d
	}
	if pos.Available && o.HasCoordinates() {
		d.DistanceMeters = geo.DistanceMeters(pos.Point.Lat, pos.Point.Lon, *o.Latitude, *o.Longitude)
		if d.DistanceMeters <= geo.GeofenceMeters {
			d.Action = ActionDeliver
			return d
		}
	}
	if d.Elapsed > ComputeWaitTimes(activeCount).Deadline {
		d.Action = ActionCancel
	}
	return d
}
