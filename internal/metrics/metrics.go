// Package metrics holds the Prometheus collectors for the game. A nil
// *Collector is valid and records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "pizzarun"

// Collector records order, lifecycle and achievement events.
type Collector struct {
	ordersGenerated      *prometheus.CounterVec
	generatorFallbacks   *prometheus.CounterVec
	transitions          *prometheus.CounterVec
	transitionFailures   *prometheus.CounterVec
	achievementsUnlocked *prometheus.CounterVec
	activeSessions       prometheus.Gauge
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) (*Collector, error) {
	c := &Collector{
		ordersGenerated: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "generator",
				Name:      "orders_total",
				Help:      "Orders generated, by VIP flag",
			},
			[]string{"vip"},
		),
		generatorFallbacks: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "generator",
				Name:      "fallbacks_total",
				Help:      "Upstream dependencies replaced by their fallback",
			},
			[]string{"dependency"},
		),
		transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "lifecycle",
				Name:      "transitions_total",
				Help:      "Order status transitions applied, by target status",
			},
			[]string{"status"},
		),
		transitionFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "lifecycle",
				Name:      "transition_failures_total",
				Help:      "Status writes that failed and were left for the next cycle",
			},
			[]string{"status"},
		),
		achievementsUnlocked: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "achievements",
				Name:      "unlocked_total",
				Help:      "Achievements unlocked, by achievement id",
			},
			[]string{"achievement"},
		),
		activeSessions: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "lifecycle",
				Name:      "active_sessions",
				Help:      "Play sessions with a running tracker",
			},
		),
	}
	if reg == nil {
		return c, nil
	}
	for _, m := range []prometheus.Collector{
		c.ordersGenerated,
		c.generatorFallbacks,
		c.transitions,
		c.transitionFailures,
		c.achievementsUnlocked,
		c.activeSessions,
	} {
		if err := reg.Register(m); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (c *Collector) OrderGenerated(vip bool) {
	if c == nil {
		return
	}
	label := "false"
	if vip {
		label = "true"
	}
	c.ordersGenerated.WithLabelValues(label).Inc()
}

// Fallback records that dependency was unavailable and its fallback was used.
func (c *Collector) Fallback(dependency string) {
	if c == nil {
		return
	}
	c.generatorFallbacks.WithLabelValues(dependency).Inc()
}

func (c *Collector) Transition(status string) {
	if c == nil {
		return
	}
	c.transitions.WithLabelValues(status).Inc()
}

func (c *Collector) TransitionFailed(status string) {
	if c == nil {
		return
	}
	c.transitionFailures.WithLabelValues(status).Inc()
}

func (c *Collector) AchievementUnlocked(id string) {
	if c == nil {
		return
	}
	c.achievementsUnlocked.WithLabelValues(id).Inc()
}

func (c *Collector) SessionStarted() {
	if c == nil {
		return
	}
	c.activeSessions.Inc()
}

func (c *Collector) SessionEnded() {
	if c == nil {
		return
	}
	c.activeSessions.Dec()
}
