package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollector_Records(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := New(reg)
	require.NoError(t, err)

	c.OrderGenerated(true)
	c.OrderGenerated(false)
	c.OrderGenerated(false)
	c.Transition("delivered")
	c.AchievementUnlocked("first_slice")
	c.Fallback("geocode")
	c.SessionStarted()

	assert.Equal(t, 1.0, testutil.ToFloat64(c.ordersGenerated.WithLabelValues("true")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.ordersGenerated.WithLabelValues("false")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.transitions.WithLabelValues("delivered")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.achievementsUnlocked.WithLabelValues("first_slice")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.generatorFallbacks.WithLabelValues("geocode")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.activeSessions))
}

func TestCollector_DoubleRegisterFails(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := New(reg)
	require.NoError(t, err)
	_, err = New(reg)
	assert.Error(t, err)
}

func TestCollector_NilIsNoop(t *testing.T) {
	var c *Collector
	c.OrderGenerated(true)
	c.Transition("cancelled")
	c.TransitionFailed("cancelled")
	c.AchievementUnlocked("speed_demon")
	c.Fallback("menu")
	c.SessionStarted()
	c.SessionEnded()
}
