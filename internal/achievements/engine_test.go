package achievements

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pizzaRun/internal/clock"
	"pizzaRun/internal/events"
	"pizzaRun/internal/geo"
	"pizzaRun/internal/testutil"
	"pizzaRun/models"
	"pizzaRun/repository"
)

var t0 = time.Date(2025, 3, 1, 18, 0, 0, 0, time.UTC)

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type fixture struct {
	engine *Engine
	orders *repository.OrderRepository
	store  *repository.AchievementRepository
	clk    *clock.MockClock
	feed   *events.Feed
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	d := testutil.OpenInMemoryDB(t, "achievements")
	clk := clock.NewMock(t0)
	feed := events.NewFeed()
	_, err := repository.NewUserRepository(d, clk).Ensure(context.Background(), "alice")
	require.NoError(t, err)
	store := repository.NewAchievementRepository(d, clk)
	return fixture{
		engine: NewEngine(store, nil, quietLogger()),
		orders: repository.NewOrderRepository(d, clk, feed),
		store:  store,
		clk:    clk,
		feed:   feed,
	}
}

// deliver places an order on street at p, claims it for alice and delivers
// it after took.
func (f fixture) deliver(t *testing.T, street string, p geo.Point, tip string, took time.Duration) *models.Order {
	t.Helper()
	ctx := context.Background()
	o, err := f.orders.Create(ctx, testutil.NewOrder(street, p.Lat, p.Lon, "40.00", tip))
	require.NoError(t, err)
	ok, err := f.orders.Claim(ctx, o.ID, "alice")
	require.NoError(t, err)
	require.True(t, ok)
	f.clk.Advance(took)
	ok, err = f.orders.MarkDelivered(ctx, o.ID, "alice")
	require.NoError(t, err)
	require.True(t, ok)
	o, err = f.orders.GetByID(ctx, o.ID)
	require.NoError(t, err)
	return o
}

func ids(list []models.Achievement) []string {
	out := make([]string, 0, len(list))
	for _, a := range list {
		out = append(out, a.ID)
	}
	return out
}

func TestProcess_ElmStreetScenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	at := geo.Point{Lat: geo.Depot.Lat + 2.3/geo.KmPerDegree, Lon: geo.Depot.Lon}
	o := f.deliver(t, "Elm Street", at, "4.50", 20*time.Minute)

	res, err := f.engine.Process(ctx, o)
	require.NoError(t, err)
	assert.False(t, res.Duplicate)
	assert.Equal(t, []string{FirstSlice}, ids(res.Unlocked))

	s, err := f.engine.Stats(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 1, s.TotalDeliveries)
	assert.True(t, s.TotalTips.Equal(decimal.RequireFromString("4.50")), "tips %s", s.TotalTips)
	assert.InDelta(t, 2.3, s.TotalDistanceKm, 1e-9)
	assert.Equal(t, []string{"Elm Street"}, s.UniqueStreets)

	held, err := f.engine.Unlocked(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, held, 1)
	assert.Equal(t, "First Slice", held[0].Title)
	assert.Equal(t, f.clk.Now(), held[0].UnlockedAt)
}

func TestProcess_DuplicateTriggerIsNoop(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.deliver(t, "Elm Street", geo.Pizzeria, "3.00", 20*time.Minute)

	_, err := f.engine.Process(ctx, o)
	require.NoError(t, err)
	res, err := f.engine.Process(ctx, o)
	require.NoError(t, err)
	assert.True(t, res.Duplicate)
	assert.Empty(t, res.Unlocked)

	s, err := f.engine.Stats(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 1, s.TotalDeliveries)
	assert.True(t, s.TotalTips.Equal(decimal.RequireFromString("3.00")))
}

func TestProcess_ConcurrentDuplicates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.deliver(t, "Elm Street", geo.Pizzeria, "3.00", 20*time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.engine.Process(ctx, o); err != nil {
				t.Errorf("process: %v", err)
			}
		}()
	}
	wg.Wait()

	s, err := f.engine.Stats(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 1, s.TotalDeliveries)
	held, err := f.engine.Unlocked(ctx, "alice")
	require.NoError(t, err)
	assert.Len(t, held, 1)
}

func TestProcess_SpeedDemonBoundary(t *testing.T) {
	cases := []struct {
		took   time.Duration
		unlock bool
	}{
		{4*time.Minute + 59*time.Second, true},
		{5 * time.Minute, true},
		{5*time.Minute + time.Second, false},
	}
	for _, tc := range cases {
		t.Run(tc.took.String(), func(t *testing.T) {
			f := newFixture(t)
			o := f.deliver(t, "Main Street", geo.Pizzeria, "1.00", tc.took)
			res, err := f.engine.Process(context.Background(), o)
			require.NoError(t, err)
			assert.Equal(t, tc.unlock, contains(ids(res.Unlocked), SpeedDemon))
		})
	}
}

func contains(list []string, id string) bool {
	for _, s := range list {
		if s == id {
			return true
		}
	}
	return false
}

func TestProcess_PizzaTycoonAtHundredthOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	streets := []string{"Main Street", "Union Street", "Elm Street"}
	for i := 1; i <= 101; i++ {
		o := f.deliver(t, streets[i%len(streets)], geo.Pizzeria, "1.00", 10*time.Minute)
		res, err := f.engine.Process(ctx, o)
		require.NoError(t, err)
		got := ids(res.Unlocked)
		switch i {
		case 1:
			assert.Equal(t, []string{FirstSlice}, got)
		case 100:
			assert.Equal(t, []string{PizzaTycoon}, got)
		default:
			assert.Empty(t, got, "delivery %d", i)
		}
	}
	s, err := f.engine.Stats(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 101, s.TotalDeliveries)
	assert.Len(t, s.UniqueStreets, 3)
	assert.True(t, s.TotalTips.Equal(decimal.NewFromInt(101)))

	held, err := f.engine.Unlocked(ctx, "alice")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{FirstSlice, PizzaTycoon}, ids(held))
}

func TestHandleOrderChange_EdgeOnly(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	o := f.deliver(t, "Elm Street", geo.Pizzeria, "2.00", 20*time.Minute)
	enRoute := *o
	enRoute.Status = models.OrderStatusEnRoute
	enRoute.DateDelivered = nil

	res, err := f.engine.HandleOrderChange(ctx, models.OrderChange{Before: *o, After: *o})
	require.NoError(t, err)
	assert.Nil(t, res)

	cancelled := enRoute
	cancelled.Status = models.OrderStatusCancelled
	res, err = f.engine.HandleOrderChange(ctx, models.OrderChange{Before: enRoute, After: cancelled})
	require.NoError(t, err)
	assert.Nil(t, res)

	res, err = f.engine.HandleOrderChange(ctx, models.OrderChange{Before: enRoute, After: *o})
	require.NoError(t, err)
	require.NotNil(t, res)
	assert.Equal(t, 1, res.Stats.TotalDeliveries)
}

func TestProcess_RejectsUndelivered(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.Process(context.Background(), &models.Order{Status: models.OrderStatusEnRoute})
	assert.ErrorIs(t, err, ErrNotDelivered)
}

func TestProcess_NoCoordinatesAddsNoDistance(t *testing.T) {
	f := newFixture(t)
	o := f.deliver(t, "Elm Street", geo.Pizzeria, "2.00", 20*time.Minute)
	o.Latitude, o.Longitude = nil, nil
	_, err := f.engine.Process(context.Background(), o)
	require.NoError(t, err)
	s, err := f.engine.Stats(context.Background(), "alice")
	require.NoError(t, err)
	assert.Zero(t, s.TotalDistanceKm)
}

func TestDispatcher_PublishesOutcome(t *testing.T) {
	f := newFixture(t)
	broker := events.NewBroker()
	sub := broker.Subscribe("alice")
	defer broker.Unsubscribe("alice", sub)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- NewDispatcher(f.feed, f.orders, f.engine, broker, quietLogger()).Run(ctx) }()

	f.deliver(t, "Elm Street", geo.Pizzeria, "2.00", 3*time.Minute)

	var got []string
	timeout := time.After(2 * time.Second)
	for len(got) < 5 {
		select {
		case ev := <-sub:
			assert.Equal(t, "alice", ev.UserID)
			name := ev.Type
			if ev.Achievement != nil {
				name += ":" + ev.Achievement.ID
			}
			if ev.Order != nil {
				name += ":" + string(ev.Order.Status)
			}
			got = append(got, name)
		case <-timeout:
			t.Fatalf("timed out, got %v", got)
		}
	}
	assert.Equal(t, []string{
		"order_status:en_route",
		"order_status:delivered",
		"achievement_unlocked:first_slice",
		"achievement_unlocked:speed_demon",
		"stats_updated",
	}, got)

	cancel()
	require.NoError(t, <-done)
}

// flakyStore fails the first n transactions, as a locked database would.
type flakyStore struct {
	*repository.AchievementRepository
	mu       sync.Mutex
	failures int
}

func (s *flakyStore) RunInTx(ctx context.Context, fn func(*repository.AchievementTx) error) error {
	s.mu.Lock()
	if s.failures > 0 {
		s.failures--
		s.mu.Unlock()
		return errors.New("database is locked")
	}
	s.mu.Unlock()
	return s.AchievementRepository.RunInTx(ctx, fn)
}

func TestReconcile_RecoversFailedDelivery(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	engine := NewEngine(&flakyStore{AchievementRepository: f.store, failures: 1}, nil, quietLogger())
	d := NewDispatcher(f.feed, f.orders, engine, nil, quietLogger())

	f.deliver(t, "Oak Avenue", geo.Pizzeria, "1.00", 20*time.Minute)
	f.deliver(t, "Elm Street", geo.Pizzeria, "1.00", 20*time.Minute)
	f.deliver(t, "Pine Road", geo.Pizzeria, "1.00", 20*time.Minute)
	for f.feed.Len() > 0 {
		change, err := f.feed.Next(ctx)
		require.NoError(t, err)
		d.handle(ctx, change)
	}

	s, err := f.engine.Stats(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, 2, s.TotalDeliveries, "first delivery should have failed")
	assert.NotContains(t, s.UniqueStreets, "Oak Avenue")

	n, err := d.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	s, err = f.engine.Stats(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 3, s.TotalDeliveries)
	assert.Contains(t, s.UniqueStreets, "Oak Avenue")

	n, err = d.Reconcile(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestReconcile_KeepsFailuresForNextPass(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	engine := NewEngine(&flakyStore{AchievementRepository: f.store, failures: 1}, nil, quietLogger())
	d := NewDispatcher(events.NewFeed(), f.orders, engine, nil, quietLogger())
	f.deliver(t, "Oak Avenue", geo.Pizzeria, "1.00", 20*time.Minute)

	n, err := d.Reconcile(ctx)
	assert.Error(t, err)
	assert.Zero(t, n)

	n, err = d.Reconcile(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestDispatcher_RunReconcilesLostFeed(t *testing.T) {
	f := newFixture(t)
	f.deliver(t, "Oak Avenue", geo.Pizzeria, "2.00", 20*time.Minute)
	broker := events.NewBroker()
	sub := broker.Subscribe("alice")
	defer broker.Unsubscribe("alice", sub)

	// A restarted process starts with an empty feed.
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- NewDispatcher(events.NewFeed(), f.orders, f.engine, broker, quietLogger()).Run(ctx) }()

	select {
	case ev := <-sub:
		assert.Equal(t, events.TypeAchievement, ev.Type)
	case <-time.After(2 * time.Second):
		t.Fatal("no event from startup reconcile")
	}
	require.Eventually(t, func() bool {
		s, err := f.engine.Stats(context.Background(), "alice")
		return err == nil && s.TotalDeliveries == 1
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}
