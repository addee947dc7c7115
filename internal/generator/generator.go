// Package generator synthesizes random delivery orders and queues them.
package generator

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"pizzaRun/internal/geo"
	"pizzaRun/internal/geocode"
	"pizzaRun/internal/menu"
	"pizzaRun/internal/metrics"
	"pizzaRun/internal/push"
	"pizzaRun/models"
)

const (
	// VIPChance is the probability an order is flagged VIP.
	VIPChance = 0.15
	// VIPTipMultiplier is applied to the rounded base tip of a VIP order.
	VIPTipMultiplier = 3
	MaxFamilySize    = 6
	tipRate          = 0.10
)

// VIPAlert is broadcast to every registered device when a VIP order is placed.
var VIPAlert = push.Notification{
	Title: "💎 VIP Order Alert!",
	Body:  "A massive VIP pizza order was just placed nearby. Big tip guaranteed!",
}

// OrderCreator persists a new queued order.
type OrderCreator interface {
	Create(ctx context.Context, o *models.Order) (*models.Order, error)
}

// Notifier starts a detached broadcast.
type Notifier interface {
	Go(n push.Notification) <-chan struct{}
}

// Deps are the collaborators of a Generator. Geocoder, Menu, Notifier,
// Metrics and Logger are optional.
type Deps struct {
	Catalog  *Catalog
	Orders   OrderCreator
	Geocoder geocode.Resolver
	Menu     menu.Suggester
	Notifier Notifier
	Metrics  *metrics.Collector
	Logger   *slog.Logger
	Rand     *rand.Rand
}

// Generator builds orders from random draws and upstream suggestions.
type Generator struct {
	catalog  *Catalog
	orders   OrderCreator
	geocoder geocode.Resolver
	menu     menu.Suggester
	notifier Notifier
	metrics  *metrics.Collector
	logger   *slog.Logger

	mu  sync.Mutex
	rng *rand.Rand
}

func New(d Deps) (*Generator, error) {
	if d.Orders == nil {
		return nil, fmt.Errorf("generator: order store is required")
	}
	if d.Catalog == nil {
		c, err := DefaultCatalog()
		if err != nil {
			return nil, err
		}
		d.Catalog = c
	}
	if d.Rand == nil {
		d.Rand = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	return &Generator{
		catalog:  d.Catalog,
		orders:   d.Orders,
		geocoder: d.Geocoder,
		menu:     d.Menu,
		notifier: d.Notifier,
		metrics:  d.Metrics,
		logger:   d.Logger,
		rng:      d.Rand,
	}, nil
}

// draw holds every random choice for one order.
type draw struct {
	address    models.Address
	familySize int
	quote      Quote
	vip        bool
}

// Quote is the price of an order.
type Quote struct {
	Total   decimal.Decimal
	BaseTip decimal.Decimal
	Tip     decimal.Decimal
}

func (g *Generator) roll() draw {
	g.mu.Lock()
	defer g.mu.Unlock()
	d := draw{
		address:    g.catalog.pick(g.rng.Intn),
		familySize: 1 + g.rng.Intn(MaxFamilySize),
	}
	d.quote = estimateCost(d.familySize, g.rng.Float64)
	d.vip = g.rng.Float64() < VIPChance
	if d.vip {
		d.quote.Tip = d.quote.BaseTip.Mul(decimal.NewFromInt(VIPTipMultiplier)).Round(2)
	}
	return d
}

// estimateCost prices an order: a per-person cost in [5,15) times the family
// size times a variance in [0.8,1.2), and a 10% tip with its own variance.
// Both amounts are rounded to cents.
func estimateCost(familySize int, float64n func() float64) Quote {
	costPerPerson := uniform(float64n, 5, 15)
	costVariance := uniform(float64n, 0.8, 1.2)
	total := costPerPerson * float64(familySize) * costVariance

	generosity := uniform(float64n, 0.8, 1.2)
	tip := total * tipRate * generosity

	t := decimal.NewFromFloat(tip).Round(2)
	return Quote{
		Total:   decimal.NewFromFloat(total).Round(2),
		BaseTip: t,
		Tip:     t,
	}
}

func uniform(float64n func() float64, lo, hi float64) float64 {
	return float64n()*(hi-lo) + lo
}

// Generate creates one queued order. Upstream failures fall back to the depot
// coordinate and the default menu; only a failed write is returned.
func (g *Generator) Generate(ctx context.Context) (*models.Order, error) {
	d := g.roll()
	logger := g.logger.With("address", d.address.FullAddress)

	point := g.resolve(ctx, d.address.FullAddress, logger)
	items := g.suggest(ctx, d.familySize, logger)

	lat, lon := point.Lat, point.Lon
	o := &models.Order{
		IsVIP:     d.vip,
		Address:   d.address,
		Items:     items,
		TotalCost: d.quote.Total,
		Tip:       d.quote.Tip,
		Latitude:  &lat,
		Longitude: &lon,
	}
	saved, err := g.orders.Create(ctx, o)
	if err != nil {
		return nil, fmt.Errorf("persist generated order: %w", err)
	}
	g.metrics.OrderGenerated(saved.IsVIP)
	logger.Info("order generated", "order_id", saved.ID, "vip", saved.IsVIP, "family_size", d.familySize)

	if saved.IsVIP && g.notifier != nil {
		g.notifier.Go(VIPAlert)
	}
	return saved, nil
}

func (g *Generator) resolve(ctx context.Context, address string, logger *slog.Logger) geo.Point {
	if g.geocoder == nil {
		g.metrics.Fallback("geocode")
		return geo.Depot
	}
	p, err := g.geocoder.Resolve(ctx, address)
	if err != nil {
		logger.Warn("geocoding unavailable, using depot", "error", err)
		g.metrics.Fallback("geocode")
		return geo.Depot
	}
	return p
}

func (g *Generator) suggest(ctx context.Context, familySize int, logger *slog.Logger) []string {
	if g.menu == nil {
		g.metrics.Fallback("menu")
		return menu.Fallback(familySize)
	}
	items, err := g.menu.Suggest(ctx, familySize)
	if err != nil || len(items) == 0 {
		logger.Warn("menu suggestion unavailable, using default menu", "family_size", familySize, "error", err)
		g.metrics.Fallback("menu")
		return menu.Fallback(familySize)
	}
	return items
}
