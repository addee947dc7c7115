package testutil

import (
	"context"
	"database/sql"
	"strings"
	"testing"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/shopspring/decimal"
	"google.golang.org/grpc/metadata"

	"pizzaRun/internal/db"
	"pizzaRun/models"
)

// OpenInMemoryDB opens an in-memory SQLite database and applies migrations.
// The test name is folded into the database name so tests never share state.
// The DB is closed via t.Cleanup.
func OpenInMemoryDB(t *testing.T, name string) *sql.DB {
	t.Helper()
	safe := strings.NewReplacer("/", "_", " ", "_", "#", "_").Replace(t.Name())
	d, err := db.Open("file:" + name + "_" + safe + "?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })
	return d
}

// GenerateJWTHS256 returns a signed JWT string with minimal claims used by the app.
func GenerateJWTHS256(t *testing.T, secret, name, kind string) string {
	t.Helper()
	claims := jwt.MapClaims{
		"name": name,
		"kind": kind,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	s, err := token.SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return s
}

// CtxWithBearer returns a context containing gRPC metadata Authorization header with the given token.
func CtxWithBearer(ctx context.Context, token string) context.Context {
	md := metadata.Pairs("authorization", "Bearer "+token)
	return metadata.NewIncomingContext(ctx, md)
}

// NewOrder returns an unsaved order on the given street, priced at cost with
// the given tip, located at (lat, lon).
func NewOrder(street string, lat, lon float64, cost, tip string) *models.Order {
	return &models.Order{
		Address: models.Address{
			Street:      street,
			Town:        "Lodi",
			Number:      "12",
			FullAddress: "12 " + street + ", Lodi, NJ",
		},
		Items:     []string{"1 large cheese pizza", "1 garlic knots"},
		TotalCost: decimal.RequireFromString(cost),
		Tip:       decimal.RequireFromString(tip),
		Latitude:  &lat,
		Longitude: &lon,
	}
}
