package grpcserver

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/rand"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"pizzaRun/internal/achievements"
	"pizzaRun/internal/clock"
	"pizzaRun/internal/events"
	"pizzaRun/internal/generator"
	"pizzaRun/internal/lifecycle"
	"pizzaRun/internal/testutil"
	"pizzaRun/repository"
)

const testSecret = "test-secret"

var t0 = time.Date(2024, 3, 9, 18, 0, 0, 0, time.UTC)

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type harness struct {
	client *Client
	conn   *grpc.ClientConn
	clk    *clock.MockClock
}

// newHarness serves the full stack over bufconn. wrap, if given, decorates
// the order store the lifecycle engine writes through.
func newHarness(t *testing.T, wrap ...func(lifecycle.OrderStore) lifecycle.OrderStore) harness {
	t.Helper()
	d := testutil.OpenInMemoryDB(t, "grpc")
	clk := clock.NewMock(t0)
	feed := events.NewFeed()
	broker := events.NewBroker()
	logger := quietLogger()

	users := repository.NewUserRepository(d, clk)
	orders := repository.NewOrderRepository(d, clk, feed)
	tokens := repository.NewTokenRepository(d, clk)
	sessions := repository.NewSessionRepository(d, clk)
	stats := repository.NewAchievementRepository(d, clk)

	gen, err := generator.New(generator.Deps{Orders: orders, Logger: logger, Rand: rand.New(rand.NewSource(7))})
	require.NoError(t, err)
	var store lifecycle.OrderStore = orders
	for _, w := range wrap {
		store = w(store)
	}
	engine := lifecycle.NewEngine(store, clk, nil, logger)
	ach := achievements.NewEngine(stats, nil, logger)

	base, cancel := context.WithCancel(context.Background())
	mgr := lifecycle.NewSessionManager(base, engine, sessions, clk, lifecycle.SessionConfig{Tick: time.Hour}, nil, logger)
	dispatcher := achievements.NewDispatcher(feed, orders, ach, broker, logger)
	done := make(chan struct{})
	go func() {
		_ = dispatcher.Run(base)
		close(done)
	}()

	gs := NewServer(testSecret, &Server{
		Users:        users,
		Orders:       orders,
		Tokens:       tokens,
		Generator:    gen,
		Lifecycle:    engine,
		Sessions:     mgr,
		Achievements: ach,
		Broker:       broker,
		Logger:       logger,
	}, logger)
	lis := bufconn.Listen(1 << 20)
	go func() { _ = gs.Serve(lis) }()

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)

	t.Cleanup(func() {
		_ = conn.Close()
		gs.Stop()
		mgr.Shutdown(context.Background())
		cancel()
		<-done
	})
	return harness{client: NewClient(conn), conn: conn, clk: clk}
}

func asPlayer(t *testing.T, name string) context.Context {
	t.Helper()
	tok := testutil.GenerateJWTHS256(t, testSecret, name, "player")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return metadata.AppendToOutgoingContext(ctx, "authorization", "Bearer "+tok)
}

func mustStruct(t *testing.T, m map[string]any) *structpb.Struct {
	t.Helper()
	s, err := structpb.NewStruct(m)
	require.NoError(t, err)
	return s
}

func (h harness) generate(t *testing.T, ctx context.Context) map[string]any {
	t.Helper()
	out, err := h.client.Call(ctx, MethodGenerateOrder, nil)
	require.NoError(t, err)
	return out.AsMap()["order"].(map[string]any)
}

func TestDelivery_EndToEnd(t *testing.T) {
	h := newHarness(t)
	ctx := asPlayer(t, "alice")

	stream, err := h.client.WatchAchievements(ctx)
	require.NoError(t, err)
	_, err = stream.Header()
	require.NoError(t, err)

	order := h.generate(t, ctx)
	id := order["id"].(string)
	assert.Equal(t, "queued", order["status"])

	out, err := h.client.Call(ctx, MethodClaimOrders, mustStruct(t, map[string]any{"order_ids": []any{id}}))
	require.NoError(t, err)
	assert.Equal(t, []any{id}, out.AsMap()["claimed"])

	out, err = h.client.Call(ctx, MethodReportLocation, mustStruct(t, map[string]any{
		"latitude":  order["latitude"],
		"longitude": order["longitude"],
	}))
	require.NoError(t, err)
	res := out.AsMap()
	transitions := res["transitions"].([]any)
	require.Len(t, transitions, 1)
	assert.Equal(t, "delivered", transitions[0].(map[string]any)["to"])
	assert.Equal(t, float64(1), res["active"])

	var seen []string
	for {
		ev, err := stream.Recv()
		require.NoError(t, err)
		m := ev.AsMap()
		typ := m["type"].(string)
		switch typ {
		case events.TypeOrderStatus:
			seen = append(seen, m["order"].(map[string]any)["status"].(string))
		case events.TypeAchievement:
			seen = append(seen, m["achievement"].(map[string]any)["id"].(string))
		case events.TypeStats:
			seen = append(seen, typ)
		}
		if typ == events.TypeStats {
			break
		}
	}
	assert.Equal(t, []string{"en_route", "delivered", achievements.FirstSlice, achievements.SpeedDemon, events.TypeStats}, seen)

	out, err = h.client.Call(ctx, MethodGetStats, nil)
	require.NoError(t, err)
	st := out.AsMap()["stats"].(map[string]any)
	assert.Equal(t, float64(1), st["total_deliveries"])

	out, err = h.client.Call(ctx, MethodListAchievements, nil)
	require.NoError(t, err)
	assert.Len(t, out.AsMap()["achievements"], 2)
}

func TestAuth_RejectsMissingToken(t *testing.T) {
	h := newHarness(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := h.client.Call(ctx, MethodGenerateOrder, nil)
	assert.Equal(t, codes.Unauthenticated, status.Code(err))

	resp, err := healthpb.NewHealthClient(h.conn).Check(ctx, &healthpb.HealthCheckRequest{})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.GetStatus())
}

func TestValidationErrors(t *testing.T) {
	h := newHarness(t)
	ctx := asPlayer(t, "bob")

	_, err := h.client.Call(ctx, MethodClaimOrders, nil)
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = h.client.Call(ctx, MethodReportLocation, mustStruct(t, map[string]any{"latitude": 40.0}))
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = h.client.Call(ctx, MethodRegisterPushToken, mustStruct(t, map[string]any{"token": " "}))
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = h.client.Call(ctx, MethodListMyOrders, mustStruct(t, map[string]any{"page_token": "%%%"}))
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	_, err = h.client.Call(ctx, MethodListMyOrders, mustStruct(t, map[string]any{"statuses": []any{"lost"}}))
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestSessions(t *testing.T) {
	h := newHarness(t)
	ctx := asPlayer(t, "carol")

	_, err := h.client.Call(ctx, MethodEndSession, nil)
	assert.Equal(t, codes.FailedPrecondition, status.Code(err))

	out, err := h.client.Call(ctx, MethodStartSession, nil)
	require.NoError(t, err)
	assert.Equal(t, "active", out.AsMap()["session"].(map[string]any)["status"])

	_, err = h.client.Call(ctx, MethodStartSession, nil)
	assert.Equal(t, codes.AlreadyExists, status.Code(err))

	out, err = h.client.Call(ctx, MethodEndSession, nil)
	require.NoError(t, err)
	assert.Equal(t, "ended", out.AsMap()["session"].(map[string]any)["status"])
}

func TestListMyOrders_Paginates(t *testing.T) {
	h := newHarness(t)
	ctx := asPlayer(t, "dave")

	var ids []any
	for i := 0; i < 3; i++ {
		ids = append(ids, h.generate(t, ctx)["id"])
		h.clk.Advance(time.Second)
	}
	_, err := h.client.Call(ctx, MethodClaimOrders, mustStruct(t, map[string]any{"order_ids": ids}))
	require.NoError(t, err)

	out, err := h.client.Call(ctx, MethodListMyOrders, mustStruct(t, map[string]any{"page_size": 2}))
	require.NoError(t, err)
	page := out.AsMap()
	first := page["orders"].([]any)
	require.Len(t, first, 2)
	assert.Equal(t, ids[2], first[0].(map[string]any)["id"])
	token := page["next_page_token"].(string)
	require.NotEmpty(t, token)

	out, err = h.client.Call(ctx, MethodListMyOrders, mustStruct(t, map[string]any{"page_size": 2, "page_token": token}))
	require.NoError(t, err)
	second := out.AsMap()["orders"].([]any)
	require.Len(t, second, 1)
	assert.Equal(t, ids[0], second[0].(map[string]any)["id"])
	assert.Equal(t, "", out.AsMap()["next_page_token"])

	out, err = h.client.Call(ctx, MethodListQueuedOrders, nil)
	require.NoError(t, err)
	assert.Empty(t, out.AsMap()["orders"])
}

func TestRegisterPushToken(t *testing.T) {
	h := newHarness(t)
	ctx := asPlayer(t, "erin")

	out, err := h.client.Call(ctx, MethodRegisterPushToken, mustStruct(t, map[string]any{"token": "device-1"}))
	require.NoError(t, err)
	assert.Equal(t, true, out.AsMap()["registered"])
}

func TestCursorRoundTrip(t *testing.T) {
	placed, id, err := decodeCursor(encodeCursor("2024-03-09T18:00:00.000000Z", "abc"))
	require.NoError(t, err)
	assert.Equal(t, "2024-03-09T18:00:00.000000Z", placed)
	assert.Equal(t, "abc", id)

	_, _, err = decodeCursor(encodeCursor("", "abc"))
	assert.Error(t, err)
}

// failingClaims rejects claims of one order id with a store error.
type failingClaims struct {
	lifecycle.OrderStore
	failID string
}

func (s *failingClaims) Claim(ctx context.Context, id, userID string) (bool, error) {
	if id == s.failID {
		return false, errors.New("disk I/O error")
	}
	return s.OrderStore.Claim(ctx, id, userID)
}

func TestClaimOrders_PartialFailure(t *testing.T) {
	fc := &failingClaims{}
	h := newHarness(t, func(inner lifecycle.OrderStore) lifecycle.OrderStore {
		fc.OrderStore = inner
		return fc
	})
	ctx := asPlayer(t, "alice")
	a := h.generate(t, ctx)["id"].(string)
	b := h.generate(t, ctx)["id"].(string)
	fc.failID = b

	out, err := h.client.Call(ctx, MethodClaimOrders, mustStruct(t, map[string]any{"order_ids": []any{a, b}}))
	require.NoError(t, err)
	assert.Equal(t, []any{a}, out.AsMap()["claimed"])
	assert.Equal(t, []any{b}, out.AsMap()["failed"])

	_, err = h.client.Call(ctx, MethodClaimOrders, mustStruct(t, map[string]any{"order_ids": []any{b}}))
	assert.Equal(t, codes.Internal, status.Code(err))

	fc.failID = ""
	out, err = h.client.Call(ctx, MethodClaimOrders, mustStruct(t, map[string]any{"order_ids": []any{b}}))
	require.NoError(t, err)
	assert.Equal(t, []any{b}, out.AsMap()["claimed"])
	assert.Equal(t, []any{}, out.AsMap()["failed"])
}
