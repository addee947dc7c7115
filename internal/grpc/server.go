package grpcserver

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"pizzaRun/internal/achievements"
	"pizzaRun/internal/auth"
	"pizzaRun/internal/events"
	"pizzaRun/internal/generator"
	"pizzaRun/internal/lifecycle"
	"pizzaRun/repository"
)

const (
	healthCheckMethod = "/grpc.health.v1.Health/Check"
	healthWatchMethod = "/grpc.health.v1.Health/Watch"

	maxPageSize     = 100
	defaultPageSize = 20
)

// Server bundles dependencies and implements DeliveryService.
type Server struct {
	Users        *repository.UserRepository
	Orders       *repository.OrderRepository
	Tokens       *repository.TokenRepository
	Generator    *generator.Generator
	Lifecycle    *lifecycle.Engine
	Sessions     *lifecycle.SessionManager
	Achievements *achievements.Engine
	Broker       *events.Broker
	Logger       *slog.Logger
}

var _ DeliveryServiceServer = (*Server)(nil)

func (s *Server) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}

func respond(fields map[string]any) (*structpb.Struct, error) {
	out, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	return out, nil
}

func pageSize(in *structpb.Struct) int {
	n, ok := numberField(in, "page_size")
	if !ok || n <= 0 {
		return defaultPageSize
	}
	if n > maxPageSize {
		return maxPageSize
	}
	return int(n)
}

// GenerateOrder creates a new queued order.
func (s *Server) GenerateOrder(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	if _, err := auth.RequirePlayer(ctx, s.Users); err != nil {
		return nil, err
	}
	o, err := s.Generator.Generate(ctx)
	if err != nil {
		s.logger().Error("generate order failed", "error", err)
		return nil, status.Error(codes.Internal, "failed to generate order")
	}
	return respond(map[string]any{"order": orderToMap(o)})
}

// ListQueuedOrders returns unclaimed orders, oldest first.
func (s *Server) ListQueuedOrders(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if _, err := auth.RequirePlayer(ctx, s.Users); err != nil {
		return nil, err
	}
	list, err := s.Orders.ListQueued(ctx, pageSize(in))
	if err != nil {
		return nil, status.Errorf(codes.Internal, "list queued: %v", err)
	}
	return respond(map[string]any{"orders": ordersToList(list)})
}

// ClaimOrders claims the given queued orders for the caller. Orders the
// store failed to write are listed under "failed"; the call only errors when
// nothing could be claimed.
func (s *Server) ClaimOrders(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	ids := stringListField(in, "order_ids")
	if len(ids) == 0 {
		return nil, status.Error(codes.InvalidArgument, "order_ids is required")
	}
	p, err := auth.RequirePlayer(ctx, s.Users)
	if err != nil {
		return nil, err
	}
	claimed, err := s.Lifecycle.Claim(ctx, p.Name, ids)
	var failed []string
	if err != nil {
		var ce *lifecycle.ClaimError
		if !errors.As(err, &ce) || len(claimed) == 0 {
			return nil, status.Errorf(codes.Internal, "claim: %v", err)
		}
		failed = ce.Failed
		s.logger().Warn("partial claim", "user_id", p.Name, "claimed", len(claimed), "failed", failed, "error", err)
	}
	return respond(map[string]any{
		"claimed": stringsToList(claimed),
		"failed":  stringsToList(failed),
	})
}

// ListMyOrders retrieves the caller's orders, newest first, with keyset pagination.
func (s *Server) ListMyOrders(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	p, err := auth.RequirePlayer(ctx, s.Users)
	if err != nil {
		return nil, err
	}
	statuses, err := parseStatuses(stringListField(in, "statuses"))
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	params := repository.ListOrdersParams{
		UserID:   p.Name,
		Statuses: statuses,
		PageSize: pageSize(in),
	}
	if token := stringField(in, "page_token"); token != "" {
		placed, id, err := decodeCursor(token)
		if err != nil {
			return nil, status.Errorf(codes.InvalidArgument, "invalid page_token: %v", err)
		}
		params.AfterPlaced, params.AfterID = placed, id
	}

	list, err := s.Orders.ListByUser(ctx, params)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "list orders: %v", err)
	}
	resp := map[string]any{"orders": ordersToList(list), "next_page_token": ""}
	if len(list) == params.PageSize {
		resp["next_page_token"] = encodeCursor(repository.Cursor(list[len(list)-1]))
	}
	return respond(resp)
}

// ReportLocation feeds a position fix to the caller's orders.
func (s *Server) ReportLocation(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	lat, okLat := numberField(in, "latitude")
	lon, okLon := numberField(in, "longitude")
	if !okLat || !okLon {
		return nil, status.Error(codes.InvalidArgument, "latitude and longitude are required")
	}
	if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
		return nil, status.Error(codes.InvalidArgument, "coordinates out of range")
	}
	p, err := auth.RequirePlayer(ctx, s.Users)
	if err != nil {
		return nil, err
	}
	pos := lifecycle.At(lat, lon)
	if avail, ok := boolField(in, "available"); ok {
		pos.Available = avail
	}
	ev, err := s.Sessions.ReportLocation(ctx, p.Name, pos)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "evaluate: %v", err)
	}
	return respond(map[string]any{
		"active":            ev.Active,
		"transitions":       transitionsToList(ev.Transitions),
		"wait_time_seconds": ev.Wait.Total.Seconds(),
		"deadline_seconds":  ev.Wait.Deadline.Seconds(),
	})
}

// StartSession opens a play session for the caller.
func (s *Server) StartSession(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	p, err := auth.RequirePlayer(ctx, s.Users)
	if err != nil {
		return nil, err
	}
	sess, err := s.Sessions.StartSession(ctx, p.Name)
	if err != nil {
		if errors.Is(err, lifecycle.ErrSessionActive) {
			return nil, status.Error(codes.AlreadyExists, err.Error())
		}
		if errors.Is(err, lifecycle.ErrShuttingDown) {
			return nil, status.Error(codes.Unavailable, err.Error())
		}
		return nil, status.Errorf(codes.Internal, "start session: %v", err)
	}
	return respond(map[string]any{"session": sessionToMap(sess)})
}

// EndSession closes the caller's session.
func (s *Server) EndSession(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	p, err := auth.RequirePlayer(ctx, s.Users)
	if err != nil {
		return nil, err
	}
	sess, err := s.Sessions.EndSession(ctx, p.Name)
	if err != nil {
		if errors.Is(err, lifecycle.ErrNoActiveSession) {
			return nil, status.Error(codes.FailedPrecondition, err.Error())
		}
		return nil, status.Errorf(codes.Internal, "end session: %v", err)
	}
	return respond(map[string]any{"session": sessionToMap(sess)})
}

// GetStats returns the caller's lifetime stats.
func (s *Server) GetStats(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	p, err := auth.RequirePlayer(ctx, s.Users)
	if err != nil {
		return nil, err
	}
	st, err := s.Achievements.Stats(ctx, p.Name)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "stats: %v", err)
	}
	return respond(map[string]any{"stats": statsToMap(st)})
}

func (s *Server) ListAchievements(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	p, err := auth.RequirePlayer(ctx, s.Users)
	if err != nil {
		return nil, err
	}
	list, err := s.Achievements.Unlocked(ctx, p.Name)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "achievements: %v", err)
	}
	out := make([]any, 0, len(list))
	for i := range list {
		out = append(out, achievementToMap(&list[i]))
	}
	return respond(map[string]any{"achievements": out})
}

// RegisterPushToken stores a device token for VIP broadcasts.
func (s *Server) RegisterPushToken(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	token := stringField(in, "token")
	if token == "" {
		return nil, status.Error(codes.InvalidArgument, "token is required")
	}
	p, err := auth.RequirePlayer(ctx, s.Users)
	if err != nil {
		return nil, err
	}
	if err := s.Tokens.Register(ctx, p.Name, token); err != nil {
		return nil, status.Errorf(codes.Internal, "register token: %v", err)
	}
	return respond(map[string]any{"registered": true})
}

// WatchAchievements streams the caller's order, achievement and stats events
// until the client goes away.
func (s *Server) WatchAchievements(_ *structpb.Struct, stream grpc.ServerStream) error {
	ctx := stream.Context()
	p, err := auth.RequirePlayer(ctx, s.Users)
	if err != nil {
		return err
	}
	ch := s.Broker.Subscribe(p.Name)
	defer s.Broker.Unsubscribe(p.Name, ch)

	// Headers tell the client the subscription is live.
	if err := stream.SendHeader(nil); err != nil {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-ch:
			msg, err := structpb.NewStruct(eventToMap(ev))
			if err != nil {
				return status.Errorf(codes.Internal, "encode event: %v", err)
			}
			if err := stream.SendMsg(msg); err != nil {
				return err
			}
		}
	}
}

func eventToMap(ev events.Event) map[string]any {
	m := map[string]any{"type": ev.Type, "user_id": ev.UserID}
	if ev.Order != nil {
		m["order"] = orderToMap(ev.Order)
	}
	if ev.Achievement != nil {
		m["achievement"] = achievementToMap(ev.Achievement)
	}
	if ev.Stats != nil {
		m["stats"] = statsToMap(ev.Stats)
	}
	return m
}

// NewServer builds a grpc.Server with logging and auth interceptors, the
// delivery service and the standard health service registered.
func NewServer(secret string, srv *Server, logger *slog.Logger) *grpc.Server {
	if logger == nil {
		logger = slog.Default()
	}
	allow := []string{healthCheckMethod, healthWatchMethod}
	gs := grpc.NewServer(
		grpc.ChainUnaryInterceptor(unaryLogger(logger), auth.NewUnaryAuthInterceptor(secret, allow...)),
		grpc.ChainStreamInterceptor(streamLogger(logger), auth.NewStreamAuthInterceptor(secret, allow...)),
	)
	RegisterDeliveryServiceServer(gs, srv)

	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(gs, hs)
	return gs
}

// StartGRPC listens on addr and serves gs in the background. It returns a
// shutdown function that drains in-flight calls until ctx expires.
func StartGRPC(addr string, gs *grpc.Server) (func(context.Context) error, error) {
	if addr == "" {
		addr = ":50051"
	}
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	go func() { _ = gs.Serve(lis) }()

	return func(ctx context.Context) error {
		done := make(chan struct{})
		go func() { gs.GracefulStop(); close(done) }()
		select {
		case <-done:
			return nil
		case <-ctx.Done():
			gs.Stop()
			return ctx.Err()
		}
	}, nil
}

func unaryLogger(logger *slog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		logCall(logger, info.FullMethod, start, err)
		return resp, err
	}
}

func streamLogger(logger *slog.Logger) grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		start := time.Now()
		err := handler(srv, ss)
		logCall(logger, info.FullMethod, start, err)
		return err
	}
}

func logCall(logger *slog.Logger, method string, start time.Time, err error) {
	code := status.Code(err)
	level := slog.LevelInfo
	if code == codes.Internal || code == codes.Unknown {
		level = slog.LevelError
	}
	logger.Log(context.Background(), level, "grpc call",
		"method", method,
		"code", code.String(),
		"duration_ms", time.Since(start).Milliseconds(),
	)
}

