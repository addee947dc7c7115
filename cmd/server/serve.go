package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"pizzaRun/internal/achievements"
	"pizzaRun/internal/clock"
	"pizzaRun/internal/config"
	"pizzaRun/internal/db"
	"pizzaRun/internal/events"
	"pizzaRun/internal/generator"
	"pizzaRun/internal/geocode"
	grpcserver "pizzaRun/internal/grpc"
	"pizzaRun/internal/httpserver"
	"pizzaRun/internal/lifecycle"
	"pizzaRun/internal/menu"
	"pizzaRun/internal/metrics"
	"pizzaRun/internal/push"
	"pizzaRun/repository"
)

const shutdownGrace = 10 * time.Second

func run(ctx context.Context, cfg *config.Config, stdout io.Writer) error {
	logger := slog.New(slog.NewJSONHandler(stdout, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))
	logger.Info("configuration loaded", "config", cfg.String())

	// --- SQLite ---
	d, err := db.Open(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		if err := d.Close(); err != nil {
			logger.Error("close db", "error", err)
		}
	}()
	logger.Info("connected to sqlite", "path", cfg.Database.Path)

	// --- Metrics ---
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m, err := metrics.New(reg)
	if err != nil {
		return fmt.Errorf("registering metrics: %w", err)
	}

	// --- Repositories ---
	clk := clock.New()
	feed := events.NewFeed()
	broker := events.NewBroker()
	users := repository.NewUserRepository(d, clk)
	orders := repository.NewOrderRepository(d, clk, feed)
	tokens := repository.NewTokenRepository(d, clk)
	sessions := repository.NewSessionRepository(d, clk)
	stats := repository.NewAchievementRepository(d, clk)

	// --- Upstreams ---
	deps := generator.Deps{Orders: orders, Metrics: m, Logger: logger}
	if cfg.Geocode.APIKey != "" {
		deps.Geocoder = geocode.NewClient(cfg.Geocode.APIKey, cfg.Geocode.BaseURL, cfg.Geocode.RPS)
	} else {
		logger.Warn("GOOGLE_API_KEY not set, orders will be placed at the depot")
	}
	if cfg.Menu.APIKey != "" && cfg.Menu.AssistantID != "" {
		deps.Menu = menu.NewAssistantClient(menu.AssistantConfig{
			APIKey:      cfg.Menu.APIKey,
			AssistantID: cfg.Menu.AssistantID,
			BaseURL:     cfg.Menu.BaseURL,
			RPS:         cfg.Menu.RPS,
			MaxPolls:    cfg.Menu.MaxPolls,
			PollEvery:   cfg.Menu.PollEvery,
		})
	} else {
		logger.Warn("assistant not configured, orders will use the default menu")
	}
	var sender push.Broadcaster = push.Noop{}
	if cfg.Push.Endpoint != "" {
		sender = push.NewHTTPBroadcaster(cfg.Push.Endpoint, cfg.Push.ServerKey)
	}
	deps.Notifier = push.NewDispatcher(tokens, sender, logger)

	gen, err := generator.New(deps)
	if err != nil {
		return fmt.Errorf("building generator: %w", err)
	}

	// --- Engines ---
	engine := lifecycle.NewEngine(orders, clk, m, logger)
	mgr := lifecycle.NewSessionManager(ctx, engine, sessions, clk, lifecycle.SessionConfig{
		IdleTimeout: cfg.Game.SessionIdleTimeout,
		Tick:        cfg.Game.TickInterval,
	}, m, logger)
	ach := achievements.NewEngine(stats, m, logger)
	dispatcher := achievements.NewDispatcher(feed, orders, ach, broker, logger)
	janitor := &lifecycle.Janitor{
		Sessions:  mgr,
		Engine:    engine,
		QueuedTTL:  cfg.Game.QueuedOrderTTL,
		Deliveries: dispatcher,
		Logger:     logger,
	}

	// --- Servers ---
	gs := grpcserver.NewServer(cfg.Auth.JWTSecret, &grpcserver.Server{
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
	stopGRPC, err := grpcserver.StartGRPC(cfg.GRPC.Address, gs)
	if err != nil {
		return fmt.Errorf("starting grpc: %w", err)
	}
	logger.Info("grpc server listening", "addr", cfg.GRPC.Address)

	httpSrv := httpserver.New(cfg.HTTP.Address, logger, map[string]httpserver.Checker{
		"sqlite": db.Pinger{DB: d},
	}, reg)

	// --- Run ---
	// The dispatcher outlives gctx so trackers stopped during shutdown still
	// have their deliveries processed.
	dispatchCtx, stopDispatch := context.WithCancel(context.WithoutCancel(ctx))
	defer stopDispatch()
	dispatchDone := make(chan struct{})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return httpSrv.Run(gctx) })
	g.Go(func() error {
		defer close(dispatchDone)
		return dispatcher.Run(dispatchCtx)
	})
	g.Go(func() error { return janitor.Run(gctx) })
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownGrace)
		defer cancel()
		if err := stopGRPC(shutdownCtx); err != nil {
			logger.Error("grpc shutdown", "error", err)
		}
		mgr.Shutdown(shutdownCtx)

		stopDispatch()
		select {
		case <-dispatchDone:
		case <-shutdownCtx.Done():
		}
		if n, err := dispatcher.Reconcile(shutdownCtx); err != nil {
			logger.Error("final reconcile", "processed", n, "error", err)
		} else if n > 0 {
			logger.Info("final reconcile", "processed", n)
		}
		return httpSrv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
