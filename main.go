package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"collabcanvas/config"
	"collabcanvas/config/database"
	"collabcanvas/internal/canvas/service"
	"collabcanvas/internal/command"
	grouprepository "collabcanvas/internal/group/repository"
	groupservice "collabcanvas/internal/group/service"
	"collabcanvas/internal/lock"
	"collabcanvas/internal/presence/channel"
	"collabcanvas/internal/presence/cleanup"
	"collabcanvas/internal/session"
	shaperepository "collabcanvas/internal/shape/repository"
	"collabcanvas/internal/smoothing"
	"collabcanvas/pkg/logger"
	"collabcanvas/router"
	"collabcanvas/socket"

	"github.com/benbjohnson/clock"
)

func main() {
	// 1. Configuration comes from .env and the environment; logging is set up from it.
	cfg := config.Load()
	logger.Init(cfg.Server.LogLevel)
	defer logger.Log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	clk := clock.New()

	// 2. The durable store holds shapes and groups.
	shapes, groups, closeStores := openStores(ctx, cfg, clk)
	defer closeStores()

	// 3. The ephemeral channel carries presence, drags and resizes.
	backend, closeEphemeral := openEphemeral(ctx, cfg, clk)
	defer closeEphemeral()
	ephemeral := channel.New(backend, channel.Options{
		Clock:           clk,
		EventsPerSecond: cfg.Presence.DragEventsPerSecond,
		RetryDelay:      cfg.Presence.PublishRetryDelay,
	})

	locks := lock.NewManager(shapes, clk, cfg.Canvas.LockStaleAfter)
	interpreter := command.NewInterpreter(shapes, locks, clk)

	// 4. One presence sweeper per deployment.
	var sweeper *cleanup.Service
	if cfg.Presence.CleanupEnabled {
		sweeper = cleanup.NewService(ephemeral, clk, cleanup.Config{
			Interval:      cfg.Presence.CleanupInterval,
			InactiveAfter: cfg.Presence.InactiveAfter,
			RemoveAfter:   cfg.Presence.RemoveAfter,
		})
		sweeper.Start(ctx)
		defer sweeper.Stop()
	}

	// 5. The Hub hands every WebSocket connection its own session.
	hub := socket.NewHub(session.Deps{
		Shapes:    shapes,
		Groups:    groupservice.NewGroupService(groups),
		Channel:   ephemeral,
		Locks:     locks,
		Commands:  interpreter,
		Clock:     clk,
		Scheduler: smoothing.NewClockScheduler(clk, cfg.Smoothing.FrameInterval),
	}, session.Options{
		CursorDebounce: cfg.Presence.CursorDebounce,
		MaxSelection:   cfg.Canvas.MaxSelection,
		HistoryCap:     cfg.Canvas.HistoryCap,
		Smoothing:      smoothing.Options{Factor: cfg.Smoothing.Factor, Epsilon: cfg.Smoothing.Epsilon},
	})
	go hub.Run(ctx)

	canvasService := service.NewCanvasService(shapes, groups, interpreter, sweeper)
	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           router.Setup(hub, canvasService, cfg.Auth.JWTSecret),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Sugar.Infof("Canvas backend listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Sugar.Fatalf("HTTP server failed: %v", err)
		}
	}()

	<-ctx.Done()
	logger.Sugar.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Sugar.Errorf("HTTP shutdown: %v", err)
	}
}

func openStores(ctx context.Context, cfg *config.Config, clk clock.Clock) (shaperepository.Store, grouprepository.Store, func()) {
	storeOpts := shaperepository.Options{Clock: clk, HistoryCap: cfg.Canvas.HistoryCap}

	if cfg.Database.Driver == config.DriverMemory {
		logger.Sugar.Warn("Using in-memory shape store; nothing survives a restart")
		return shaperepository.NewMemoryStore(storeOpts), grouprepository.NewMemoryStore(clk), func() {}
	}

	db, err := database.Connect(ctx, cfg.Database)
	if err != nil {
		logger.Sugar.Fatalf("Database: %v", err)
	}
	if cfg.Database.Migrate {
		if err := database.Migrate(ctx, db); err != nil {
			logger.Sugar.Fatalf("Database: %v", err)
		}
	}

	shapes, err := shaperepository.NewShapeRepository(db, database.NewListener(cfg.Database, "shapes"), storeOpts)
	if err != nil {
		logger.Sugar.Fatalf("Shape store: %v", err)
	}
	groups, err := grouprepository.NewGroupRepository(db, database.NewListener(cfg.Database, "groups"), clk)
	if err != nil {
		logger.Sugar.Fatalf("Group store: %v", err)
	}

	return shapes, groups, func() {
		shapes.Close()
		groups.Close()
		db.Close()
	}
}

func openEphemeral(ctx context.Context, cfg *config.Config, clk clock.Clock) (channel.Backend, func()) {
	if cfg.Redis.Driver == config.DriverMemory {
		logger.Sugar.Warn("Using in-memory ephemeral channel; presence is not shared between instances")
		return channel.NewMemoryBackend(clk), func() {}
	}

	client, err := database.ConnectRedis(ctx, cfg.Redis)
	if err != nil {
		logger.Sugar.Fatalf("Ephemeral channel: %v", err)
	}
	return channel.NewRedisBackend(client, cfg.Redis.Prefix), func() { client.Close() }
}
