package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"claimhub/backend/internal/api/handler"
	"claimhub/backend/internal/api/middleware"
	"claimhub/backend/internal/chathub"
	"claimhub/backend/internal/config"
	"claimhub/backend/internal/notify"
	"claimhub/backend/internal/storage"
	"claimhub/backend/internal/worker"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

const (
	httpShutdownTimeout = 10 * time.Second
	poolShutdownTimeout = 30 * time.Second
)

func main() {
	cfg, err := config.Load()
	logger := newLogger(cfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid configuration")
	}
	logger.Info().Str("env", cfg.Env).Msg("starting ClaimHub backend")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 1. Dependencies
	db := openDatabase(cfg, logger)
	rdb := openRedis(ctx, cfg, logger)
	if rdb != nil {
		defer rdb.Close()
	}
	store := storage.NewStorageService(db, rdb)
	if db != nil {
		if err := store.Migrate(); err != nil {
			logger.Fatal().Err(err).Msg("failed to run migrations")
		}
		logger.Info().Msg("database migrations complete")
	}

	// 2. Realtime hub
	registry := chathub.NewRegistry(logger)
	var fanout chathub.Broadcaster = registry.Rooms()
	var bridge *chathub.PubSubBridge
	if cfg.Realtime.Fanout == config.FanoutRedis {
		bridge = chathub.NewPubSubBridge(store, registry.Rooms(), cfg.Realtime.PubSubChannel, logger)
		fanout = bridge
	}
	routerOpts := []chathub.RouterOption{chathub.WithBroadcaster(fanout)}
	if db != nil {
		routerOpts = append(routerOpts, chathub.WithMessageStore(store))
	}
	router := chathub.NewRouter(registry, logger, routerOpts...)
	notifier := chathub.NewNotifier(fanout)

	// 3. Job pipeline
	queue, err := newQueue(cfg, rdb)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create job queue")
	}
	var poolOpts []worker.PoolOption
	if db != nil {
		poolOpts = append(poolOpts, worker.WithArchiver(store))
	}
	pool := worker.NewPool(worker.PoolConfig{
		NumWorkers:        cfg.Queue.Workers,
		PollInterval:      cfg.Queue.PollInterval,
		VisibilityTimeout: cfg.Queue.VisibilityTimeout,
		JobTimeout:        cfg.Queue.JobTimeout,
	}, queue, logger, poolOpts...)

	localizer, err := notify.NewLocalizer(cfg.LocalesDir)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load notification templates")
	}
	dispatcherOpts := append(senderOptions(cfg, logger), notify.WithPusher(notifier))
	if err := notify.NewDispatcher(localizer, logger, dispatcherOpts...).Register(pool); err != nil {
		logger.Fatal().Err(err).Msg("failed to register job handlers")
	}

	// 4. HTTP
	if !cfg.IsDevelopment() {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()
	r.Use(gin.Recovery(), middleware.Logger(logger))
	h := &handler.Handler{
		Registry: registry,
		Router:   router,
		Notifier: notifier,
		Queue:    queue,
		Log:      logger,
	}
	if db != nil {
		h.History = store
		h.Archive = store
	}
	if cfg.JWTSecret != "" {
		h.Tokens = handler.NewTokenIssuer(cfg.JWTSecret)
	} else {
		logger.Warn().Msg("JWT_SECRET not set, /anonid disabled and handshake tokens ignored")
	}
	h.Routes(r)

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		// Websocket connections manage their own deadlines after the upgrade.
		ReadHeaderTimeout: 10 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	// 5. Run until a signal arrives or a component fails.
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info().Str("addr", cfg.HTTPAddr).Msg("http server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	if bridge != nil {
		g.Go(func() error { return bridge.Run(gctx) })
	}
	if err := pool.Start(gctx); err != nil {
		logger.Fatal().Err(err).Msg("failed to start worker pool")
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutting down")

		httpCtx, cancel := context.WithTimeout(context.Background(), httpShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(httpCtx); err != nil {
			logger.Error().Err(err).Msg("http server forced to shutdown")
		}

		poolCtx, cancelPool := context.WithTimeout(context.Background(), poolShutdownTimeout)
		defer cancelPool()
		if err := pool.Stop(poolCtx); err != nil {
			logger.Error().Err(err).Msg("worker pool did not stop in time")
		}

		closed := registry.CloseAll()
		logger.Info().Int("connections", closed).Msg("closed live connections")
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Msg("server stopped with error")
		os.Exit(1)
	}
	logger.Info().Msg("server stopped")
}

func newLogger(cfg *config.Config) zerolog.Logger {
	if cfg == nil || cfg.IsDevelopment() {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
			With().
			Timestamp().
			Logger()
	}
	return zerolog.New(os.Stdout).
		With().
		Timestamp().
		Logger()
}
