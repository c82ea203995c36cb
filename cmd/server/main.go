// amora chat server: edge functions, chat API and realtime feed.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ashureev/amora/internal/access"
	"github.com/ashureev/amora/internal/api"
	"github.com/ashureev/amora/internal/apikey"
	"github.com/ashureev/amora/internal/config"
	"github.com/ashureev/amora/internal/identity"
	"github.com/ashureev/amora/internal/media"
	"github.com/ashureev/amora/internal/messaging"
	"github.com/ashureev/amora/internal/realtime"
	"github.com/ashureev/amora/internal/realtime/bus"
	"github.com/ashureev/amora/internal/relay"
	"github.com/ashureev/amora/internal/store"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	if err := run(cfg, logger); err != nil {
		slog.Error("Server exited with error", "error", err)
		os.Exit(1)
	}
	slog.Info("Server stopped successfully")
}

func run(cfg *config.Config, logger *slog.Logger) error {
	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment(), "db_driver", cfg.DB.Driver)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize dependencies.
	repo, err := store.Open(cfg.DB.Driver, cfg.DSN())
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()
	slog.Info("Database connected")

	feedBus, err := newBus(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = feedBus.Close() }()

	hub := realtime.NewHub()
	if err := feedBus.StartForwarder(ctx, hub.Broadcast); err != nil {
		return err
	}

	mediaStore, err := media.NewStore(cfg.Media.Dir, cfg.Media.PublicBaseURL, cfg.Media.MaxBytes)
	if err != nil {
		return err
	}

	dispatcher := relay.NewDispatcher(relay.Config{
		Workers:        cfg.Relay.Workers,
		QueueSize:      cfg.Relay.QueueSize,
		MaxAttempts:    cfg.Relay.MaxAttempts,
		AttemptTimeout: cfg.Relay.AttemptTimeout,
		BaseBackoff:    cfg.Relay.BaseBackoff,
	}, &http.Client{}, logger)

	// Initialize services.
	users := identity.NewVerifier(cfg.Auth.JWTSecret, cfg.Auth.JWTIssuer)
	keys := apikey.NewService(repo)
	checker := access.NewChecker(repo)
	svc := messaging.NewService(repo, checker, keys, feedBus, dispatcher, logger)

	var limiter *api.RateLimiter
	if cfg.RateLimit.Enabled {
		limiter = api.NewRateLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst)
		defer limiter.Stop()
	}

	// Initialize handlers.
	handler := api.NewRouter(api.Routes{
		Users:          users,
		Health:         api.NewHealthHandler(repo),
		Functions:      api.NewFunctionsHandler(svc, users, limiter),
		Chats:          api.NewChatHandler(checker, svc, svc),
		Media:          api.NewMediaHandler(mediaStore),
		Feed:           realtime.NewWebSocketHandler(repo, hub, cfg.FrontendURL, cfg.IsDevelopment()),
		AllowedOrigins: cfg.AllowedOrigins(),
		AccessLog:      true,
	})

	// Websocket feeds are long lived, so there is no WriteTimeout.
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      0,
		IdleTimeout:       120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	// Relay workers outlive the signal context so queued jobs drain on shutdown.
	relayCtx, cancelRelay := context.WithCancel(context.Background())
	defer cancelRelay()
	dispatcher.Start(relayCtx)

	g.Go(func() error {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("Shutting down gracefully...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("Server forced to shutdown", "error", err)
		}
		if err := dispatcher.Stop(shutdownCtx); err != nil {
			slog.Warn("Relay queue not drained before shutdown", "error", err)
			cancelRelay()
		}
		return nil
	})

	return g.Wait()
}

func newBus(ctx context.Context, cfg *config.Config, logger *slog.Logger) (bus.Bus, error) {
	if cfg.Redis.Addr == "" {
		slog.Info("Feed bus: in-process")
		return bus.NewMemoryBus(), nil
	}
	b, err := bus.NewRedisBus(ctx, logger, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.Channel)
	if err != nil {
		return nil, err
	}
	slog.Info("Feed bus: redis", "addr", cfg.Redis.Addr, "channel", cfg.Redis.Channel)
	return b, nil
}
