package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/amma-stories/amma/internal/agent"
	"github.com/amma-stories/amma/internal/api"
	"github.com/amma-stories/amma/internal/config"
	"github.com/amma-stories/amma/internal/healthrpc"
	"github.com/amma-stories/amma/internal/session"
	"github.com/amma-stories/amma/internal/store"
	"github.com/amma-stories/amma/internal/stream"
	"github.com/amma-stories/amma/web"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP and WebSocket server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, logger, err := loadConfig()
			if err != nil {
				slog.Error("Failed to load configuration", "error", err)
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if err := runServe(ctx, cfg, logger); err != nil {
				logger.Error("Server failed", "error", err)
				return err
			}
			return nil
		},
	}
}

func runServe(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	logger.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment())

	convLog, err := agent.NewConversationLogger(agent.ConversationLogConfig(cfg.ConversationLog), logger)
	if err != nil {
		return fmt.Errorf("initialize conversation logger: %w", err)
	}
	defer func() {
		if closeErr := convLog.Close(); closeErr != nil {
			logger.Error("Failed to close conversation logger", "error", closeErr)
		}
	}()

	graph, err := buildGraph(ctx, cfg, convLog, logger)
	if err != nil {
		return err
	}

	opts := []session.Option{
		session.WithConversationLogger(convLog),
		session.WithLogger(logger),
	}
	var archive api.StoryArchive
	if cfg.ArchiveEnabled {
		repo, err := store.NewSQLite(cfg.DBPath)
		if err != nil {
			return fmt.Errorf("initialize archive: %w", err)
		}
		defer func() {
			if closeErr := repo.Close(); closeErr != nil {
				logger.Error("Failed to close archive", "error", closeErr)
			}
		}()
		if err := repo.Ping(ctx); err != nil {
			return fmt.Errorf("archive health check: %w", err)
		}
		logger.Info("Story archive connected", "path", cfg.DBPath)
		opts = append(opts, session.WithArchive(repo))
		archive = repo
	}

	sessions := session.NewManager(graph, opts...)
	registry := stream.NewRegistry(logger)
	deliverer := stream.NewDeliverer(registry, stream.Pacing{Base: cfg.Stream.BaseDelay}, logger)
	wsHandler := stream.NewHandler(sessions, registry, deliverer, stream.HandlerConfig{
		AllowedOrigins: cfg.AllowedOrigins,
		IsDev:          cfg.IsDevelopment(),
		WriteTimeout:   cfg.Stream.WriteTimeout,
		ReadLimit:      cfg.MaxRequestBody,
	}, logger)

	limiter := api.NewRateLimiter(cfg.RateLimit.RequestsPerWindow, cfg.RateLimit.WindowDuration)
	defer limiter.Stop()

	router := api.NewRouter(api.RouterConfig{
		Sessions:       sessions,
		Connections:    registry,
		Stream:         wsHandler,
		Archive:        archive,
		Limiter:        limiter,
		AllowedOrigins: cfg.AllowedOrigins,
		MaxRequestBody: cfg.MaxRequestBody,
		Frontend:       web.SPAHandler(),
		RequestLogging: true,
		Logger:         logger,
	})

	// WebSocket connections are long-lived, so no WriteTimeout.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down gracefully...")

		// Hijacked WebSocket connections outlive Shutdown.
		registry.CloseAll("server shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}
		return nil
	})

	if cfg.GRPCPort != "" {
		lis, err := net.Listen("tcp", ":"+cfg.GRPCPort)
		if err != nil {
			return fmt.Errorf("listen on gRPC port %s: %w", cfg.GRPCPort, err)
		}
		hs := healthrpc.NewServer(logger)
		g.Go(func() error { return hs.Serve(gctx, lis) })
	}

	if cfg.SessionIdleTTL > 0 {
		logger.Info("Idle session sweeper started", "ttl", cfg.SessionIdleTTL)
		g.Go(func() error {
			sessions.RunIdleSweeper(gctx, cfg.SessionIdleTTL, session.DefaultSweepInterval, registry.Has)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("Server stopped successfully")
	return nil
}
