package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rpattn/agentstats/internal/access"
	"github.com/rpattn/agentstats/internal/config"
	"github.com/rpattn/agentstats/internal/db"
	"github.com/rpattn/agentstats/internal/export"
	"github.com/rpattn/agentstats/internal/httpapi"
	"github.com/rpattn/agentstats/internal/logging"
	"github.com/rpattn/agentstats/internal/metrics"
	"github.com/rpattn/agentstats/internal/middleware"
	"github.com/rpattn/agentstats/internal/primary"
	"github.com/rpattn/agentstats/internal/recorder"
	"github.com/rpattn/agentstats/internal/repository"
	"github.com/rpattn/agentstats/internal/shadowsync"
	"github.com/rpattn/agentstats/internal/statistics"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/rs/cors"
	"github.com/rs/zerolog"
)

func main() {
	configPath := flag.String("config", ".", "directory containing config.yaml")
	flag.Parse()

	bootLogger := zerolog.New(os.Stderr).With().Timestamp().Logger()
	cfg, err := config.Load(*configPath)
	if err != nil {
		bootLogger.Fatal().Err(err).Msg("failed to load config")
	}
	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		bootLogger.Fatal().Err(err).Msg("failed to build logger")
	}
	if cfg.File != "" {
		logger.Info().Str("file", cfg.File).Msg("loaded config file")
	}

	// Create context
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Setup database connection
	conn, err := db.NewConnection(ctx, cfg.Database, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer conn.Close()

	// Run migrations
	if err := db.RunMigrations(cfg.Database, logger); err != nil {
		logger.Fatal().Err(err).Msg("failed to run migrations")
	}

	repos := repository.NewRepositories(conn.Pool)
	directory := primary.NewPostgres(conn.Pool)
	agents := primary.NewAgentManagerClient(cfg.AgentManager.AgentsPath, cfg.AgentManager.Timeout)
	m := metrics.New()

	var (
		resolverOpts []access.Option
		recorderOpts = []recorder.Option{recorder.WithMetrics(m)}
	)
	if cfg.Redis.Enabled {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Warn().Err(err).Str("addr", cfg.Redis.Addr).Msg("redis unreachable, access cache disabled")
		} else {
			cache := access.NewRedisCache(rdb, cfg.Redis.AccessCacheTTL)
			resolverOpts = append(resolverOpts, access.WithCache(cache))
			recorderOpts = append(recorderOpts, recorder.WithAccessInvalidator(cache))
		}
	}
	resolver := access.NewResolver(directory, directory, cfg.Auth.Method, logger, resolverOpts...)

	rec := recorder.New(repos, directory, cfg.Auth.Method, logger, recorderOpts...)

	// Startup sync runs before serving so the first queries see current names.
	if cfg.Sync.Enabled {
		sync := shadowsync.NewService(directory, directory, agents, repos, logger,
			shadowsync.WithAgentBatchSize(cfg.Sync.AgentBatchSize),
			shadowsync.WithMetrics(m),
		)
		if _, err := sync.Run(ctx); err != nil {
			logger.Warn().Err(err).Msg("startup shadow sync finished with errors")
		}
	}

	stats := statistics.NewService(repos, resolver, logger)
	exporter := export.NewService(stats, logger, export.WithMaxRows(cfg.Export.MaxRows))
	api := httpapi.NewHandler(stats, rec, exporter, cfg.Auth.Method, logger)

	// Setup CORS
	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   cfg.Server.AllowedOrigins,
		AllowCredentials: true,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
	})

	r := chi.NewRouter()
	r.Use(middleware.LoggingMiddleware(logger))
	r.Use(corsHandler.Handler)
	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		if err := conn.Pool.Ping(req.Context()); err != nil {
			httpapi.Write(w, http.StatusServiceUnavailable, httpapi.Response{Message: "database unavailable"})
			return
		}
		httpapi.Write(w, http.StatusOK, httpapi.Response{Message: "ok"})
	})
	r.Handle("/metrics", m.Handler())
	r.With(middleware.DataLoaderMiddleware(repos)).Mount("/api/statistics", api.Routes())

	// Create HTTP server
	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start server in a goroutine
	go func() {
		logger.Info().Str("addr", cfg.Server.Addr).Msg("starting statistics server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	<-ctx.Done()
	logger.Info().Msg("shutting down server")

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server forced to shutdown")
	}
	rec.Wait()

	logger.Info().Msg("server exited")
}
