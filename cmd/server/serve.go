package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/ashureev/goally/internal/api"
	"github.com/ashureev/goally/internal/identity"
	"github.com/ashureev/goally/internal/middleware"
	"github.com/ashureev/goally/internal/scheduler"
	"github.com/ashureev/goally/internal/telemetry"
)

const serviceName = "goally"

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server and the background sweeper",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(parent context.Context) error {
	cfg, logger, err := bootstrap()
	if err != nil {
		return err
	}
	logger.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment())

	if cfg.OTelEnabled {
		tp, err := telemetry.NewTracerProvider(serviceName, cfg.Environment, os.Stdout)
		if err != nil {
			logger.Error("Failed to initialize tracing", "error", err)
			return err
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := tp.Shutdown(ctx); err != nil {
				logger.Error("Failed to flush traces", "error", err)
			}
		}()
		logger.Info("Tracing enabled")
	}

	a, err := newApp(cfg, logger, true)
	if err != nil {
		logger.Error("Failed to initialize services", "error", err)
		return err
	}
	defer a.Close()

	handler := api.NewHandler(api.Options{
		Repo:          a.repo,
		Orchestrator:  a.orchestrator,
		Scheduler:     a.scheduler,
		Sessions:      a.sessions,
		Events:        a.events,
		Logger:        logger,
		AllowedOrigin: cfg.FrontendURL,
		IsDev:         cfg.IsDevelopment(),
	})
	defer handler.Close()
	healthHandler := api.NewHealthHandler(a.repo)

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/ping"))
	r.Use(middleware.CORS(cfg.AllowedOrigins()))

	// Public routes.
	r.Get("/health", healthHandler.Health)
	r.Handle("/metrics", promhttp.Handler())

	// Everything else is scoped to the anonymous identity.
	r.Group(func(r chi.Router) {
		r.Use(identity.Middleware(a.repo, cfg.IsDevelopment()))
		handler.RegisterRoutes(r)
	})

	// SSE and WebSocket turns can outlive any write deadline.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	sweeper := scheduler.NewSweeper(a.scheduler, a.repo, cfg.SessionTTL, cfg.SweepInterval)
	sweeper.Start(ctx)

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	// Wait for shutdown signal.
	select {
	case <-ctx.Done():
	case err := <-serveErr:
		logger.Error("Server failed", "error", err)
		return err
	}
	stop()

	logger.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", "error", err)
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}
