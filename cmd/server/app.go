package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/ashureev/goally/internal/config"
	"github.com/ashureev/goally/internal/events"
	"github.com/ashureev/goally/internal/gatekeeper"
	"github.com/ashureev/goally/internal/intent"
	"github.com/ashureev/goally/internal/llm"
	"github.com/ashureev/goally/internal/orchestrator"
	"github.com/ashureev/goally/internal/planner"
	"github.com/ashureev/goally/internal/scheduler"
	"github.com/ashureev/goally/internal/session"
	"github.com/ashureev/goally/internal/store"
)

// app holds the wired service graph shared by the commands.
type app struct {
	cfg          *config.Config
	logger       *slog.Logger
	repo         *store.SQLiteStore
	events       events.Recorder
	sessions     *session.Manager
	scheduler    *scheduler.Scheduler
	orchestrator *orchestrator.Orchestrator

	closers []io.Closer
}

// newApp opens storage and builds every service. withGenerator is false for
// commands that never call the model.
func newApp(cfg *config.Config, logger *slog.Logger, withGenerator bool) (*app, error) {
	a := &app{cfg: cfg, logger: logger, sessions: session.NewManager()}

	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("initialize database: %w", err)
	}
	a.repo = repo
	a.closers = append(a.closers, repo)

	if err := repo.Ping(context.Background()); err != nil {
		a.Close()
		return nil, fmt.Errorf("database health check: %w", err)
	}
	logger.Info("Database connected", "path", cfg.DBPath)

	catalog := scheduler.DefaultCatalog()
	if cfg.AnchorsFile != "" {
		catalog, err = scheduler.LoadCatalog(cfg.AnchorsFile)
		if err != nil {
			a.Close()
			return nil, err
		}
		logger.Info("Anchor catalog loaded", "path", cfg.AnchorsFile)
	}

	a.events = a.newRecorder()

	a.scheduler = scheduler.New(scheduler.Options{
		Tasks:    repo,
		Profiles: repo,
		Busy:     repo,
		Events:   a.events,
		Catalog:  catalog,
		Config: scheduler.Config{
			HorizonDays: cfg.Scheduler.HorizonDays,
			Tolerance:   cfg.Scheduler.Tolerance,
			MissedGrace: cfg.Scheduler.MissedGrace,
		},
		Logger: logger,
	})

	if !withGenerator {
		return a, nil
	}

	gen, err := a.newGenerator()
	if err != nil {
		a.Close()
		return nil, err
	}
	a.orchestrator = orchestrator.New(orchestrator.Options{
		Sessions:   a.sessions,
		Store:      repo,
		Router:     intent.NewRouter(gen, logger),
		Gatekeeper: gatekeeper.New(gen, cfg.MaxClarificationAttempts, logger),
		Planner:    planner.New(gen, catalog, logger),
		Scheduler:  a.scheduler,
		Generator:  gen,
		Events:     a.events,
		Logger:     logger,
	})
	return a, nil
}

// newRecorder fans events out to the log, the reschedule table and, when
// NATS_URL is set, the message bus. A NATS outage degrades to local
// recording.
func (a *app) newRecorder() events.Recorder {
	recorders := []events.Recorder{
		events.NewLogRecorder(a.logger),
		events.NewStoreRecorder(a.repo),
	}
	if a.cfg.NATSURL != "" {
		nr, err := events.ConnectNATS(events.NATSConfig{URL: a.cfg.NATSURL}, a.logger)
		if err != nil {
			a.logger.Warn("NATS unavailable, events stay local", "error", err)
		} else {
			recorders = append(recorders, nr)
			a.closers = append(a.closers, nr)
		}
	}
	return events.Multi(recorders...)
}

// newGenerator builds the generation gateway: the gRPC sidecar or the
// primary OpenAI-compatible endpoint, an optional fallback, and the shared
// rate limit in front of both.
func (a *app) newGenerator() (llm.Generator, error) {
	lc := a.cfg.LLM
	openAI := func(ep config.EndpointConfig) *llm.OpenAIGenerator {
		return llm.NewOpenAI(llm.OpenAIConfig{
			BaseURL:                  ep.BaseURL,
			APIKey:                   ep.APIKey,
			Model:                    ep.Model,
			DeterministicTemperature: lc.DeterministicTemperature,
			CreativeTemperature:      lc.CreativeTemperature,
			Timeout:                  lc.Timeout,
		}, a.logger)
	}

	var primary llm.Generator
	if lc.GRPCAddr != "" {
		grpcCfg := llm.DefaultGRPCConfig(lc.GRPCAddr)
		grpcCfg.RequestTimeout = lc.Timeout
		g, err := llm.NewGRPC(grpcCfg, a.logger)
		if err != nil {
			return nil, fmt.Errorf("connect generation sidecar: %w", err)
		}
		a.closers = append(a.closers, g)
		primary = g
		a.logger.Info("Generation sidecar connected", "address", lc.GRPCAddr)
	} else {
		primary = openAI(lc.Primary)
		a.logger.Info("Primary generator configured", "model", lc.Primary.Model)
	}

	gen := primary
	if lc.Fallback.Configured() {
		gen = llm.WithFallback(primary, openAI(lc.Fallback))
		a.logger.Info("Fallback generator configured", "model", lc.Fallback.Model)
	}
	return llm.WithRateLimit(gen, lc.RateLimitRPS, lc.RateBurst), nil
}

// Close releases connections in reverse order of acquisition.
func (a *app) Close() {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		a.logger.Error("Failed to close resources", "error", err)
	}
}
