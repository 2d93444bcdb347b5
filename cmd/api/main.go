package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/bankbridge/bankbridge/internal/api"
	"github.com/bankbridge/bankbridge/internal/config"
	"github.com/bankbridge/bankbridge/internal/domain"
	"github.com/bankbridge/bankbridge/internal/engine"
	"github.com/bankbridge/bankbridge/internal/logging"
	"github.com/bankbridge/bankbridge/internal/mongoproc"
	"github.com/bankbridge/bankbridge/internal/rdg"
	"github.com/bankbridge/bankbridge/internal/reset"
	"github.com/bankbridge/bankbridge/internal/transfer"
)

func main() {
	configPath := flag.String("config", "", "path to config file (default ./config.yaml)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal(err)
	}
	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	registry, procs, err := buildEngines(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("engine setup failed", zap.Error(err))
	}
	defer registry.Close()

	defaults, err := generatorDefaults(cfg)
	if err != nil {
		logger.Fatal("generator defaults invalid", zap.Error(err))
	}

	// Each start gets its own client so base_url and concurrency overrides
	// take effect per run.
	runner := rdg.NewRunner(func(baseURL string, concurrency int) rdg.TransferFunc {
		client := transfer.NewClient(baseURL, concurrency, logger)
		return transfer.NewOrchestrator(client, logger).Run
	}, logger)

	resetter := reset.NewCoordinator(registry, runner.Running, logger)

	// A disabled document store must stay an untyped nil interface, or the
	// handler's nil check never fires.
	var mongoProcs api.MongoProcs
	if procs != nil {
		mongoProcs = procs
	}

	handler := api.NewHandler(registry, mongoProcs, runner, resetter, cfg.ControlPassword, defaults, logger)

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           api.NewRouter(handler, logger),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("server starting",
			zap.String("addr", cfg.ListenAddr),
			zap.Strings("engines", registry.Names()))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	if runner.Running() {
		if err := runner.Stop(); err != nil && !errors.Is(err, rdg.ErrNotRunning) {
			logger.Warn("generator stop failed", zap.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown failed", zap.Error(err))
	}
}

// buildEngines constructs an adapter for every engine named in the config.
// The mongoproc service is returned alongside the registry because the
// document-store routes talk to it directly, not through the adapter.
func buildEngines(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*engine.Registry, *mongoproc.Service, error) {
	names, err := domain.ParseEngines(cfg.Engines)
	if err != nil {
		return nil, nil, err
	}

	registry := engine.NewRegistry()
	var procs *mongoproc.Service

	for _, name := range names {
		switch name {
		case domain.EngineMongo:
			client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
			if err != nil {
				return nil, nil, fmt.Errorf("connect mongo: %w", err)
			}
			procs = mongoproc.New(client.Database(cfg.MongoDatabase), cfg.Seed.Balance, logger)
			registry.Register(engine.NewMongo(client, procs, logger))
		case domain.EngineMySQL:
			eng, err := engine.NewMySQL(cfg.MySQLDSN, cfg.Seed.Balance, logger)
			if err != nil {
				return nil, nil, err
			}
			registry.Register(eng)
		case domain.EngineOracle:
			eng, err := engine.NewOracle(cfg.OracleDSN, cfg.Seed.Balance, logger)
			if err != nil {
				return nil, nil, err
			}
			registry.Register(eng)
		case domain.EnginePostgres:
			eng, err := engine.NewPostgres(ctx, cfg.PostgresDSN, cfg.Seed.Balance, logger)
			if err != nil {
				return nil, nil, err
			}
			registry.Register(eng)
		}
	}
	return registry, procs, nil
}

func generatorDefaults(cfg *config.Config) (rdg.Config, error) {
	engines, err := domain.ParseEngines(cfg.Generator.ActiveDBMS)
	if err != nil {
		return rdg.Config{}, err
	}
	return rdg.Config{
		BaseURL:     cfg.Generator.BaseURL,
		RPS:         cfg.Generator.RPS,
		Concurrent:  cfg.Generator.Concurrent,
		Engines:     engines,
		MinAmount:   cfg.Generator.MinAmount,
		MaxAmount:   cfg.Generator.MaxAmount,
		AllowSameDB: cfg.Generator.AllowSameDB,
	}, nil
}
