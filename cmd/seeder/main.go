package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/bankbridge/bankbridge/internal/config"
	"github.com/bankbridge/bankbridge/internal/domain"
	"github.com/bankbridge/bankbridge/internal/engine"
	"github.com/bankbridge/bankbridge/internal/logging"
	"github.com/bankbridge/bankbridge/internal/mongoproc"
)

// seedable is the slice of the adapter surface the seeder needs.
type seedable interface {
	Name() domain.Engine
	Seed(ctx context.Context, accounts int) error
	Reset(ctx context.Context) error
	Close()
}

func main() {
	configPath := flag.String("config", "", "path to config file (default ./config.yaml)")
	enginesCSV := flag.String("engines", "", "comma-separated engines to seed (default: all configured)")
	accounts := flag.Int("accounts", 0, "accounts per engine (default from config)")
	balance := flag.Int64("balance", 0, "opening balance per account (default from config)")
	resetFirst := flag.Bool("reset", false, "wipe transactional state and restore balances before seeding")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal(err)
	}
	if *enginesCSV != "" {
		cfg.Engines = splitCSV(*enginesCSV)
	}
	if *accounts > 0 {
		cfg.Seed.AccountsPerEngine = *accounts
	}
	if *balance > 0 {
		cfg.Seed.Balance = *balance
	}

	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()

	ctx := context.Background()

	targets, procs, err := buildTargets(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("engine setup failed", zap.Error(err))
	}
	defer func() {
		for _, t := range targets {
			t.Close()
		}
	}()

	for _, t := range targets {
		start := time.Now()
		name := string(t.Name())

		if t.Name() == domain.EngineMongo {
			if err := procs.EnsureIndexes(ctx); err != nil {
				logger.Fatal("mongo index init failed", zap.Error(err))
			}
		}
		if *resetFirst {
			if err := t.Reset(ctx); err != nil {
				logger.Fatal("reset failed", zap.String("engine", name), zap.Error(err))
			}
		}
		if err := t.Seed(ctx, cfg.Seed.AccountsPerEngine); err != nil {
			logger.Fatal("seed failed", zap.String("engine", name), zap.Error(err))
		}

		logger.Info("engine seeded",
			zap.String("engine", name),
			zap.Int("accounts", cfg.Seed.AccountsPerEngine),
			zap.Int64("balance", cfg.Seed.Balance),
			zap.Duration("took", time.Since(start)))
	}
}

func buildTargets(ctx context.Context, cfg *config.Config, logger *zap.Logger) ([]seedable, *mongoproc.Service, error) {
	names, err := domain.ParseEngines(cfg.Engines)
	if err != nil {
		return nil, nil, err
	}

	var targets []seedable
	var procs *mongoproc.Service

	for _, name := range names {
		switch name {
		case domain.EngineMongo:
			client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.MongoURI))
			if err != nil {
				return nil, nil, fmt.Errorf("connect mongo: %w", err)
			}
			procs = mongoproc.New(client.Database(cfg.MongoDatabase), cfg.Seed.Balance, logger)
			targets = append(targets, engine.NewMongo(client, procs, logger))
		case domain.EngineMySQL:
			eng, err := engine.NewMySQL(cfg.MySQLDSN, cfg.Seed.Balance, logger)
			if err != nil {
				return nil, nil, err
			}
			targets = append(targets, eng)
		case domain.EngineOracle:
			eng, err := engine.NewOracle(cfg.OracleDSN, cfg.Seed.Balance, logger)
			if err != nil {
				return nil, nil, err
			}
			targets = append(targets, eng)
		case domain.EnginePostgres:
			eng, err := engine.NewPostgres(ctx, cfg.PostgresDSN, cfg.Seed.Balance, logger)
			if err != nil {
				return nil, nil, err
			}
			targets = append(targets, eng)
		}
	}
	return targets, procs, nil
}

func splitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
