package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"

	"AutoTrader/internal/di"
	"AutoTrader/internal/usecase"
	"AutoTrader/pkg/config"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "config file path")
	runOnce := flag.String("run", "", "run one job (train, trade or rebalance) and exit")
	flag.Parse()

	cfg, err := config.LoadWithEnv(*configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	log.Printf("env=%s dry_run=%t kafka=%t redis=%t clickhouse=%t",
		cfg.Environment, cfg.Trading.DryRun, cfg.Kafka.Enabled, cfg.Redis.Enabled, cfg.ClickHouse.Enabled)

	app, err := di.InitializeApp(cfg)
	if err != nil {
		log.Fatalf("app initialization failed: %v", err)
	}

	ctx := context.Background()
	if *runOnce != "" {
		if err := app.RunOnce(ctx, *runOnce); err != nil {
			log.Printf("run %s failed: %v", *runOnce, err)
			os.Exit(1)
		}
		return
	}

	// Run blocks until SIGINT/SIGTERM
	if err := app.Run(ctx); err != nil {
		if errors.Is(err, usecase.ErrNoTrainedModel) {
			log.Printf("no trained model: run with -run train first, or set trading.allow_untrained")
		}
		log.Printf("app error: %v", err)
		os.Exit(1)
	}
}
