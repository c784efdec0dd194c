// cmd/chaos/main.go
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"time"

	"bookstore/internal/catalog"
	"bookstore/internal/chaos"
	"bookstore/internal/config"
	"bookstore/internal/inventory"
	"bookstore/internal/orders"
	"bookstore/internal/store"
	"bookstore/internal/telemetry"

	"go.uber.org/zap"
)

func main() {
	workers := flag.Int("workers", 16, "concurrent buyers per experiment")
	observe := flag.Duration("observe", 0, "how long to sample probes after each experiment")
	pause := flag.Duration("pause", 5*time.Second, "wait between experiments")
	flag.Parse()

	cfg, err := config.Load(".")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := telemetry.NewLogger(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer logger.Sync()

	ctx := context.Background()
	st, err := store.Open(ctx, cfg.StoreDriver, cfg.DatabaseURL, cfg.DBMaxOpenConns, store.Options{
		TxTimeout:  cfg.TxTimeout,
		MaxRetries: cfg.TxMaxRetries,
	})
	if err != nil {
		logger.Fatal("failed to open store", zap.Error(err))
	}
	defer st.Close()

	ledger := inventory.NewLedger(logger.Named("ledger"))
	suite := chaos.NewSuite(
		catalog.NewService(st, ledger, cfg.DefaultLowStockThreshold, logger.Named("catalog")),
		orders.NewService(st, ledger, nil, logger.Named("orders")),
		st,
		logger.Named("suite"),
	)
	suite.Workers = *workers
	suite.Observe = *observe

	engine := chaos.NewEngine(logger.Named("chaos"))
	for _, exp := range suite.Experiments() {
		engine.Register(exp)
	}

	held, err := engine.RunGameDay(ctx, chaos.GameDay{
		Name:      "Stock Ledger Game Day",
		Date:      time.Now(),
		Scenarios: engine.Experiments(),
		Pause:     *pause,
	})
	if err != nil {
		logger.Fatal("game day failed", zap.Error(err))
	}
	if !held {
		logger.Error("at least one hypothesis was violated")
		os.Exit(1)
	}
	logger.Info("all hypotheses held")
}
