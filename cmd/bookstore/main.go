// cmd/bookstore/main.go
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"bookstore/internal/api"
	"bookstore/internal/cart"
	"bookstore/internal/catalog"
	"bookstore/internal/clients"
	"bookstore/internal/config"
	"bookstore/internal/inventory"
	"bookstore/internal/orders"
	"bookstore/internal/store"
	"bookstore/internal/telemetry"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
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
	shutdownTracing, err := telemetry.Setup(ctx, cfg.AppName, cfg.OTelExporterEndpoint)
	if err != nil {
		logger.Fatal("failed to set up tracing", zap.Error(err))
	}

	st, err := store.Open(ctx, cfg.StoreDriver, cfg.DatabaseURL, cfg.DBMaxOpenConns, store.Options{
		TxTimeout:  cfg.TxTimeout,
		MaxRetries: cfg.TxMaxRetries,
	})
	if err != nil {
		logger.Fatal("failed to open store", zap.String("driver", cfg.StoreDriver), zap.Error(err))
	}
	defer st.Close()
	logger.Info("store ready", zap.String("driver", cfg.StoreDriver))

	ledger := inventory.NewLedger(logger.Named("ledger"))
	deriver := inventory.NewDeriver(cfg.ReorderMultiplier, cfg.VelocityWindowDays)
	catalogService := catalog.NewService(st, ledger, cfg.DefaultLowStockThreshold, logger.Named("catalog"))
	inventoryService := inventory.NewService(st, ledger, deriver, logger.Named("inventory"))

	checks := []api.HealthCheck{storeHealth(st)}
	handlers := []api.Mounter{
		catalog.NewHandler(catalogService, logger.Named("catalog")),
		inventory.NewHandler(inventoryService, logger.Named("inventory")),
	}

	var carts orders.CartSource
	switch cfg.CartSource {
	case "redis":
		redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer redisClient.Close()
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Fatal("redis connection failed", zap.String("addr", cfg.RedisAddr), zap.Error(err))
		}
		cartService := cart.NewService(cart.NewRedisStore(redisClient, cfg.CartTTL), catalogService, logger.Named("cart"))
		carts = cartService
		handlers = append(handlers, cart.NewHandler(cartService, logger.Named("cart")))
		checks = append(checks, func(ctx context.Context) error { return redisClient.Ping(ctx).Err() })
	case "http":
		carts = clients.NewCartClient(cfg.CartServiceURL, cfg.CartServiceTimeout, clients.BreakerSettings{}, logger.Named("cart-client"))
		logger.Info("using remote cart service", zap.String("url", cfg.CartServiceURL))
	}

	orderService := orders.NewService(st, ledger, carts, logger.Named("orders"))
	handlers = append(handlers, orders.NewHandler(orderService, logger.Named("orders")))

	router := api.NewRouter(logger, api.Options{Health: allHealthy(checks...)}, handlers...)
	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("bookstore listening", zap.String("port", cfg.HTTPPort))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown failed", zap.Error(err))
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Error("tracer shutdown failed", zap.Error(err))
	}
	logger.Info("bookstore stopped")
}

func storeHealth(st store.Store) api.HealthCheck {
	pg, ok := st.(*store.Postgres)
	if !ok {
		return func(context.Context) error { return nil }
	}
	return func(ctx context.Context) error { return pg.DB().PingContext(ctx) }
}

func allHealthy(checks ...api.HealthCheck) api.HealthCheck {
	return func(ctx context.Context) error {
		for _, check := range checks {
			if err := check(ctx); err != nil {
				return err
			}
		}
		return nil
	}
}
