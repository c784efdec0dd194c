// cmd/relay/main.go
package main

import (
	"context"
	"errors"
	"log"
	"os/signal"
	"syscall"

	"bookstore/internal/config"
	"bookstore/internal/outbox"
	"bookstore/internal/store"
	"bookstore/internal/telemetry"

	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load(".")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if cfg.StoreDriver != "postgres" {
		log.Fatalf("The relay reads the postgres outbox; STORE_DRIVER is %q", cfg.StoreDriver)
	}

	logger, err := telemetry.NewLogger(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, cfg.AppName+"-relay", cfg.OTelExporterEndpoint)
	if err != nil {
		logger.Fatal("failed to set up tracing", zap.Error(err))
	}
	defer shutdownTracing(context.Background())

	st, err := store.OpenPostgres(ctx, cfg.DatabaseURL, 4, store.Options{TxTimeout: cfg.TxTimeout, MaxRetries: cfg.TxMaxRetries})
	if err != nil {
		logger.Fatal("failed to open store", zap.Error(err))
	}
	defer st.Close()

	var sink outbox.Sink
	switch cfg.OutboxSink {
	case "kafka":
		sink = outbox.NewKafkaSink(cfg.KafkaBrokers, cfg.KafkaTopic)
		logger.Info("publishing to kafka", zap.Strings("brokers", cfg.KafkaBrokers), zap.String("topic", cfg.KafkaTopic))
	case "amqp":
		sink, err = outbox.DialAMQP(cfg.AMQPURL, cfg.AMQPExchange)
		if err != nil {
			logger.Fatal("failed to connect to amqp", zap.Error(err))
		}
		logger.Info("publishing to amqp", zap.String("exchange", cfg.AMQPExchange))
	}
	defer sink.Close()

	relay := outbox.NewRelay(st, sink, outbox.Options{
		PollInterval: cfg.OutboxPollInterval,
		BatchSize:    cfg.OutboxBatchSize,
		PublishRate:  cfg.OutboxPublishRate,
	}, logger.Named("relay"))

	if err := relay.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal("relay stopped", zap.Error(err))
	}
	logger.Info("relay stopped")
}
