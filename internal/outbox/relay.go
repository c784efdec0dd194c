// internal/outbox/relay.go
package outbox

import (
	"context"
	"fmt"
	"time"

	"bookstore/internal/store"
	"bookstore/internal/telemetry"
	"bookstore/pkg/eventstore"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Sink delivers one event to a broker. Publish returns only after the broker
// acknowledged the event.
type Sink interface {
	Publish(ctx context.Context, event eventstore.Event) error
	Close() error
}

type Options struct {
	PollInterval time.Duration
	BatchSize    int
	// PublishRate caps events per second. Zero means unlimited.
	PublishRate float64
}

// Relay copies committed outbox events to a Sink. Delivery is at least once:
// an event is marked published only after the sink acknowledged it.
type Relay struct {
	source    store.EventSource
	sink      Sink
	limiter   *rate.Limiter
	opts      Options
	logger    *zap.Logger
	published metric.Int64Counter
	failed    metric.Int64Counter
}

func NewRelay(source store.EventSource, sink Sink, opts Options, logger *zap.Logger) *Relay {
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	limit := rate.Inf
	if opts.PublishRate > 0 {
		limit = rate.Limit(opts.PublishRate)
	}
	meter := otel.Meter("bookstore/outbox")
	return &Relay{
		source:    source,
		sink:      sink,
		limiter:   rate.NewLimiter(limit, 1),
		opts:      opts,
		logger:    logger,
		published: telemetry.Counter(meter, "outbox.published", "events delivered to the broker"),
		failed:    telemetry.Counter(meter, "outbox.failed", "event deliveries that failed"),
	}
}

// Run polls until ctx is cancelled.
func (r *Relay) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.opts.PollInterval)
	defer ticker.Stop()

	for {
		if _, err := r.RelayOnce(ctx); err != nil && ctx.Err() == nil {
			r.logger.Error("outbox relay pass failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// RelayOnce publishes one batch and returns how many events were delivered.
// It stops at the first failure so that events of an aggregate keep their
// order; the failed event is retried on the next pass.
func (r *Relay) RelayOnce(ctx context.Context) (int, error) {
	events, err := r.source.StreamUnpublished(ctx, r.opts.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("load unpublished events: %w", err)
	}

	sent := 0
	for _, event := range events {
		if err := r.limiter.Wait(ctx); err != nil {
			return sent, err
		}
		if err := r.sink.Publish(ctx, event); err != nil {
			r.failed.Add(ctx, 1, metric.WithAttributes(attribute.String("event.type", event.EventType)))
			return sent, fmt.Errorf("publish event %d (%s): %w", event.ID, event.EventType, err)
		}
		if err := r.source.MarkPublished(ctx, event.ID); err != nil {
			return sent, fmt.Errorf("mark event %d published: %w", event.ID, err)
		}
		sent++
		r.published.Add(ctx, 1, metric.WithAttributes(attribute.String("event.type", event.EventType)))
	}

	if sent > 0 {
		r.logger.Debug("outbox events relayed", zap.Int("count", sent))
	}
	return sent, nil
}
