// internal/store/retry.go
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bookstore/internal/domain"
	"bookstore/pkg/eventstore"

	"github.com/lib/pq"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// retryableConstraints are unique constraints whose violation means a
// concurrent writer won a race, not that the input is bad.
var retryableConstraints = map[string]bool{
	"orders_order_number_key":              true,
	"events_aggregate_id_version_key":      true,
	"stock_movements_book_id_sequence_key": true,
}

// conflictError marks an attempt that lost a race and may be retried.
type conflictError struct {
	err error
}

func (e *conflictError) Error() string { return e.err.Error() }
func (e *conflictError) Unwrap() error { return e.err }

// Conflict marks err as a lost race so the unit of work is retried.
func Conflict(err error) error {
	return &conflictError{err: err}
}

// IsRetryable reports whether err came from a lost race: deadlock,
// serialization failure, or a unique-number collision.
func IsRetryable(err error) bool {
	if err == nil || domain.IsBusinessError(err) {
		return false
	}
	var ce *conflictError
	if errors.As(err, &ce) {
		return true
	}
	if errors.Is(err, eventstore.ErrConcurrencyConflict) {
		return true
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "40P01", "40001":
			return true
		case "23505":
			return retryableConstraints[pqErr.Constraint]
		}
	}
	return false
}

// runWithRetry drives attempt until it succeeds, fails terminally, or loses
// too many races. Each attempt gets its own timeout.
func runWithRetry(ctx context.Context, tracer trace.Tracer, opts Options, attempt func(ctx context.Context) error) error {
	ctx, span := tracer.Start(ctx, "store.unit_of_work")
	defer span.End()

	var lastErr error
	maxAttempts := opts.MaxRetries + 1
	for i := 1; i <= maxAttempts; i++ {
		attemptCtx, cancel := context.WithTimeout(ctx, opts.TxTimeout)
		err := attempt(attemptCtx)
		cancel()

		span.SetAttributes(attribute.Int("tx.attempts", i))
		if err == nil {
			return nil
		}
		if !IsRetryable(err) {
			if !domain.IsBusinessError(err) {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
			}
			return err
		}
		lastErr = err
		span.AddEvent("tx.conflict", trace.WithAttributes(attribute.String("error", err.Error())))

		if i == maxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("unit of work aborted: %w", ctx.Err())
		case <-time.After(time.Duration(i) * opts.Backoff):
		}
	}

	span.SetStatus(codes.Error, "concurrency conflict")
	return &domain.ConcurrencyConflictError{Attempts: maxAttempts, Err: lastErr}
}
