// internal/inventory/ledger.go
package inventory

import (
	"context"
	"fmt"
	"time"

	"bookstore/internal/domain"
	"bookstore/internal/store"
	"bookstore/internal/telemetry"
	"bookstore/pkg/eventstore"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Ledger is the only writer of book stock. Every change is an append-only
// movement recorded in the caller's unit of work.
type Ledger struct {
	logger    *zap.Logger
	tracer    trace.Tracer
	movements metric.Int64Counter
	now       func() time.Time
}

// NewLedger creates a ledger.
func NewLedger(logger *zap.Logger) *Ledger {
	return &Ledger{
		logger:    logger,
		tracer:    otel.Tracer("bookstore/inventory"),
		movements: telemetry.Counter(otel.Meter("bookstore/inventory"), "stock.movements", "stock ledger entries recorded"),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Record applies one movement to a book inside tx. The book row is locked
// first; a book already locked by tx is not locked again.
func (l *Ledger) Record(ctx context.Context, tx store.Tx, req domain.MovementRequest) (*domain.StockMovement, error) {
	ctx, span := l.tracer.Start(ctx, "ledger.record",
		trace.WithAttributes(
			attribute.String("book.id", req.BookID.String()),
			attribute.String("movement.type", string(req.Type)),
			attribute.Int("movement.quantity", req.Quantity),
			attribute.String("movement.reference", req.ReferenceNumber),
		),
	)
	defer span.End()

	if err := req.Validate(); err != nil {
		return nil, err
	}

	books, err := tx.LockBooks(ctx, []uuid.UUID{req.BookID})
	if err != nil {
		return nil, fmt.Errorf("lock book %s: %w", req.BookID, err)
	}
	book, ok := books[req.BookID]
	if !ok {
		return nil, fmt.Errorf("book %s: %w", req.BookID, domain.ErrNotFound)
	}

	m, err := domain.NewMovement(book, req, l.now())
	if err != nil {
		return nil, err
	}
	if err := tx.ApplyMovement(ctx, m); err != nil {
		return nil, err
	}

	events, err := movementEvents(book, m)
	if err != nil {
		return nil, err
	}
	if err := tx.AppendEvents(ctx, events...); err != nil {
		return nil, fmt.Errorf("append stock events: %w", err)
	}

	l.movements.Add(ctx, 1, metric.WithAttributes(attribute.String("movement.type", string(m.Type))))
	span.SetAttributes(attribute.Int("stock.after", m.QuantityAfter))
	l.logger.Debug("stock movement recorded",
		zap.String("book_id", m.BookID.String()),
		zap.String("type", string(m.Type)),
		zap.Int("change", m.QuantityChange),
		zap.Int("after", m.QuantityAfter),
		zap.String("reference_number", m.ReferenceNumber),
	)
	return m, nil
}

// movementEvents builds the outbox events for m. A low-stock alert is raised
// only when the movement crosses the threshold from above.
func movementEvents(book *domain.Book, m *domain.StockMovement) ([]eventstore.Event, error) {
	recorded, err := eventstore.NewEvent(book.ID, domain.AggregateBook, domain.EventStockMovementRecorded,
		domain.StockMovementRecordedEvent{
			MovementID:      m.ID,
			BookID:          m.BookID,
			Type:            m.Type,
			QuantityChange:  m.QuantityChange,
			QuantityAfter:   m.QuantityAfter,
			ReferenceNumber: m.ReferenceNumber,
		})
	if err != nil {
		return nil, err
	}
	recorded.Metadata = map[string]interface{}{"actor_id": m.ActorID.String()}
	events := []eventstore.Event{recorded}

	if !book.IsActive() || !CrossesThreshold(m.QuantityBefore, m.QuantityAfter, book.LowStockThreshold) {
		return events, nil
	}
	alert, err := eventstore.NewEvent(book.ID, domain.AggregateBook, domain.EventLowStockAlertRaised,
		domain.LowStockAlertRaisedEvent{
			BookID:    book.ID,
			Title:     book.Title,
			Stock:     m.QuantityAfter,
			Threshold: book.LowStockThreshold,
			Level:     AlertLevel(m.QuantityAfter, book.LowStockThreshold),
		})
	if err != nil {
		return nil, err
	}
	return append(events, alert), nil
}
