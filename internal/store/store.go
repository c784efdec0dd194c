// internal/store/store.go
package store

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"time"

	"bookstore/internal/domain"
	"bookstore/pkg/eventstore"

	"github.com/google/uuid"
)

// Store is the durable state of the bookstore. All writes happen inside a
// unit of work opened with WithinTx.
type Store interface {
	Reader
	EventSource

	// WithinTx runs fn in one unit of work. Any error returned by fn rolls
	// back every write fn made. Lock conflicts are retried with backoff and
	// surface as *domain.ConcurrencyConflictError once retries are exhausted.
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
	Close() error
}

// Tx is a unit of work. Row locks taken through it are held until the unit
// of work ends.
type Tx interface {
	GetBook(ctx context.Context, id uuid.UUID) (*domain.Book, error)
	// LockBooks locks the given books in ascending id order and returns the
	// ones that exist. Locking a book already held by this Tx is a no-op.
	LockBooks(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*domain.Book, error)
	InsertBook(ctx context.Context, book *domain.Book) error
	// UpdateBookDetails writes every book column except stock_quantity.
	UpdateBookDetails(ctx context.Context, book *domain.Book) error
	// ApplyMovement persists a ledger entry and sets the book stock to its
	// QuantityAfter. It is the only writer of stock and fails with
	// domain.ErrLedgerMismatch when the stored stock is not QuantityBefore.
	ApplyMovement(ctx context.Context, m *domain.StockMovement) error

	InsertOrder(ctx context.Context, order *domain.Order) error
	LockOrder(ctx context.Context, id uuid.UUID) (*domain.Order, error)
	UpdateOrderStatus(ctx context.Context, order *domain.Order) error

	AppendEvents(ctx context.Context, events ...eventstore.Event) error
}

// Reader holds the queries that are not on the write path.
type Reader interface {
	GetBook(ctx context.Context, id uuid.UUID) (*domain.Book, error)
	// ListLowStock returns ACTIVE books whose stock is at or below their threshold.
	ListLowStock(ctx context.Context) ([]*domain.Book, error)

	GetOrder(ctx context.Context, id uuid.UUID) (*domain.Order, error)
	GetOrderByNumber(ctx context.Context, number string) (*domain.Order, error)
	ListOrdersByUser(ctx context.Context, userID uuid.UUID) ([]*domain.Order, error)

	// Movements returns ledger entries ordered by book then sequence.
	Movements(ctx context.Context, filter domain.MovementFilter) ([]*domain.StockMovement, error)
	// SumMovements returns the signed sum of quantity_change over matching entries.
	SumMovements(ctx context.Context, filter domain.MovementFilter) (int, error)
	// Audit reconciles every book's stock with its ledger.
	Audit(ctx context.Context) (domain.AuditReport, error)

	// AggregateEvents returns the committed events of one aggregate in
	// version order.
	AggregateEvents(ctx context.Context, aggregateID uuid.UUID) ([]eventstore.Event, error)
}

// EventSource feeds the outbox relay.
type EventSource interface {
	StreamUnpublished(ctx context.Context, batchSize int) ([]eventstore.Event, error)
	MarkPublished(ctx context.Context, id int64) error
}

// Open returns the store named by driver: "postgres" connects to dsn and
// migrates, "memory" keeps everything in process.
func Open(ctx context.Context, driver, dsn string, maxOpenConns int, opts Options) (Store, error) {
	switch driver {
	case "memory":
		return NewMemory(opts), nil
	case "postgres":
		return OpenPostgres(ctx, dsn, maxOpenConns, opts)
	default:
		return nil, fmt.Errorf("unknown store driver %q", driver)
	}
}

// Options tune the unit of work.
type Options struct {
	TxTimeout  time.Duration
	MaxRetries int
	Backoff    time.Duration
}

// DefaultOptions mirror the configuration defaults.
func DefaultOptions() Options {
	return Options{
		TxTimeout:  5 * time.Second,
		MaxRetries: 3,
		Backoff:    20 * time.Millisecond,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.TxTimeout <= 0 {
		o.TxTimeout = d.TxTimeout
	}
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	}
	if o.Backoff <= 0 {
		o.Backoff = d.Backoff
	}
	return o
}

// SortIDs returns a sorted copy of ids without duplicates. Every lock
// acquisition goes through this order.
func SortIDs(ids []uuid.UUID) []uuid.UUID {
	out := make([]uuid.UUID, 0, len(ids))
	seen := make(map[uuid.UUID]struct{}, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool {
		return bytes.Compare(out[i][:], out[j][:]) < 0
	})
	return out
}
