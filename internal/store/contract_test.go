// internal/store/contract_test.go
package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"bookstore/internal/domain"
	"bookstore/pkg/eventstore"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// storeContract runs the behaviour every Store backend must share.
func storeContract(t *testing.T, newStore func(t *testing.T) Store) {
	t.Run("ApplyMovementKeepsChain", func(t *testing.T) { testApplyMovementKeepsChain(t, newStore(t)) })
	t.Run("ApplyMovementGuardsStock", func(t *testing.T) { testApplyMovementGuardsStock(t, newStore(t)) })
	t.Run("RollbackDiscardsEverything", func(t *testing.T) { testRollbackDiscardsEverything(t, newStore(t)) })
	t.Run("ConcurrentDecrementsNeverOversell", func(t *testing.T) { testConcurrentDecrements(t, newStore(t)) })
	t.Run("OrderRoundTrip", func(t *testing.T) { testOrderRoundTrip(t, newStore(t)) })
	t.Run("DuplicateISBN", func(t *testing.T) { testDuplicateISBN(t, newStore(t)) })
	t.Run("OutboxCycle", func(t *testing.T) { testOutboxCycle(t, newStore(t)) })
	t.Run("AggregateEvents", func(t *testing.T) { testAggregateEvents(t, newStore(t)) })
}

func newBook(stockThreshold int) *domain.Book {
	now := time.Now().UTC().Truncate(time.Microsecond)
	id := uuid.New()
	return &domain.Book{
		ID:                id,
		Title:             "Book " + id.String()[:8],
		Author:            "Author",
		ISBN:              "isbn-" + id.String(),
		Price:             1500,
		LowStockThreshold: stockThreshold,
		Status:            domain.BookStatusActive,
		Version:           1,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
}

// seedBook inserts a book and brings it to stock through the ledger.
func seedBook(t *testing.T, s Store, stock int) *domain.Book {
	t.Helper()
	book := newBook(5)
	err := s.WithinTx(context.Background(), func(ctx context.Context, tx Tx) error {
		if err := tx.InsertBook(ctx, book); err != nil {
			return err
		}
		if stock == 0 {
			return nil
		}
		return move(ctx, tx, book.ID, domain.MovementInbound, stock, "")
	})
	require.NoError(t, err)
	return book
}

func move(ctx context.Context, tx Tx, bookID uuid.UUID, typ domain.MovementType, qty int, ref string) error {
	books, err := tx.LockBooks(ctx, []uuid.UUID{bookID})
	if err != nil {
		return err
	}
	book, ok := books[bookID]
	if !ok {
		return domain.ErrNotFound
	}
	m, err := domain.NewMovement(book, domain.MovementRequest{
		BookID: bookID, ActorID: uuid.New(), Type: typ, Quantity: qty, ReferenceNumber: ref,
	}, time.Now().UTC())
	if err != nil {
		return err
	}
	return tx.ApplyMovement(ctx, m)
}

func testApplyMovementKeepsChain(t *testing.T, s Store) {
	ctx := context.Background()
	book := seedBook(t, s, 10)

	for _, step := range []struct {
		typ domain.MovementType
		qty int
	}{
		{domain.MovementOutbound, 3},
		{domain.MovementDamaged, 1},
		{domain.MovementReturnFromCustomer, 2},
		{domain.MovementAdjustmentDecrease, 8},
	} {
		require.NoError(t, s.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
			return move(ctx, tx, book.ID, step.typ, step.qty, "")
		}))
	}

	got, err := s.GetBook(ctx, book.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.StockQuantity)

	history, err := s.Movements(ctx, domain.MovementFilter{BookID: book.ID})
	require.NoError(t, err)
	require.Len(t, history, 5)
	for i := 1; i < len(history); i++ {
		assert.Equal(t, history[i-1].QuantityAfter, history[i].QuantityBefore)
		assert.Equal(t, history[i-1].Sequence+1, history[i].Sequence)
	}

	sum, err := s.SumMovements(ctx, domain.MovementFilter{BookID: book.ID})
	require.NoError(t, err)
	assert.Equal(t, got.StockQuantity, sum)

	outbound, err := s.SumMovements(ctx, domain.MovementFilter{BookID: book.ID, Types: domain.OutboundTypes})
	require.NoError(t, err)
	assert.Equal(t, -12, outbound)

	report, err := s.Audit(ctx)
	require.NoError(t, err)
	assert.True(t, report.Healthy(), "%+v", report)
}

func testApplyMovementGuardsStock(t *testing.T, s Store) {
	ctx := context.Background()
	book := seedBook(t, s, 4)

	err := s.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		if _, err := tx.LockBooks(ctx, []uuid.UUID{book.ID}); err != nil {
			return err
		}
		stale := &domain.StockMovement{
			ID: uuid.New(), BookID: book.ID, ActorID: uuid.New(), Type: domain.MovementOutbound,
			QuantityChange: -1, QuantityBefore: 7, QuantityAfter: 6, CreatedAt: time.Now().UTC(),
		}
		return tx.ApplyMovement(ctx, stale)
	})
	assert.ErrorIs(t, err, domain.ErrLedgerMismatch)

	got, err := s.GetBook(ctx, book.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, got.StockQuantity)
}

func testRollbackDiscardsEverything(t *testing.T, s Store) {
	ctx := context.Background()
	a := seedBook(t, s, 5)
	b := seedBook(t, s, 1)

	err := s.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		if _, err := tx.LockBooks(ctx, []uuid.UUID{a.ID, b.ID}); err != nil {
			return err
		}
		if err := move(ctx, tx, a.ID, domain.MovementOutbound, 2, "ORD-ROLLBACK"); err != nil {
			return err
		}
		event, err := eventstore.NewEvent(a.ID, domain.AggregateBook, domain.EventStockMovementRecorded, map[string]int{"q": 2})
		if err != nil {
			return err
		}
		if err := tx.AppendEvents(ctx, event); err != nil {
			return err
		}
		return move(ctx, tx, b.ID, domain.MovementOutbound, 2, "ORD-ROLLBACK")
	})
	var insufficient *domain.InsufficientStockError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, b.ID, insufficient.BookID)

	got, err := s.GetBook(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, got.StockQuantity)

	refs, err := s.Movements(ctx, domain.MovementFilter{ReferenceNumber: "ORD-ROLLBACK"})
	require.NoError(t, err)
	assert.Empty(t, refs)
}

func testConcurrentDecrements(t *testing.T, s Store) {
	ctx := context.Background()
	book := seedBook(t, s, 5)

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded, rejected := 0, 0
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := s.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
				return move(ctx, tx, book.ID, domain.MovementOutbound, 1, fmt.Sprintf("ORD-%d", i))
			})
			mu.Lock()
			defer mu.Unlock()
			var insufficient *domain.InsufficientStockError
			switch {
			case err == nil:
				succeeded++
			case errors.As(err, &insufficient):
				rejected++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 5, succeeded)
	assert.Equal(t, 7, rejected)

	got, err := s.GetBook(ctx, book.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.StockQuantity)

	report, err := s.Audit(ctx)
	require.NoError(t, err)
	assert.True(t, report.Healthy(), "%+v", report)
}

func testOrderRoundTrip(t *testing.T, s Store) {
	ctx := context.Background()
	book := seedBook(t, s, 3)
	userID := uuid.New()

	line, err := domain.NewLineItem(book, 2)
	require.NoError(t, err)
	order, err := domain.NewOrder("ORD-20240310-"+uuid.New().String()[:12], userID,
		domain.OrderDetails{ShippingAddress: "1 Main St", PaymentMethod: "card"},
		[]domain.LineItem{line}, time.Now().UTC().Truncate(time.Microsecond))
	require.NoError(t, err)

	require.NoError(t, s.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		return tx.InsertOrder(ctx, order)
	}))

	got, err := s.GetOrderByNumber(ctx, order.OrderNumber)
	require.NoError(t, err)
	assert.Equal(t, order.ID, got.ID)
	assert.Equal(t, int64(3000), got.TotalAmount)
	require.Len(t, got.Items, 1)
	assert.Equal(t, book.Title, got.Items[0].Title)

	require.NoError(t, s.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		locked, err := tx.LockOrder(ctx, order.ID)
		if err != nil {
			return err
		}
		if _, err := locked.Transition(domain.OrderConfirmed, time.Now().UTC()); err != nil {
			return err
		}
		return tx.UpdateOrderStatus(ctx, locked)
	}))

	got, err = s.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderConfirmed, got.Status)
	assert.Equal(t, 2, got.Version)

	list, err := s.ListOrdersByUser(ctx, userID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Len(t, list[0].Items, 1)

	_, err = s.GetOrder(ctx, uuid.New())
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func testDuplicateISBN(t *testing.T, s Store) {
	ctx := context.Background()
	first := seedBook(t, s, 0)

	dup := newBook(1)
	dup.ISBN = first.ISBN
	err := s.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		return tx.InsertBook(ctx, dup)
	})
	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "isbn", verr.Field)
}

func testOutboxCycle(t *testing.T, s Store) {
	ctx := context.Background()
	aggregate := uuid.New()

	require.NoError(t, s.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		first, err := eventstore.NewEvent(aggregate, domain.AggregateOrder, domain.EventOrderCreated, map[string]string{"n": "1"})
		if err != nil {
			return err
		}
		second, err := eventstore.NewEvent(aggregate, domain.AggregateOrder, domain.EventOrderCancelled, map[string]string{"n": "2"})
		if err != nil {
			return err
		}
		return tx.AppendEvents(ctx, first, second)
	}))

	pending, err := s.StreamUnpublished(ctx, 1000)
	require.NoError(t, err)
	var mine []eventstore.Event
	for _, e := range pending {
		if e.AggregateID == aggregate {
			mine = append(mine, e)
		}
	}
	require.Len(t, mine, 2)
	assert.Equal(t, 1, mine[0].Version)
	assert.Equal(t, 2, mine[1].Version)

	for _, e := range mine {
		require.NoError(t, s.MarkPublished(ctx, e.ID))
	}
	pending, err = s.StreamUnpublished(ctx, 1000)
	require.NoError(t, err)
	for _, e := range pending {
		assert.NotEqual(t, aggregate, e.AggregateID)
	}
}

func testAggregateEvents(t *testing.T, s Store) {
	ctx := context.Background()
	order, other := uuid.New(), uuid.New()

	for _, step := range []struct {
		aggregate uuid.UUID
		eventType string
	}{
		{order, domain.EventOrderCreated},
		{other, domain.EventOrderCreated},
		{order, domain.EventOrderCancelled},
	} {
		require.NoError(t, s.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
			e, err := eventstore.NewEvent(step.aggregate, domain.AggregateOrder, step.eventType, map[string]string{"type": step.eventType})
			if err != nil {
				return err
			}
			return tx.AppendEvents(ctx, e)
		}))
	}

	history, err := s.AggregateEvents(ctx, order)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, domain.EventOrderCreated, history[0].EventType)
	assert.Equal(t, 1, history[0].Version)
	assert.Equal(t, domain.EventOrderCancelled, history[1].EventType)
	assert.Equal(t, 2, history[1].Version)
	for _, e := range history {
		assert.Equal(t, order, e.AggregateID)
	}

	none, err := s.AggregateEvents(ctx, uuid.New())
	require.NoError(t, err)
	assert.Empty(t, none)
}
