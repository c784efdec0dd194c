// internal/inventory/implementation_test.go
package inventory

import (
	"context"
	"sync"
	"testing"
	"time"

	"bookstore/internal/domain"
	"bookstore/internal/identity"
	"bookstore/internal/store"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var (
	staff    = identity.Actor{ID: uuid.New(), Role: identity.RoleStaff}
	customer = identity.Actor{ID: uuid.New(), Role: identity.RoleCustomer}
)

func newTestService(t *testing.T) (*service, *store.Memory) {
	t.Helper()
	s := store.NewMemory(store.DefaultOptions())
	svc := NewService(s, newTestLedger(), NewDeriver(2, 30), zap.NewNop()).(*service)
	return svc, s
}

func TestUpdateStock(t *testing.T) {
	svc, s := newTestService(t)
	book := seedBook(t, s, svc.ledger, "Dune", 5, 2)
	ctx := context.Background()

	m, err := svc.UpdateStock(ctx, staff, book.ID, StockUpdateRequest{
		Type: domain.MovementInbound, Quantity: 7, Reason: "delivery", ReferenceNumber: "PO-77",
	})
	require.NoError(t, err)
	assert.Equal(t, 12, m.QuantityAfter)
	assert.Equal(t, staff.ID, m.ActorID)

	_, err = svc.UpdateStock(ctx, customer, book.ID, StockUpdateRequest{Type: domain.MovementInbound, Quantity: 1, Reason: "x"})
	assert.ErrorIs(t, err, domain.ErrForbidden)

	_, err = svc.UpdateStock(ctx, staff, book.ID, StockUpdateRequest{Type: domain.MovementInbound, Quantity: 1})
	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "reason", verr.Field)

	_, err = svc.UpdateStock(ctx, staff, book.ID, StockUpdateRequest{Type: domain.MovementAdjustmentDecrease, Quantity: 13, Reason: "recount"})
	var insufficient *domain.InsufficientStockError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, 12, insufficient.Available)
}

func TestHistoryAndTotals(t *testing.T) {
	svc, s := newTestService(t)
	book := seedBook(t, s, svc.ledger, "Dune", 10, 2)
	ctx := context.Background()

	for _, req := range []StockUpdateRequest{
		{Type: domain.MovementOutbound, Quantity: 3, Reason: "sale"},
		{Type: domain.MovementReturnFromCustomer, Quantity: 1, Reason: "return"},
		{Type: domain.MovementDamaged, Quantity: 2, Reason: "damaged"},
	} {
		_, err := svc.UpdateStock(ctx, staff, book.ID, req)
		require.NoError(t, err)
	}

	history, err := svc.History(ctx, domain.MovementFilter{BookID: book.ID})
	require.NoError(t, err)
	require.Len(t, history, 4)

	outbound, err := svc.History(ctx, domain.MovementFilter{BookID: book.ID, Types: domain.OutboundTypes})
	require.NoError(t, err)
	assert.Len(t, outbound, 2)

	totals, err := svc.Totals(ctx, book.ID, time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, 11, totals.Inbound)
	assert.Equal(t, 5, totals.Outbound)
	assert.Equal(t, 6, totals.Net)

	_, err = svc.History(ctx, domain.MovementFilter{BookID: uuid.New()})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = svc.Totals(ctx, book.ID, time.Now(), time.Now().Add(-time.Hour))
	var verr *domain.ValidationError
	assert.ErrorAs(t, err, &verr)
}

func TestGetLowStockItems(t *testing.T) {
	svc, s := newTestService(t)
	ctx := context.Background()

	healthy := seedBook(t, s, svc.ledger, "Healthy", 50, 5)
	empty := seedBook(t, s, svc.ledger, "Empty", 0, 4)
	selling := seedBook(t, s, svc.ledger, "Selling", 30, 10)
	_, err := svc.UpdateStock(ctx, staff, selling.ID, StockUpdateRequest{Type: domain.MovementOutbound, Quantity: 24, Reason: "sales"})
	require.NoError(t, err)
	inactive := seedBook(t, s, svc.ledger, "Inactive", 1, 5)
	require.NoError(t, s.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		b, err := tx.GetBook(ctx, inactive.ID)
		if err != nil {
			return err
		}
		b.Status = domain.BookStatusInactive
		return tx.UpdateBookDetails(ctx, b)
	}))

	items, err := svc.GetLowStockItems(ctx)
	require.NoError(t, err)
	require.Len(t, items, 2)

	assert.Equal(t, empty.ID, items[0].BookID)
	assert.Equal(t, domain.AlertCritical, items[0].AlertLevel)
	assert.True(t, items[0].OutOfStock)
	assert.Equal(t, 8, items[0].RecommendedOrderQuantity)
	assert.Nil(t, items[0].DaysUntilOutOfStock)

	assert.Equal(t, selling.ID, items[1].BookID)
	assert.Equal(t, domain.AlertMedium, items[1].AlertLevel)
	assert.Equal(t, 4, items[1].Shortfall)
	require.NotNil(t, items[1].DaysUntilOutOfStock)
	assert.Equal(t, 7, *items[1].DaysUntilOutOfStock)

	for _, item := range items {
		assert.NotEqual(t, healthy.ID, item.BookID)
	}
}

func TestGetLowStockItems_ConcurrentCallers(t *testing.T) {
	svc, s := newTestService(t)
	seedBook(t, s, svc.ledger, "Empty", 0, 3)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			items, err := svc.GetLowStockItems(context.Background())
			assert.NoError(t, err)
			assert.Len(t, items, 1)
		}()
	}
	wg.Wait()
}

func TestAudit(t *testing.T) {
	svc, s := newTestService(t)
	seedBook(t, s, svc.ledger, "Dune", 3, 1)

	report, err := svc.Audit(context.Background())
	require.NoError(t, err)
	assert.True(t, report.Healthy())
	assert.Equal(t, 1, report.BooksChecked)
}
