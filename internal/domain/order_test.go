// internal/domain/order_test.go
package domain

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func testOrder(t *testing.T) *Order {
	t.Helper()
	book := testBook(10)
	line, err := NewLineItem(book, 2)
	require.NoError(t, err)
	o, err := NewOrder("ORD-20240310-ABCDEF123456", uuid.New(),
		OrderDetails{ShippingAddress: "1 Main St"},
		[]LineItem{line}, time.Now())
	require.NoError(t, err)
	return o
}

func TestNewOrder_Totals(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(1, 8).Draw(t, "items")
		items := make([]LineItem, n)
		var total int64
		var count int
		for i := range items {
			book := testBook(100)
			book.Price = rapid.Int64Range(0, 100000).Draw(t, "price")
			qty := rapid.IntRange(1, 50).Draw(t, "qty")
			line, err := NewLineItem(book, qty)
			if err != nil {
				t.Fatalf("line item: %v", err)
			}
			items[i] = line
			total += book.Price * int64(qty)
			count += qty
		}

		o, err := NewOrder("ORD-X", uuid.New(), OrderDetails{ShippingAddress: "x"}, items, time.Now())
		if err != nil {
			t.Fatalf("new order: %v", err)
		}
		if o.TotalAmount != total || o.ItemCount != count {
			t.Fatalf("totals %d/%d, want %d/%d", o.TotalAmount, o.ItemCount, total, count)
		}
		if o.Status != OrderPending {
			t.Fatalf("status %s", o.Status)
		}
		for _, item := range o.Items {
			if item.OrderID != o.ID {
				t.Fatalf("line item not attached to order")
			}
		}
	})
}

func TestNewOrder_Empty(t *testing.T) {
	_, err := NewOrder("ORD-X", uuid.New(), OrderDetails{ShippingAddress: "x"}, nil, time.Now())
	assert.ErrorIs(t, err, ErrEmptyCart)
}

func TestOrderReconcile_DetectsTampering(t *testing.T) {
	o := testOrder(t)
	require.NoError(t, o.Reconcile())

	o.TotalAmount++
	assert.Error(t, o.Reconcile())

	o = testOrder(t)
	o.Items[0].Subtotal = 1
	assert.Error(t, o.Reconcile())

	o = testOrder(t)
	o.ItemCount = 99
	assert.Error(t, o.Reconcile())
}

func TestOrderTransition_Table(t *testing.T) {
	all := []OrderStatus{OrderPending, OrderConfirmed, OrderProcessing, OrderShipped, OrderDelivered, OrderCancelled}
	allowed := map[[2]OrderStatus]bool{
		{OrderPending, OrderConfirmed}:    true,
		{OrderPending, OrderCancelled}:    true,
		{OrderConfirmed, OrderProcessing}: true,
		{OrderConfirmed, OrderCancelled}:  true,
		{OrderProcessing, OrderShipped}:   true,
		{OrderShipped, OrderDelivered}:    true,
	}

	for _, from := range all {
		for _, to := range all {
			o := testOrder(t)
			o.Status = from
			version := o.Version

			changed, err := o.Transition(to, time.Now())

			switch {
			case allowed[[2]OrderStatus{from, to}]:
				require.NoError(t, err, "%s -> %s", from, to)
				assert.True(t, changed)
				assert.Equal(t, to, o.Status)
				assert.Equal(t, version+1, o.Version)
			case from == to && to != OrderCancelled && to != OrderPending:
				require.NoError(t, err, "%s -> %s", from, to)
				assert.False(t, changed)
				assert.Equal(t, version, o.Version)
			default:
				var terr *InvalidTransitionError
				require.ErrorAs(t, err, &terr, "%s -> %s", from, to)
				assert.Equal(t, from, terr.From)
				assert.Equal(t, to, terr.To)
				assert.Equal(t, from, o.Status)
				assert.Equal(t, version, o.Version)
			}
		}
	}
}

func TestOrderTransition_ShippedDateSetOnce(t *testing.T) {
	o := testOrder(t)
	o.Status = OrderProcessing
	first := time.Date(2024, 3, 10, 9, 0, 0, 0, time.UTC)

	_, err := o.Transition(OrderShipped, first)
	require.NoError(t, err)
	require.NotNil(t, o.ShippedDate)

	changed, err := o.Transition(OrderShipped, first.Add(48*time.Hour))
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, first, *o.ShippedDate)
}

func TestOrderCancel(t *testing.T) {
	o := testOrder(t)
	assert.True(t, o.IsEditable())
	assert.True(t, o.CanCancel())

	require.NoError(t, o.Cancel("changed my mind", time.Now()))
	assert.Equal(t, OrderCancelled, o.Status)
	assert.Equal(t, "changed my mind", o.CancelReason)
	assert.NotNil(t, o.CancelledDate)
	assert.False(t, o.IsEditable())

	var terr *InvalidTransitionError
	assert.ErrorAs(t, o.Cancel("again", time.Now()), &terr)
	assert.Equal(t, "changed my mind", o.CancelReason)
}

func TestOrderDetailsValidate(t *testing.T) {
	assert.NoError(t, OrderDetails{ShippingAddress: "1 Main St"}.Validate())

	var verr *ValidationError
	require.ErrorAs(t, OrderDetails{}.Validate(), &verr)
	assert.Equal(t, "shipping_address", verr.Field)
}

func TestOrderClone_IsDeep(t *testing.T) {
	o := testOrder(t)
	c := o.Clone()
	c.Items[0].Quantity = 42
	assert.Equal(t, 2, o.Items[0].Quantity)
}
