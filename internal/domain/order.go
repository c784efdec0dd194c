// internal/domain/order.go
package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// OrderStatus is a state of the order lifecycle.
type OrderStatus string

const (
	OrderPending    OrderStatus = "PENDING"
	OrderConfirmed  OrderStatus = "CONFIRMED"
	OrderProcessing OrderStatus = "PROCESSING"
	OrderShipped    OrderStatus = "SHIPPED"
	OrderDelivered  OrderStatus = "DELIVERED"
	OrderCancelled  OrderStatus = "CANCELLED"
)

// transitions lists the allowed targets of every status.
var transitions = map[OrderStatus][]OrderStatus{
	OrderPending:    {OrderConfirmed, OrderCancelled},
	OrderConfirmed:  {OrderProcessing, OrderCancelled},
	OrderProcessing: {OrderShipped},
	OrderShipped:    {OrderDelivered},
	OrderDelivered:  {},
	OrderCancelled:  {},
}

func (s OrderStatus) IsValid() bool {
	_, ok := transitions[s]
	return ok
}

// IsTerminal reports whether no transition leaves s.
func (s OrderStatus) IsTerminal() bool {
	return len(transitions[s]) == 0
}

// CanTransitionTo reports whether the lifecycle allows moving from s to target.
func (s OrderStatus) CanTransitionTo(target OrderStatus) bool {
	for _, t := range transitions[s] {
		if t == target {
			return true
		}
	}
	return false
}

// LineItem is a snapshot of a book taken when the order was placed. Later
// catalog edits never change it.
type LineItem struct {
	ID        uuid.UUID `json:"id" db:"id"`
	OrderID   uuid.UUID `json:"order_id" db:"order_id"`
	BookID    uuid.UUID `json:"book_id" db:"book_id"`
	Title     string    `json:"title" db:"title"`
	Author    string    `json:"author" db:"author"`
	ISBN      string    `json:"isbn" db:"isbn"`
	Quantity  int       `json:"quantity" db:"quantity"`
	UnitPrice int64     `json:"unit_price" db:"unit_price"`
	Subtotal  int64     `json:"subtotal" db:"subtotal"`
}

// NewLineItem snapshots book for quantity units.
func NewLineItem(book *Book, quantity int) (LineItem, error) {
	if quantity <= 0 || quantity > MaxQuantity {
		return LineItem{}, Invalid("quantity", "must be between 1 and %d for book %s, got %d", MaxQuantity, book.ID, quantity)
	}
	subtotal, ok := mulAmount(book.Price, quantity)
	if !ok {
		return LineItem{}, Invalid("quantity", "subtotal of %d x %d for book %s overflows", quantity, book.Price, book.ID)
	}
	return LineItem{
		ID:        uuid.New(),
		BookID:    book.ID,
		Title:     book.Title,
		Author:    book.Author,
		ISBN:      book.ISBN,
		Quantity:  quantity,
		UnitPrice: book.Price,
		Subtotal:  subtotal,
	}, nil
}

// OrderDetails carries the customer supplied part of an order.
type OrderDetails struct {
	ShippingAddress string `json:"shipping_address"`
	ShippingPhone   string `json:"shipping_phone,omitempty"`
	PaymentMethod   string `json:"payment_method,omitempty"`
	Notes           string `json:"notes,omitempty"`
}

func (d OrderDetails) Validate() error {
	if strings.TrimSpace(d.ShippingAddress) == "" {
		return Invalid("shipping_address", "is required")
	}
	if len(d.ShippingAddress) > 500 {
		return Invalid("shipping_address", "must be at most 500 characters")
	}
	if len(d.ShippingPhone) > 20 {
		return Invalid("shipping_phone", "must be at most 20 characters")
	}
	if len(d.Notes) > 1000 {
		return Invalid("notes", "must be at most 1000 characters")
	}
	return nil
}

// Order is the order aggregate. It owns Items.
type Order struct {
	ID              uuid.UUID   `json:"id" db:"id"`
	OrderNumber     string      `json:"order_number" db:"order_number"`
	UserID          uuid.UUID   `json:"user_id" db:"user_id"`
	Status          OrderStatus `json:"status" db:"status"`
	TotalAmount     int64       `json:"total_amount" db:"total_amount"`
	ItemCount       int         `json:"item_count" db:"item_count"`
	ShippingAddress string      `json:"shipping_address" db:"shipping_address"`
	ShippingPhone   string      `json:"shipping_phone" db:"shipping_phone"`
	PaymentMethod   string      `json:"payment_method" db:"payment_method"`
	Notes           string      `json:"notes" db:"notes"`
	OrderDate       time.Time   `json:"order_date" db:"order_date"`
	ShippedDate     *time.Time  `json:"shipped_date,omitempty" db:"shipped_date"`
	DeliveredDate   *time.Time  `json:"delivered_date,omitempty" db:"delivered_date"`
	CancelledDate   *time.Time  `json:"cancelled_date,omitempty" db:"cancelled_date"`
	CancelReason    string      `json:"cancel_reason,omitempty" db:"cancel_reason"`
	Version         int         `json:"version" db:"version"`
	UpdatedAt       time.Time   `json:"updated_at" db:"updated_at"`
	Items           []LineItem  `json:"items" db:"-"`
}

// NewOrder assembles a PENDING order from snapshotted line items and
// computes its totals.
func NewOrder(number string, userID uuid.UUID, details OrderDetails, items []LineItem, now time.Time) (*Order, error) {
	if len(items) == 0 {
		return nil, ErrEmptyCart
	}
	o := &Order{
		ID:              uuid.New(),
		OrderNumber:     number,
		UserID:          userID,
		Status:          OrderPending,
		ShippingAddress: details.ShippingAddress,
		ShippingPhone:   details.ShippingPhone,
		PaymentMethod:   details.PaymentMethod,
		Notes:           details.Notes,
		OrderDate:       now,
		Version:         1,
		UpdatedAt:       now,
		Items:           make([]LineItem, len(items)),
	}
	for i, item := range items {
		if item.Quantity <= 0 || item.Quantity > MaxQuantity-o.ItemCount {
			return nil, Invalid("quantity", "order item count must be between 1 and %d", MaxQuantity)
		}
		subtotal, ok := mulAmount(item.UnitPrice, item.Quantity)
		if !ok {
			return nil, Invalid("quantity", "subtotal of %d x %d for book %s overflows", item.Quantity, item.UnitPrice, item.BookID)
		}
		total, ok := addAmount(o.TotalAmount, subtotal)
		if !ok {
			return nil, Invalid("quantity", "order total overflows")
		}
		item.OrderID = o.ID
		item.Subtotal = subtotal
		o.Items[i] = item
		o.TotalAmount = total
		o.ItemCount += item.Quantity
	}
	if err := o.Reconcile(); err != nil {
		return nil, err
	}
	return o, nil
}

// Reconcile verifies that the order totals agree with its line items.
func (o *Order) Reconcile() error {
	var total int64
	var count int
	for _, item := range o.Items {
		if item.Quantity <= 0 {
			return fmt.Errorf("order %s: line item %s has quantity %d", o.OrderNumber, item.BookID, item.Quantity)
		}
		if want, ok := mulAmount(item.UnitPrice, item.Quantity); !ok || item.Subtotal != want {
			return fmt.Errorf("order %s: line item %s subtotal %d != %d x %d",
				o.OrderNumber, item.BookID, item.Subtotal, item.UnitPrice, item.Quantity)
		}
		var ok bool
		if total, ok = addAmount(total, item.Subtotal); !ok {
			return fmt.Errorf("order %s: total overflows", o.OrderNumber)
		}
		count += item.Quantity
	}
	if total != o.TotalAmount {
		return fmt.Errorf("order %s: total %d does not match line items %d", o.OrderNumber, o.TotalAmount, total)
	}
	if count != o.ItemCount {
		return fmt.Errorf("order %s: item count %d does not match line items %d", o.OrderNumber, o.ItemCount, count)
	}
	return nil
}

// IsEditable reports whether the order can still be changed by the customer.
func (o *Order) IsEditable() bool {
	return o.Status == OrderPending
}

// CanCancel reports whether the order may still be cancelled.
func (o *Order) CanCancel() bool {
	return o.Status.CanTransitionTo(OrderCancelled)
}

// Transition moves the order to target. Requesting the current forward
// status again is a no-op and reports changed == false.
func (o *Order) Transition(target OrderStatus, now time.Time) (changed bool, err error) {
	if !target.IsValid() {
		return false, Invalid("status", "unknown order status %q", target)
	}
	if target == o.Status && target != OrderCancelled && target != OrderPending {
		return false, nil
	}
	if !o.Status.CanTransitionTo(target) {
		return false, &InvalidTransitionError{From: o.Status, To: target}
	}

	o.Status = target
	switch target {
	case OrderShipped:
		if o.ShippedDate == nil {
			o.ShippedDate = timePtr(now)
		}
	case OrderDelivered:
		if o.DeliveredDate == nil {
			o.DeliveredDate = timePtr(now)
		}
	case OrderCancelled:
		if o.CancelledDate == nil {
			o.CancelledDate = timePtr(now)
		}
	}
	o.Version++
	o.UpdatedAt = now
	return true, nil
}

// Cancel moves the order to CANCELLED and records the reason.
func (o *Order) Cancel(reason string, now time.Time) error {
	if _, err := o.Transition(OrderCancelled, now); err != nil {
		return err
	}
	o.CancelReason = reason
	return nil
}

// Clone returns a deep copy of the order.
func (o *Order) Clone() *Order {
	c := *o
	c.Items = append([]LineItem(nil), o.Items...)
	c.ShippedDate = clonePtr(o.ShippedDate)
	c.DeliveredDate = clonePtr(o.DeliveredDate)
	c.CancelledDate = clonePtr(o.CancelledDate)
	return &c
}

// Receipt is what the caller gets back from a committed order.
type Receipt struct {
	OrderID     uuid.UUID   `json:"order_id"`
	OrderNumber string      `json:"order_number"`
	Status      OrderStatus `json:"status"`
	TotalAmount int64       `json:"total_amount"`
	ItemCount   int         `json:"item_count"`
	OrderDate   time.Time   `json:"order_date"`
}

// Receipt summarizes the order.
func (o *Order) Receipt() Receipt {
	return Receipt{
		OrderID:     o.ID,
		OrderNumber: o.OrderNumber,
		Status:      o.Status,
		TotalAmount: o.TotalAmount,
		ItemCount:   o.ItemCount,
		OrderDate:   o.OrderDate,
	}
}

func timePtr(t time.Time) *time.Time {
	return &t
}

func clonePtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
