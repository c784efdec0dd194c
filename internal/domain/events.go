// internal/domain/events.go
package domain

import (
	"time"

	"github.com/google/uuid"
)

// Aggregate types used in the outbox.
const (
	AggregateBook  = "book"
	AggregateOrder = "order"
)

// Event types published through the outbox.
const (
	EventBookAdded             = "BookAdded"
	EventBookUpdated           = "BookUpdated"
	EventStockMovementRecorded = "StockMovementRecorded"
	EventLowStockAlertRaised   = "LowStockAlertRaised"
	EventOrderCreated          = "OrderCreated"
	EventOrderStatusChanged    = "OrderStatusChanged"
	EventOrderCancelled        = "OrderCancelled"
)

// BookAddedEvent is published when a book enters the catalog.
type BookAddedEvent struct {
	BookID       uuid.UUID `json:"book_id"`
	Title        string    `json:"title"`
	ISBN         string    `json:"isbn"`
	Price        int64     `json:"price"`
	InitialStock int       `json:"initial_stock"`
}

// BookUpdatedEvent is published when descriptive catalog fields change.
type BookUpdatedEvent struct {
	BookID            uuid.UUID  `json:"book_id"`
	Title             string     `json:"title"`
	Price             int64      `json:"price"`
	Status            BookStatus `json:"status"`
	LowStockThreshold int        `json:"low_stock_threshold"`
}

// StockMovementRecordedEvent mirrors a ledger entry.
type StockMovementRecordedEvent struct {
	MovementID      uuid.UUID    `json:"movement_id"`
	BookID          uuid.UUID    `json:"book_id"`
	Type            MovementType `json:"type"`
	QuantityChange  int          `json:"quantity_change"`
	QuantityAfter   int          `json:"quantity_after"`
	ReferenceNumber string       `json:"reference_number,omitempty"`
}

// LowStockAlertRaisedEvent is published when stock falls to or below the threshold.
type LowStockAlertRaisedEvent struct {
	BookID    uuid.UUID  `json:"book_id"`
	Title     string     `json:"title"`
	Stock     int        `json:"stock"`
	Threshold int        `json:"threshold"`
	Level     AlertLevel `json:"level"`
}

// OrderCreatedEvent is published when an order commits.
type OrderCreatedEvent struct {
	OrderID     uuid.UUID `json:"order_id"`
	OrderNumber string    `json:"order_number"`
	UserID      uuid.UUID `json:"user_id"`
	TotalAmount int64     `json:"total_amount"`
	ItemCount   int       `json:"item_count"`
}

// OrderStatusChangedEvent is published for forward lifecycle transitions.
type OrderStatusChangedEvent struct {
	OrderID     uuid.UUID   `json:"order_id"`
	OrderNumber string      `json:"order_number"`
	From        OrderStatus `json:"from"`
	To          OrderStatus `json:"to"`
	ActorID     uuid.UUID   `json:"actor_id"`
	ChangedAt   time.Time   `json:"changed_at"`
}

// OrderCancelledEvent is published when an order is cancelled and restocked.
type OrderCancelledEvent struct {
	OrderID     uuid.UUID `json:"order_id"`
	OrderNumber string    `json:"order_number"`
	ActorID     uuid.UUID `json:"actor_id"`
	Reason      string    `json:"reason,omitempty"`
	Restocked   int       `json:"restocked"`
}

// AlertLevel grades how urgently a book needs restocking.
type AlertLevel string

const (
	AlertNone     AlertLevel = "NONE"
	AlertMedium   AlertLevel = "MEDIUM"
	AlertHigh     AlertLevel = "HIGH"
	AlertCritical AlertLevel = "CRITICAL"
)

// Rank orders alert levels by severity, higher is worse.
func (l AlertLevel) Rank() int {
	switch l {
	case AlertCritical:
		return 3
	case AlertHigh:
		return 2
	case AlertMedium:
		return 1
	}
	return 0
}
