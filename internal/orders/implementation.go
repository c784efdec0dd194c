// internal/orders/implementation.go
package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bookstore/internal/domain"
	"bookstore/internal/identity"
	"bookstore/internal/inventory"
	"bookstore/internal/store"
	"bookstore/internal/telemetry"
	"bookstore/pkg/eventstore"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// service implements the Service interface.
type service struct {
	store     store.Store
	ledger    *inventory.Ledger
	carts     CartSource
	logger    *zap.Logger
	tracer    trace.Tracer
	created   metric.Int64Counter
	cancelled metric.Int64Counter
	rejected  metric.Int64Counter
	numbers   func(time.Time) string
	now       func() time.Time
}

// NewService creates a new order service instance.
func NewService(st store.Store, ledger *inventory.Ledger, carts CartSource, logger *zap.Logger) Service {
	meter := otel.Meter("bookstore/orders")
	return &service{
		store:     st,
		ledger:    ledger,
		carts:     carts,
		logger:    logger,
		tracer:    otel.Tracer("bookstore/orders"),
		created:   telemetry.Counter(meter, "orders.created", "orders committed"),
		cancelled: telemetry.Counter(meter, "orders.cancelled", "orders cancelled and restocked"),
		rejected:  telemetry.Counter(meter, "orders.rejected", "order creations that failed"),
		numbers:   NewOrderNumber,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// CreateOrder checks out the user's current cart.
func (s *service) CreateOrder(ctx context.Context, userID uuid.UUID, req CreateOrderRequest) (*domain.Receipt, error) {
	items, err := s.carts.Snapshot(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("read cart: %w", err)
	}
	return s.CreateOrderFromCart(ctx, userID, items, req.details())
}

// CreateOrderFromCart converts a cart snapshot into a committed order. Stock
// for every line is taken in one unit of work; any failure leaves no trace.
func (s *service) CreateOrderFromCart(ctx context.Context, userID uuid.UUID, items []domain.CartItem, details domain.OrderDetails) (*domain.Receipt, error) {
	if len(items) == 0 {
		s.reject(ctx, userID, domain.ErrEmptyCart)
		return nil, domain.ErrEmptyCart
	}
	if err := details.Validate(); err != nil {
		return nil, err
	}
	lines, err := domain.MergeCartItems(items)
	if err != nil {
		return nil, err
	}

	ctx, span := s.tracer.Start(ctx, "orders.create",
		trace.WithAttributes(
			attribute.String("user.id", userID.String()),
			attribute.Int("order.lines", len(lines)),
		),
	)
	defer span.End()

	var order *domain.Order
	err = s.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		order = nil
		now := s.now()
		number := s.numbers(now)

		ids := make([]uuid.UUID, len(lines))
		for i, line := range lines {
			ids[i] = line.BookID
		}
		books, err := tx.LockBooks(ctx, ids)
		if err != nil {
			return fmt.Errorf("lock books: %w", err)
		}
		for _, line := range lines {
			book, ok := books[line.BookID]
			if !ok {
				return &domain.BookUnavailableError{BookID: line.BookID, Missing: true}
			}
			if !book.IsActive() {
				return &domain.BookUnavailableError{BookID: book.ID, Status: book.Status}
			}
		}

		snapshot := make([]domain.LineItem, 0, len(lines))
		for _, line := range lines {
			if _, err := s.ledger.Record(ctx, tx, domain.MovementRequest{
				BookID:          line.BookID,
				ActorID:         userID,
				Type:            domain.MovementOutbound,
				Quantity:        line.Quantity,
				Reason:          "order placed",
				ReferenceNumber: number,
			}); err != nil {
				return err
			}
			lineItem, err := domain.NewLineItem(books[line.BookID], line.Quantity)
			if err != nil {
				return err
			}
			snapshot = append(snapshot, lineItem)
		}

		o, err := domain.NewOrder(number, userID, details, snapshot, now)
		if err != nil {
			return err
		}
		if err := tx.InsertOrder(ctx, o); err != nil {
			return err
		}
		event, err := eventstore.NewEvent(o.ID, domain.AggregateOrder, domain.EventOrderCreated, domain.OrderCreatedEvent{
			OrderID:     o.ID,
			OrderNumber: o.OrderNumber,
			UserID:      o.UserID,
			TotalAmount: o.TotalAmount,
			ItemCount:   o.ItemCount,
		})
		if err != nil {
			return err
		}
		if err := tx.AppendEvents(ctx, event); err != nil {
			return fmt.Errorf("append order event: %w", err)
		}
		order = o
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.reject(ctx, userID, err)
		return nil, err
	}

	span.SetAttributes(attribute.String("order.number", order.OrderNumber))
	s.created.Add(ctx, 1)
	s.logger.Info("order created",
		zap.String("order_number", order.OrderNumber),
		zap.String("user_id", userID.String()),
		zap.Int64("total_amount", order.TotalAmount),
		zap.Int("item_count", order.ItemCount),
	)

	if s.carts != nil {
		if err := s.carts.Discard(ctx, userID, lines); err != nil {
			s.logger.Error("failed to discard ordered cart lines",
				zap.String("order_number", order.OrderNumber),
				zap.String("user_id", userID.String()),
				zap.Error(err),
			)
		}
	}

	receipt := order.Receipt()
	return &receipt, nil
}

func (s *service) reject(ctx context.Context, userID uuid.UUID, err error) {
	reason := "error"
	var (
		validation   *domain.ValidationError
		unavailable  *domain.BookUnavailableError
		insufficient *domain.InsufficientStockError
		conflict     *domain.ConcurrencyConflictError
	)
	switch {
	case errors.As(err, &validation):
		reason = "validation"
	case errors.As(err, &unavailable):
		reason = "unavailable"
	case errors.As(err, &insufficient):
		reason = "insufficient_stock"
	case errors.As(err, &conflict):
		reason = "conflict"
	}
	s.rejected.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))

	fields := []zap.Field{zap.String("user_id", userID.String()), zap.String("reason", reason), zap.Error(err)}
	if insufficient != nil {
		fields = append(fields,
			zap.String("book_id", insufficient.BookID.String()),
			zap.Int("quantity", insufficient.Requested),
			zap.Int("available", insufficient.Available),
		)
	}
	if domain.IsBusinessError(err) {
		s.logger.Warn("order rejected", fields...)
		return
	}
	s.logger.Error("order creation failed", fields...)
}

// Transition performs a forward lifecycle move. A request for CANCELLED is
// handled as a cancellation so that stock is restored.
func (s *service) Transition(ctx context.Context, actor identity.Actor, orderID uuid.UUID, target domain.OrderStatus) (*domain.Order, error) {
	if !target.IsValid() {
		return nil, domain.Invalid("status", "unknown order status %q", target)
	}
	if target == domain.OrderCancelled {
		return s.Cancel(ctx, actor, orderID, "")
	}
	if !actor.IsPrivileged() {
		return nil, domain.ErrForbidden
	}

	ctx, span := s.tracer.Start(ctx, "orders.transition",
		trace.WithAttributes(
			attribute.String("order.id", orderID.String()),
			attribute.String("order.target", string(target)),
		),
	)
	defer span.End()

	var (
		order   *domain.Order
		from    domain.OrderStatus
		changed bool
	)
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		o, err := tx.LockOrder(ctx, orderID)
		if err != nil {
			return err
		}
		from = o.Status
		now := s.now()
		changed, err = o.Transition(target, now)
		if err != nil {
			return err
		}
		order = o
		if !changed {
			return nil
		}
		if err := tx.UpdateOrderStatus(ctx, o); err != nil {
			return err
		}
		event, err := eventstore.NewEvent(o.ID, domain.AggregateOrder, domain.EventOrderStatusChanged, domain.OrderStatusChangedEvent{
			OrderID:     o.ID,
			OrderNumber: o.OrderNumber,
			From:        from,
			To:          target,
			ActorID:     actor.ID,
			ChangedAt:   now,
		})
		if err != nil {
			return err
		}
		return tx.AppendEvents(ctx, event)
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	if changed {
		s.logger.Info("order status changed",
			zap.String("order_number", order.OrderNumber),
			zap.String("from", string(from)),
			zap.String("to", string(target)),
			zap.String("actor_id", actor.ID.String()),
		)
	}
	return order, nil
}

// Cancel cancels a PENDING or CONFIRMED order and restocks every line item
// in the same unit of work.
func (s *service) Cancel(ctx context.Context, actor identity.Actor, orderID uuid.UUID, reason string) (*domain.Order, error) {
	ctx, span := s.tracer.Start(ctx, "orders.cancel",
		trace.WithAttributes(attribute.String("order.id", orderID.String())),
	)
	defer span.End()

	var order *domain.Order
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		o, err := tx.LockOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if !actor.CanActFor(o.UserID) {
			return domain.ErrForbidden
		}
		if err := o.Cancel(reason, s.now()); err != nil {
			return err
		}

		ids := make([]uuid.UUID, len(o.Items))
		for i, item := range o.Items {
			ids[i] = item.BookID
		}
		if _, err := tx.LockBooks(ctx, ids); err != nil {
			return fmt.Errorf("lock books: %w", err)
		}
		for _, item := range o.Items {
			if _, err := s.ledger.Record(ctx, tx, domain.MovementRequest{
				BookID:          item.BookID,
				ActorID:         actor.ID,
				Type:            domain.MovementAdjustmentIncrease,
				Quantity:        item.Quantity,
				Reason:          "order cancelled",
				ReferenceNumber: o.OrderNumber,
			}); err != nil {
				return err
			}
		}

		if err := tx.UpdateOrderStatus(ctx, o); err != nil {
			return err
		}
		event, err := eventstore.NewEvent(o.ID, domain.AggregateOrder, domain.EventOrderCancelled, domain.OrderCancelledEvent{
			OrderID:     o.ID,
			OrderNumber: o.OrderNumber,
			ActorID:     actor.ID,
			Reason:      reason,
			Restocked:   o.ItemCount,
		})
		if err != nil {
			return err
		}
		if err := tx.AppendEvents(ctx, event); err != nil {
			return fmt.Errorf("append cancel event: %w", err)
		}
		order = o
		return nil
	})
	if err != nil {
		span.RecordError(err)
		s.logger.Warn("order cancellation rejected",
			zap.String("order_id", orderID.String()),
			zap.String("actor_id", actor.ID.String()),
			zap.Error(err),
		)
		return nil, err
	}

	span.SetAttributes(attribute.String("order.number", order.OrderNumber))
	s.cancelled.Add(ctx, 1)
	s.logger.Info("order cancelled",
		zap.String("order_number", order.OrderNumber),
		zap.String("actor_id", actor.ID.String()),
		zap.Int("restocked", order.ItemCount),
	)
	return order, nil
}

// GetOrder returns an order visible to actor. Orders of other users are
// reported as not found.
func (s *service) GetOrder(ctx context.Context, actor identity.Actor, orderID uuid.UUID) (*domain.Order, error) {
	o, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	return visible(actor, o)
}

func (s *service) GetOrderByNumber(ctx context.Context, actor identity.Actor, number string) (*domain.Order, error) {
	o, err := s.store.GetOrderByNumber(ctx, number)
	if err != nil {
		return nil, err
	}
	return visible(actor, o)
}

// ListUserOrders returns the orders of userID, newest first.
func (s *service) ListUserOrders(ctx context.Context, actor identity.Actor, userID uuid.UUID) ([]*domain.Order, error) {
	if !actor.CanActFor(userID) {
		return nil, domain.ErrForbidden
	}
	return s.store.ListOrdersByUser(ctx, userID)
}

// History returns the events recorded for an order, oldest first. Visibility
// follows GetOrder.
func (s *service) History(ctx context.Context, actor identity.Actor, orderID uuid.UUID) ([]eventstore.Event, error) {
	if _, err := s.GetOrder(ctx, actor, orderID); err != nil {
		return nil, err
	}
	return s.store.AggregateEvents(ctx, orderID)
}

func visible(actor identity.Actor, o *domain.Order) (*domain.Order, error) {
	if !actor.CanActFor(o.UserID) {
		return nil, domain.ErrNotFound
	}
	return o, nil
}
