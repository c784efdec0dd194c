// internal/orders/service.go
package orders

import (
	"context"

	"bookstore/internal/domain"
	"bookstore/internal/identity"
	"bookstore/pkg/eventstore"

	"github.com/google/uuid"
)

// CartSource supplies a user's cart. After a committed order, Discard removes
// the ordered quantities; lines added since the snapshot stay in the cart.
type CartSource interface {
	Snapshot(ctx context.Context, userID uuid.UUID) ([]domain.CartItem, error)
	Discard(ctx context.Context, userID uuid.UUID, ordered []domain.CartItem) error
}

// Service defines the interface for the order service.
type Service interface {
	CreateOrder(ctx context.Context, userID uuid.UUID, req CreateOrderRequest) (*domain.Receipt, error)
	CreateOrderFromCart(ctx context.Context, userID uuid.UUID, items []domain.CartItem, details domain.OrderDetails) (*domain.Receipt, error)
	Transition(ctx context.Context, actor identity.Actor, orderID uuid.UUID, target domain.OrderStatus) (*domain.Order, error)
	Cancel(ctx context.Context, actor identity.Actor, orderID uuid.UUID, reason string) (*domain.Order, error)
	GetOrder(ctx context.Context, actor identity.Actor, orderID uuid.UUID) (*domain.Order, error)
	GetOrderByNumber(ctx context.Context, actor identity.Actor, number string) (*domain.Order, error)
	ListUserOrders(ctx context.Context, actor identity.Actor, userID uuid.UUID) ([]*domain.Order, error)
	History(ctx context.Context, actor identity.Actor, orderID uuid.UUID) ([]eventstore.Event, error)
}
