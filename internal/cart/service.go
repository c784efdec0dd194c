// internal/cart/service.go
package cart

import (
	"context"

	"bookstore/internal/domain"

	"github.com/google/uuid"
)

// BookLookup resolves the book a cart line refers to.
type BookLookup interface {
	GetBook(ctx context.Context, id uuid.UUID) (*domain.Book, error)
}

// AddItemRequest adds a quantity of one book to the caller's cart.
type AddItemRequest struct {
	BookID   uuid.UUID `json:"book_id"`
	Quantity int       `json:"quantity"`
}

// DiscardRequest names the quantities taken by a committed order.
type DiscardRequest struct {
	Items []domain.CartItem `json:"items"`
}

// Service defines the interface for the cart service. Snapshot and Discard
// make it usable as the order service's cart source.
type Service interface {
	AddItem(ctx context.Context, userID uuid.UUID, req AddItemRequest) (*domain.Cart, error)
	RemoveItem(ctx context.Context, userID, bookID uuid.UUID) (*domain.Cart, error)
	GetCart(ctx context.Context, userID uuid.UUID) (*domain.Cart, error)
	Snapshot(ctx context.Context, userID uuid.UUID) ([]domain.CartItem, error)
	Discard(ctx context.Context, userID uuid.UUID, ordered []domain.CartItem) error
	Clear(ctx context.Context, userID uuid.UUID) error
}
