// internal/cart/implementation.go
package cart

import (
	"context"
	"errors"
	"time"

	"bookstore/internal/domain"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// service implements the Service interface.
type service struct {
	store  *RedisStore
	books  BookLookup
	logger *zap.Logger
	now    func() time.Time
}

// NewService creates a new cart service instance.
func NewService(store *RedisStore, books BookLookup, logger *zap.Logger) Service {
	return &service{
		store:  store,
		books:  books,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// AddItem snapshots the current price of an ACTIVE book into the cart.
func (s *service) AddItem(ctx context.Context, userID uuid.UUID, req AddItemRequest) (*domain.Cart, error) {
	if req.Quantity <= 0 || req.Quantity > domain.MaxQuantity {
		return nil, domain.Invalid("quantity", "must be between 1 and %d, got %d", domain.MaxQuantity, req.Quantity)
	}
	if req.BookID == uuid.Nil {
		return nil, domain.Invalid("book_id", "is required")
	}

	book, err := s.books.GetBook(ctx, req.BookID)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, &domain.BookUnavailableError{BookID: req.BookID, Missing: true}
	}
	if err != nil {
		return nil, err
	}
	if !book.IsActive() {
		return nil, &domain.BookUnavailableError{BookID: book.ID, Status: book.Status}
	}

	if _, err := s.store.Put(ctx, userID, domain.CartItem{
		BookID:   book.ID,
		Quantity: req.Quantity,
		Price:    book.Price,
		AddedAt:  s.now(),
	}); err != nil {
		return nil, err
	}
	s.logger.Debug("cart item added",
		zap.String("user_id", userID.String()),
		zap.String("book_id", book.ID.String()),
		zap.Int("quantity", req.Quantity),
	)
	return s.GetCart(ctx, userID)
}

func (s *service) RemoveItem(ctx context.Context, userID, bookID uuid.UUID) (*domain.Cart, error) {
	if err := s.store.Remove(ctx, userID, bookID); err != nil {
		return nil, err
	}
	return s.GetCart(ctx, userID)
}

// GetCart returns the cart with its informational total.
func (s *service) GetCart(ctx context.Context, userID uuid.UUID) (*domain.Cart, error) {
	items, err := s.store.Snapshot(ctx, userID)
	if err != nil {
		return nil, err
	}
	cart := &domain.Cart{UserID: userID, Items: items}
	for _, it := range items {
		cart.Total += it.Price * int64(it.Quantity)
	}
	return cart, nil
}

func (s *service) Snapshot(ctx context.Context, userID uuid.UUID) ([]domain.CartItem, error) {
	return s.store.Snapshot(ctx, userID)
}

// Discard removes the quantities a committed order took from the cart.
func (s *service) Discard(ctx context.Context, userID uuid.UUID, ordered []domain.CartItem) error {
	for _, it := range ordered {
		if it.BookID == uuid.Nil {
			return domain.Invalid("book_id", "is required")
		}
	}
	return s.store.Discard(ctx, userID, ordered)
}

func (s *service) Clear(ctx context.Context, userID uuid.UUID) error {
	return s.store.Clear(ctx, userID)
}
