// internal/catalog/implementation.go
package catalog

import (
	"context"
	"fmt"
	"strings"
	"time"

	"bookstore/internal/domain"
	"bookstore/internal/identity"
	"bookstore/internal/inventory"
	"bookstore/internal/store"
	"bookstore/pkg/eventstore"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// service implements the Service interface.
type service struct {
	store            store.Store
	ledger           *inventory.Ledger
	defaultThreshold int
	logger           *zap.Logger
	now              func() time.Time
}

// NewService creates a new catalog service instance.
func NewService(st store.Store, ledger *inventory.Ledger, defaultThreshold int, logger *zap.Logger) Service {
	return &service{
		store:            st,
		ledger:           ledger,
		defaultThreshold: defaultThreshold,
		logger:           logger,
		now:              func() time.Time { return time.Now().UTC() },
	}
}

// AddBook creates a new book and books its initial stock as an INBOUND movement.
func (s *service) AddBook(ctx context.Context, actor identity.Actor, req AddBookRequest) (*domain.Book, error) {
	if !actor.IsPrivileged() {
		return nil, domain.ErrForbidden
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	now := s.now()
	book := &domain.Book{
		ID:                uuid.New(),
		Title:             strings.TrimSpace(req.Title),
		Author:            strings.TrimSpace(req.Author),
		ISBN:              strings.TrimSpace(req.ISBN),
		Price:             req.Price,
		LowStockThreshold: s.defaultThreshold,
		Status:            req.Status,
		Version:           1,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if req.LowStockThreshold != nil {
		book.LowStockThreshold = *req.LowStockThreshold
	}
	if book.Status == "" {
		book.Status = domain.BookStatusActive
	}
	if err := book.Validate(); err != nil {
		return nil, err
	}

	err := s.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if err := tx.InsertBook(ctx, book); err != nil {
			return err
		}
		added, err := eventstore.NewEvent(book.ID, domain.AggregateBook, domain.EventBookAdded, domain.BookAddedEvent{
			BookID:       book.ID,
			Title:        book.Title,
			ISBN:         book.ISBN,
			Price:        book.Price,
			InitialStock: req.InitialStock,
		})
		if err != nil {
			return err
		}
		if err := tx.AppendEvents(ctx, added); err != nil {
			return fmt.Errorf("append book event: %w", err)
		}
		if req.InitialStock == 0 {
			return nil
		}
		_, err = s.ledger.Record(ctx, tx, domain.MovementRequest{
			BookID:   book.ID,
			ActorID:  actor.ID,
			Type:     domain.MovementInbound,
			Quantity: req.InitialStock,
			Reason:   "initial stock",
		})
		return err
	})
	if err != nil {
		s.logger.Warn("add book rejected", zap.String("isbn", book.ISBN), zap.Error(err))
		return nil, err
	}

	s.logger.Info("book added",
		zap.String("book_id", book.ID.String()),
		zap.String("isbn", book.ISBN),
		zap.Int("initial_stock", req.InitialStock),
	)
	return s.store.GetBook(ctx, book.ID)
}

// GetBook retrieves a book by ID.
func (s *service) GetBook(ctx context.Context, id uuid.UUID) (*domain.Book, error) {
	return s.store.GetBook(ctx, id)
}

// UpdateBook changes descriptive fields. Existing order line items keep
// their snapshot and stock is never touched.
func (s *service) UpdateBook(ctx context.Context, actor identity.Actor, id uuid.UUID, req UpdateBookRequest) (*domain.Book, error) {
	if !actor.IsPrivileged() {
		return nil, domain.ErrForbidden
	}
	if req.IsEmpty() {
		return nil, domain.Invalid("body", "no fields to update")
	}

	err := s.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		books, err := tx.LockBooks(ctx, []uuid.UUID{id})
		if err != nil {
			return err
		}
		book, ok := books[id]
		if !ok {
			return domain.ErrNotFound
		}

		req.apply(book)
		if err := book.Validate(); err != nil {
			return err
		}
		book.UpdatedAt = s.now()
		if err := tx.UpdateBookDetails(ctx, book); err != nil {
			return err
		}

		updated, err := eventstore.NewEvent(book.ID, domain.AggregateBook, domain.EventBookUpdated, domain.BookUpdatedEvent{
			BookID:            book.ID,
			Title:             book.Title,
			Price:             book.Price,
			Status:            book.Status,
			LowStockThreshold: book.LowStockThreshold,
		})
		if err != nil {
			return err
		}
		return tx.AppendEvents(ctx, updated)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("book updated", zap.String("book_id", id.String()))
	return s.store.GetBook(ctx, id)
}
