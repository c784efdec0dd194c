// internal/catalog/service.go
package catalog

import (
	"context"

	"bookstore/internal/domain"
	"bookstore/internal/identity"

	"github.com/google/uuid"
)

// Service defines the interface for the catalog service.
type Service interface {
	AddBook(ctx context.Context, actor identity.Actor, req AddBookRequest) (*domain.Book, error)
	GetBook(ctx context.Context, id uuid.UUID) (*domain.Book, error)
	UpdateBook(ctx context.Context, actor identity.Actor, id uuid.UUID, req UpdateBookRequest) (*domain.Book, error)
}
