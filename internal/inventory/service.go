// internal/inventory/service.go
package inventory

import (
	"context"
	"time"

	"bookstore/internal/domain"
	"bookstore/internal/identity"

	"github.com/google/uuid"
)

// Service defines the interface for the inventory service.
type Service interface {
	UpdateStock(ctx context.Context, actor identity.Actor, bookID uuid.UUID, req StockUpdateRequest) (*domain.StockMovement, error)
	History(ctx context.Context, filter domain.MovementFilter) ([]*domain.StockMovement, error)
	Totals(ctx context.Context, bookID uuid.UUID, from, to time.Time) (*StockTotals, error)
	GetLowStockItems(ctx context.Context) ([]LowStockItem, error)
	Audit(ctx context.Context) (domain.AuditReport, error)
}
