// internal/inventory/implementation.go
package inventory

import (
	"context"
	"fmt"
	"time"

	"bookstore/internal/domain"
	"bookstore/internal/identity"
	"bookstore/internal/store"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// service implements the Service interface.
type service struct {
	store   store.Store
	ledger  *Ledger
	deriver Deriver
	logger  *zap.Logger
	reports singleflight.Group
	now     func() time.Time
}

// NewService creates a new inventory service instance.
func NewService(st store.Store, ledger *Ledger, deriver Deriver, logger *zap.Logger) Service {
	return &service{
		store:   st,
		ledger:  ledger,
		deriver: deriver,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// UpdateStock records a manual movement for a book.
func (s *service) UpdateStock(ctx context.Context, actor identity.Actor, bookID uuid.UUID, req StockUpdateRequest) (*domain.StockMovement, error) {
	if !actor.IsPrivileged() {
		return nil, domain.ErrForbidden
	}
	if err := req.Validate(bookID); err != nil {
		return nil, err
	}

	var recorded *domain.StockMovement
	err := s.store.WithinTx(ctx, func(ctx context.Context, tx store.Tx) error {
		m, err := s.ledger.Record(ctx, tx, req.movement(bookID, actor.ID))
		if err != nil {
			return err
		}
		recorded = m
		return nil
	})
	if err != nil {
		s.logger.Warn("stock update rejected",
			zap.String("book_id", bookID.String()),
			zap.String("type", string(req.Type)),
			zap.Int("quantity", req.Quantity),
			zap.Error(err),
		)
		return nil, err
	}

	s.logger.Info("stock updated",
		zap.String("book_id", bookID.String()),
		zap.String("type", string(recorded.Type)),
		zap.Int("change", recorded.QuantityChange),
		zap.Int("stock", recorded.QuantityAfter),
		zap.String("actor_id", actor.ID.String()),
	)
	return recorded, nil
}

// History returns ledger entries matching filter.
func (s *service) History(ctx context.Context, filter domain.MovementFilter) ([]*domain.StockMovement, error) {
	if filter.BookID != uuid.Nil {
		if _, err := s.store.GetBook(ctx, filter.BookID); err != nil {
			return nil, err
		}
	}
	for _, t := range filter.Types {
		if !t.IsValid() {
			return nil, domain.Invalid("type", "unknown movement type %q", t)
		}
	}
	movements, err := s.store.Movements(ctx, filter)
	if err != nil {
		return nil, err
	}
	if movements == nil {
		movements = []*domain.StockMovement{}
	}
	return movements, nil
}

// Totals sums inbound and outbound movements of a book over [from, to).
func (s *service) Totals(ctx context.Context, bookID uuid.UUID, from, to time.Time) (*StockTotals, error) {
	if !from.IsZero() && !to.IsZero() && !from.Before(to) {
		return nil, domain.Invalid("to", "must be after from")
	}
	if _, err := s.store.GetBook(ctx, bookID); err != nil {
		return nil, err
	}
	filter := domain.MovementFilter{BookID: bookID, From: from, To: to}

	filter.Types = domain.InboundTypes
	inbound, err := s.store.SumMovements(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("sum inbound: %w", err)
	}
	filter.Types = domain.OutboundTypes
	outbound, err := s.store.SumMovements(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("sum outbound: %w", err)
	}
	return &StockTotals{
		BookID:   bookID,
		From:     from,
		To:       to,
		Inbound:  inbound,
		Outbound: -outbound,
		Net:      inbound + outbound,
	}, nil
}

// GetLowStockItems derives the low-stock report. Concurrent callers share
// one computation.
func (s *service) GetLowStockItems(ctx context.Context) ([]LowStockItem, error) {
	v, err, shared := s.reports.Do("low-stock", func() (interface{}, error) {
		return s.lowStockItems(ctx)
	})
	if err != nil {
		return nil, err
	}
	if shared {
		s.logger.Debug("low stock report shared between callers")
	}
	items := v.([]LowStockItem)
	return append([]LowStockItem(nil), items...), nil
}

func (s *service) lowStockItems(ctx context.Context) ([]LowStockItem, error) {
	books, err := s.store.ListLowStock(ctx)
	if err != nil {
		return nil, err
	}
	since := s.now().AddDate(0, 0, -s.deriver.VelocityWindowDays)

	items := make([]LowStockItem, 0, len(books))
	for _, b := range books {
		if !IsLowStock(b) {
			continue
		}
		sold, err := s.store.SumMovements(ctx, domain.MovementFilter{
			BookID: b.ID,
			Types:  []domain.MovementType{domain.MovementOutbound},
			From:   since,
		})
		if err != nil {
			return nil, fmt.Errorf("outbound velocity of book %s: %w", b.ID, err)
		}
		items = append(items, s.deriver.Item(b, -sold))
	}
	SortBySeverity(items)
	return items, nil
}

// Audit reconciles stock with the ledger.
func (s *service) Audit(ctx context.Context) (domain.AuditReport, error) {
	report, err := s.store.Audit(ctx)
	if err != nil {
		return report, err
	}
	if !report.Healthy() {
		s.logger.Error("ledger audit found invariant breaches",
			zap.Int("drifted", len(report.Drifted)),
			zap.Int("negative", len(report.Negative)),
			zap.Int("broken_chains", len(report.BrokenChains)),
		)
	}
	return report, nil
}
