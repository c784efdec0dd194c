// internal/domain/movement.go
package domain

import (
	"time"

	"github.com/google/uuid"
)

// MovementType classifies a stock movement. The type alone decides the sign
// of the quantity change.
type MovementType string

const (
	MovementInbound            MovementType = "INBOUND"
	MovementOutbound           MovementType = "OUTBOUND"
	MovementReturnFromCustomer MovementType = "RETURN_FROM_CUSTOMER"
	MovementDamaged            MovementType = "DAMAGED"
	MovementAdjustmentIncrease MovementType = "ADJUSTMENT_INCREASE"
	MovementAdjustmentDecrease MovementType = "ADJUSTMENT_DECREASE"
	MovementTransferIn         MovementType = "TRANSFER_IN"
	MovementTransferOut        MovementType = "TRANSFER_OUT"
)

// MovementTypes lists every known movement type.
var MovementTypes = []MovementType{
	MovementInbound,
	MovementOutbound,
	MovementReturnFromCustomer,
	MovementDamaged,
	MovementAdjustmentIncrease,
	MovementAdjustmentDecrease,
	MovementTransferIn,
	MovementTransferOut,
}

// Sign returns +1 for inbound-class types, -1 for outbound-class types and 0
// for unknown types.
func (t MovementType) Sign() int {
	switch t {
	case MovementInbound, MovementReturnFromCustomer, MovementAdjustmentIncrease, MovementTransferIn:
		return 1
	case MovementOutbound, MovementDamaged, MovementAdjustmentDecrease, MovementTransferOut:
		return -1
	}
	return 0
}

func (t MovementType) IsValid() bool {
	return t.Sign() != 0
}

// InboundTypes and OutboundTypes partition MovementTypes by sign.
var (
	InboundTypes  = []MovementType{MovementInbound, MovementReturnFromCustomer, MovementAdjustmentIncrease, MovementTransferIn}
	OutboundTypes = []MovementType{MovementOutbound, MovementDamaged, MovementAdjustmentDecrease, MovementTransferOut}
)

// MovementRequest is the input to the stock ledger. Quantity is a magnitude;
// the sign comes from Type.
type MovementRequest struct {
	BookID          uuid.UUID
	ActorID         uuid.UUID
	Type            MovementType
	Quantity        int
	Reason          string
	ReferenceNumber string
}

// Validate rejects requests that must never reach storage.
func (r MovementRequest) Validate() error {
	if r.BookID == uuid.Nil {
		return Invalid("book_id", "is required")
	}
	if !r.Type.IsValid() {
		return Invalid("type", "unknown movement type %q", r.Type)
	}
	if r.Quantity <= 0 {
		return Invalid("quantity", "must be positive, got %d", r.Quantity)
	}
	if r.Quantity > MaxQuantity {
		return Invalid("quantity", "must be at most %d, got %d", MaxQuantity, r.Quantity)
	}
	return nil
}

// StockMovement is one immutable ledger entry.
type StockMovement struct {
	ID              uuid.UUID    `json:"id" db:"id"`
	BookID          uuid.UUID    `json:"book_id" db:"book_id"`
	ActorID         uuid.UUID    `json:"actor_id" db:"actor_id"`
	Type            MovementType `json:"type" db:"type"`
	Sequence        int64        `json:"sequence" db:"sequence"`
	QuantityChange  int          `json:"quantity_change" db:"quantity_change"`
	QuantityBefore  int          `json:"quantity_before" db:"quantity_before"`
	QuantityAfter   int          `json:"quantity_after" db:"quantity_after"`
	Reason          string       `json:"reason" db:"reason"`
	ReferenceNumber string       `json:"reference_number" db:"reference_number"`
	CreatedAt       time.Time    `json:"created_at" db:"created_at"`
}

// NewMovement computes the ledger entry that applying req to book would
// produce. It does not touch book.
func NewMovement(book *Book, req MovementRequest, now time.Time) (*StockMovement, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}
	change := req.Type.Sign() * req.Quantity
	if change > 0 && book.StockQuantity > MaxQuantity-change {
		return nil, Invalid("quantity", "would raise stock of book %s above %d", book.ID, MaxQuantity)
	}
	after := book.StockQuantity + change
	if after < 0 {
		return nil, &InsufficientStockError{
			BookID:    book.ID,
			Title:     book.Title,
			Available: book.StockQuantity,
			Requested: req.Quantity,
		}
	}
	return &StockMovement{
		ID:              uuid.New(),
		BookID:          book.ID,
		ActorID:         req.ActorID,
		Type:            req.Type,
		QuantityChange:  change,
		QuantityBefore:  book.StockQuantity,
		QuantityAfter:   after,
		Reason:          req.Reason,
		ReferenceNumber: req.ReferenceNumber,
		CreatedAt:       now,
	}, nil
}

// Check verifies the arithmetic invariant of a single entry.
func (m *StockMovement) Check() error {
	if m.QuantityAfter != m.QuantityBefore+m.QuantityChange {
		return ErrLedgerMismatch
	}
	if m.QuantityAfter < 0 {
		return ErrLedgerMismatch
	}
	if m.Type.Sign()*m.QuantityChange <= 0 {
		return ErrLedgerMismatch
	}
	return nil
}

// MovementFilter narrows ledger history queries. Zero values are ignored.
type MovementFilter struct {
	BookID          uuid.UUID
	Types           []MovementType
	ReferenceNumber string
	From            time.Time
	To              time.Time
	Limit           int
}

// Matches reports whether m satisfies the filter.
func (f MovementFilter) Matches(m *StockMovement) bool {
	if f.BookID != uuid.Nil && m.BookID != f.BookID {
		return false
	}
	if f.ReferenceNumber != "" && m.ReferenceNumber != f.ReferenceNumber {
		return false
	}
	if !f.From.IsZero() && m.CreatedAt.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && !m.CreatedAt.Before(f.To) {
		return false
	}
	if len(f.Types) == 0 {
		return true
	}
	for _, t := range f.Types {
		if m.Type == t {
			return true
		}
	}
	return false
}

// AuditReport is the result of reconciling book stock with the ledger.
type AuditReport struct {
	BooksChecked int         `json:"books_checked"`
	Drifted      []uuid.UUID `json:"drifted"`
	Negative     []uuid.UUID `json:"negative"`
	BrokenChains []uuid.UUID `json:"broken_chains"`
}

// Healthy reports whether no invariant breach was found.
func (r AuditReport) Healthy() bool {
	return len(r.Drifted) == 0 && len(r.Negative) == 0 && len(r.BrokenChains) == 0
}
