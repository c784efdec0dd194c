// internal/inventory/domain.go
package inventory

import (
	"strings"
	"time"

	"bookstore/internal/domain"

	"github.com/google/uuid"
)

// StockUpdateRequest is a manual stock change made by staff.
type StockUpdateRequest struct {
	Type            domain.MovementType `json:"type"`
	Quantity        int                 `json:"quantity"`
	Reason          string              `json:"reason"`
	ReferenceNumber string              `json:"reference_number,omitempty"`
}

// Validate checks the request before any storage access.
func (r StockUpdateRequest) Validate(bookID uuid.UUID) error {
	if err := r.movement(bookID, uuid.Nil).Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(r.Reason) == "" {
		return domain.Invalid("reason", "is required for manual stock changes")
	}
	return nil
}

func (r StockUpdateRequest) movement(bookID, actorID uuid.UUID) domain.MovementRequest {
	return domain.MovementRequest{
		BookID:          bookID,
		ActorID:         actorID,
		Type:            r.Type,
		Quantity:        r.Quantity,
		Reason:          strings.TrimSpace(r.Reason),
		ReferenceNumber: r.ReferenceNumber,
	}
}

// StockTotals sums a book's movements over a period.
type StockTotals struct {
	BookID   uuid.UUID `json:"book_id"`
	From     time.Time `json:"from,omitempty"`
	To       time.Time `json:"to,omitempty"`
	Inbound  int       `json:"inbound"`
	Outbound int       `json:"outbound"`
	Net      int       `json:"net"`
}
