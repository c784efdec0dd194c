// internal/catalog/domain.go
package catalog

import (
	"strings"

	"bookstore/internal/domain"
)

// AddBookRequest describes a new catalog entry. InitialStock is booked
// through the stock ledger, never written directly.
type AddBookRequest struct {
	Title             string            `json:"title"`
	Author            string            `json:"author"`
	ISBN              string            `json:"isbn"`
	Price             int64             `json:"price"`
	InitialStock      int               `json:"initial_stock"`
	LowStockThreshold *int              `json:"low_stock_threshold,omitempty"`
	Status            domain.BookStatus `json:"status,omitempty"`
}

func (r AddBookRequest) Validate() error {
	if r.InitialStock < 0 || r.InitialStock > domain.MaxQuantity {
		return domain.Invalid("initial_stock", "must be between 0 and %d, got %d", domain.MaxQuantity, r.InitialStock)
	}
	if r.Price < 0 || r.Price > domain.MaxPrice {
		return domain.Invalid("price", "must be between 0 and %d, got %d", domain.MaxPrice, r.Price)
	}
	return nil
}

// UpdateBookRequest patches descriptive fields. Stock is deliberately absent.
type UpdateBookRequest struct {
	Title             *string            `json:"title,omitempty"`
	Author            *string            `json:"author,omitempty"`
	ISBN              *string            `json:"isbn,omitempty"`
	Price             *int64             `json:"price,omitempty"`
	LowStockThreshold *int               `json:"low_stock_threshold,omitempty"`
	Status            *domain.BookStatus `json:"status,omitempty"`
}

// IsEmpty reports whether the patch changes nothing.
func (r UpdateBookRequest) IsEmpty() bool {
	return r.Title == nil && r.Author == nil && r.ISBN == nil && r.Price == nil &&
		r.LowStockThreshold == nil && r.Status == nil
}

// apply copies the set fields onto b.
func (r UpdateBookRequest) apply(b *domain.Book) {
	if r.Title != nil {
		b.Title = strings.TrimSpace(*r.Title)
	}
	if r.Author != nil {
		b.Author = strings.TrimSpace(*r.Author)
	}
	if r.ISBN != nil {
		b.ISBN = strings.TrimSpace(*r.ISBN)
	}
	if r.Price != nil {
		b.Price = *r.Price
	}
	if r.LowStockThreshold != nil {
		b.LowStockThreshold = *r.LowStockThreshold
	}
	if r.Status != nil {
		b.Status = *r.Status
	}
}
