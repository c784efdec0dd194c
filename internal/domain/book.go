// internal/domain/book.go
package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// BookStatus is the catalog lifecycle state of a book.
type BookStatus string

const (
	BookStatusActive       BookStatus = "ACTIVE"
	BookStatusInactive     BookStatus = "INACTIVE"
	BookStatusDiscontinued BookStatus = "DISCONTINUED"
	BookStatusOutOfPrint   BookStatus = "OUT_OF_PRINT"
)

func (s BookStatus) IsValid() bool {
	switch s {
	case BookStatusActive, BookStatusInactive, BookStatusDiscontinued, BookStatusOutOfPrint:
		return true
	}
	return false
}

// Book is the catalog record. StockQuantity is a projection of the stock
// ledger and is written only by store.Tx.ApplyMovement.
type Book struct {
	ID                uuid.UUID  `json:"id" db:"id"`
	Title             string     `json:"title" db:"title"`
	Author            string     `json:"author" db:"author"`
	ISBN              string     `json:"isbn" db:"isbn"`
	Price             int64      `json:"price" db:"price"`
	StockQuantity     int        `json:"stock_quantity" db:"stock_quantity"`
	LowStockThreshold int        `json:"low_stock_threshold" db:"low_stock_threshold"`
	Status            BookStatus `json:"status" db:"status"`
	Version           int        `json:"version" db:"version"`
	CreatedAt         time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at" db:"updated_at"`
}

// IsActive reports whether the book can be sold.
func (b *Book) IsActive() bool {
	return b.Status == BookStatusActive
}

// Validate checks the descriptive fields of a book. Stock is not validated
// here because it never comes from user input.
func (b *Book) Validate() error {
	if strings.TrimSpace(b.Title) == "" {
		return Invalid("title", "must not be empty")
	}
	if strings.TrimSpace(b.Author) == "" {
		return Invalid("author", "must not be empty")
	}
	if strings.TrimSpace(b.ISBN) == "" {
		return Invalid("isbn", "must not be empty")
	}
	if b.Price < 0 || b.Price > MaxPrice {
		return Invalid("price", "must be between 0 and %d, got %d", MaxPrice, b.Price)
	}
	if b.LowStockThreshold < 0 || b.LowStockThreshold > MaxQuantity {
		return Invalid("low_stock_threshold", "must be between 0 and %d, got %d", MaxQuantity, b.LowStockThreshold)
	}
	if !b.Status.IsValid() {
		return Invalid("status", "unknown status %q", b.Status)
	}
	return nil
}

// Clone returns a copy that can be mutated without affecting the original.
func (b *Book) Clone() *Book {
	c := *b
	return &c
}
