// internal/domain/cart.go
package domain

import (
	"time"

	"github.com/google/uuid"
)

// CartItem is one line of a shopping cart. Price is the value seen when the
// item was added and is informational only; orders re-read the price from
// the locked book.
type CartItem struct {
	BookID   uuid.UUID `json:"book_id"`
	Quantity int       `json:"quantity"`
	Price    int64     `json:"price"`
	AddedAt  time.Time `json:"added_at"`
}

// Cart is a user's current selection.
type Cart struct {
	UserID uuid.UUID  `json:"user_id"`
	Items  []CartItem `json:"items"`
	Total  int64      `json:"total"`
}

// MergeCartItems folds duplicate book ids into one item, keeping the first
// occurrence's position. Non-positive quantities, and merged quantities above
// MaxQuantity, are a ValidationError.
func MergeCartItems(items []CartItem) ([]CartItem, error) {
	merged := make([]CartItem, 0, len(items))
	index := make(map[uuid.UUID]int, len(items))
	for _, it := range items {
		if it.Quantity <= 0 {
			return nil, Invalid("quantity", "must be positive for book %s, got %d", it.BookID, it.Quantity)
		}
		if it.Quantity > MaxQuantity {
			return nil, Invalid("quantity", "must be at most %d for book %s, got %d", MaxQuantity, it.BookID, it.Quantity)
		}
		if i, ok := index[it.BookID]; ok {
			if merged[i].Quantity > MaxQuantity-it.Quantity {
				return nil, Invalid("quantity", "must be at most %d for book %s", MaxQuantity, it.BookID)
			}
			merged[i].Quantity += it.Quantity
			continue
		}
		index[it.BookID] = len(merged)
		merged = append(merged, it)
	}
	return merged, nil
}

// SubtractCartItems removes the ordered quantities from items, consuming
// lines per book in order. Lines that reach zero are dropped; books absent
// from ordered are untouched.
func SubtractCartItems(items, ordered []CartItem) []CartItem {
	owed := make(map[uuid.UUID]int, len(ordered))
	for _, it := range ordered {
		if it.Quantity > 0 {
			owed[it.BookID] += it.Quantity
		}
	}
	left := make([]CartItem, 0, len(items))
	for _, it := range items {
		if n := owed[it.BookID]; n > 0 {
			take := min(n, it.Quantity)
			owed[it.BookID] = n - take
			it.Quantity -= take
		}
		if it.Quantity > 0 {
			left = append(left, it)
		}
	}
	return left
}
