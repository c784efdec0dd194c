// internal/domain/errors.go
package domain

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	ErrNotFound       = errors.New("not found")
	ErrForbidden      = errors.New("actor is not allowed to perform this operation")
	ErrLedgerMismatch = errors.New("ledger mismatch: stock quantity diverged from ledger")
	ErrUnavailable    = errors.New("dependency unavailable")

	// ErrEmptyCart is returned when an order is requested for a cart with no items.
	ErrEmptyCart = &ValidationError{Field: "cart", Message: "cart is empty, nothing to order"}
)

// ValidationError reports malformed input. It is raised before any storage access.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Message
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Message)
}

// Invalid is a shorthand for building a ValidationError.
func Invalid(field, format string, args ...interface{}) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// BookUnavailableError is returned when a referenced book is missing or not ACTIVE.
type BookUnavailableError struct {
	BookID  uuid.UUID
	Status  BookStatus
	Missing bool
}

func (e *BookUnavailableError) Error() string {
	if e.Missing {
		return fmt.Sprintf("book %s is unavailable: not found", e.BookID)
	}
	return fmt.Sprintf("book %s is unavailable: status %s", e.BookID, e.Status)
}

// InsufficientStockError names the book whose stock cannot cover a movement.
type InsufficientStockError struct {
	BookID    uuid.UUID
	Title     string
	Available int
	Requested int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for book %s (%q): available %d, requested %d",
		e.BookID, e.Title, e.Available, e.Requested)
}

// InvalidTransitionError is returned for a status change the lifecycle does not allow.
type InvalidTransitionError struct {
	From OrderStatus
	To   OrderStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid order status transition from %s to %s", e.From, e.To)
}

// ConcurrencyConflictError is returned when a unit of work kept losing races
// with concurrent writers. A rolled-back attempt leaves no partial state, so
// callers may retry.
type ConcurrencyConflictError struct {
	Attempts int
	Err      error
}

func (e *ConcurrencyConflictError) Error() string {
	return fmt.Sprintf("concurrency conflict after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ConcurrencyConflictError) Unwrap() error {
	return e.Err
}

// IsBusinessError reports whether err is a terminal business failure rather
// than an infrastructure fault.
func IsBusinessError(err error) bool {
	var (
		validation   *ValidationError
		unavailable  *BookUnavailableError
		insufficient *InsufficientStockError
		transition   *InvalidTransitionError
	)
	return errors.As(err, &validation) ||
		errors.As(err, &unavailable) ||
		errors.As(err, &insufficient) ||
		errors.As(err, &transition) ||
		errors.Is(err, ErrForbidden) ||
		errors.Is(err, ErrNotFound)
}
