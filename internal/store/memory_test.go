// internal/store/memory_test.go
package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"bookstore/internal/domain"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore(t *testing.T) {
	storeContract(t, func(t *testing.T) Store {
		return NewMemory(DefaultOptions())
	})
}

func TestMemory_LockWaitHonoursTimeout(t *testing.T) {
	s := NewMemory(Options{TxTimeout: 50 * time.Millisecond, MaxRetries: 0})
	book := seedBook(t, s, 1)

	held := make(chan struct{})
	done := make(chan struct{})
	go func() {
		_ = s.WithinTx(context.Background(), func(ctx context.Context, tx Tx) error {
			if _, err := tx.LockBooks(ctx, []uuid.UUID{book.ID}); err != nil {
				return err
			}
			close(held)
			<-done
			return nil
		})
	}()
	<-held

	err := s.WithinTx(context.Background(), func(ctx context.Context, tx Tx) error {
		_, err := tx.LockBooks(ctx, []uuid.UUID{book.ID})
		return err
	})
	close(done)

	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded), "got %v", err)
}

func TestMemory_LockBooksIsReentrant(t *testing.T) {
	s := NewMemory(DefaultOptions())
	a := seedBook(t, s, 1)
	b := seedBook(t, s, 1)

	err := s.WithinTx(context.Background(), func(ctx context.Context, tx Tx) error {
		if _, err := tx.LockBooks(ctx, []uuid.UUID{b.ID, a.ID}); err != nil {
			return err
		}
		books, err := tx.LockBooks(ctx, []uuid.UUID{a.ID, a.ID, uuid.New()})
		if err != nil {
			return err
		}
		assert.Len(t, books, 1)
		return nil
	})
	require.NoError(t, err)
}

func TestMemory_StockIsNotWrittenByDetailUpdates(t *testing.T) {
	s := NewMemory(DefaultOptions())
	book := seedBook(t, s, 7)

	edited := book.Clone()
	edited.Price = 9999
	edited.StockQuantity = 1000
	require.NoError(t, s.WithinTx(context.Background(), func(ctx context.Context, tx Tx) error {
		return tx.UpdateBookDetails(ctx, edited)
	}))

	got, err := s.GetBook(context.Background(), book.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(9999), got.Price)
	assert.Equal(t, 7, got.StockQuantity)
}

func TestMemory_CommitRechecksChangedISBN(t *testing.T) {
	s := NewMemory(DefaultOptions())
	book := seedBook(t, s, 2)
	contested := "isbn-contested-" + uuid.NewString()

	err := s.WithinTx(context.Background(), func(ctx context.Context, tx Tx) error {
		renamed := book.Clone()
		renamed.ISBN = contested
		if err := tx.UpdateBookDetails(ctx, renamed); err != nil {
			return err
		}
		// Another unit of work claims the ISBN before this one commits.
		rival := newBook(1)
		rival.ISBN = contested
		return s.WithinTx(ctx, func(ctx context.Context, other Tx) error {
			return other.InsertBook(ctx, rival)
		})
	})
	var verr *domain.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "isbn", verr.Field)

	got, err := s.GetBook(context.Background(), book.ID)
	require.NoError(t, err)
	assert.Equal(t, book.ISBN, got.ISBN)

	report, err := s.Audit(context.Background())
	require.NoError(t, err)
	assert.True(t, report.Healthy(), "%+v", report)
}

func TestMemory_InsertBookRejectsStock(t *testing.T) {
	s := NewMemory(DefaultOptions())
	book := newBook(1)
	book.StockQuantity = 3

	err := s.WithinTx(context.Background(), func(ctx context.Context, tx Tx) error {
		return tx.InsertBook(ctx, book)
	})
	assert.ErrorIs(t, err, domain.ErrLedgerMismatch)
}

func TestWithinTx_RetriesConflicts(t *testing.T) {
	s := NewMemory(Options{TxTimeout: time.Second, MaxRetries: 2, Backoff: time.Millisecond})

	attempts := 0
	err := s.WithinTx(context.Background(), func(ctx context.Context, tx Tx) error {
		attempts++
		if attempts < 3 {
			return Conflict(errors.New("lost race"))
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)

	attempts = 0
	err = s.WithinTx(context.Background(), func(ctx context.Context, tx Tx) error {
		attempts++
		return &pq.Error{Code: "40P01"}
	})
	var conflict *domain.ConcurrencyConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, 3, conflict.Attempts)
	assert.Equal(t, 3, attempts)
}

func TestWithinTx_BusinessErrorsAreNotRetried(t *testing.T) {
	s := NewMemory(DefaultOptions())

	attempts := 0
	err := s.WithinTx(context.Background(), func(ctx context.Context, tx Tx) error {
		attempts++
		return &domain.InsufficientStockError{Available: 0, Requested: 1}
	})
	var insufficient *domain.InsufficientStockError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, 1, attempts)
}

func TestIsRetryable(t *testing.T) {
	assert.True(t, IsRetryable(&pq.Error{Code: "40001"}))
	assert.True(t, IsRetryable(&pq.Error{Code: "23505", Constraint: "orders_order_number_key"}))
	assert.False(t, IsRetryable(&pq.Error{Code: "23505", Constraint: "books_isbn_key"}))
	assert.False(t, IsRetryable(domain.ErrLedgerMismatch))
	assert.False(t, IsRetryable(nil))
}

func TestSortIDs(t *testing.T) {
	a := uuid.MustParse("00000000-0000-0000-0000-000000000001")
	b := uuid.MustParse("00000000-0000-0000-0000-000000000002")
	c := uuid.MustParse("ffffffff-0000-0000-0000-000000000000")

	assert.Equal(t, []uuid.UUID{a, b, c}, SortIDs([]uuid.UUID{c, a, b, a}))
}

func TestOpen(t *testing.T) {
	s, err := Open(context.Background(), "memory", "", 0, DefaultOptions())
	require.NoError(t, err)
	assert.IsType(t, &Memory{}, s)

	_, err = Open(context.Background(), "sqlite", "", 0, DefaultOptions())
	assert.Error(t, err)
}
