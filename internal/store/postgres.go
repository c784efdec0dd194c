// internal/store/postgres.go
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"bookstore/internal/domain"
	"bookstore/pkg/eventstore"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const bookColumns = `id, title, author, isbn, price, stock_quantity, low_stock_threshold, status, version, created_at, updated_at`

const orderColumns = `id, order_number, user_id, status, total_amount, item_count, shipping_address, shipping_phone,
	payment_method, notes, order_date, shipped_date, delivered_date, cancelled_date, cancel_reason, version, updated_at`

const itemColumns = `id, order_id, book_id, title, author, isbn, quantity, unit_price, subtotal`

const movementColumns = `id, book_id, actor_id, type, sequence, quantity_change, quantity_before, quantity_after,
	reason, reference_number, created_at`

// Postgres is the production Store.
type Postgres struct {
	db     *sqlx.DB
	events *eventstore.EventStore
	opts   Options
	tracer trace.Tracer
}

// NewPostgres wraps an open connection pool. The schema must already be migrated.
func NewPostgres(db *sqlx.DB, opts Options) *Postgres {
	return &Postgres{
		db:     db,
		events: eventstore.NewEventStore(db.DB),
		opts:   opts.withDefaults(),
		tracer: otel.Tracer("bookstore/store"),
	}
}

// OpenPostgres connects, sizes the pool and runs migrations.
func OpenPostgres(ctx context.Context, dsn string, maxOpenConns int, opts Options) (*Postgres, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	if maxOpenConns > 0 {
		db.SetMaxOpenConns(maxOpenConns)
		db.SetMaxIdleConns(maxOpenConns / 4)
	}
	if err := Migrate(db.DB); err != nil {
		db.Close()
		return nil, err
	}
	return NewPostgres(db, opts), nil
}

func (p *Postgres) Close() error {
	return p.db.Close()
}

// DB exposes the pool for health checks.
func (p *Postgres) DB() *sqlx.DB {
	return p.db
}

func (p *Postgres) WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	return runWithRetry(ctx, p.tracer, p.opts, func(ctx context.Context) error {
		tx, err := p.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
		if err != nil {
			return fmt.Errorf("begin transaction: %w", err)
		}
		defer tx.Rollback()

		if err := fn(ctx, &pgTx{tx: tx, events: p.events, tracer: p.tracer}); err != nil {
			return err
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit transaction: %w", err)
		}
		return nil
	})
}

func (p *Postgres) GetBook(ctx context.Context, id uuid.UUID) (*domain.Book, error) {
	return getBook(ctx, p.db, id)
}

func (p *Postgres) ListLowStock(ctx context.Context) ([]*domain.Book, error) {
	var books []*domain.Book
	err := sqlx.SelectContext(ctx, p.db, &books, `
		SELECT `+bookColumns+`
		FROM books
		WHERE status = $1 AND stock_quantity <= low_stock_threshold
		ORDER BY id
	`, domain.BookStatusActive)
	if err != nil {
		return nil, fmt.Errorf("query low stock books: %w", err)
	}
	return books, nil
}

func (p *Postgres) GetOrder(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	return getOrder(ctx, p.db, "id = $1", id)
}

func (p *Postgres) GetOrderByNumber(ctx context.Context, number string) (*domain.Order, error) {
	return getOrder(ctx, p.db, "order_number = $1", number)
}

func (p *Postgres) ListOrdersByUser(ctx context.Context, userID uuid.UUID) ([]*domain.Order, error) {
	var orders []*domain.Order
	err := sqlx.SelectContext(ctx, p.db, &orders, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE user_id = $1
		ORDER BY order_date DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("query orders of user %s: %w", userID, err)
	}
	if len(orders) == 0 {
		return orders, nil
	}

	ids := make([]uuid.UUID, len(orders))
	byID := make(map[uuid.UUID]*domain.Order, len(orders))
	for i, o := range orders {
		ids[i] = o.ID
		byID[o.ID] = o
	}
	query, args, err := sqlx.In(`SELECT `+itemColumns+` FROM order_items WHERE order_id IN (?) ORDER BY order_id, book_id`, ids)
	if err != nil {
		return nil, fmt.Errorf("build items query: %w", err)
	}
	var items []domain.LineItem
	if err := sqlx.SelectContext(ctx, p.db, &items, p.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("query order items: %w", err)
	}
	for _, item := range items {
		o := byID[item.OrderID]
		o.Items = append(o.Items, item)
	}
	return orders, nil
}

func (p *Postgres) Movements(ctx context.Context, filter domain.MovementFilter) ([]*domain.StockMovement, error) {
	where, args := movementWhere(filter)
	query := `SELECT ` + movementColumns + ` FROM stock_movements` + where + ` ORDER BY book_id, sequence`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	var movements []*domain.StockMovement
	if err := sqlx.SelectContext(ctx, p.db, &movements, query, args...); err != nil {
		return nil, fmt.Errorf("query stock movements: %w", err)
	}
	return movements, nil
}

func (p *Postgres) SumMovements(ctx context.Context, filter domain.MovementFilter) (int, error) {
	where, args := movementWhere(filter)
	var sum int
	err := sqlx.GetContext(ctx, p.db, &sum, `SELECT COALESCE(SUM(quantity_change), 0) FROM stock_movements`+where, args...)
	if err != nil {
		return 0, fmt.Errorf("sum stock movements: %w", err)
	}
	return sum, nil
}

func (p *Postgres) Audit(ctx context.Context) (domain.AuditReport, error) {
	ctx, span := p.tracer.Start(ctx, "store.audit")
	defer span.End()

	var report domain.AuditReport
	var rows []struct {
		ID        uuid.UUID `db:"id"`
		Stock     int       `db:"stock_quantity"`
		LedgerSum int       `db:"ledger_sum"`
	}
	err := sqlx.SelectContext(ctx, p.db, &rows, `
		SELECT b.id, b.stock_quantity, COALESCE(SUM(m.quantity_change), 0) AS ledger_sum
		FROM books b
		LEFT JOIN stock_movements m ON m.book_id = b.id
		GROUP BY b.id, b.stock_quantity
		ORDER BY b.id
	`)
	if err != nil {
		return report, fmt.Errorf("audit stock: %w", err)
	}
	report.BooksChecked = len(rows)
	for _, r := range rows {
		if r.Stock != r.LedgerSum {
			report.Drifted = append(report.Drifted, r.ID)
		}
		if r.Stock < 0 {
			report.Negative = append(report.Negative, r.ID)
		}
	}

	err = sqlx.SelectContext(ctx, p.db, &report.BrokenChains, `
		SELECT DISTINCT book_id
		FROM (
			SELECT book_id, quantity_before,
			       LAG(quantity_after) OVER (PARTITION BY book_id ORDER BY sequence) AS prev_after
			FROM stock_movements
		) chain
		WHERE quantity_before <> COALESCE(prev_after, 0)
		ORDER BY book_id
	`)
	if err != nil {
		return report, fmt.Errorf("audit ledger chain: %w", err)
	}

	span.SetAttributes(
		attribute.Int("audit.books", report.BooksChecked),
		attribute.Bool("audit.healthy", report.Healthy()),
	)
	return report, nil
}

func (p *Postgres) AggregateEvents(ctx context.Context, aggregateID uuid.UUID) ([]eventstore.Event, error) {
	return p.events.LoadEvents(ctx, aggregateID, 1, 0)
}

func (p *Postgres) StreamUnpublished(ctx context.Context, batchSize int) ([]eventstore.Event, error) {
	return p.events.StreamUnpublished(ctx, batchSize)
}

func (p *Postgres) MarkPublished(ctx context.Context, id int64) error {
	return p.events.MarkPublished(ctx, id)
}

// pgTx is one READ COMMITTED transaction. Row locks replace isolation.
type pgTx struct {
	tx     *sqlx.Tx
	events *eventstore.EventStore
	tracer trace.Tracer
}

func (t *pgTx) GetBook(ctx context.Context, id uuid.UUID) (*domain.Book, error) {
	return getBook(ctx, t.tx, id)
}

func (t *pgTx) LockBooks(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*domain.Book, error) {
	ids = SortIDs(ids)
	books := make(map[uuid.UUID]*domain.Book, len(ids))
	if len(ids) == 0 {
		return books, nil
	}

	ctx, span := t.tracer.Start(ctx, "store.lock_books", trace.WithAttributes(attribute.Int("book.count", len(ids))))
	defer span.End()

	query, args, err := sqlx.In(`SELECT `+bookColumns+` FROM books WHERE id IN (?) ORDER BY id FOR UPDATE`, ids)
	if err != nil {
		return nil, fmt.Errorf("build lock query: %w", err)
	}
	var rows []*domain.Book
	if err := sqlx.SelectContext(ctx, t.tx, &rows, t.tx.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("lock books: %w", err)
	}
	for _, b := range rows {
		books[b.ID] = b
	}
	return books, nil
}

func (t *pgTx) InsertBook(ctx context.Context, book *domain.Book) error {
	if book.StockQuantity != 0 {
		return fmt.Errorf("book %s inserted with stock %d: %w", book.ID, book.StockQuantity, domain.ErrLedgerMismatch)
	}
	_, err := t.tx.NamedExecContext(ctx, `
		INSERT INTO books (`+bookColumns+`)
		VALUES (:id, :title, :author, :isbn, :price, :stock_quantity, :low_stock_threshold, :status, :version, :created_at, :updated_at)
	`, book)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" && pqErr.Constraint == "books_isbn_key" {
			return domain.Invalid("isbn", "a book with ISBN %s already exists", book.ISBN)
		}
		return fmt.Errorf("insert book: %w", err)
	}
	return nil
}

func (t *pgTx) UpdateBookDetails(ctx context.Context, book *domain.Book) error {
	res, err := t.tx.NamedExecContext(ctx, `
		UPDATE books
		SET title = :title, author = :author, isbn = :isbn, price = :price,
		    low_stock_threshold = :low_stock_threshold, status = :status,
		    version = version + 1, updated_at = :updated_at
		WHERE id = :id
	`, book)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" && pqErr.Constraint == "books_isbn_key" {
			return domain.Invalid("isbn", "a book with ISBN %s already exists", book.ISBN)
		}
		return fmt.Errorf("update book: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	book.Version++
	return nil
}

func (t *pgTx) ApplyMovement(ctx context.Context, m *domain.StockMovement) error {
	if err := m.Check(); err != nil {
		return fmt.Errorf("movement for book %s: %w", m.BookID, err)
	}

	res, err := t.tx.ExecContext(ctx, `
		UPDATE books
		SET stock_quantity = $1, version = version + 1, updated_at = $2
		WHERE id = $3 AND stock_quantity = $4
	`, m.QuantityAfter, m.CreatedAt, m.BookID, m.QuantityBefore)
	if err != nil {
		return fmt.Errorf("apply stock for book %s: %w", m.BookID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("book %s expected stock %d: %w", m.BookID, m.QuantityBefore, domain.ErrLedgerMismatch)
	}

	if err := sqlx.GetContext(ctx, t.tx, &m.Sequence, `
		SELECT COALESCE(MAX(sequence), 0) + 1 FROM stock_movements WHERE book_id = $1
	`, m.BookID); err != nil {
		return fmt.Errorf("next ledger sequence: %w", err)
	}

	_, err = t.tx.NamedExecContext(ctx, `
		INSERT INTO stock_movements (`+movementColumns+`)
		VALUES (:id, :book_id, :actor_id, :type, :sequence, :quantity_change, :quantity_before, :quantity_after,
		        :reason, :reference_number, :created_at)
	`, m)
	if err != nil {
		return fmt.Errorf("insert ledger entry: %w", err)
	}
	return nil
}

func (t *pgTx) InsertOrder(ctx context.Context, order *domain.Order) error {
	if err := order.Reconcile(); err != nil {
		return err
	}
	_, err := t.tx.NamedExecContext(ctx, `
		INSERT INTO orders (`+orderColumns+`)
		VALUES (:id, :order_number, :user_id, :status, :total_amount, :item_count, :shipping_address, :shipping_phone,
		        :payment_method, :notes, :order_date, :shipped_date, :delivered_date, :cancelled_date, :cancel_reason,
		        :version, :updated_at)
	`, order)
	if err != nil {
		return fmt.Errorf("insert order %s: %w", order.OrderNumber, err)
	}
	_, err = t.tx.NamedExecContext(ctx, `
		INSERT INTO order_items (`+itemColumns+`)
		VALUES (:id, :order_id, :book_id, :title, :author, :isbn, :quantity, :unit_price, :subtotal)
	`, order.Items)
	if err != nil {
		return fmt.Errorf("insert items of order %s: %w", order.OrderNumber, err)
	}
	return nil
}

func (t *pgTx) LockOrder(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	return getOrder(ctx, t.tx, "id = $1 FOR UPDATE", id)
}

func (t *pgTx) UpdateOrderStatus(ctx context.Context, order *domain.Order) error {
	res, err := t.tx.NamedExecContext(ctx, `
		UPDATE orders
		SET status = :status, shipped_date = :shipped_date, delivered_date = :delivered_date,
		    cancelled_date = :cancelled_date, cancel_reason = :cancel_reason,
		    version = :version, updated_at = :updated_at
		WHERE id = :id AND version = :version - 1
	`, order)
	if err != nil {
		return fmt.Errorf("update order %s: %w", order.OrderNumber, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return Conflict(fmt.Errorf("order %s changed concurrently", order.OrderNumber))
	}
	return nil
}

func (t *pgTx) AppendEvents(ctx context.Context, events ...eventstore.Event) error {
	if len(events) == 0 {
		return nil
	}
	_, err := t.events.Append(ctx, t.tx, events...)
	return err
}

func getBook(ctx context.Context, q sqlx.QueryerContext, id uuid.UUID) (*domain.Book, error) {
	var book domain.Book
	if err := sqlx.GetContext(ctx, q, &book, `SELECT `+bookColumns+` FROM books WHERE id = $1`, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("get book %s: %w", id, err)
	}
	return &book, nil
}

func getOrder(ctx context.Context, q sqlx.QueryerContext, where string, arg interface{}) (*domain.Order, error) {
	var order domain.Order
	if err := sqlx.GetContext(ctx, q, &order, `SELECT `+orderColumns+` FROM orders WHERE `+where, arg); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("get order: %w", err)
	}
	if err := sqlx.SelectContext(ctx, q, &order.Items, `
		SELECT `+itemColumns+` FROM order_items WHERE order_id = $1 ORDER BY book_id
	`, order.ID); err != nil {
		return nil, fmt.Errorf("get items of order %s: %w", order.OrderNumber, err)
	}
	if err := order.Reconcile(); err != nil {
		return nil, err
	}
	return &order, nil
}

func movementWhere(filter domain.MovementFilter) (string, []interface{}) {
	var conds []string
	var args []interface{}
	add := func(cond string, arg interface{}) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if filter.BookID != uuid.Nil {
		add("book_id = $%d", filter.BookID)
	}
	if len(filter.Types) > 0 {
		types := make([]string, len(filter.Types))
		for i, t := range filter.Types {
			types[i] = string(t)
		}
		add("type = ANY($%d)", pq.Array(types))
	}
	if filter.ReferenceNumber != "" {
		add("reference_number = $%d", filter.ReferenceNumber)
	}
	if !filter.From.IsZero() {
		add("created_at >= $%d", filter.From)
	}
	if !filter.To.IsZero() {
		add("created_at < $%d", filter.To)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}
