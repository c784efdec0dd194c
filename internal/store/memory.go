// internal/store/memory.go
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"bookstore/internal/domain"
	"bookstore/pkg/eventstore"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// Memory is an in-process Store. Row locks are single-slot channels so that
// waiting honours the unit-of-work timeout; writes are staged per Tx and
// applied atomically on commit.
type Memory struct {
	mu           sync.RWMutex
	books        map[uuid.UUID]*domain.Book
	isbns        map[string]uuid.UUID
	orders       map[uuid.UUID]*domain.Order
	orderNumbers map[string]uuid.UUID
	movements    []*domain.StockMovement
	sequences    map[uuid.UUID]int64
	events       []eventstore.Event
	versions     map[uuid.UUID]int
	nextEventID  int64

	locksMu sync.Mutex
	locks   map[uuid.UUID]chan struct{}

	opts   Options
	tracer trace.Tracer
}

// NewMemory returns an empty in-memory store.
func NewMemory(opts Options) *Memory {
	return &Memory{
		books:        make(map[uuid.UUID]*domain.Book),
		isbns:        make(map[string]uuid.UUID),
		orders:       make(map[uuid.UUID]*domain.Order),
		orderNumbers: make(map[string]uuid.UUID),
		sequences:    make(map[uuid.UUID]int64),
		versions:     make(map[uuid.UUID]int),
		locks:        make(map[uuid.UUID]chan struct{}),
		opts:         opts.withDefaults(),
		tracer:       otel.Tracer("bookstore/store"),
	}
}

func (s *Memory) Close() error { return nil }

func (s *Memory) WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	return runWithRetry(ctx, s.tracer, s.opts, func(ctx context.Context) error {
		tx := newMemTx(s)
		defer tx.release()

		if err := fn(ctx, tx); err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("unit of work aborted: %w", err)
		}
		return tx.commit()
	})
}

func (s *Memory) lockRow(ctx context.Context, id uuid.UUID) error {
	s.locksMu.Lock()
	ch, ok := s.locks[id]
	if !ok {
		ch = make(chan struct{}, 1)
		s.locks[id] = ch
	}
	s.locksMu.Unlock()

	select {
	case ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for row lock %s: %w", id, ctx.Err())
	}
}

func (s *Memory) unlockRow(id uuid.UUID) {
	s.locksMu.Lock()
	ch := s.locks[id]
	s.locksMu.Unlock()
	<-ch
}

func (s *Memory) GetBook(ctx context.Context, id uuid.UUID) (*domain.Book, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.books[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return b.Clone(), nil
}

func (s *Memory) ListLowStock(ctx context.Context) ([]*domain.Book, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*domain.Book
	for _, b := range s.books {
		if b.IsActive() && b.StockQuantity <= b.LowStockThreshold {
			out = append(out, b.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return lessID(out[i].ID, out[j].ID) })
	return out, nil
}

func (s *Memory) GetOrder(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.orders[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return o.Clone(), nil
}

func (s *Memory) GetOrderByNumber(ctx context.Context, number string) (*domain.Order, error) {
	s.mu.RLock()
	id, ok := s.orderNumbers[number]
	s.mu.RUnlock()
	if !ok {
		return nil, domain.ErrNotFound
	}
	return s.GetOrder(ctx, id)
}

func (s *Memory) ListOrdersByUser(ctx context.Context, userID uuid.UUID) ([]*domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []*domain.Order{}
	for _, o := range s.orders {
		if o.UserID == userID {
			out = append(out, o.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OrderDate.After(out[j].OrderDate) })
	return out, nil
}

func (s *Memory) Movements(ctx context.Context, filter domain.MovementFilter) ([]*domain.StockMovement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*domain.StockMovement
	for _, m := range s.movements {
		if filter.Matches(m) {
			c := *m
			out = append(out, &c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].BookID != out[j].BookID {
			return lessID(out[i].BookID, out[j].BookID)
		}
		return out[i].Sequence < out[j].Sequence
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *Memory) SumMovements(ctx context.Context, filter domain.MovementFilter) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sum := 0
	for _, m := range s.movements {
		if filter.Matches(m) {
			sum += m.QuantityChange
		}
	}
	return sum, nil
}

func (s *Memory) Audit(ctx context.Context) (domain.AuditReport, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sums := make(map[uuid.UUID]int, len(s.books))
	lastAfter := make(map[uuid.UUID]int, len(s.books))
	broken := make(map[uuid.UUID]bool)
	for _, m := range s.movements {
		if m.QuantityBefore != lastAfter[m.BookID] {
			broken[m.BookID] = true
		}
		lastAfter[m.BookID] = m.QuantityAfter
		sums[m.BookID] += m.QuantityChange
	}

	report := domain.AuditReport{BooksChecked: len(s.books)}
	for id, b := range s.books {
		if b.StockQuantity != sums[id] {
			report.Drifted = append(report.Drifted, id)
		}
		if b.StockQuantity < 0 {
			report.Negative = append(report.Negative, id)
		}
	}
	for id := range broken {
		report.BrokenChains = append(report.BrokenChains, id)
	}
	report.Drifted = SortIDs(report.Drifted)
	report.Negative = SortIDs(report.Negative)
	report.BrokenChains = SortIDs(report.BrokenChains)
	return report, nil
}

func (s *Memory) AggregateEvents(ctx context.Context, aggregateID uuid.UUID) ([]eventstore.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []eventstore.Event
	for _, e := range s.events {
		if e.AggregateID == aggregateID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (s *Memory) StreamUnpublished(ctx context.Context, batchSize int) ([]eventstore.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []eventstore.Event
	for _, e := range s.events {
		if e.PublishedAt == nil {
			out = append(out, e)
			if len(out) == batchSize {
				break
			}
		}
	}
	return out, nil
}

func (s *Memory) MarkPublished(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.events {
		if s.events[i].ID == id {
			if s.events[i].PublishedAt == nil {
				now := time.Now().UTC()
				s.events[i].PublishedAt = &now
			}
			return nil
		}
	}
	return eventstore.ErrEventNotFound
}

// Events returns every committed event, for tests and the game day.
func (s *Memory) Events() []eventstore.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]eventstore.Event(nil), s.events...)
}

// memTx stages writes until commit.
type memTx struct {
	s         *Memory
	held      map[uuid.UUID]bool
	heldOrder []uuid.UUID
	books     map[uuid.UUID]*domain.Book
	newBooks  map[uuid.UUID]bool
	orders    map[uuid.UUID]*domain.Order
	newOrders map[uuid.UUID]bool
	movements []*domain.StockMovement
	events    []eventstore.Event
}

func newMemTx(s *Memory) *memTx {
	return &memTx{
		s:         s,
		held:      make(map[uuid.UUID]bool),
		books:     make(map[uuid.UUID]*domain.Book),
		newBooks:  make(map[uuid.UUID]bool),
		orders:    make(map[uuid.UUID]*domain.Order),
		newOrders: make(map[uuid.UUID]bool),
	}
}

func (t *memTx) lock(ctx context.Context, id uuid.UUID) error {
	if t.held[id] {
		return nil
	}
	if err := t.s.lockRow(ctx, id); err != nil {
		return err
	}
	t.held[id] = true
	t.heldOrder = append(t.heldOrder, id)
	return nil
}

func (t *memTx) release() {
	for _, id := range t.heldOrder {
		t.s.unlockRow(id)
	}
	t.held = nil
	t.heldOrder = nil
}

func (t *memTx) book(id uuid.UUID) (*domain.Book, bool) {
	if b, ok := t.books[id]; ok {
		return b, true
	}
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	b, ok := t.s.books[id]
	if !ok {
		return nil, false
	}
	return b.Clone(), true
}

func (t *memTx) GetBook(ctx context.Context, id uuid.UUID) (*domain.Book, error) {
	b, ok := t.book(id)
	if !ok {
		return nil, domain.ErrNotFound
	}
	return b.Clone(), nil
}

func (t *memTx) LockBooks(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*domain.Book, error) {
	out := make(map[uuid.UUID]*domain.Book, len(ids))
	for _, id := range SortIDs(ids) {
		if err := t.lock(ctx, id); err != nil {
			return nil, err
		}
		b, ok := t.book(id)
		if !ok {
			continue
		}
		t.books[id] = b
		out[id] = b.Clone()
	}
	return out, nil
}

func (t *memTx) InsertBook(ctx context.Context, book *domain.Book) error {
	if book.StockQuantity != 0 {
		return fmt.Errorf("book %s inserted with stock %d: %w", book.ID, book.StockQuantity, domain.ErrLedgerMismatch)
	}
	t.s.mu.RLock()
	_, taken := t.s.isbns[book.ISBN]
	t.s.mu.RUnlock()
	if taken || t.stagedISBN(book.ISBN, book.ID) {
		return domain.Invalid("isbn", "a book with ISBN %s already exists", book.ISBN)
	}
	if err := t.lock(ctx, book.ID); err != nil {
		return err
	}
	t.books[book.ID] = book.Clone()
	t.newBooks[book.ID] = true
	return nil
}

func (t *memTx) stagedISBN(isbn string, except uuid.UUID) bool {
	for id, b := range t.books {
		if id != except && b.ISBN == isbn {
			return true
		}
	}
	return false
}

func (t *memTx) UpdateBookDetails(ctx context.Context, book *domain.Book) error {
	if err := t.lock(ctx, book.ID); err != nil {
		return err
	}
	current, ok := t.book(book.ID)
	if !ok {
		return domain.ErrNotFound
	}
	if book.ISBN != current.ISBN {
		t.s.mu.RLock()
		owner, taken := t.s.isbns[book.ISBN]
		t.s.mu.RUnlock()
		if (taken && owner != book.ID) || t.stagedISBN(book.ISBN, book.ID) {
			return domain.Invalid("isbn", "a book with ISBN %s already exists", book.ISBN)
		}
	}
	next := book.Clone()
	next.StockQuantity = current.StockQuantity
	next.CreatedAt = current.CreatedAt
	next.Version = current.Version + 1
	t.books[book.ID] = next
	book.Version = next.Version
	return nil
}

func (t *memTx) ApplyMovement(ctx context.Context, m *domain.StockMovement) error {
	if err := m.Check(); err != nil {
		return fmt.Errorf("movement for book %s: %w", m.BookID, err)
	}
	if err := t.lock(ctx, m.BookID); err != nil {
		return err
	}
	b, ok := t.book(m.BookID)
	if !ok || b.StockQuantity != m.QuantityBefore {
		return fmt.Errorf("book %s expected stock %d: %w", m.BookID, m.QuantityBefore, domain.ErrLedgerMismatch)
	}

	t.s.mu.RLock()
	seq := t.s.sequences[m.BookID]
	t.s.mu.RUnlock()
	for _, staged := range t.movements {
		if staged.BookID == m.BookID {
			seq = staged.Sequence
		}
	}
	m.Sequence = seq + 1

	b.StockQuantity = m.QuantityAfter
	b.Version++
	b.UpdatedAt = m.CreatedAt
	t.books[b.ID] = b

	c := *m
	t.movements = append(t.movements, &c)
	return nil
}

func (t *memTx) InsertOrder(ctx context.Context, order *domain.Order) error {
	if err := order.Reconcile(); err != nil {
		return err
	}
	t.s.mu.RLock()
	_, taken := t.s.orderNumbers[order.OrderNumber]
	t.s.mu.RUnlock()
	if taken {
		return Conflict(fmt.Errorf("order number %s already taken", order.OrderNumber))
	}
	if err := t.lock(ctx, order.ID); err != nil {
		return err
	}
	t.orders[order.ID] = order.Clone()
	t.newOrders[order.ID] = true
	return nil
}

func (t *memTx) LockOrder(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	if err := t.lock(ctx, id); err != nil {
		return nil, err
	}
	if o, ok := t.orders[id]; ok {
		return o.Clone(), nil
	}
	t.s.mu.RLock()
	o, ok := t.s.orders[id]
	t.s.mu.RUnlock()
	if !ok {
		return nil, domain.ErrNotFound
	}
	c := o.Clone()
	if err := c.Reconcile(); err != nil {
		return nil, err
	}
	t.orders[id] = c
	return c.Clone(), nil
}

func (t *memTx) UpdateOrderStatus(ctx context.Context, order *domain.Order) error {
	if !t.held[order.ID] {
		return fmt.Errorf("order %s updated without lock", order.OrderNumber)
	}
	current, ok := t.orders[order.ID]
	if !ok {
		return domain.ErrNotFound
	}
	if current.Version != order.Version-1 {
		return Conflict(fmt.Errorf("order %s changed concurrently", order.OrderNumber))
	}
	next := current.Clone()
	next.Status = order.Status
	next.ShippedDate = order.ShippedDate
	next.DeliveredDate = order.DeliveredDate
	next.CancelledDate = order.CancelledDate
	next.CancelReason = order.CancelReason
	next.Version = order.Version
	next.UpdatedAt = order.UpdatedAt
	t.orders[order.ID] = next
	return nil
}

func (t *memTx) AppendEvents(ctx context.Context, events ...eventstore.Event) error {
	t.events = append(t.events, events...)
	return nil
}

func (t *memTx) commit() error {
	s := t.s
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, b := range t.books {
		if owner, ok := s.isbns[b.ISBN]; ok && owner != id {
			return domain.Invalid("isbn", "a book with ISBN %s already exists", b.ISBN)
		}
	}
	for id := range t.newOrders {
		if _, ok := s.orderNumbers[t.orders[id].OrderNumber]; ok {
			return Conflict(fmt.Errorf("order number %s already taken", t.orders[id].OrderNumber))
		}
	}

	for id, b := range t.books {
		if old, ok := s.books[id]; ok && old.ISBN != b.ISBN {
			delete(s.isbns, old.ISBN)
		}
		s.books[id] = b
		s.isbns[b.ISBN] = id
	}
	for id, o := range t.orders {
		s.orders[id] = o
		s.orderNumbers[o.OrderNumber] = id
	}
	for _, m := range t.movements {
		s.movements = append(s.movements, m)
		s.sequences[m.BookID] = m.Sequence
	}
	now := time.Now().UTC()
	for _, e := range t.events {
		s.nextEventID++
		s.versions[e.AggregateID]++
		e.ID = s.nextEventID
		e.Version = s.versions[e.AggregateID]
		e.CreatedAt = now
		s.events = append(s.events, e)
	}
	return nil
}

func lessID(a, b uuid.UUID) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}
