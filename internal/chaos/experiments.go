// internal/chaos/experiments.go
package chaos

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"bookstore/internal/catalog"
	"bookstore/internal/domain"
	"bookstore/internal/identity"
	"bookstore/internal/orders"
	"bookstore/internal/store"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Suite builds experiments that hammer the order path against a live store.
type Suite struct {
	catalog catalog.Service
	orders  orders.Service
	reader  store.Reader
	logger  *zap.Logger
	// Workers is the number of concurrent buyers per experiment.
	Workers int
	// Observe is passed to every experiment as its Duration.
	Observe time.Duration
}

func NewSuite(catalog catalog.Service, orders orders.Service, reader store.Reader, logger *zap.Logger) *Suite {
	return &Suite{
		catalog: catalog,
		orders:  orders,
		reader:  reader,
		logger:  logger,
		Workers: 16,
	}
}

// Experiments returns every experiment of the suite.
func (s *Suite) Experiments() []Experiment {
	return []Experiment{
		s.LastUnitRace(),
		s.ReversedBasketContention(),
		s.CancelRestock(),
	}
}

// LedgerProbes report ledger drift and negative stock. Both must stay at zero.
func (s *Suite) LedgerProbes() []Probe {
	return []Probe{
		{
			Name:      "ledger_drift",
			Threshold: Threshold{Operator: "==", Value: 0},
			Query: func(ctx context.Context) (float64, error) {
				report, err := s.reader.Audit(ctx)
				if err != nil {
					return 0, err
				}
				return float64(len(report.Drifted) + len(report.BrokenChains)), nil
			},
		},
		{
			Name:      "negative_stock",
			Threshold: Threshold{Operator: "==", Value: 0},
			Query: func(ctx context.Context) (float64, error) {
				report, err := s.reader.Audit(ctx)
				if err != nil {
					return 0, err
				}
				return float64(len(report.Negative)), nil
			},
		},
	}
}

// LastUnitRace sends every worker after the single remaining copy of a book.
func (s *Suite) LastUnitRace() Experiment {
	var book *domain.Book
	var placed, unexpected atomic.Int64

	return Experiment{
		Name:        "Last Unit Race",
		Hypothesis:  "Concurrent buyers of the last copy produce exactly one order and no negative stock",
		SteadyState: s.LedgerProbes(),
		Outcomes: []Probe{
			counterProbe("orders_placed", &placed),
			counterProbe("unexpected_errors", &unexpected),
			s.stockProbe("remaining_stock", func() *domain.Book { return book }),
		},
		Method: []Action{
			{
				Type:   "seed",
				Target: "catalog",
				Execute: func(ctx context.Context) error {
					placed.Store(0)
					unexpected.Store(0)
					var err error
					book, err = s.seedBook(ctx, "last-unit", 1)
					return err
				},
			},
			{
				Type:   "contention",
				Target: "orders",
				Execute: func(ctx context.Context) error {
					if book == nil {
						return errors.New("book was not seeded")
					}
					return s.buyConcurrently(ctx, s.Workers, func(int) []domain.CartItem {
						return []domain.CartItem{{BookID: book.ID, Quantity: 1}}
					}, &placed, &unexpected)
				},
			},
		},
		Validation: []Assertion{
			{Probe: "orders_placed", Condition: equals(1), Message: "exactly one buyer gets the last copy"},
			{Probe: "unexpected_errors", Condition: equals(0), Message: "losers are rejected for insufficient stock only"},
			{Probe: "remaining_stock", Condition: equals(0), Message: "stock ends at zero"},
		},
		Duration: s.Observe,
	}
}

// ReversedBasketContention orders the same two books in opposite line order
// from half the workers each.
func (s *Suite) ReversedBasketContention() Experiment {
	var first, second *domain.Book
	var placed, unexpected atomic.Int64

	return Experiment{
		Name:        "Reversed Basket Contention",
		Hypothesis:  "Baskets naming the same books in opposite order never deadlock or oversell",
		SteadyState: s.LedgerProbes(),
		Outcomes: []Probe{
			counterProbe("orders_placed", &placed),
			counterProbe("unexpected_errors", &unexpected),
			s.stockProbe("first_stock", func() *domain.Book { return first }),
			s.stockProbe("second_stock", func() *domain.Book { return second }),
		},
		Method: []Action{
			{
				Type:   "seed",
				Target: "catalog",
				Execute: func(ctx context.Context) error {
					placed.Store(0)
					unexpected.Store(0)
					var err error
					if first, err = s.seedBook(ctx, "reversed-a", s.Workers/2); err != nil {
						return err
					}
					second, err = s.seedBook(ctx, "reversed-b", s.Workers/2)
					return err
				},
			},
			{
				Type:   "contention",
				Target: "orders",
				Execute: func(ctx context.Context) error {
					if first == nil || second == nil {
						return errors.New("books were not seeded")
					}
					return s.buyConcurrently(ctx, s.Workers, func(i int) []domain.CartItem {
						a := domain.CartItem{BookID: first.ID, Quantity: 1}
						b := domain.CartItem{BookID: second.ID, Quantity: 1}
						if i%2 == 0 {
							return []domain.CartItem{a, b}
						}
						return []domain.CartItem{b, a}
					}, &placed, &unexpected)
				},
			},
		},
		Validation: []Assertion{
			{Probe: "orders_placed", Condition: equals(float64(s.Workers / 2)), Message: "every unit is sold exactly once"},
			{Probe: "unexpected_errors", Condition: equals(0), Message: "no deadlock or conflict escapes the retry limit"},
			{Probe: "first_stock", Condition: equals(0), Message: "first book sold out"},
			{Probe: "second_stock", Condition: equals(0), Message: "second book sold out"},
		},
		Duration: s.Observe,
	}
}

// CancelRestock places and immediately cancels orders concurrently. Stock must
// return to where it started.
func (s *Suite) CancelRestock() Experiment {
	var book *domain.Book
	var unexpected atomic.Int64
	initial := s.Workers

	return Experiment{
		Name:        "Cancel Restock",
		Hypothesis:  "Concurrent place-and-cancel cycles restore stock exactly once per order",
		SteadyState: s.LedgerProbes(),
		Outcomes: []Probe{
			counterProbe("unexpected_errors", &unexpected),
			s.stockProbe("final_stock", func() *domain.Book { return book }),
		},
		Method: []Action{
			{
				Type:   "seed",
				Target: "catalog",
				Execute: func(ctx context.Context) error {
					unexpected.Store(0)
					var err error
					book, err = s.seedBook(ctx, "cancel-restock", initial)
					return err
				},
			},
			{
				Type:   "round_trip",
				Target: "orders",
				Execute: func(ctx context.Context) error {
					if book == nil {
						return errors.New("book was not seeded")
					}
					g, ctx := errgroup.WithContext(ctx)
					for i := 0; i < s.Workers; i++ {
						g.Go(func() error {
							if err := s.placeAndCancel(ctx, book.ID); err != nil {
								unexpected.Add(1)
								s.logger.Warn("place and cancel failed", zap.Error(err))
							}
							return nil
						})
					}
					return g.Wait()
				},
			},
		},
		Validation: []Assertion{
			{Probe: "unexpected_errors", Condition: equals(0), Message: "every cycle completes"},
			{Probe: "final_stock", Condition: equals(float64(initial)), Message: "stock returns to its starting level"},
		},
		Duration: s.Observe,
	}
}

func (s *Suite) placeAndCancel(ctx context.Context, bookID uuid.UUID) error {
	buyer := identity.Actor{ID: uuid.New(), Role: identity.RoleCustomer}
	receipt, err := s.orders.CreateOrderFromCart(ctx, buyer.ID,
		[]domain.CartItem{{BookID: bookID, Quantity: 1}}, chaosDetails())
	if err != nil {
		return fmt.Errorf("place: %w", err)
	}
	if _, err := s.orders.Cancel(ctx, buyer, receipt.OrderID, "chaos round trip"); err != nil {
		return fmt.Errorf("cancel %s: %w", receipt.OrderNumber, err)
	}
	return nil
}

// buyConcurrently runs workers buyers at once. Insufficient stock is an
// expected outcome; anything else is counted as unexpected.
func (s *Suite) buyConcurrently(ctx context.Context, workers int, basket func(int) []domain.CartItem, placed, unexpected *atomic.Int64) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < workers; i++ {
		g.Go(func() error {
			_, err := s.orders.CreateOrderFromCart(ctx, uuid.New(), basket(i), chaosDetails())
			var insufficient *domain.InsufficientStockError
			switch {
			case err == nil:
				placed.Add(1)
			case errors.As(err, &insufficient):
			default:
				unexpected.Add(1)
				s.logger.Warn("order failed unexpectedly", zap.Int("worker", i), zap.Error(err))
			}
			return nil
		})
	}
	return g.Wait()
}

func (s *Suite) seedBook(ctx context.Context, label string, stock int) (*domain.Book, error) {
	isbn := fmt.Sprintf("chaos-%s-%s", label, uuid.NewString()[:8])
	book, err := s.catalog.AddBook(ctx, identity.System, catalog.AddBookRequest{
		Title:        "Chaos " + label,
		Author:       "Chaos Engine",
		ISBN:         isbn,
		Price:        1000,
		InitialStock: stock,
	})
	if err != nil {
		return nil, fmt.Errorf("seed %s: %w", label, err)
	}
	return book, nil
}

func (s *Suite) stockProbe(name string, book func() *domain.Book) Probe {
	return Probe{
		Name: name,
		Query: func(ctx context.Context) (float64, error) {
			b := book()
			if b == nil {
				return 0, errors.New("book was not seeded")
			}
			current, err := s.reader.GetBook(ctx, b.ID)
			if err != nil {
				return 0, err
			}
			return float64(current.StockQuantity), nil
		},
	}
}

func counterProbe(name string, counter *atomic.Int64) Probe {
	return Probe{
		Name: name,
		Query: func(context.Context) (float64, error) {
			return float64(counter.Load()), nil
		},
	}
}

func equals(want float64) func(float64) bool {
	return func(got float64) bool { return got == want }
}

func chaosDetails() domain.OrderDetails {
	return domain.OrderDetails{ShippingAddress: "1 Chaos Way", PaymentMethod: "card"}
}
