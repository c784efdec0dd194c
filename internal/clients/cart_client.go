// internal/clients/cart_client.go
package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"bookstore/internal/domain"
	"bookstore/internal/identity"

	"github.com/google/uuid"
	"github.com/sony/gobreaker/v2"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
)

// statusError is a non-2xx answer from the cart service.
type statusError struct {
	code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("unexpected status code: %d", e.code)
}

// BreakerSettings tunes the circuit breaker in front of the cart service.
type BreakerSettings struct {
	// FailureThreshold is the number of consecutive failures that opens the breaker.
	FailureThreshold uint32
	// OpenTimeout is how long the breaker stays open before probing again.
	OpenTimeout time.Duration
}

// CartClient reads and trims carts held by a remote cart service. It
// satisfies the order service's cart source.
type CartClient struct {
	baseURL    string
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker[[]byte]
	logger     *zap.Logger
}

func NewCartClient(baseURL string, timeout time.Duration, settings BreakerSettings, logger *zap.Logger) *CartClient {
	if settings.FailureThreshold == 0 {
		settings.FailureThreshold = 5
	}
	if settings.OpenTimeout <= 0 {
		settings.OpenTimeout = 30 * time.Second
	}

	breaker := gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        "cart-service",
		MaxRequests: 1,
		Timeout:     settings.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= settings.FailureThreshold
		},
		IsSuccessful: func(err error) bool {
			var se *statusError
			return err == nil || (errors.As(err, &se) && se.code < http.StatusInternalServerError)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()),
			)
		},
	})

	return &CartClient{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout, Transport: otelhttp.NewTransport(http.DefaultTransport)},
		breaker:    breaker,
		logger:     logger,
	}
}

// Snapshot fetches the user's cart lines.
func (c *CartClient) Snapshot(ctx context.Context, userID uuid.UUID) ([]domain.CartItem, error) {
	body, err := c.do(ctx, http.MethodGet, "/api/v1/cart", userID, nil, http.StatusOK)
	if err != nil {
		return nil, err
	}

	var cart domain.Cart
	if err := json.Unmarshal(body, &cart); err != nil {
		return nil, fmt.Errorf("decode cart: %w", err)
	}
	return cart.Items, nil
}

// Discard removes the ordered quantities from the user's cart.
func (c *CartClient) Discard(ctx context.Context, userID uuid.UUID, ordered []domain.CartItem) error {
	payload, err := json.Marshal(struct {
		Items []domain.CartItem `json:"items"`
	}{Items: ordered})
	if err != nil {
		return fmt.Errorf("encode discard request: %w", err)
	}
	_, err = c.do(ctx, http.MethodPost, "/api/v1/cart/discard", userID, payload, http.StatusNoContent)
	return err
}

func (c *CartClient) do(ctx context.Context, method, path string, userID uuid.UUID, payload []byte, want int) ([]byte, error) {
	body, err := c.breaker.Execute(func() ([]byte, error) {
		var reader io.Reader
		if payload != nil {
			reader = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
		if err != nil {
			return nil, err
		}
		if payload != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		req.Header.Set(identity.HeaderUserID, userID.String())
		req.Header.Set(identity.HeaderUserRole, string(identity.RoleCustomer))

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		if resp.StatusCode != want {
			return nil, &statusError{code: resp.StatusCode}
		}
		return io.ReadAll(resp.Body)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("cart service: %w: %w", domain.ErrUnavailable, err)
	}
	var se *statusError
	if errors.As(err, &se) && se.code >= http.StatusInternalServerError {
		return nil, fmt.Errorf("cart service: %w: %w", domain.ErrUnavailable, err)
	}
	if err != nil {
		return nil, fmt.Errorf("cart service %s: %w", method, err)
	}
	return body, nil
}
