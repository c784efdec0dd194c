// internal/clients/cart_client_test.go
package clients

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"bookstore/internal/domain"
	"bookstore/internal/identity"

	"github.com/google/uuid"
	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestCartClient_SnapshotAndDiscard(t *testing.T) {
	user := uuid.New()
	book := uuid.New()
	var discarded atomic.Pointer[[]domain.CartItem]

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, user.String(), r.Header.Get(identity.HeaderUserID))
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/api/v1/cart":
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"user_id":"` + user.String() + `","items":[{"book_id":"` + book.String() + `","quantity":2,"price":900}],"total":1800}`))
		case r.Method == http.MethodPost && r.URL.Path == "/api/v1/cart/discard":
			var req struct {
				Items []domain.CartItem `json:"items"`
			}
			if !assert.NoError(t, json.NewDecoder(r.Body).Decode(&req)) {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			discarded.Store(&req.Items)
			w.WriteHeader(http.StatusNoContent)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	client := NewCartClient(srv.URL, time.Second, BreakerSettings{}, zap.NewNop())
	ctx := context.Background()

	items, err := client.Snapshot(ctx, user)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, book, items[0].BookID)
	assert.Equal(t, 2, items[0].Quantity)

	require.NoError(t, client.Discard(ctx, user, items))
	got := discarded.Load()
	require.NotNil(t, got)
	require.Len(t, *got, 1)
	assert.Equal(t, book, (*got)[0].BookID)
	assert.Equal(t, 2, (*got)[0].Quantity)
}

func TestCartClient_BreakerOpensOnServerErrors(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	client := NewCartClient(srv.URL, time.Second, BreakerSettings{FailureThreshold: 2, OpenTimeout: time.Minute}, zap.NewNop())
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := client.Snapshot(ctx, uuid.New())
		assert.ErrorIs(t, err, domain.ErrUnavailable)
	}
	_, err := client.Snapshot(ctx, uuid.New())
	assert.ErrorIs(t, err, domain.ErrUnavailable)
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
	assert.Equal(t, int32(2), hits.Load())
}

func TestCartClient_ClientErrorsDoNotTrip(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	client := NewCartClient(srv.URL, time.Second, BreakerSettings{FailureThreshold: 1}, zap.NewNop())
	for i := 0; i < 3; i++ {
		_, err := client.Snapshot(context.Background(), uuid.New())
		require.Error(t, err)
		assert.NotErrorIs(t, err, domain.ErrUnavailable)
	}
	assert.Equal(t, int32(3), hits.Load())
}
