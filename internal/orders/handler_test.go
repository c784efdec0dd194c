// internal/orders/handler_test.go
package orders

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"bookstore/internal/api/respond"
	"bookstore/internal/domain"
	"bookstore/internal/identity"
	"bookstore/pkg/eventstore"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestRouter(svc Service) http.Handler {
	r := chi.NewRouter()
	r.Use(identity.Middleware)
	NewHandler(svc, zap.NewNop()).Routes(r)
	return r
}

func do(h http.Handler, method, path, body string, actor identity.Actor) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(identity.HeaderUserID, actor.ID.String())
	req.Header.Set(identity.HeaderUserRole, string(actor.Role))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHandler_OrderFlow(t *testing.T) {
	f := newFixture(t)
	b := f.book(t, "Dune", 1899, 2)
	user := customer()
	f.carts.put(user.ID, item(b, 2))
	h := newTestRouter(f.svc)

	rec := do(h, http.MethodPost, "/orders", `{"shipping_address":"1 Main St","payment_method":"card"}`, user)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var receipt domain.Receipt
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&receipt))
	assert.Equal(t, int64(3798), receipt.TotalAmount)
	id := receipt.OrderID.String()

	rec = do(h, http.MethodGet, "/orders/"+id, "", user)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(h, http.MethodGet, "/orders/number/"+receipt.OrderNumber, "", user)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(h, http.MethodGet, "/orders", "", user)
	require.Equal(t, http.StatusOK, rec.Code)
	var list []domain.Order
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&list))
	assert.Len(t, list, 1)

	rec = do(h, http.MethodPost, "/orders/"+id+"/status", `{"status":"CONFIRMED"}`, user)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = do(h, http.MethodPost, "/orders/"+id+"/status", `{"status":"CONFIRMED"}`, staff)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = do(h, http.MethodPost, "/orders/"+id+"/status", `{"status":"DELIVERED"}`, staff)
	require.Equal(t, http.StatusConflict, rec.Code)
	var body respond.ErrorBody
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "INVALID_TRANSITION", body.Code)

	rec = do(h, http.MethodPost, "/orders/"+id+"/cancel", "", user)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 2, f.stock(t, b.ID))

	rec = do(h, http.MethodGet, "/orders/"+id+"/events", "", user)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var history []eventstore.Event
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&history))
	require.Len(t, history, 3)
	assert.Equal(t, domain.EventOrderCreated, history[0].EventType)
	assert.Equal(t, domain.EventOrderStatusChanged, history[1].EventType)
	assert.Equal(t, domain.EventOrderCancelled, history[2].EventType)

	rec = do(h, http.MethodGet, "/orders/"+id+"/events", "", customer())
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = do(h, http.MethodGet, "/orders/bad/events", "", user)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandler_CreateOrderErrors(t *testing.T) {
	f := newFixture(t)
	b := f.book(t, "Dune", 1899, 1)
	user := customer()
	h := newTestRouter(f.svc)

	rec := do(h, http.MethodPost, "/orders", `{"shipping_address":"1 Main St"}`, user)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	f.carts.put(user.ID, item(b, 5))
	rec = do(h, http.MethodPost, "/orders", `{"shipping_address":"1 Main St"}`, user)
	require.Equal(t, http.StatusConflict, rec.Code)
	var body respond.ErrorBody
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "INSUFFICIENT_STOCK", body.Code)

	rec = do(h, http.MethodPost, "/orders", `{"shipping_address":""}`, user)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(h, http.MethodGet, "/orders/not-an-id", "", user)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(h, http.MethodGet, "/orders?user_id="+staff.ID.String(), "", user)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/orders", nil)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
