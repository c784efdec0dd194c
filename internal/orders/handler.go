// internal/orders/handler.go
package orders

import (
	"net/http"

	"bookstore/internal/api/respond"
	"bookstore/internal/domain"
	"bookstore/internal/identity"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type Handler struct {
	service Service
	logger  *zap.Logger
}

func NewHandler(service Service, logger *zap.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// Routes mounts the order endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/orders", h.HandleCreateOrder)
	r.Get("/orders", h.HandleListOrders)
	r.Get("/orders/number/{number}", h.HandleGetOrderByNumber)
	r.Get("/orders/{id}", h.HandleGetOrder)
	r.Get("/orders/{id}/events", h.HandleHistory)
	r.Post("/orders/{id}/status", h.HandleTransition)
	r.Post("/orders/{id}/cancel", h.HandleCancel)
}

func (h *Handler) HandleCreateOrder(w http.ResponseWriter, r *http.Request) {
	actor, _ := identity.FromContext(r.Context())

	var req CreateOrderRequest
	if err := respond.Decode(r, &req); err != nil {
		respond.Error(w, h.logger, err)
		return
	}

	receipt, err := h.service.CreateOrder(r.Context(), actor.ID, req)
	if err != nil {
		respond.Error(w, h.logger, err)
		return
	}
	respond.JSON(w, http.StatusCreated, receipt)
}

// HandleListOrders lists the caller's orders. Privileged callers may pass
// ?user_id= to list another user's orders.
func (h *Handler) HandleListOrders(w http.ResponseWriter, r *http.Request) {
	actor, _ := identity.FromContext(r.Context())
	userID := actor.ID
	if raw := r.URL.Query().Get("user_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			respond.Error(w, h.logger, domain.Invalid("user_id", "invalid user ID"))
			return
		}
		userID = id
	}

	orders, err := h.service.ListUserOrders(r.Context(), actor, userID)
	if err != nil {
		respond.Error(w, h.logger, err)
		return
	}
	respond.JSON(w, http.StatusOK, orders)
}

func (h *Handler) HandleGetOrder(w http.ResponseWriter, r *http.Request) {
	actor, _ := identity.FromContext(r.Context())
	id, ok := h.orderID(w, r)
	if !ok {
		return
	}

	order, err := h.service.GetOrder(r.Context(), actor, id)
	if err != nil {
		respond.Error(w, h.logger, err)
		return
	}
	respond.JSON(w, http.StatusOK, order)
}

func (h *Handler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	actor, _ := identity.FromContext(r.Context())
	id, ok := h.orderID(w, r)
	if !ok {
		return
	}

	events, err := h.service.History(r.Context(), actor, id)
	if err != nil {
		respond.Error(w, h.logger, err)
		return
	}
	respond.JSON(w, http.StatusOK, events)
}

func (h *Handler) HandleGetOrderByNumber(w http.ResponseWriter, r *http.Request) {
	actor, _ := identity.FromContext(r.Context())

	order, err := h.service.GetOrderByNumber(r.Context(), actor, chi.URLParam(r, "number"))
	if err != nil {
		respond.Error(w, h.logger, err)
		return
	}
	respond.JSON(w, http.StatusOK, order)
}

func (h *Handler) HandleTransition(w http.ResponseWriter, r *http.Request) {
	actor, _ := identity.FromContext(r.Context())
	id, ok := h.orderID(w, r)
	if !ok {
		return
	}

	var req TransitionRequest
	if err := respond.Decode(r, &req); err != nil {
		respond.Error(w, h.logger, err)
		return
	}

	order, err := h.service.Transition(r.Context(), actor, id, req.Status)
	if err != nil {
		respond.Error(w, h.logger, err)
		return
	}
	respond.JSON(w, http.StatusOK, order)
}

func (h *Handler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	actor, _ := identity.FromContext(r.Context())
	id, ok := h.orderID(w, r)
	if !ok {
		return
	}

	var req CancelRequest
	if r.ContentLength != 0 {
		if err := respond.Decode(r, &req); err != nil {
			respond.Error(w, h.logger, err)
			return
		}
	}

	order, err := h.service.Cancel(r.Context(), actor, id, req.Reason)
	if err != nil {
		respond.Error(w, h.logger, err)
		return
	}
	respond.JSON(w, http.StatusOK, order)
}

func (h *Handler) orderID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respond.Error(w, h.logger, domain.Invalid("id", "invalid order ID"))
		return uuid.Nil, false
	}
	return id, true
}
