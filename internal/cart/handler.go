// internal/cart/handler.go
package cart

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

// Routes mounts the cart endpoints on r. The cart always belongs to the caller.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/cart", h.HandleGetCart)
	r.Delete("/cart", h.HandleClear)
	r.Post("/cart/discard", h.HandleDiscard)
	r.Post("/cart/items", h.HandleAddItem)
	r.Delete("/cart/items/{bookId}", h.HandleRemoveItem)
}

func (h *Handler) HandleGetCart(w http.ResponseWriter, r *http.Request) {
	actor, _ := identity.FromContext(r.Context())
	cart, err := h.service.GetCart(r.Context(), actor.ID)
	if err != nil {
		respond.Error(w, h.logger, err)
		return
	}
	respond.JSON(w, http.StatusOK, cart)
}

func (h *Handler) HandleAddItem(w http.ResponseWriter, r *http.Request) {
	actor, _ := identity.FromContext(r.Context())

	var req AddItemRequest
	if err := respond.Decode(r, &req); err != nil {
		respond.Error(w, h.logger, err)
		return
	}

	cart, err := h.service.AddItem(r.Context(), actor.ID, req)
	if err != nil {
		respond.Error(w, h.logger, err)
		return
	}
	respond.JSON(w, http.StatusOK, cart)
}

func (h *Handler) HandleRemoveItem(w http.ResponseWriter, r *http.Request) {
	actor, _ := identity.FromContext(r.Context())
	bookID, err := uuid.Parse(chi.URLParam(r, "bookId"))
	if err != nil {
		respond.Error(w, h.logger, domain.Invalid("bookId", "invalid book ID"))
		return
	}

	cart, err := h.service.RemoveItem(r.Context(), actor.ID, bookID)
	if err != nil {
		respond.Error(w, h.logger, err)
		return
	}
	respond.JSON(w, http.StatusOK, cart)
}

func (h *Handler) HandleDiscard(w http.ResponseWriter, r *http.Request) {
	actor, _ := identity.FromContext(r.Context())

	var req DiscardRequest
	if err := respond.Decode(r, &req); err != nil {
		respond.Error(w, h.logger, err)
		return
	}
	if err := h.service.Discard(r.Context(), actor.ID, req.Items); err != nil {
		respond.Error(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) HandleClear(w http.ResponseWriter, r *http.Request) {
	actor, _ := identity.FromContext(r.Context())
	if err := h.service.Clear(r.Context(), actor.ID); err != nil {
		respond.Error(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
