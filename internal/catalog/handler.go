// internal/catalog/handler.go
package catalog

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

// Routes mounts the catalog endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/books", h.HandleAddBook)
	r.Get("/books/{id}", h.HandleGetBook)
	r.Patch("/books/{id}", h.HandleUpdateBook)
}

func (h *Handler) HandleAddBook(w http.ResponseWriter, r *http.Request) {
	actor, _ := identity.FromContext(r.Context())

	var req AddBookRequest
	if err := respond.Decode(r, &req); err != nil {
		respond.Error(w, h.logger, err)
		return
	}

	book, err := h.service.AddBook(r.Context(), actor, req)
	if err != nil {
		respond.Error(w, h.logger, err)
		return
	}
	respond.JSON(w, http.StatusCreated, book)
}

func (h *Handler) HandleGetBook(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respond.Error(w, h.logger, domain.Invalid("id", "invalid book ID"))
		return
	}

	book, err := h.service.GetBook(r.Context(), id)
	if err != nil {
		respond.Error(w, h.logger, err)
		return
	}
	respond.JSON(w, http.StatusOK, book)
}

func (h *Handler) HandleUpdateBook(w http.ResponseWriter, r *http.Request) {
	actor, _ := identity.FromContext(r.Context())
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respond.Error(w, h.logger, domain.Invalid("id", "invalid book ID"))
		return
	}

	var req UpdateBookRequest
	if err := respond.Decode(r, &req); err != nil {
		respond.Error(w, h.logger, err)
		return
	}

	book, err := h.service.UpdateBook(r.Context(), actor, id, req)
	if err != nil {
		respond.Error(w, h.logger, err)
		return
	}
	respond.JSON(w, http.StatusOK, book)
}
