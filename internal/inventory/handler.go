// internal/inventory/handler.go
package inventory

import (
	"net/http"
	"strconv"
	"strings"
	"time"

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

// Routes mounts the inventory endpoints on r.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/books/{id}/stock", h.HandleUpdateStock)
	r.Get("/books/{id}/movements", h.HandleHistory)
	r.Get("/books/{id}/stock-totals", h.HandleTotals)
	r.Get("/inventory/low-stock", h.HandleLowStock)
	r.Get("/inventory/audit", h.HandleAudit)
}

func (h *Handler) HandleUpdateStock(w http.ResponseWriter, r *http.Request) {
	actor, _ := identity.FromContext(r.Context())
	bookID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respond.Error(w, h.logger, domain.Invalid("id", "invalid book ID"))
		return
	}

	var req StockUpdateRequest
	if err := respond.Decode(r, &req); err != nil {
		respond.Error(w, h.logger, err)
		return
	}

	movement, err := h.service.UpdateStock(r.Context(), actor, bookID, req)
	if err != nil {
		respond.Error(w, h.logger, err)
		return
	}
	respond.JSON(w, http.StatusCreated, movement)
}

func (h *Handler) HandleHistory(w http.ResponseWriter, r *http.Request) {
	bookID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respond.Error(w, h.logger, domain.Invalid("id", "invalid book ID"))
		return
	}
	filter, err := parseFilter(r)
	if err != nil {
		respond.Error(w, h.logger, err)
		return
	}
	filter.BookID = bookID

	movements, err := h.service.History(r.Context(), filter)
	if err != nil {
		respond.Error(w, h.logger, err)
		return
	}
	respond.JSON(w, http.StatusOK, movements)
}

func (h *Handler) HandleTotals(w http.ResponseWriter, r *http.Request) {
	bookID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		respond.Error(w, h.logger, domain.Invalid("id", "invalid book ID"))
		return
	}
	filter, err := parseFilter(r)
	if err != nil {
		respond.Error(w, h.logger, err)
		return
	}

	totals, err := h.service.Totals(r.Context(), bookID, filter.From, filter.To)
	if err != nil {
		respond.Error(w, h.logger, err)
		return
	}
	respond.JSON(w, http.StatusOK, totals)
}

func (h *Handler) HandleLowStock(w http.ResponseWriter, r *http.Request) {
	items, err := h.service.GetLowStockItems(r.Context())
	if err != nil {
		respond.Error(w, h.logger, err)
		return
	}
	respond.JSON(w, http.StatusOK, items)
}

func (h *Handler) HandleAudit(w http.ResponseWriter, r *http.Request) {
	actor, _ := identity.FromContext(r.Context())
	if !actor.IsPrivileged() {
		respond.Error(w, h.logger, domain.ErrForbidden)
		return
	}
	report, err := h.service.Audit(r.Context())
	if err != nil {
		respond.Error(w, h.logger, err)
		return
	}
	status := http.StatusOK
	if !report.Healthy() {
		status = http.StatusInternalServerError
	}
	respond.JSON(w, status, report)
}

// parseFilter reads type, reference, from, to and limit query parameters.
func parseFilter(r *http.Request) (domain.MovementFilter, error) {
	var f domain.MovementFilter
	q := r.URL.Query()

	if types := q.Get("type"); types != "" {
		for _, t := range strings.Split(types, ",") {
			f.Types = append(f.Types, domain.MovementType(strings.ToUpper(strings.TrimSpace(t))))
		}
	}
	f.ReferenceNumber = q.Get("reference")

	var err error
	if f.From, err = parseTime(q.Get("from"), "from"); err != nil {
		return f, err
	}
	if f.To, err = parseTime(q.Get("to"), "to"); err != nil {
		return f, err
	}
	if limit := q.Get("limit"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil || n < 0 {
			return f, domain.Invalid("limit", "must be a non-negative integer")
		}
		f.Limit = n
	}
	return f, nil
}

func parseTime(v, field string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, domain.Invalid(field, "must be an RFC 3339 timestamp")
	}
	return t, nil
}
