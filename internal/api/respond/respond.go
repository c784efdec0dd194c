// internal/api/respond/respond.go
package respond

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"bookstore/internal/domain"
	"bookstore/internal/identity"

	"go.uber.org/zap"
)

// ErrorBody is the JSON shape of every error response.
type ErrorBody struct {
	Error   string      `json:"error"`
	Code    string      `json:"code"`
	Details interface{} `json:"details,omitempty"`
}

// JSON writes v with the given status.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

// Decode reads a JSON body into v, rejecting unknown fields.
func Decode(r *http.Request, v interface{}) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return &domain.ValidationError{Field: "body", Message: fmt.Sprintf("malformed JSON: %v", err)}
	}
	return nil
}

// Status maps an error of the domain taxonomy to an HTTP status and code.
func Status(err error) (int, string) {
	var (
		validation   *domain.ValidationError
		unavailable  *domain.BookUnavailableError
		insufficient *domain.InsufficientStockError
		transition   *domain.InvalidTransitionError
		conflict     *domain.ConcurrencyConflictError
	)
	switch {
	case errors.As(err, &validation):
		return http.StatusBadRequest, "VALIDATION_FAILED"
	case errors.As(err, &unavailable):
		return http.StatusConflict, "BOOK_UNAVAILABLE"
	case errors.As(err, &insufficient):
		return http.StatusConflict, "INSUFFICIENT_STOCK"
	case errors.As(err, &transition):
		return http.StatusConflict, "INVALID_TRANSITION"
	case errors.As(err, &conflict):
		return http.StatusServiceUnavailable, "CONCURRENCY_CONFLICT"
	case errors.Is(err, domain.ErrUnavailable):
		return http.StatusServiceUnavailable, "DEPENDENCY_UNAVAILABLE"
	case errors.Is(err, identity.ErrMissingIdentity):
		return http.StatusUnauthorized, "UNAUTHENTICATED"
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden, "FORBIDDEN"
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, "NOT_FOUND"
	case errors.Is(err, domain.ErrLedgerMismatch):
		return http.StatusInternalServerError, "LEDGER_MISMATCH"
	}
	return http.StatusInternalServerError, "INTERNAL"
}

// Error writes err as a JSON error response. Server faults are logged and
// their message is not leaked.
func Error(w http.ResponseWriter, logger *zap.Logger, err error) {
	status, code := Status(err)
	body := ErrorBody{Error: err.Error(), Code: code}

	var insufficient *domain.InsufficientStockError
	if errors.As(err, &insufficient) {
		body.Details = map[string]interface{}{
			"book_id":   insufficient.BookID,
			"title":     insufficient.Title,
			"available": insufficient.Available,
			"requested": insufficient.Requested,
		}
	}
	var transition *domain.InvalidTransitionError
	if errors.As(err, &transition) {
		body.Details = map[string]interface{}{"from": transition.From, "to": transition.To}
	}

	if status >= http.StatusInternalServerError && status != http.StatusServiceUnavailable {
		logger.Error("request failed", zap.Error(err), zap.String("code", code))
		body.Error = http.StatusText(status)
	}
	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "1")
	}
	JSON(w, status, body)
}
