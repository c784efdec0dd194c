// internal/orders/domain.go
package orders

import (
	"fmt"
	"strings"
	"time"

	"bookstore/internal/domain"

	"github.com/google/uuid"
)

// CreateOrderRequest is the customer input for checking out the current cart.
type CreateOrderRequest struct {
	ShippingAddress string `json:"shipping_address"`
	ShippingPhone   string `json:"shipping_phone,omitempty"`
	PaymentMethod   string `json:"payment_method,omitempty"`
	Notes           string `json:"notes,omitempty"`
}

func (r CreateOrderRequest) details() domain.OrderDetails {
	return domain.OrderDetails{
		ShippingAddress: strings.TrimSpace(r.ShippingAddress),
		ShippingPhone:   strings.TrimSpace(r.ShippingPhone),
		PaymentMethod:   strings.TrimSpace(r.PaymentMethod),
		Notes:           r.Notes,
	}
}

// TransitionRequest asks for a forward lifecycle move.
type TransitionRequest struct {
	Status domain.OrderStatus `json:"status"`
}

// CancelRequest carries the optional cancellation reason.
type CancelRequest struct {
	Reason string `json:"reason,omitempty"`
}

// NewOrderNumber returns ORD-YYYYMMDD-XXXXXXXXXXXX, the suffix being twelve
// random upper-case hex digits.
func NewOrderNumber(now time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))[:12]
	return fmt.Sprintf("ORD-%s-%s", now.UTC().Format("20060102"), suffix)
}
