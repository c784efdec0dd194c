// internal/inventory/lowstock.go
package inventory

import (
	"sort"

	"bookstore/internal/domain"

	"github.com/google/uuid"
)

// Deriver computes low-stock projections. It never writes.
type Deriver struct {
	ReorderMultiplier  int
	VelocityWindowDays int
}

// NewDeriver returns a deriver, falling back to a multiplier of 2 and a 30
// day window for non-positive inputs.
func NewDeriver(multiplier, windowDays int) Deriver {
	if multiplier <= 0 {
		multiplier = 2
	}
	if windowDays <= 0 {
		windowDays = 30
	}
	return Deriver{ReorderMultiplier: multiplier, VelocityWindowDays: windowDays}
}

// IsLowStock reports whether an active book is at or below its threshold.
func IsLowStock(b *domain.Book) bool {
	return b.IsActive() && b.StockQuantity <= b.LowStockThreshold
}

func IsOutOfStock(stock int) bool {
	return stock <= 0
}

// AlertLevel grades stock against threshold.
func AlertLevel(stock, threshold int) domain.AlertLevel {
	switch {
	case stock == 0:
		return domain.AlertCritical
	case stock <= threshold/2:
		return domain.AlertHigh
	case stock <= threshold:
		return domain.AlertMedium
	}
	return domain.AlertNone
}

// Shortfall is how many units are missing to reach the threshold.
func Shortfall(stock, threshold int) int {
	if threshold > stock {
		return threshold - stock
	}
	return 0
}

// CrossesThreshold reports whether stock moved from above threshold to at
// or below it.
func CrossesThreshold(before, after, threshold int) bool {
	return before > threshold && after <= threshold
}

func (d Deriver) RecommendedOrderQuantity(stock, threshold int) int {
	return Shortfall(stock, threshold) * d.ReorderMultiplier
}

// DaysUntilOutOfStock projects the remaining days of stock from the
// outbound units sold over the velocity window. It is nil when nothing
// sold.
func (d Deriver) DaysUntilOutOfStock(stock, outboundInWindow int) *int {
	if outboundInWindow <= 0 {
		return nil
	}
	days := stock * d.VelocityWindowDays / outboundInWindow
	return &days
}

// LowStockItem is one alert record of the low-stock report.
type LowStockItem struct {
	BookID                   uuid.UUID         `json:"book_id"`
	Title                    string            `json:"title"`
	ISBN                     string            `json:"isbn"`
	StockQuantity            int               `json:"stock_quantity"`
	LowStockThreshold        int               `json:"low_stock_threshold"`
	AlertLevel               domain.AlertLevel `json:"alert_level"`
	OutOfStock               bool              `json:"out_of_stock"`
	Shortfall                int               `json:"shortfall"`
	RecommendedOrderQuantity int               `json:"recommended_order_quantity"`
	DaysUntilOutOfStock      *int              `json:"days_until_out_of_stock,omitempty"`
}

// Item derives the alert record of b. outbound is the number of units that
// left stock over the velocity window.
func (d Deriver) Item(b *domain.Book, outbound int) LowStockItem {
	return LowStockItem{
		BookID:                   b.ID,
		Title:                    b.Title,
		ISBN:                     b.ISBN,
		StockQuantity:            b.StockQuantity,
		LowStockThreshold:        b.LowStockThreshold,
		AlertLevel:               AlertLevel(b.StockQuantity, b.LowStockThreshold),
		OutOfStock:               IsOutOfStock(b.StockQuantity),
		Shortfall:                Shortfall(b.StockQuantity, b.LowStockThreshold),
		RecommendedOrderQuantity: d.RecommendedOrderQuantity(b.StockQuantity, b.LowStockThreshold),
		DaysUntilOutOfStock:      d.DaysUntilOutOfStock(b.StockQuantity, outbound),
	}
}

// SortBySeverity orders items by alert level, then by shortfall, both
// descending.
func SortBySeverity(items []LowStockItem) {
	sort.SliceStable(items, func(i, j int) bool {
		ri, rj := items[i].AlertLevel.Rank(), items[j].AlertLevel.Rank()
		if ri != rj {
			return ri > rj
		}
		return items[i].Shortfall > items[j].Shortfall
	})
}
