// Package cart defines the read-only cart snapshot the storefront supplies
// with every engine call. The engine never mutates a cart; it only prices
// discounts against a point-in-time view of it.
package cart

import "github.com/shopspring/decimal"

// Line is a single cart line as reported by the storefront.
type Line struct {
	ProductID    string          `json:"product_id"`
	CategoryIDs  []string        `json:"category_ids"`
	UnitPrice    decimal.Decimal `json:"unit_price"`
	Quantity     int             `json:"quantity"`
	LineSubtotal decimal.Decimal `json:"line_subtotal"`
}

// Snapshot is a point-in-time view of the cart contents and subtotal.
type Snapshot struct {
	Items    []Line          `json:"items"`
	Subtotal decimal.Decimal `json:"subtotal"`
}

// SumLines recomputes the subtotal from the line subtotals. Used to
// cross-check snapshots arriving over the wire.
func (s Snapshot) SumLines() decimal.Decimal {
	sum := decimal.Zero
	for _, l := range s.Items {
		sum = sum.Add(l.LineSubtotal)
	}
	return sum
}
