// Package receipt composes ESC/POS byte streams for customer receipts and
// kitchen order tickets from an order snapshot.
package receipt

import (
	"time"

	"github.com/shopspring/decimal"
)

// Outlet identifies the restaurant printing the receipt
type Outlet struct {
	Name    string `json:"name"`
	Address string `json:"address,omitempty"`
	Phone   string `json:"phone,omitempty"`
	UPIID   string `json:"upi_id,omitempty"`
}

// Customer is the optional customer block on a receipt
type Customer struct {
	Name    string `json:"name,omitempty"`
	Phone   string `json:"phone,omitempty"`
	Address string `json:"address,omitempty"`
}

// Item is one order line
type Item struct {
	Name            string          `json:"name"`
	Quantity        int             `json:"quantity"`
	Price           decimal.Decimal `json:"price"`
	DiscountPercent decimal.Decimal `json:"discount_percent"`
	Subtotal        decimal.Decimal `json:"subtotal"`
	Note            string          `json:"note,omitempty"`
}

// Amount returns the line total. A stored subtotal wins over the computed one.
func (i Item) Amount() decimal.Decimal {
	if !i.Subtotal.IsZero() {
		return i.Subtotal
	}
	gross := i.Price.Mul(decimal.NewFromInt(int64(i.Quantity)))
	if i.DiscountPercent.IsPositive() {
		off := gross.Mul(i.DiscountPercent).Div(decimal.NewFromInt(100))
		gross = gross.Sub(off)
	}
	return gross
}

// Totals carries the order-level amounts exactly as stored by the backend.
// Percentages are printed as-is and never recomputed.
type Totals struct {
	Subtotal             decimal.Decimal `json:"subtotal"`
	DiscountPercent      decimal.Decimal `json:"discount_percent"`
	Discount             decimal.Decimal `json:"discount"`
	SpecialDiscount      decimal.Decimal `json:"special_discount"`
	ExtraCharges         decimal.Decimal `json:"extra_charges"`
	ServiceChargePercent decimal.Decimal `json:"service_charge_percent"`
	ServiceCharge        decimal.Decimal `json:"service_charge"`
	GSTPercent           decimal.Decimal `json:"gst_percent"`
	GST                  decimal.Decimal `json:"gst"`
	Tip                  decimal.Decimal `json:"tip"`
	GrandTotal           decimal.Decimal `json:"grand_total"`
}

// Order is the snapshot a receipt or KOT is built from
type Order struct {
	Number        string    `json:"number"`
	Type          string    `json:"type,omitempty"`
	Table         string    `json:"table,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	Outlet        Outlet    `json:"outlet"`
	Customer      *Customer `json:"customer,omitempty"`
	PaymentMethod string    `json:"payment_method,omitempty"`
	PaymentStatus string    `json:"payment_status,omitempty"`
	Items         []Item    `json:"items"`
	Comment       string    `json:"comment,omitempty"`
	Totals        Totals    `json:"totals"`
}

// ItemCount returns the total quantity across all lines
func (o *Order) ItemCount() int {
	count := 0
	for _, item := range o.Items {
		count += item.Quantity
	}
	return count
}
