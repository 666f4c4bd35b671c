package receipt

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/shopspring/decimal"
)

// ParseOrder parses an order snapshot from JSON
func ParseOrder(data []byte) (*Order, error) {
	var order Order
	if err := json.Unmarshal(data, &order); err != nil {
		return nil, fmt.Errorf("failed to parse order: %w", err)
	}

	if err := Validate(&order); err != nil {
		return nil, err
	}

	return &order, nil
}

// ParseOrderFile parses an order snapshot from disk
func ParseOrderFile(path string) (*Order, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read order file: %w", err)
	}

	return ParseOrder(data)
}

// Validate checks that an order has what the composer needs
func Validate(o *Order) error {
	if o == nil {
		return fmt.Errorf("order is required")
	}
	if o.Outlet.Name == "" {
		return fmt.Errorf("outlet name is required")
	}
	if o.Number == "" {
		return fmt.Errorf("order number is required")
	}
	if len(o.Items) == 0 {
		return fmt.Errorf("order %s has no items", o.Number)
	}

	for i, item := range o.Items {
		if item.Name == "" {
			return fmt.Errorf("item[%d]: name is required", i)
		}
		if item.Quantity <= 0 {
			return fmt.Errorf("item[%d] '%s': quantity must be positive", i, item.Name)
		}
		if item.Price.IsNegative() {
			return fmt.Errorf("item[%d] '%s': price cannot be negative", i, item.Name)
		}
	}

	t := o.Totals
	amounts := []struct {
		field string
		value decimal.Decimal
	}{
		{"subtotal", t.Subtotal},
		{"discount", t.Discount},
		{"special_discount", t.SpecialDiscount},
		{"extra_charges", t.ExtraCharges},
		{"service_charge", t.ServiceCharge},
		{"gst", t.GST},
		{"tip", t.Tip},
		{"grand_total", t.GrandTotal},
	}
	for _, a := range amounts {
		if a.value.IsNegative() {
			return fmt.Errorf("totals.%s cannot be negative", a.field)
		}
	}

	return nil
}
