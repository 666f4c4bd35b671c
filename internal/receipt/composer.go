package receipt

import (
	"fmt"
	"image"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/shopspring/decimal"

	"github.com/thereceipt/pos-printer/internal/escpos"
)

// QRMode selects how the payment QR code is printed
type QRMode string

const (
	// QRNative uses the printer's GS ( k QR engine
	QRNative QRMode = "native"
	// QRRaster prints a pre-rendered bitmap for printers without one
	QRRaster QRMode = "raster"
)

const (
	paymentHint = "Scan & pay using any UPI app"
	thankYou    = "Thank you! Visit again"
)

// Options configures what a Composer emits
type Options struct {
	Width                int
	IncludeCustomerBlock bool
	IncludeQR            bool
	QRMode               QRMode
	QR                   escpos.QROptions
	Currency             string
	CodePage             escpos.CodePage
	Logo                 image.Image
	IncludeBarcode       bool
	FullCut              bool
}

// DefaultOptions returns the 58mm layout with customer block and QR enabled
func DefaultOptions() Options {
	return Options{
		Width:                Width58mm,
		IncludeCustomerBlock: true,
		IncludeQR:            true,
		QRMode:               QRNative,
	}
}

// Composer builds receipt and KOT byte streams. It holds no per-order state
// and is safe for concurrent use.
type Composer struct {
	opts Options
	cols columns
}

// NewComposer creates a composer, normalising unsupported widths to 58mm
func NewComposer(opts Options) *Composer {
	if opts.Width != Width80mm {
		opts.Width = Width58mm
	}
	if opts.QRMode == "" {
		opts.QRMode = QRNative
	}
	return &Composer{opts: opts, cols: columnsFor(opts.Width)}
}

// Options returns the composer's effective options
func (c *Composer) Options() Options {
	return c.opts
}

// WithOptions returns a composer sharing this one's settings with the
// per-call overrides applied
func (c *Composer) WithOptions(apply func(*Options)) *Composer {
	opts := c.opts
	apply(&opts)
	return NewComposer(opts)
}

// FormatAmountLine renders a totals line at the composer's width
func (c *Composer) FormatAmountLine(label string, amount decimal.Decimal, sign string) string {
	if c.opts.Currency != "" {
		sign = sign + c.opts.Currency
	}
	return FormatAmountLine(label, amount, sign, c.opts.Width)
}

func (c *Composer) newEncoder() *escpos.Encoder {
	e := escpos.NewEncoder()
	e.SetPaperDots(escpos.PaperDots(c.opts.Width))
	if c.opts.CodePage != escpos.CodePageUTF8 {
		e.SetCodePage(c.opts.CodePage)
	}
	e.Initialize()
	return e
}

// Receipt builds the full customer receipt for an order
func (c *Composer) Receipt(order *Order) ([]byte, error) {
	if err := Validate(order); err != nil {
		return nil, err
	}

	e := c.newEncoder()

	if err := c.writeHeader(e, order); err != nil {
		return nil, err
	}
	c.writeItems(e, order)
	c.writeTotals(e, order)
	if err := c.writeFooter(e, order); err != nil {
		return nil, err
	}

	return e.Bytes(), nil
}

func (c *Composer) writeHeader(e *escpos.Encoder, order *Order) error {
	e.SetAlignment("center")
	if c.opts.Logo != nil {
		if err := e.PrintImage(c.opts.Logo); err != nil {
			return fmt.Errorf("failed to print logo: %w", err)
		}
	}

	e.Raw(escpos.TextDouble)
	for _, line := range wrapWords(order.Outlet.Name, c.opts.Width/2) {
		e.Line(line)
	}
	e.Raw(escpos.TextNormal)
	if order.Outlet.Address != "" {
		for _, line := range wrapWords(order.Outlet.Address, c.opts.Width) {
			e.Line(line)
		}
	}
	if order.Outlet.Phone != "" {
		e.Line("Phone: " + order.Outlet.Phone)
	}

	e.SetAlignment("left")
	e.Line(separator(c.opts.Width))
	e.Line("Order: #" + order.Number)
	if line := tableLine(order); line != "" {
		e.Line(line)
	}
	if !order.CreatedAt.IsZero() {
		e.Line("Date: " + order.CreatedAt.Format("02-01-2006 15:04"))
	}

	if c.opts.IncludeCustomerBlock && order.Customer != nil {
		cust := order.Customer
		if cust.Name != "" {
			e.Line("Customer: " + cust.Name)
		}
		if cust.Phone != "" {
			e.Line("Phone: " + cust.Phone)
		}
		if cust.Address != "" {
			for _, line := range wrapWords("Address: "+cust.Address, c.opts.Width) {
				e.Line(line)
			}
		}
	}

	if order.PaymentMethod != "" {
		payment := "Payment: " + order.PaymentMethod
		if order.PaymentStatus != "" {
			payment += " (" + order.PaymentStatus + ")"
		}
		e.Line(payment)
	}
	e.Line(separator(c.opts.Width))
	return nil
}

func tableLine(order *Order) string {
	switch {
	case order.Table != "" && order.Type != "":
		return "Table: " + order.Table + " | " + order.Type
	case order.Table != "":
		return "Table: " + order.Table
	case order.Type != "":
		return "Type: " + order.Type
	}
	return ""
}

// ItemLines lays out one order line. The first line carries the numeric
// columns; names longer than the name column continue on lines of their own.
// When a number does not fit its column, the numbers move to a line of
// their own below the name. Every line is exactly the paper width.
func (c *Composer) ItemLines(item Item) []string {
	cols := c.cols
	width := c.opts.Width
	chunks := wrap(item.Name, cols.name)

	qty := strconv.Itoa(item.Quantity)
	rate := FormatMoney(item.Price)
	amount := FormatMoney(item.Amount())

	if !fits(qty, cols.qty) || !fits(rate, cols.rate) || !fits(amount, cols.amount) {
		lines := make([]string, 0, len(chunks)+1)
		for _, chunk := range chunks {
			lines = append(lines, padRight(chunk, width))
		}
		label := "  " + qty + " x " + rate
		gap := width - utf8.RuneCountInString(label) - utf8.RuneCountInString(amount)
		if gap < 1 {
			gap = 1
		}
		return append(lines, label+strings.Repeat(" ", gap)+amount)
	}

	first := padRight(chunks[0], cols.name) +
		padLeft(qty, cols.qty) +
		padLeft(rate, cols.rate) +
		padLeft(amount, cols.amount)

	lines := []string{first}
	for _, chunk := range chunks[1:] {
		lines = append(lines, padRight(chunk, width))
	}
	return lines
}

func (c *Composer) itemHeader() string {
	cols := c.cols
	return padRight("Item", cols.name) +
		padLeft("Qty", cols.qty) +
		padLeft("Rate", cols.rate) +
		padLeft("Amt", cols.amount)
}

func (c *Composer) writeItems(e *escpos.Encoder, order *Order) {
	e.SetBold(true)
	e.Line(c.itemHeader())
	e.SetBold(false)
	e.Line(separator(c.opts.Width))

	for _, item := range order.Items {
		for _, line := range c.ItemLines(item) {
			e.Line(line)
		}
		if item.DiscountPercent.IsPositive() {
			e.Line("  (" + item.DiscountPercent.String() + "% off)")
		}
		if item.Note != "" {
			for _, line := range wrapWords("Note: "+item.Note, c.opts.Width-2) {
				e.Line("  " + line)
			}
		}
	}
	e.Line(separator(c.opts.Width))
}

// TotalsLines returns the totals block. Subtotal is always present; every
// other adjustment appears only when its amount is greater than zero.
func (c *Composer) TotalsLines(t Totals) []string {
	lines := []string{c.FormatAmountLine("Subtotal", t.Subtotal, SignNone)}

	optional := []struct {
		label  string
		amount decimal.Decimal
		sign   string
	}{
		{PercentLabel("Discount", t.DiscountPercent), t.Discount, SignMinus},
		{"Special Discount", t.SpecialDiscount, SignMinus},
		{"Extra Charges", t.ExtraCharges, SignPlus},
		{PercentLabel("Service Charge", t.ServiceChargePercent), t.ServiceCharge, SignNone},
		{PercentLabel("GST", t.GSTPercent), t.GST, SignNone},
		{"Tip", t.Tip, SignNone},
	}
	for _, row := range optional {
		if row.amount.IsPositive() {
			lines = append(lines, c.FormatAmountLine(row.label, row.amount, row.sign))
		}
	}
	return lines
}

func (c *Composer) writeTotals(e *escpos.Encoder, order *Order) {
	for _, line := range c.TotalsLines(order.Totals) {
		e.Line(line)
	}
	e.Line(separator(c.opts.Width))

	e.Raw(escpos.TextDoubleHeight)
	e.Line(c.FormatAmountLine("Grand Total", order.Totals.GrandTotal, SignNone))
	e.Raw(escpos.TextNormal)
	e.Line(separator(c.opts.Width))
}

func (c *Composer) writeFooter(e *escpos.Encoder, order *Order) error {
	e.SetAlignment("center")

	if c.opts.IncludeQR && order.Outlet.UPIID != "" && order.Totals.GrandTotal.IsPositive() {
		e.Line(paymentHint)
		uri := PaymentURI(order)
		switch c.opts.QRMode {
		case QRRaster:
			if err := e.QRCodeImage(uri, 0); err != nil {
				return err
			}
		default:
			if err := e.QRCode(uri, c.opts.QR); err != nil {
				return fmt.Errorf("failed to print payment QR: %w", err)
			}
			e.LineFeed()
		}
	}

	e.Line(thankYou)
	e.SetAlignment("left")
	e.Feed(3)
	c.cut(e)
	return nil
}

func (c *Composer) cut(e *escpos.Encoder) {
	if c.opts.FullCut {
		e.FullCut()
		return
	}
	e.Cut()
}
