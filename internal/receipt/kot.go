package receipt

import (
	"fmt"
	"strconv"

	"github.com/thereceipt/pos-printer/internal/escpos"
)

const kotQtyWidth = 4

// KOT builds a kitchen order ticket: items and quantities only, no prices
// and no payment block
func (c *Composer) KOT(order *Order) ([]byte, error) {
	if err := Validate(order); err != nil {
		return nil, err
	}

	e := c.newEncoder()
	width := c.opts.Width

	e.SetAlignment("center")
	e.Raw(escpos.TextDouble)
	e.Line("KOT")
	e.Raw(escpos.TextBold)
	e.Line(order.Outlet.Name)
	e.Raw(escpos.TextNormal)

	e.SetAlignment("left")
	e.Line(separator(width))
	e.SetBold(true)
	e.SetTextSize(1, 2)
	e.Line("Order: #" + order.Number)
	if line := tableLine(order); line != "" {
		e.Line(line)
	}
	e.SetTextSize(1, 1)
	e.SetBold(false)
	if !order.CreatedAt.IsZero() {
		e.Line("Time: " + order.CreatedAt.Format("15:04"))
	}
	e.Line(separator(width))

	e.SetBold(true)
	e.Line(padRight("Qty", kotQtyWidth) + "Item")
	e.SetBold(false)
	for _, item := range order.Items {
		for _, line := range c.KOTItemLines(item) {
			e.Line(line)
		}
	}
	e.Line(separator(width))

	if order.Comment != "" {
		e.SetBold(true)
		e.Line("Note:")
		e.SetBold(false)
		for _, line := range wrapWords(order.Comment, width) {
			e.Line(line)
		}
		e.Line(separator(width))
	}

	e.SetBold(true)
	e.Line(fmt.Sprintf("Total Items: %d", order.ItemCount()))
	e.SetBold(false)

	if c.opts.IncludeBarcode && order.Number != "" {
		e.SetAlignment("center")
		if err := e.Barcode(order.Number, 0); err != nil {
			return nil, fmt.Errorf("failed to print order barcode: %w", err)
		}
		e.SetAlignment("left")
	}

	e.Feed(3)
	c.cut(e)

	return e.Bytes(), nil
}

// KOTItemLines lays out one ticket line: quantity then the wrapped name,
// with the item note indented beneath
func (c *Composer) KOTItemLines(item Item) []string {
	nameWidth := c.opts.Width - kotQtyWidth
	chunks := wrapWords(item.Name, nameWidth)
	if len(chunks) == 0 {
		chunks = []string{""}
	}

	lines := []string{padRight(strconv.Itoa(item.Quantity), kotQtyWidth) + chunks[0]}
	indent := padRight("", kotQtyWidth)
	for _, chunk := range chunks[1:] {
		lines = append(lines, indent+chunk)
	}
	if item.Note != "" {
		for _, chunk := range wrapWords("* "+item.Note, nameWidth) {
			lines = append(lines, indent+chunk)
		}
	}
	return lines
}
