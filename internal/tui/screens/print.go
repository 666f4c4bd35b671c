package screens

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/thereceipt/pos-printer/internal/command"
	"github.com/thereceipt/pos-printer/internal/printer"
	"github.com/thereceipt/pos-printer/internal/receipt"
)

var (
	printKinds  = []string{command.KindReceipt, command.KindKOT}
	paperWidths = []string{"58mm (32 columns)", "80mm (48 columns)"}
)

// PrintBuilder loads an order file and prints or previews it
type PrintBuilder struct {
	app       *tview.Application
	executor  *command.Executor
	logf      func(format string, args ...interface{})
	form      *tview.Form
	fileInput *tview.InputField
	kind      *tview.DropDown
	width     *tview.DropDown
	preview   *tview.TextView
	layout    *tview.Flex
	order     *receipt.Order
	path      string
}

// NewPrintBuilder creates a new print builder screen
func NewPrintBuilder(app *tview.Application, executor *command.Executor, defaultWidth int, logf func(string, ...interface{})) *PrintBuilder {
	p := &PrintBuilder{
		app:      app,
		executor: executor,
		logf:     logf,
	}

	p.setupUI(defaultWidth)
	return p
}

func (p *PrintBuilder) setupUI(defaultWidth int) {
	// File input
	p.fileInput = tview.NewInputField()
	p.fileInput.SetLabel("Order File: ")
	p.fileInput.SetPlaceholder("/path/to/order.json")

	p.kind = tview.NewDropDown()
	p.kind.SetLabel("Print: ")
	p.kind.SetOptions(printKinds, nil)
	p.kind.SetCurrentOption(0)

	p.width = tview.NewDropDown()
	p.width.SetLabel("Paper: ")
	p.width.SetOptions(paperWidths, nil)
	if defaultWidth == receipt.Width80mm {
		p.width.SetCurrentOption(1)
	} else {
		p.width.SetCurrentOption(0)
	}

	// Preview area
	p.preview = tview.NewTextView()
	p.preview.SetBorder(true)
	p.preview.SetTitle("Order")
	p.preview.SetDynamicColors(true)

	// Form
	p.form = tview.NewForm()
	p.form.SetBorder(true)
	p.form.SetTitle("Print Order")
	p.form.AddFormItem(p.fileInput)
	p.form.AddFormItem(p.kind)
	p.form.AddFormItem(p.width)
	p.form.AddCheckbox("Payment QR", true, nil)
	p.form.AddCheckbox("Customer details", true, nil)
	p.form.AddButton("Load", func() {
		p.loadOrder()
	})
	p.form.AddButton("Preview", func() {
		p.renderPreview()
	})
	p.form.AddButton("Print", func() {
		p.printOrder()
	})

	// Layout: Form | Preview
	p.layout = tview.NewFlex().
		AddItem(p.form, 0, 1, true).
		AddItem(p.preview, 0, 1, false)

	// Key bindings
	p.form.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		switch event.Key() {
		case tcell.KeyEsc:
			return event // Let parent handle
		}
		return event
	})
}

func (p *PrintBuilder) selectedKind() string {
	_, kind := p.kind.GetCurrentOption()
	if kind == "" {
		return command.KindReceipt
	}
	return kind
}

// options applies the form choices to the composer defaults
func (p *PrintBuilder) options() func(*receipt.Options) {
	index, _ := p.width.GetCurrentOption()
	includeQR := p.form.GetFormItemByLabel("Payment QR").(*tview.Checkbox).IsChecked()
	includeCustomer := p.form.GetFormItemByLabel("Customer details").(*tview.Checkbox).IsChecked()

	return func(o *receipt.Options) {
		o.Width = receipt.Width58mm
		if index == 1 {
			o.Width = receipt.Width80mm
		}
		o.IncludeQR = includeQR
		o.IncludeCustomerBlock = includeCustomer
	}
}

func (p *PrintBuilder) loadOrder() bool {
	filePath := strings.TrimSpace(p.fileInput.GetText())
	if filePath == "" {
		p.preview.SetText("[red]Please enter an order file path[white]")
		return false
	}

	order, err := receipt.ParseOrderFile(filePath)
	if err != nil {
		p.preview.SetText(fmt.Sprintf("[red]Error loading order: %v[white]", err))
		return false
	}

	p.order = order
	p.path = filePath

	// Build summary
	var summary strings.Builder
	summary.WriteString("[green]✓ Order loaded[white]\n\n")
	summary.WriteString(fmt.Sprintf("[yellow]Outlet:[white] %s\n", order.Outlet.Name))
	summary.WriteString(fmt.Sprintf("[yellow]Order:[white] #%s\n", order.Number))
	if order.Table != "" {
		summary.WriteString(fmt.Sprintf("[yellow]Table:[white] %s\n", order.Table))
	}
	summary.WriteString(fmt.Sprintf("[yellow]Items:[white] %d\n", order.ItemCount()))
	for _, item := range order.Items {
		summary.WriteString(fmt.Sprintf("  %dx %s\n", item.Quantity, item.Name))
	}
	summary.WriteString(fmt.Sprintf("\n[yellow]Total:[white] %s\n", receipt.FormatMoney(order.Totals.GrandTotal)))

	p.preview.SetText(summary.String())
	return true
}

func (p *PrintBuilder) ensureOrder() bool {
	if p.order != nil && p.path == strings.TrimSpace(p.fileInput.GetText()) {
		return true
	}
	return p.loadOrder()
}

func (p *PrintBuilder) renderPreview() {
	if !p.ensureOrder() {
		return
	}

	kind := p.selectedKind()
	png, err := p.executor.PreviewOrder(kind, p.order, p.options())
	if err != nil {
		p.preview.SetText(fmt.Sprintf("[red]Error rendering preview: %v[white]", err))
		return
	}

	out := strings.TrimSuffix(p.path, ".json") + "-" + kind + ".png"
	if err := os.WriteFile(out, png, 0644); err != nil {
		p.preview.SetText(fmt.Sprintf("[red]Error writing preview: %v[white]", err))
		return
	}
	p.preview.SetText(fmt.Sprintf("[green]✓ Preview written[white]\n\n[yellow]File:[white] %s", out))
	p.logf("Preview written to %s", out)
}

func (p *PrintBuilder) printOrder() {
	if !p.ensureOrder() {
		return
	}

	kind := p.selectedKind()
	order := p.order
	apply := p.options()

	p.preview.SetText(fmt.Sprintf("[yellow]Printing %s for order #%s...[white]", kind, order.Number))
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()

		job, err := p.executor.PrintOrder(ctx, kind, order, apply)
		p.app.QueueUpdateDraw(func() {
			if err != nil {
				text := fmt.Sprintf("[red]✗ %s[white]", printer.UserMessage(err))
				if job != nil {
					text += fmt.Sprintf("\n\n[yellow]Job ID:[white] %s\n[yellow]Retry it from the jobs screen[white]", job.ID)
				}
				p.preview.SetText(text)
				return
			}
			p.preview.SetText(fmt.Sprintf("[green]✓ Printed[white]\n\n[yellow]Job ID:[white] %s\n[yellow]Bytes:[white] %d", job.ID, job.Size))
		})
	}()
}

// GetRoot returns the root primitive for this screen
func (p *PrintBuilder) GetRoot() tview.Primitive {
	return p.layout
}
