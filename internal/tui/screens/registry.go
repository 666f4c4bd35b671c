package screens

import (
	"fmt"
	"sort"
	"strings"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/thereceipt/pos-printer/internal/printer"
	"github.com/thereceipt/pos-printer/internal/registry"
	"github.com/thereceipt/pos-printer/internal/state"
)

// RegistryEditor edits printer names and the auto-reconnect preference
type RegistryEditor struct {
	app      *tview.Application
	registry *registry.Registry
	store    *state.Store
	form     *tview.Form
	list     *tview.List
	details  *tview.TextView
	layout   *tview.Flex
	entries  []*registry.PrinterEntry
	current  *registry.PrinterEntry
}

// NewRegistryEditor creates a new registry editor screen
func NewRegistryEditor(app *tview.Application, reg *registry.Registry, store *state.Store) *RegistryEditor {
	r := &RegistryEditor{
		app:      app,
		registry: reg,
		store:    store,
	}

	r.setupUI()
	return r
}

func (r *RegistryEditor) setupUI() {
	// Printer list
	r.list = tview.NewList()
	r.list.SetBorder(true)
	r.list.SetTitle("Known Printers")
	r.list.SetChangedFunc(func(index int, mainText, secondaryText string, shortcut rune) {
		r.selectPrinter(index)
	})
	r.list.SetSelectedFunc(func(index int, mainText, secondaryText string, shortcut rune) {
		r.selectPrinter(index)
		r.app.SetFocus(r.form)
	})

	// Details view
	r.details = tview.NewTextView()
	r.details.SetBorder(true)
	r.details.SetTitle("Printer Details")
	r.details.SetDynamicColors(true)

	// Form for editing
	r.form = tview.NewForm()
	r.form.SetBorder(true)
	r.form.SetTitle("Settings")
	r.form.AddInputField("Name", "", 30, nil, nil)
	r.form.AddCheckbox("Auto-reconnect", r.registry.AutoReconnect(), func(checked bool) {
		if err := r.store.SetAutoReconnect(checked); err != nil {
			r.details.SetText(fmt.Sprintf("[red]✗ Failed to save preference: %v[white]", err))
		}
	})
	r.form.AddButton("Save", func() {
		r.savePrinterName()
	})
	r.form.AddButton("Cancel", func() {
		r.app.SetFocus(r.list)
	})

	// Layout: List | Details + Form
	rightPanel := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(r.details, 0, 1, false).
		AddItem(r.form, 0, 1, true)

	r.layout = tview.NewFlex().
		AddItem(r.list, 0, 1, true).
		AddItem(rightPanel, 0, 2, false)

	// Key bindings
	r.list.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		switch event.Key() {
		case tcell.KeyEsc:
			return event // Let parent handle
		case tcell.KeyRune:
			switch event.Rune() {
			case 'r':
				r.Refresh()
				return nil
			case 'e':
				if r.current != nil {
					r.app.SetFocus(r.form)
				}
				return nil
			case 'x':
				r.removeSelected()
				return nil
			}
		}
		return event
	})

	r.Refresh()
}

// Refresh reloads the registry entries
func (r *RegistryEditor) Refresh() {
	r.list.Clear()
	r.current = nil

	all := r.registry.GetAll()
	r.entries = make([]*registry.PrinterEntry, 0, len(all))
	for _, entry := range all {
		r.entries = append(r.entries, entry)
	}
	sort.Slice(r.entries, func(i, j int) bool {
		return r.entries[i].LastSeen.After(r.entries[j].LastSeen)
	})

	checkbox := r.form.GetFormItemByLabel("Auto-reconnect").(*tview.Checkbox)
	checkbox.SetChecked(r.registry.AutoReconnect())

	if len(r.entries) == 0 {
		r.list.AddItem("No saved printers", "connect a printer first", 0, nil)
		r.details.SetText("[yellow]Printers appear here once they have been connected.[white]")
		return
	}

	last, hasLast := r.registry.LastDevice()
	for _, entry := range r.entries {
		dev := entryDevice(entry)
		status := "⚪"
		if hasLast && last.ID == entry.DeviceID && strings.EqualFold(last.Kind, entry.Kind) {
			status = "⭐"
		}
		r.list.AddItem(fmt.Sprintf("%s %s", status, r.registry.Label(dev)), fmt.Sprintf("%s • %s", strings.ToUpper(entry.Kind), entry.DeviceID), 0, nil)
	}
	r.selectPrinter(0)
}

func entryDevice(entry *registry.PrinterEntry) printer.Device {
	return printer.Device{ID: entry.DeviceID, Kind: entry.Kind, Name: entry.Advertised}
}

func (r *RegistryEditor) selectPrinter(index int) {
	if index < 0 || index >= len(r.entries) {
		return
	}
	entry := r.entries[index]
	r.current = entry

	details := fmt.Sprintf(`[yellow]ID:[white] %s
[yellow]Kind:[white] %s
[yellow]Advertised:[white] %s
[yellow]Name:[white] %s
[yellow]Last seen:[white] %s

[yellow]e[white] edit name  [yellow]x[white] forget  [yellow]r[white] refresh`,
		entry.DeviceID,
		strings.ToUpper(entry.Kind),
		entry.Advertised,
		entry.Name,
		entry.LastSeen.Format("2006-01-02 15:04"))

	r.details.SetText(details)

	// Update form
	r.form.GetFormItemByLabel("Name").(*tview.InputField).SetText(entry.Name)
}

func (r *RegistryEditor) savePrinterName() {
	if r.current == nil {
		r.details.SetText("[red]✗ No printer selected[white]")
		return
	}

	newName := strings.TrimSpace(r.form.GetFormItemByLabel("Name").(*tview.InputField).GetText())
	dev := entryDevice(r.current)

	if err := r.registry.SetPrinterName(dev, newName); err != nil {
		r.details.SetText(fmt.Sprintf("[red]✗ Failed to update printer name: %v[white]", err))
		return
	}

	r.Refresh()
	r.app.SetFocus(r.list)
	r.details.SetText(fmt.Sprintf("[green]✓ Name updated[white]\n\n[yellow]Name:[white] %s\n[yellow]Printer ID:[white] %s", r.registry.Label(dev), dev.ID))
}

func (r *RegistryEditor) removeSelected() {
	if r.current == nil {
		return
	}
	dev := entryDevice(r.current)

	if _, err := r.registry.RemovePrinter(dev); err != nil {
		r.details.SetText(fmt.Sprintf("[red]✗ Failed to forget printer: %v[white]", err))
		return
	}
	r.Refresh()
}

// GetRoot returns the root primitive for this screen
func (r *RegistryEditor) GetRoot() tview.Primitive {
	return r.layout
}
