package screens

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"

	"github.com/thereceipt/pos-printer/internal/printer"
	"github.com/thereceipt/pos-printer/internal/state"
)

// DevicesView lists discovered printers and connects to them
type DevicesView struct {
	app     *tview.Application
	manager *printer.Manager
	store   *state.Store
	label   func(printer.Device) string
	logf    func(format string, args ...interface{})
	list    *tview.List
	details *tview.TextView
	layout  *tview.Flex
	devices []printer.Device

	stopScan context.CancelFunc
}

// NewDevicesView creates a new devices view screen
func NewDevicesView(app *tview.Application, manager *printer.Manager, store *state.Store, label func(printer.Device) string, logf func(string, ...interface{})) *DevicesView {
	d := &DevicesView{
		app:     app,
		manager: manager,
		store:   store,
		label:   label,
		logf:    logf,
	}

	d.setupUI()
	return d
}

func (d *DevicesView) setupUI() {
	// Device list
	d.list = tview.NewList()
	d.list.SetBorder(true)
	d.list.SetTitle("Printers")
	d.list.SetChangedFunc(func(index int, mainText, secondaryText string, shortcut rune) {
		d.showDetails(index)
	})
	d.list.SetSelectedFunc(func(index int, mainText, secondaryText string, shortcut rune) {
		d.connect(index)
	})

	// Details view
	d.details = tview.NewTextView()
	d.details.SetBorder(true)
	d.details.SetTitle("Printer Details")
	d.details.SetDynamicColors(true)

	// Layout: List | Details
	d.layout = tview.NewFlex().
		AddItem(d.list, 0, 1, true).
		AddItem(d.details, 0, 2, false)

	// Key bindings
	d.list.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		switch event.Key() {
		case tcell.KeyEsc:
			return event // Let parent handle
		case tcell.KeyRune:
			switch event.Rune() {
			case 'r':
				d.Refresh()
				return nil
			case 's':
				d.scan(true)
				return nil
			case 'a':
				d.scan(false)
				return nil
			case 'x':
				d.disconnect()
				return nil
			}
		}
		return event
	})

	d.Refresh()
}

// Refresh reloads the device list from the printer context
func (d *DevicesView) Refresh() {
	current := d.list.GetCurrentItem()
	d.list.Clear()

	snap := d.store.Snapshot()
	d.devices = snap.Devices
	if len(d.devices) == 0 && snap.LastDevice != nil {
		d.devices = []printer.Device{*snap.LastDevice}
	}

	if len(d.devices) == 0 {
		d.list.AddItem("No printers found", "press 's' to scan", 0, nil)
		d.details.SetText("[yellow]No printers found[white]\n\n[yellow]s[white] scan  [yellow]a[white] scan all devices")
		return
	}

	connectedID := ""
	if snap.Device != nil {
		connectedID = snap.Device.ID
	}

	for _, dev := range d.devices {
		status := "⚪"
		if dev.ID == connectedID {
			status = "🟢"
		}
		secondary := fmt.Sprintf("%s • %s", strings.ToUpper(dev.Kind), dev.ID)
		d.list.AddItem(fmt.Sprintf("%s %s", status, d.label(dev)), secondary, 0, nil)
	}

	if current >= 0 && current < len(d.devices) {
		d.list.SetCurrentItem(current)
	}
	d.showDetails(d.list.GetCurrentItem())
}

func (d *DevicesView) showDetails(index int) {
	if index < 0 || index >= len(d.devices) {
		return
	}
	dev := d.devices[index]

	var details strings.Builder
	details.WriteString(fmt.Sprintf("[yellow]Name:[white] %s\n", d.label(dev)))
	if dev.Name != "" && dev.Name != d.label(dev) {
		details.WriteString(fmt.Sprintf("[yellow]Advertised:[white] %s\n", dev.Name))
	}
	details.WriteString(fmt.Sprintf("[yellow]ID:[white] %s\n", dev.ID))
	details.WriteString(fmt.Sprintf("[yellow]Kind:[white] %s\n", strings.ToUpper(dev.Kind)))
	if dev.RSSI != 0 {
		details.WriteString(fmt.Sprintf("[yellow]RSSI:[white] %d dBm\n", dev.RSSI))
	}
	for _, uuid := range dev.ServiceUUIDs {
		details.WriteString(fmt.Sprintf("[yellow]Service:[white] %s\n", uuid))
	}

	details.WriteString("\n[yellow]Enter[white] connect  [yellow]x[white] disconnect  [yellow]s[white] scan  [yellow]a[white] scan all  [yellow]r[white] refresh")
	d.details.SetText(details.String())
}

func (d *DevicesView) scan(printersOnly bool) {
	d.Leave()
	ctx, cancel := context.WithCancel(context.Background())
	d.stopScan = cancel

	d.logf("Scanning for printers...")
	go func() {
		defer cancel()
		devices, err := d.manager.Discover(ctx, printer.ScanOptions{FilterPrinters: printersOnly})
		switch {
		case ctx.Err() != nil:
			d.logf("Scan stopped, %d printer(s) found", len(devices))
		case err != nil:
			d.store.ReportError(err)
			d.logf("Scan failed: %s", printer.UserMessage(err))
		default:
			d.logf("Found %d printer(s)", len(devices))
		}
		d.app.QueueUpdateDraw(d.Refresh)
	}()
}

// Leave stops a scan started from this screen
func (d *DevicesView) Leave() {
	if d.stopScan != nil {
		d.stopScan()
		d.stopScan = nil
	}
}

func (d *DevicesView) connect(index int) {
	if index < 0 || index >= len(d.devices) {
		return
	}
	dev := d.devices[index]

	d.details.SetText(fmt.Sprintf("[yellow]Connecting to %s...[white]", d.label(dev)))
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()

		if err := d.manager.Connect(ctx, dev); err != nil {
			d.store.ReportError(err)
			d.logf("Connect failed: %s", printer.UserMessage(err))
		} else {
			d.logf("Connected to %s", d.label(dev))
		}
		d.app.QueueUpdateDraw(d.Refresh)
	}()
}

func (d *DevicesView) disconnect() {
	go func() {
		if err := d.manager.Disconnect(context.Background()); err != nil {
			d.logf("Disconnect failed: %s", printer.UserMessage(err))
		}
		d.app.QueueUpdateDraw(d.Refresh)
	}()
}

// GetRoot returns the root primitive for this screen
func (d *DevicesView) GetRoot() tview.Primitive {
	return d.layout
}
