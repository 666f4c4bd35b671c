package command

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/thereceipt/pos-printer/internal/printer"
	"github.com/thereceipt/pos-printer/internal/receipt"
)

// handleScan handles the scan command
// Usage: scan [seconds] [--all]
func (e *Executor) handleScan(ctx context.Context, args []string) *Result {
	opts := printer.ScanOptions{FilterPrinters: true}
	for _, arg := range args {
		switch {
		case arg == "--all":
			opts.FilterPrinters = false
		case strings.HasPrefix(arg, "--kind="):
			opts.Kinds = append(opts.Kinds, strings.TrimPrefix(arg, "--kind="))
		default:
			seconds, err := strconv.Atoi(arg)
			if err != nil || seconds <= 0 {
				return usage("scan [seconds] [--all] [--kind=ble|serial|network|usb]")
			}
			opts.Timeout = time.Duration(seconds) * time.Second
		}
	}

	found, err := e.manager.Discover(ctx, opts)
	if err != nil {
		return failure(err)
	}

	return &Result{
		Success: true,
		Message: fmt.Sprintf("Found %d printer(s)", len(found)),
		Data: map[string]interface{}{
			"devices": e.deviceList(found),
		},
	}
}

// handleDevices handles the devices command
// Usage: devices
func (e *Executor) handleDevices(args []string) *Result {
	devices := e.manager.Devices()
	return &Result{
		Success: true,
		Message: fmt.Sprintf("%d known printer(s)", len(devices)),
		Data: map[string]interface{}{
			"devices": e.deviceList(devices),
		},
	}
}

func (e *Executor) deviceList(devices []printer.Device) []map[string]interface{} {
	connected, _ := e.manager.Connected()

	list := make([]map[string]interface{}, len(devices))
	for i, d := range devices {
		list[i] = map[string]interface{}{
			"index":     i + 1,
			"id":        d.ID,
			"name":      e.Label(d),
			"kind":      d.Kind,
			"connected": d.ID == connected.ID,
		}
		if d.RSSI != 0 {
			list[i]["rssi"] = d.RSSI
		}
	}
	return list
}

// resolveDevice accepts a device ID or a 1-based index into the device list
func (e *Executor) resolveDevice(ref string) (printer.Device, error) {
	if dev, ok := e.manager.GetDevice(ref); ok {
		return dev, nil
	}

	if n, err := strconv.Atoi(ref); err == nil {
		devices := e.manager.Devices()
		if n >= 1 && n <= len(devices) {
			return devices[n-1], nil
		}
		return printer.Device{}, fmt.Errorf("%w: no printer #%d, run 'scan' first", printer.ErrDeviceNotFound, n)
	}

	if last, ok := e.lastDevice(); ok && strings.EqualFold(last.ID, ref) {
		return last, nil
	}

	// unknown IDs are passed through; the BLE transport locates them
	return printer.Device{ID: ref}, nil
}

func (e *Executor) lastDevice() (printer.Device, bool) {
	if e.registry == nil {
		return printer.Device{}, false
	}
	return e.registry.LastDevice()
}

// handleConnect handles the connect command
// Usage: connect <id|index>
func (e *Executor) handleConnect(ctx context.Context, args []string) *Result {
	if len(args) < 1 {
		return usage("connect <id|index>")
	}

	dev, err := e.resolveDevice(args[0])
	if err != nil {
		return failure(err)
	}

	if err := e.manager.Connect(ctx, dev); err != nil {
		e.store.ReportError(err)
		return failure(err)
	}

	connected, _ := e.manager.Connected()
	return &Result{
		Success: true,
		Message: fmt.Sprintf("Connected to %s", e.Label(connected)),
		Data: map[string]interface{}{
			"device": connected,
		},
	}
}

func (e *Executor) handleDisconnect(ctx context.Context) *Result {
	dev, ok := e.manager.Connected()
	if !ok {
		return &Result{Success: true, Message: "No printer connected"}
	}
	if err := e.manager.Disconnect(ctx); err != nil {
		return failure(err)
	}
	return &Result{Success: true, Message: fmt.Sprintf("Disconnected from %s", e.Label(dev))}
}

func (e *Executor) handleReconnect(ctx context.Context) *Result {
	e.store.DismissPrompt()
	if err := e.manager.Reconnect(ctx); err != nil {
		e.store.ReportError(err)
		return failure(err)
	}

	dev, _ := e.manager.Connected()
	return &Result{
		Success: true,
		Message: fmt.Sprintf("Reconnected to %s", e.Label(dev)),
		Data: map[string]interface{}{
			"device": dev,
		},
	}
}

func (e *Executor) handleStatus() *Result {
	snap := e.store.Snapshot()

	msg := "Printer: " + snap.State.String()
	if snap.Device != nil {
		msg = fmt.Sprintf("Printer: connected to %s (%s)", e.Label(*snap.Device), snap.Device.Kind)
	}

	return &Result{
		Success: true,
		Message: msg,
		Data: map[string]interface{}{
			"state":          snap.State,
			"device":         snap.Device,
			"auto_reconnect": snap.AutoReconnect,
			"last_device":    snap.LastDevice,
			"last_error":     snap.LastError,
			"devices":        len(snap.Devices),
		},
	}
}

// handleAutoReconnect handles the autoreconnect command
// Usage: autoreconnect [on|off]
func (e *Executor) handleAutoReconnect(args []string) *Result {
	if len(args) == 0 {
		enabled := e.store.Snapshot().AutoReconnect
		return &Result{
			Success: true,
			Message: fmt.Sprintf("Auto-reconnect is %s", onOff(enabled)),
			Data:    map[string]interface{}{"auto_reconnect": enabled},
		}
	}

	var enabled bool
	switch strings.ToLower(args[0]) {
	case "on", "true", "yes", "1":
		enabled = true
	case "off", "false", "no", "0":
		enabled = false
	default:
		return usage("autoreconnect [on|off]")
	}

	if err := e.store.SetAutoReconnect(enabled); err != nil {
		return failure(fmt.Errorf("failed to save setting: %w", err))
	}
	return &Result{
		Success: true,
		Message: fmt.Sprintf("Auto-reconnect turned %s", onOff(enabled)),
		Data:    map[string]interface{}{"auto_reconnect": enabled},
	}
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

// handleName handles the name command
// Usage: name <id|index> <name>
func (e *Executor) handleName(args []string) *Result {
	if len(args) < 2 {
		return usage("name <id|index> <name>")
	}
	if e.registry == nil {
		return &Result{Success: false, Error: "printer names are not available"}
	}

	dev, err := e.resolveDevice(args[0])
	if err != nil {
		return failure(err)
	}
	name := strings.Join(args[1:], " ")
	if err := e.registry.SetPrinterName(dev, name); err != nil {
		return failure(err)
	}

	return &Result{
		Success: true,
		Message: fmt.Sprintf("Renamed printer %s to %s", dev.ID, name),
	}
}

// printFlags are the per-job overrides accepted by print and preview
func printFlags(args []string) (func(*receipt.Options), []string, error) {
	var rest []string
	var overrides []func(*receipt.Options)

	for _, arg := range args {
		switch {
		case arg == "--no-qr":
			overrides = append(overrides, func(o *receipt.Options) { o.IncludeQR = false })
		case arg == "--no-customer":
			overrides = append(overrides, func(o *receipt.Options) { o.IncludeCustomerBlock = false })
		case arg == "--raster-qr":
			overrides = append(overrides, func(o *receipt.Options) { o.QRMode = receipt.QRRaster })
		case strings.HasPrefix(arg, "--width="):
			width, err := strconv.Atoi(strings.TrimPrefix(arg, "--width="))
			if err != nil || (width != receipt.Width58mm && width != receipt.Width80mm) {
				return nil, nil, fmt.Errorf("width must be %d or %d", receipt.Width58mm, receipt.Width80mm)
			}
			overrides = append(overrides, func(o *receipt.Options) { o.Width = width })
		case strings.HasPrefix(arg, "--"):
			return nil, nil, fmt.Errorf("unknown flag: %s", arg)
		default:
			rest = append(rest, arg)
		}
	}

	if len(overrides) == 0 {
		return nil, rest, nil
	}
	return func(o *receipt.Options) {
		for _, apply := range overrides {
			apply(o)
		}
	}, rest, nil
}

// handlePrint handles print commands
// Usage: print <receipt|kot> <order-path|url> [--width=32|48] [--no-qr] [--no-customer] [--raster-qr]
func (e *Executor) handlePrint(ctx context.Context, args []string) *Result {
	const help = "print <receipt|kot> <order-path|url> [--width=32|48] [--no-qr] [--no-customer] [--raster-qr]"

	apply, rest, err := printFlags(args)
	if err != nil {
		return &Result{Success: false, Error: err.Error()}
	}
	if len(rest) < 2 {
		return usage(help)
	}

	kind := strings.ToLower(rest[0])
	if kind != KindReceipt && kind != KindKOT {
		return usage(help)
	}

	order, err := loadOrder(ctx, rest[1])
	if err != nil {
		return &Result{Success: false, Error: fmt.Sprintf("failed to load order: %v", err)}
	}

	job, err := e.PrintOrder(ctx, kind, order, apply)
	if err != nil {
		result := failure(err)
		if job != nil {
			result.Data = map[string]interface{}{"job_id": job.ID}
		}
		return result
	}

	return &Result{
		Success: true,
		Message: fmt.Sprintf("Printed %s for order #%s", kind, order.Number),
		Data: map[string]interface{}{
			"job_id": job.ID,
			"bytes":  job.Size,
		},
	}
}

// handlePreview handles the preview command
// Usage: preview <receipt|kot> <order-path|url> <out.png> [--width=32|48]
func (e *Executor) handlePreview(args []string) *Result {
	const help = "preview <receipt|kot> <order-path|url> <out.png> [--width=32|48] [--no-qr] [--no-customer]"

	apply, rest, err := printFlags(args)
	if err != nil {
		return &Result{Success: false, Error: err.Error()}
	}
	if len(rest) < 3 {
		return usage(help)
	}

	kind := strings.ToLower(rest[0])
	order, err := loadOrder(context.Background(), rest[1])
	if err != nil {
		return &Result{Success: false, Error: fmt.Sprintf("failed to load order: %v", err)}
	}

	png, err := e.PreviewOrder(kind, order, apply)
	if err != nil {
		return failure(err)
	}
	if err := os.WriteFile(rest[2], png, 0644); err != nil {
		return failure(fmt.Errorf("failed to write preview: %w", err))
	}

	return &Result{
		Success: true,
		Message: fmt.Sprintf("Preview written to %s", rest[2]),
		Data:    map[string]interface{}{"bytes": len(png)},
	}
}

func jobData(job *printer.PrintJob) map[string]interface{} {
	data := map[string]interface{}{
		"id":         job.ID,
		"kind":       job.Kind,
		"order_id":   job.OrderID,
		"device_id":  job.DeviceID,
		"status":     job.Status,
		"attempts":   job.Attempts,
		"size":       job.Size,
		"created_at": job.CreatedAt,
	}
	if job.Error != "" {
		data["error"] = job.Error
	}
	return data
}

// handleJob handles job commands
// Usage: job list | status <id> | retry <id> | clear
func (e *Executor) handleJob(ctx context.Context, args []string) *Result {
	if len(args) == 0 {
		return usage("job <list|status|retry|clear>")
	}

	subcommand := args[0]

	switch subcommand {
	case "list":
		jobs := e.queue.GetAllJobs()
		jobList := make([]map[string]interface{}, len(jobs))
		for i, job := range jobs {
			jobList[i] = jobData(job)
		}
		return &Result{
			Success: true,
			Message: fmt.Sprintf("Found %d job(s)", len(jobs)),
			Data: map[string]interface{}{
				"jobs": jobList,
			},
		}

	case "status":
		if len(args) < 2 {
			return usage("job status <id>")
		}
		job := e.queue.GetJob(args[1])
		if job == nil {
			return &Result{
				Success: false,
				Error:   fmt.Sprintf("job not found: %s", args[1]),
			}
		}
		return &Result{
			Success: true,
			Message: fmt.Sprintf("Job %s is %s", job.ID, job.Status),
			Data:    jobData(job),
		}

	case "retry":
		if len(args) < 2 {
			return usage("job retry <id>")
		}
		jobID, err := e.queue.Retry(args[1])
		if err != nil {
			return &Result{Success: false, Error: err.Error()}
		}
		return &Result{
			Success: true,
			Message: fmt.Sprintf("Print job queued: %s", jobID),
			Data:    map[string]interface{}{"job_id": jobID},
		}

	case "clear":
		removed := e.queue.ClearCompleted()
		return &Result{
			Success: true,
			Message: fmt.Sprintf("Cleared %d completed job(s)", removed),
		}

	default:
		return &Result{
			Success: false,
			Error:   fmt.Sprintf("unknown job subcommand: %s. Use: list, status, retry, clear", subcommand),
		}
	}
}

// handleHelp handles help command
func (e *Executor) handleHelp(args []string) *Result {
	helpText := `Available Commands:

  scan [seconds] [--all] [--kind=ble|serial|network|usb]
    Scan for printers (default 10s, printers only unless --all)

  stop-scan
    Stop the running scan

  devices
    List printers found so far

  connect <id|index>
    Connect to a printer by address or list number

  disconnect
    Disconnect the current printer

  reconnect
    Reconnect to the last connected printer

  status
    Show the connection state

  autoreconnect [on|off]
    Show or change reconnecting to the last printer at startup

  name <id|index> <name>
    Set a custom name for a printer

  print <receipt|kot> <order-path|url> [--width=32|48] [--no-qr] [--no-customer] [--raster-qr]
    Print a customer receipt or kitchen order ticket

  preview <receipt|kot> <order-path|url> <out.png>
    Render a print preview to a PNG file

  job list | status <id> | retry <id> | clear
    Inspect, re-print or clear print jobs

  help
    Show this help message

Examples:
  scan 5
  connect 1
  name 1 "Kitchen Printer"
  print receipt ./order.json --width=48
  print kot https://pos.example.com/orders/1042.json
  job retry 6f1c...
`

	return &Result{
		Success: true,
		Message: helpText,
	}
}

// loadOrder loads an order snapshot from a file or URL
func loadOrder(ctx context.Context, ref string) (*receipt.Order, error) {
	if !strings.HasPrefix(ref, "http://") && !strings.HasPrefix(ref, "https://") {
		return receipt.ParseOrderFile(ref)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref, nil)
	if err != nil {
		return nil, fmt.Errorf("invalid order URL: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch order from URL: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to fetch order: HTTP %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read order from URL: %w", err)
	}

	return receipt.ParseOrder(data)
}
