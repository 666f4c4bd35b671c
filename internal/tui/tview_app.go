// Package tui is the terminal interface of the printer agent
package tui

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/gdamore/tcell/v2"
	"github.com/rivo/tview"
	"github.com/rs/zerolog"

	"github.com/thereceipt/pos-printer/internal/command"
	"github.com/thereceipt/pos-printer/internal/printer"
	"github.com/thereceipt/pos-printer/internal/registry"
	"github.com/thereceipt/pos-printer/internal/state"
	"github.com/thereceipt/pos-printer/internal/tui/screens"
)

const (
	screenMain     = "main"
	screenRegistry = "registry"
	screenDevices  = "devices"
	screenJobs     = "jobs"
	screenPrint    = "print"
	pagePrompt     = "prompt"
)

// TViewApp is the printer management screen
type TViewApp struct {
	App      *tview.Application
	manager  *printer.Manager
	queue    *printer.PrintQueue
	store    *state.Store
	executor *command.Executor
	addr     string

	// Main layout
	pages *tview.Pages
	flex  *tview.Flex

	// Panels
	printersList *tview.List
	queueTable   *tview.Table
	statusBox    *tview.TextView
	logsArea     *tview.TextView
	commandInput *tview.InputField

	// State
	logMu     sync.Mutex
	logs      []string
	maxLogs   int
	startTime time.Time

	// Screens
	currentScreen  string
	registryScreen *screens.RegistryEditor
	devicesScreen  *screens.DevicesView
	jobsScreen     *screens.JobsView
	printScreen    *screens.PrintBuilder
}

// NewTViewApp creates a new tview-based TUI
func NewTViewApp(manager *printer.Manager, queue *printer.PrintQueue, store *state.Store, reg *registry.Registry, executor *command.Executor, paperWidth int, addr string) *TViewApp {
	app := tview.NewApplication()

	t := &TViewApp{
		App:           app,
		manager:       manager,
		queue:         queue,
		store:         store,
		executor:      executor,
		addr:          addr,
		logs:          make([]string, 0),
		maxLogs:       200,
		startTime:     time.Now(),
		currentScreen: screenMain,
	}

	t.setupUI()
	t.setupScreens(reg, paperWidth)
	return t
}

func (t *TViewApp) setupScreens(reg *registry.Registry, paperWidth int) {
	t.registryScreen = screens.NewRegistryEditor(t.App, reg, t.store)
	t.devicesScreen = screens.NewDevicesView(t.App, t.manager, t.store, t.executor.Label, t.Logf)
	t.jobsScreen = screens.NewJobsView(t.App, t.queue, t.Logf)
	t.printScreen = screens.NewPrintBuilder(t.App, t.executor, paperWidth, t.Logf)

	t.pages.AddPage(screenRegistry, t.registryScreen.GetRoot(), true, false)
	t.pages.AddPage(screenDevices, t.devicesScreen.GetRoot(), true, false)
	t.pages.AddPage(screenJobs, t.jobsScreen.GetRoot(), true, false)
	t.pages.AddPage(screenPrint, t.printScreen.GetRoot(), true, false)
}

func (t *TViewApp) setupUI() {
	// Create panels
	t.printersList = tview.NewList()
	t.printersList.SetBorder(true)
	t.printersList.SetTitle("Printers")
	t.printersList.SetSelectedFunc(func(index int, mainText, secondaryText string, shortcut rune) {
		t.connectIndex(index)
	})

	t.queueTable = tview.NewTable()
	t.queueTable.SetBorder(true)
	t.queueTable.SetTitle("Print Queue")

	t.statusBox = tview.NewTextView()
	t.statusBox.SetBorder(true)
	t.statusBox.SetTitle("Status")
	t.statusBox.SetDynamicColors(true)

	t.logsArea = tview.NewTextView()
	t.logsArea.SetBorder(true)
	t.logsArea.SetTitle("Logs")
	t.logsArea.SetDynamicColors(true)
	t.logsArea.SetScrollable(true)

	t.commandInput = tview.NewInputField().
		SetLabel("> ").
		SetFieldWidth(0).
		SetPlaceholder("Type a command (e.g., 'help')").
		SetDoneFunc(func(key tcell.Key) {
			if key == tcell.KeyEnter {
				t.executeCommand(t.commandInput.GetText())
				t.commandInput.SetText("")
			}
		})

	// Top row: Printers, Queue, Status
	topRow := tview.NewFlex().
		AddItem(t.printersList, 0, 1, true).
		AddItem(t.queueTable, 0, 1, false).
		AddItem(t.statusBox, 0, 1, false)

	// Bottom: Logs and command
	bottom := tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(t.logsArea, 0, 3, false).
		AddItem(t.commandInput, 1, 0, false)

	// Main layout
	t.flex = tview.NewFlex().
		SetDirection(tview.FlexRow).
		AddItem(topRow, 0, 1, true).
		AddItem(bottom, 0, 1, false)

	t.pages = tview.NewPages().AddPage(screenMain, t.flex, true, true)

	// Set up key bindings
	t.App.SetInputCapture(func(event *tcell.EventKey) *tcell.EventKey {
		if t.pages.HasPage(pagePrompt) {
			return event
		}

		// Handle screen navigation
		if t.currentScreen != screenMain {
			if event.Key() == tcell.KeyEsc {
				t.showMainScreen()
				return nil
			}
			return event
		}

		// Typing a command disables the shortcuts
		if t.commandInput.HasFocus() {
			if event.Key() == tcell.KeyEsc {
				t.App.SetFocus(t.printersList)
				return nil
			}
			return event
		}

		// Main screen key bindings
		switch event.Key() {
		case tcell.KeyCtrlC:
			t.App.Stop()
			return nil
		case tcell.KeyRune:
			switch event.Rune() {
			case ':':
				t.App.SetFocus(t.commandInput)
				return nil
			case 'q':
				t.App.Stop()
				return nil
			case 's':
				t.runCommand("scan")
				return nil
			case 'x':
				t.runCommand("disconnect")
				return nil
			case 'a':
				t.toggleAutoReconnect()
				return nil
			case 'r':
				t.showScreen(screenRegistry)
				return nil
			case 'd':
				t.showScreen(screenDevices)
				return nil
			case 'j':
				t.showScreen(screenJobs)
				return nil
			case 'p':
				t.showScreen(screenPrint)
				return nil
			}
		}
		return event
	})

	t.App.SetRoot(t.pages, true)
}

// Run starts the TUI and blocks until it exits
func (t *TViewApp) Run() error {
	t.refreshAll()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go t.watchEvents(ctx)
	go t.refreshTicker(ctx)

	t.AddLog("🖨️  Printer agent starting...", "info")

	return t.App.Run()
}

// Stop exits the TUI
func (t *TViewApp) Stop() {
	t.App.Stop()
}

// watchEvents keeps the panels in step with the printer context
func (t *TViewApp) watchEvents(ctx context.Context) {
	events, unsubscribe := t.store.Subscribe(64)
	defer unsubscribe()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			t.handleEvent(ev)
		}
	}
}

func (t *TViewApp) handleEvent(ev state.Event) {
	switch ev.Type {
	case state.EventReconnectPrompt:
		prompt := ev.Data.(state.ReconnectPrompt)
		t.AddLog(prompt.Message, "warning")
		t.App.QueueUpdateDraw(func() {
			t.showReconnectPrompt(prompt)
		})
		return
	case state.EventJobDone:
		job := ev.Data.(*printer.PrintJob)
		if job.Status == printer.JobFailed {
			t.AddLog(fmt.Sprintf("Job %s failed: %s", job.ID[:8], job.Error), "error")
		} else {
			t.AddLog(fmt.Sprintf("Printed %s for order %s", job.Kind, job.OrderID), "info")
		}
	case state.EventError:
		t.AddLog(ev.Data.(state.ErrorPayload).Error, "error")
	}

	t.App.QueueUpdateDraw(t.refreshAll)
}

func (t *TViewApp) showReconnectPrompt(prompt state.ReconnectPrompt) {
	if t.pages.HasPage(pagePrompt) {
		t.pages.RemovePage(pagePrompt)
	}

	modal := tview.NewModal().
		SetText(fmt.Sprintf("%s\n\nReconnect to %s?", prompt.Message, t.executor.Label(prompt.Device))).
		AddButtons([]string{"Reconnect", "Dismiss"}).
		SetDoneFunc(func(buttonIndex int, buttonLabel string) {
			t.pages.RemovePage(pagePrompt)
			t.App.SetFocus(t.printersList)
			if buttonLabel == "Reconnect" {
				t.runCommand("reconnect")
			} else {
				t.store.DismissPrompt()
			}
		})

	t.pages.AddPage(pagePrompt, modal, false, true)
	t.App.SetFocus(modal)
}

func (t *TViewApp) refreshTicker(ctx context.Context) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			t.App.QueueUpdateDraw(t.refreshAll)
		}
	}
}

func (t *TViewApp) refreshAll() {
	snap := t.store.Snapshot()
	t.refreshPrinters(snap)
	t.refreshQueue()
	t.refreshStatus(snap)

	switch t.currentScreen {
	case screenDevices:
		t.devicesScreen.Refresh()
	case screenJobs:
		t.jobsScreen.Refresh()
	}
}

func (t *TViewApp) refreshPrinters(snap state.Snapshot) {
	current := t.printersList.GetCurrentItem()
	t.printersList.Clear()

	if len(snap.Devices) == 0 {
		if snap.Scanning {
			t.printersList.AddItem("Scanning...", "", 0, nil)
		} else {
			t.printersList.AddItem("No printers found", "press 's' to scan", 0, nil)
		}
		return
	}

	for _, dev := range snap.Devices {
		status := "⚪"
		if snap.Device != nil && snap.Device.ID == dev.ID {
			status = "🟢"
		}
		details := fmt.Sprintf("%s • %s", strings.ToUpper(dev.Kind), dev.ID)
		t.printersList.AddItem(fmt.Sprintf("%s %s", status, t.executor.Label(dev)), details, 0, nil)
	}
	if current < len(snap.Devices) {
		t.printersList.SetCurrentItem(current)
	}
}

func (t *TViewApp) refreshQueue() {
	t.queueTable.Clear()

	// Header
	for col, title := range []string{"Status", "Kind", "Order", "Time"} {
		t.queueTable.SetCell(0, col, tview.NewTableCell(title).SetAlign(tview.AlignCenter).SetSelectable(false))
	}

	jobs := t.queue.GetAllJobs()

	// Count stats
	counts := make(map[string]int)

	for i, job := range jobs {
		row := i + 1
		t.queueTable.SetCell(row, 0, tview.NewTableCell(screens.StatusIcon(job.Status)+" "+job.Status))
		t.queueTable.SetCell(row, 1, tview.NewTableCell(strings.ToUpper(job.Kind)))
		t.queueTable.SetCell(row, 2, tview.NewTableCell(job.OrderID))
		t.queueTable.SetCell(row, 3, tview.NewTableCell(time.Since(job.CreatedAt).Truncate(time.Second).String()))
		counts[job.Status]++
	}

	// Add summary row
	if len(jobs) > 0 {
		summary := fmt.Sprintf("[%d] Queued [%d] Printing [%d] Completed [%d] Failed",
			counts[printer.JobQueued], counts[printer.JobPrinting], counts[printer.JobCompleted], counts[printer.JobFailed])
		t.queueTable.SetCell(len(jobs)+1, 0, tview.NewTableCell(summary).SetSelectable(false))
	}
}

func (t *TViewApp) refreshStatus(snap state.Snapshot) {
	uptime := time.Since(t.startTime)
	hours := int(uptime.Hours())
	minutes := int(uptime.Minutes()) % 60

	var b strings.Builder
	switch snap.State {
	case printer.StateConnected:
		b.WriteString("[green]🟢 Connected[white]\n")
	case printer.StateConnecting:
		b.WriteString("[yellow]🟡 Connecting...[white]\n")
	case printer.StateScanning:
		b.WriteString("[yellow]🔍 Scanning...[white]\n")
	default:
		b.WriteString("[red]🔴 Disconnected[white]\n")
	}
	if snap.Device != nil {
		b.WriteString(fmt.Sprintf("Printer: %s (%s)\n", t.executor.Label(*snap.Device), snap.Device.Kind))
	}
	if snap.LastDevice != nil {
		b.WriteString(fmt.Sprintf("Last: %s\n", t.executor.Label(*snap.LastDevice)))
	}
	autoReconnect := "off"
	if snap.AutoReconnect {
		autoReconnect = "on"
	}
	b.WriteString(fmt.Sprintf("Auto-reconnect: %s\n", autoReconnect))
	b.WriteString(fmt.Sprintf("\nUptime: %dh %dm\nAPI: %s\n", hours, minutes, t.addr))
	if snap.LastError != "" {
		b.WriteString(fmt.Sprintf("\n[red]%s[white]", snap.LastError))
	}

	t.statusBox.SetText(b.String())
}

func (t *TViewApp) connectIndex(index int) {
	devices := t.store.Snapshot().Devices
	if index < 0 || index >= len(devices) {
		return
	}
	t.runCommand("connect " + devices[index].ID)
}

func (t *TViewApp) toggleAutoReconnect() {
	if t.store.Snapshot().AutoReconnect {
		t.runCommand("autoreconnect off")
	} else {
		t.runCommand("autoreconnect on")
	}
}

// runCommand executes a command off the UI goroutine and logs the result
func (t *TViewApp) runCommand(cmd string) {
	t.AddLog(fmt.Sprintf("> %s", cmd), "command")

	go func() {
		result := t.executor.Execute(context.Background(), cmd)
		if result.Success {
			if result.Message != "" {
				t.AddLog(result.Message, "info")
			}
		} else {
			t.AddLog(result.Error, "error")
		}
		t.App.QueueUpdateDraw(t.refreshAll)
	}()
}

func (t *TViewApp) executeCommand(cmd string) {
	cmd = strings.TrimSpace(cmd)
	if cmd == "" {
		return
	}

	switch strings.ToLower(cmd) {
	case "registry":
		t.showScreen(screenRegistry)
	case "devices":
		t.showScreen(screenDevices)
	case "jobs":
		t.showScreen(screenJobs)
	case "clear":
		t.logMu.Lock()
		t.logs = t.logs[:0]
		t.logMu.Unlock()
		t.logsArea.Clear()
	case "quit", "exit":
		t.App.Stop()
	case "keys":
		t.showKeys()
	default:
		t.runCommand(cmd)
	}
}

func (t *TViewApp) showKeys() {
	help := []string{
		"Keyboard shortcuts:",
		"  :     - Command input ('help' lists commands)",
		"  s     - Scan for printers",
		"  Enter - Connect to the selected printer",
		"  x     - Disconnect",
		"  a     - Toggle auto-reconnect",
		"  r     - Saved printers and names",
		"  d     - Devices view",
		"  j     - Jobs view",
		"  p     - Print an order file",
		"  Esc   - Back to main",
		"  q     - Quit",
	}
	t.AddLog(strings.Join(help, "\n"), "info")
}

func (t *TViewApp) showScreen(screenName string) {
	if screenName != screenDevices {
		t.devicesScreen.Leave()
	}
	t.currentScreen = screenName
	t.pages.SwitchToPage(screenName)

	switch screenName {
	case screenRegistry:
		t.registryScreen.Refresh()
		t.App.SetFocus(t.registryScreen.GetRoot())
	case screenDevices:
		t.devicesScreen.Refresh()
		t.App.SetFocus(t.devicesScreen.GetRoot())
	case screenJobs:
		t.jobsScreen.Refresh()
		t.App.SetFocus(t.jobsScreen.GetRoot())
	case screenPrint:
		t.App.SetFocus(t.printScreen.GetRoot())
	case screenMain:
		t.showMainScreen()
	}
}

func (t *TViewApp) showMainScreen() {
	t.devicesScreen.Leave()
	t.currentScreen = screenMain
	t.pages.SwitchToPage(screenMain)
	t.App.SetFocus(t.printersList)
	t.refreshAll()
}

// Logf adds an info log entry
func (t *TViewApp) Logf(format string, args ...interface{}) {
	t.AddLog(fmt.Sprintf(format, args...), "info")
}

// AddLog adds a log entry. Safe to call from any goroutine.
func (t *TViewApp) AddLog(message string, level string) {
	var color string
	var icon string

	switch level {
	case "error":
		color = "[red]"
		icon = "❌"
	case "warning":
		color = "[yellow]"
		icon = "⚠️"
	case "command":
		color = "[cyan]"
		icon = ">"
	default:
		color = "[white]"
		icon = "ℹ️"
	}

	timeStr := time.Now().Format("15:04:05")
	entry := fmt.Sprintf("%s[%s] %s %s[white]\n", color, timeStr, icon, tview.Escape(message))

	t.logMu.Lock()
	t.logs = append(t.logs, entry)
	if len(t.logs) > t.maxLogs {
		t.logs = t.logs[len(t.logs)-t.maxLogs:]
	}
	t.logMu.Unlock()

	// the caller may be the UI goroutine itself
	go t.App.QueueUpdateDraw(t.renderLogs)
}

func (t *TViewApp) renderLogs() {
	t.logMu.Lock()
	text := strings.Join(t.logs, "")
	t.logMu.Unlock()

	t.logsArea.SetText(text)
	t.logsArea.ScrollToEnd()
}

// LogWriter returns a zerolog writer that renders into the logs panel
func (t *TViewApp) LogWriter() io.Writer {
	return zerolog.ConsoleWriter{
		Out:        &tviewLogWriter{app: t},
		NoColor:    true,
		TimeFormat: "15:04:05",
		PartsOrder: []string{zerolog.LevelFieldName, zerolog.MessageFieldName},
	}
}

type tviewLogWriter struct {
	app *TViewApp
}

func (w *tviewLogWriter) Write(p []byte) (n int, err error) {
	message := strings.TrimSpace(string(p))
	if message == "" {
		return len(p), nil
	}

	level := "info"
	switch {
	case strings.HasPrefix(message, "ERR"), strings.HasPrefix(message, "FTL"):
		level = "error"
	case strings.HasPrefix(message, "WRN"):
		level = "warning"
	}
	w.app.AddLog(message, level)
	return len(p), nil
}
