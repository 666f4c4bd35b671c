package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
)

// PickerDevice is one row of the scan picker
type PickerDevice struct {
	ID        string
	Name      string
	Kind      string
	RSSI      int
	Connected bool
}

// ScanFunc runs one scan and returns what it found
type ScanFunc func() ([]PickerDevice, error)

type scanDoneMsg struct {
	devices []PickerDevice
	err     error
}

type pickerKeys struct {
	Up     key.Binding
	Down   key.Binding
	Choose key.Binding
	Rescan key.Binding
	Quit   key.Binding
}

var keys = pickerKeys{
	Up:     key.NewBinding(key.WithKeys("up", "k")),
	Down:   key.NewBinding(key.WithKeys("down", "j")),
	Choose: key.NewBinding(key.WithKeys("enter")),
	Rescan: key.NewBinding(key.WithKeys("r")),
	Quit:   key.NewBinding(key.WithKeys("q", "esc", "ctrl+c")),
}

// Picker is a Bubble Tea model that scans for printers and lets the user
// pick one
type Picker struct {
	scan     ScanFunc
	spinner  spinner.Model
	devices  []PickerDevice
	cursor   int
	scanning bool
	err      error
	chosen   *PickerDevice
	quitting bool
	width    int
}

// NewPicker creates a picker that calls scan on start and on rescan
func NewPicker(scan ScanFunc) *Picker {
	s := spinner.New()
	s.Spinner = spinner.Dot
	s.Style = SpinnerStyle

	return &Picker{
		scan:     scan,
		spinner:  s,
		scanning: true,
		width:    60,
	}
}

// Chosen returns the selected device, or nil if the user quit
func (p *Picker) Chosen() *PickerDevice {
	return p.chosen
}

func (p *Picker) scanCmd() tea.Cmd {
	return func() tea.Msg {
		devices, err := p.scan()
		return scanDoneMsg{devices: devices, err: err}
	}
}

// Init starts the first scan
func (p *Picker) Init() tea.Cmd {
	return tea.Batch(p.spinner.Tick, p.scanCmd())
}

// Update handles messages
func (p *Picker) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch {
		case key.Matches(msg, keys.Quit):
			p.quitting = true
			return p, tea.Quit
		case key.Matches(msg, keys.Up):
			if p.cursor > 0 {
				p.cursor--
			}
		case key.Matches(msg, keys.Down):
			if p.cursor < len(p.devices)-1 {
				p.cursor++
			}
		case key.Matches(msg, keys.Choose):
			if !p.scanning && len(p.devices) > 0 {
				chosen := p.devices[p.cursor]
				p.chosen = &chosen
				return p, tea.Quit
			}
		case key.Matches(msg, keys.Rescan):
			if !p.scanning {
				p.scanning = true
				p.err = nil
				return p, tea.Batch(p.spinner.Tick, p.scanCmd())
			}
		}

	case tea.WindowSizeMsg:
		p.width = msg.Width

	case scanDoneMsg:
		p.scanning = false
		p.err = msg.err
		p.devices = msg.devices
		if p.cursor >= len(p.devices) {
			p.cursor = 0
		}

	case spinner.TickMsg:
		if !p.scanning {
			return p, nil
		}
		var cmd tea.Cmd
		p.spinner, cmd = p.spinner.Update(msg)
		return p, cmd
	}

	return p, nil
}

func signalLabel(rssi int) string {
	if rssi == 0 {
		return ""
	}
	text := fmt.Sprintf("%d dBm", rssi)
	switch {
	case rssi >= -60:
		return SignalStrong.Render(text)
	case rssi >= -80:
		return SignalFair.Render(text)
	default:
		return SignalWeak.Render(text)
	}
}

// View renders the picker
func (p *Picker) View() string {
	if p.quitting {
		return ""
	}

	var b strings.Builder
	b.WriteString(HeaderStyle.Render("Select a printer"))
	b.WriteString("\n")

	switch {
	case p.scanning:
		b.WriteString(fmt.Sprintf("%s Scanning for printers...\n", p.spinner.View()))
	case p.err != nil:
		b.WriteString(ErrorStyle.Render(p.err.Error()))
		b.WriteString("\n")
	case len(p.devices) == 0:
		b.WriteString(TextMuted.Render("No printers found. Make sure the printer is on and nearby."))
		b.WriteString("\n")
	default:
		b.WriteString(SuccessStyle.Render(fmt.Sprintf("Found %d printer(s)", len(p.devices))))
		b.WriteString("\n")
	}

	nameWidth := p.width - 30
	if nameWidth < 16 {
		nameWidth = 16
	}

	for i, dev := range p.devices {
		status := StatusOffline.String()
		if dev.Connected {
			status = StatusOnline.String()
		}
		name := dev.Name
		if name == "" {
			name = dev.ID
		}
		line := fmt.Sprintf("%s %-*s %-8s %s", status, nameWidth, Truncate(name, nameWidth), strings.ToUpper(dev.Kind), signalLabel(dev.RSSI))

		if i == p.cursor {
			b.WriteString(SelectedItemStyle.Render(line))
		} else {
			b.WriteString(ListItemStyle.Render(line))
		}
		b.WriteString("\n")
	}

	help := []string{
		RenderHelp("↑/↓", "move"),
		RenderHelp("enter", "connect"),
		RenderHelp("r", "rescan"),
		RenderHelp("q", "quit"),
	}
	b.WriteString("\n")
	b.WriteString(strings.Join(help, "  "))
	b.WriteString("\n")

	return b.String()
}

// RunPicker runs the picker and returns the chosen device, or nil if the
// user quit without choosing
func RunPicker(scan ScanFunc) (*PickerDevice, error) {
	model, err := tea.NewProgram(NewPicker(scan)).Run()
	if err != nil {
		return nil, err
	}
	return model.(*Picker).Chosen(), nil
}
