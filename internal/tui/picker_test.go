package tui

import (
	"errors"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func keyMsg(s string) tea.KeyMsg {
	switch s {
	case "enter":
		return tea.KeyMsg{Type: tea.KeyEnter}
	case "down":
		return tea.KeyMsg{Type: tea.KeyDown}
	case "esc":
		return tea.KeyMsg{Type: tea.KeyEsc}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func TestPickerChoosesDevice(t *testing.T) {
	scans := 0
	p := NewPicker(func() ([]PickerDevice, error) {
		scans++
		return []PickerDevice{
			{ID: "AA", Name: "MPT-II", Kind: "ble", RSSI: -55},
			{ID: "/dev/ttyUSB0", Kind: "serial"},
		}, nil
	})

	msg := p.scanCmd()()
	assert.Equal(t, 1, scans)

	// enter is ignored while scanning
	_, cmd := p.Update(keyMsg("enter"))
	assert.Nil(t, cmd)
	assert.Nil(t, p.Chosen())

	p.Update(msg)
	assert.Contains(t, p.View(), "MPT-II")
	assert.Contains(t, p.View(), "/dev/ttyUSB0")
	assert.Contains(t, p.View(), "Found 2 printer(s)")

	p.Update(keyMsg("down"))
	p.Update(keyMsg("down"))
	_, cmd = p.Update(keyMsg("enter"))
	require.NotNil(t, cmd)
	require.NotNil(t, p.Chosen())
	assert.Equal(t, "/dev/ttyUSB0", p.Chosen().ID)
}

func TestPickerRescanAndQuit(t *testing.T) {
	p := NewPicker(func() ([]PickerDevice, error) {
		return nil, errors.New("Bluetooth is turned off")
	})

	p.Update(p.scanCmd()())
	assert.Contains(t, p.View(), "Bluetooth is turned off")

	_, cmd := p.Update(keyMsg("r"))
	assert.NotNil(t, cmd)
	assert.Contains(t, p.View(), "Scanning")

	p.Update(scanDoneMsg{})
	assert.Contains(t, p.View(), "No printers found")
	assert.NotContains(t, p.View(), "Found 0")

	_, cmd = p.Update(keyMsg("q"))
	assert.NotNil(t, cmd)
	assert.Nil(t, p.Chosen())
	assert.Empty(t, p.View())
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "Kitchen", Truncate("Kitchen", 10))
	assert.Equal(t, "Kitche...", Truncate("Kitchen Printer", 9))
	assert.Equal(t, "Ki", Truncate("Kitchen", 2))
}
