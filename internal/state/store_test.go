package state

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thereceipt/pos-printer/internal/printer"
	"github.com/thereceipt/pos-printer/internal/printer/printertest"
	"github.com/thereceipt/pos-printer/internal/registry"
)

var _ printer.Observer = (*Store)(nil)

func newRegistry(t *testing.T) *registry.Registry {
	t.Helper()
	reg, err := registry.New(filepath.Join(t.TempDir(), "printer_registry.json"))
	require.NoError(t, err)
	return reg
}

func next(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(time.Second):
		t.Fatal("no event")
		return Event{}
	}
}

func TestStoreTracksState(t *testing.T) {
	s := New(nil)
	events, cancel := s.Subscribe(16)
	defer cancel()

	s.StateChanged(printer.StateScanning, nil)
	s.DeviceFound(printer.Device{ID: "AA", Name: "MPT-II", Kind: printer.KindBLE})
	s.DeviceFound(printer.Device{ID: "AA", Name: "MPT-II", Kind: printer.KindBLE, RSSI: -50})
	s.DeviceFound(printer.Device{ID: "BB", Name: "RPP02N", Kind: printer.KindBLE})

	snap := s.Snapshot()
	assert.True(t, snap.Scanning)
	require.Len(t, snap.Devices, 2)
	assert.Equal(t, -50, snap.Devices[0].RSSI)

	dev := printer.Device{ID: "AA", Name: "MPT-II", Kind: printer.KindBLE}
	s.StateChanged(printer.StateConnected, &dev)

	snap = s.Snapshot()
	assert.Equal(t, printer.StateConnected, snap.State)
	require.NotNil(t, snap.Device)
	assert.Equal(t, "AA", snap.Device.ID)
	assert.Len(t, snap.Devices, 2)

	assert.Equal(t, EventState, next(t, events).Type)
	assert.Equal(t, EventDeviceFound, next(t, events).Type)
	assert.Equal(t, EventDeviceFound, next(t, events).Type)
	assert.Equal(t, EventDeviceFound, next(t, events).Type)
	ev := next(t, events)
	assert.Equal(t, EventState, ev.Type)
	assert.Equal(t, printer.StateConnected, ev.Data.(StatePayload).State)

	// a new scan starts with an empty list
	s.StateChanged(printer.StateScanning, nil)
	assert.Empty(t, s.Snapshot().Devices)
}

func TestDeviceRemoved(t *testing.T) {
	s := New(nil)
	s.DeviceFound(printer.Device{ID: "/dev/ttyUSB0", Kind: printer.KindSerial})
	s.DeviceFound(printer.Device{ID: "10.0.0.5:9100", Kind: printer.KindNetwork})

	events, cancel := s.Subscribe(4)
	defer cancel()

	s.DeviceRemoved(printer.Device{ID: "/dev/ttyUSB0", Kind: printer.KindSerial})

	devices := s.Snapshot().Devices
	require.Len(t, devices, 1)
	assert.Equal(t, printer.KindNetwork, devices[0].Kind)
	assert.Equal(t, EventDeviceRemoved, next(t, events).Type)
}

func TestLinkLostRaisesPromptWithLastDevice(t *testing.T) {
	reg := newRegistry(t)
	dev := printer.Device{ID: "AA", Name: "MPT-II", Kind: printer.KindBLE}
	require.NoError(t, reg.SetLastDevice(dev))

	s := New(reg)
	events, cancel := s.Subscribe(8)
	defer cancel()

	s.LinkLost(dev, printer.ErrLinkLost)

	ev := next(t, events)
	require.Equal(t, EventReconnectPrompt, ev.Type)
	prompt := ev.Data.(ReconnectPrompt)
	assert.Equal(t, "AA", prompt.Device.ID)
	assert.Contains(t, prompt.Message, "lost")

	snap := s.Snapshot()
	require.NotNil(t, snap.ReconnectPrompt)
	require.NotNil(t, snap.LastDevice)

	// connecting again clears the prompt
	s.StateChanged(printer.StateConnected, &dev)
	assert.Nil(t, s.Snapshot().ReconnectPrompt)
	assert.Empty(t, s.Snapshot().LastError)
}

func TestLinkLostWithoutPreferencesDoesNotPrompt(t *testing.T) {
	s := New(newRegistry(t))
	events, cancel := s.Subscribe(8)
	defer cancel()

	s.LinkLost(printer.Device{ID: "AA"}, printer.ErrLinkLost)

	assert.Nil(t, s.Snapshot().ReconnectPrompt)
	assert.NotEmpty(t, s.Snapshot().LastError)
	assert.Len(t, events, 0)
}

func TestSetAutoReconnectPersists(t *testing.T) {
	reg := newRegistry(t)
	s := New(reg)
	events, cancel := s.Subscribe(8)
	defer cancel()

	require.NoError(t, s.SetAutoReconnect(true))
	assert.True(t, reg.AutoReconnect())
	assert.True(t, s.Snapshot().AutoReconnect)

	ev := next(t, events)
	assert.Equal(t, EventSettings, ev.Type)
	assert.Equal(t, SettingsPayload{AutoReconnect: true}, ev.Data)

	// the prompt now follows the preference alone
	s.LinkLost(printer.Device{ID: "AA"}, nil)
	assert.NotNil(t, s.Snapshot().ReconnectPrompt)

	s.DismissPrompt()
	assert.Nil(t, s.Snapshot().ReconnectPrompt)
}

func TestSlowSubscriberDoesNotBlock(t *testing.T) {
	s := New(nil)
	_, cancel := s.Subscribe(1)
	defer cancel()

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			s.DeviceFound(printer.Device{ID: string(rune('A' + i))})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}
	assert.Len(t, s.Snapshot().Devices, 10)
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	s := New(nil)
	events, cancel := s.Subscribe(1)
	cancel()
	cancel()

	_, ok := <-events
	assert.False(t, ok)

	s.ReportError(errors.New("boom"))
	assert.Equal(t, "boom", s.Snapshot().LastError)
}

func TestStoreObservesManager(t *testing.T) {
	reg := newRegistry(t)
	s := New(reg)
	m := printer.NewManager(printer.DefaultConfig(), reg, s, printertest.New())

	dev := printer.Device{ID: "AA", Name: "MPT-II", Kind: printer.KindBLE}
	require.NoError(t, m.Connect(context.Background(), dev))

	snap := s.Snapshot()
	assert.Equal(t, printer.StateConnected, snap.State)
	require.NotNil(t, snap.LastDevice)
	assert.Equal(t, "AA", snap.LastDevice.ID)

	require.NoError(t, m.Disconnect(context.Background()))
	snap = s.Snapshot()
	assert.Equal(t, printer.StateDisconnected, snap.State)
	assert.Nil(t, snap.Device)
	assert.Nil(t, snap.ReconnectPrompt, "intentional disconnect must not prompt")
}
