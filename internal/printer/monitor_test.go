package printer_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/thereceipt/pos-printer/internal/printer"
	"github.com/thereceipt/pos-printer/internal/printer/printertest"
)

func TestMonitorKeepsConnectedAndFailedTransports(t *testing.T) {
	rfcomm := printer.Device{ID: "/dev/rfcomm0", Name: "rfcomm0", Kind: printer.KindSerial}
	kitchen := printer.Device{ID: "192.168.1.40:9100", Name: "Kitchen", Kind: printer.KindNetwork}

	serial := &printertest.Transport{KindName: printer.KindSerial, Devices: []printer.Device{rfcomm}}
	network := &printertest.Transport{KindName: printer.KindNetwork, Devices: []printer.Device{kitchen}}

	cfg := printer.DefaultConfig()
	cfg.ChunkDelay = 0
	m := printer.NewManager(cfg, nil, nil, serial, network)

	mon := printer.NewMonitor(m, time.Second)
	var added, removed []string
	mon.OnChange(
		func(d printer.Device) { added = append(added, d.ID) },
		func(d printer.Device) { removed = append(removed, d.ID) },
	)

	ctx := context.Background()
	mon.Check(ctx)
	assert.ElementsMatch(t, []string{rfcomm.ID, kitchen.ID}, added)

	require.NoError(t, m.Connect(ctx, kitchen))

	// the printer refuses a second session while connected
	network.Devices = nil
	mon.Check(ctx)
	assert.Empty(t, removed)

	// a failing transport keeps what it reported last time
	serial.ScanErr = errors.New("enumerator unavailable")
	mon.Check(ctx)
	assert.Empty(t, removed)
	assert.Len(t, mon.Present(), 2)

	serial.ScanErr = nil
	serial.Devices = nil
	mon.Check(ctx)
	assert.Equal(t, []string{rfcomm.ID}, removed)

	require.NoError(t, m.Disconnect(ctx))
	mon.Check(ctx)
	assert.Equal(t, []string{rfcomm.ID, kitchen.ID}, removed)
	assert.Empty(t, mon.Present())
}
