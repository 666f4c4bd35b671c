package printer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFilterMatch(t *testing.T) {
	f := DefaultFilter()

	tests := []struct {
		name string
		dev  Device
		want bool
	}{
		{"vendor hint", bleDevice("1", "MPT-II"), true},
		{"generic printer name", bleDevice("2", "BlueTooth Printer"), true},
		{"consumer device", bleDevice("3", "Galaxy Buds Pro"), false},
		{"excluded word", bleDevice("4", "Living Room TV"), false},
		{"short exclusion inside word", bleDevice("5", "gtv-printer"), true},
		{"unnamed", bleDevice("6", ""), false},
		{"unknown name", bleDevice("7", "Gadget 3000"), false},
		{"known service without name", Device{ID: "8", Kind: KindBLE, ServiceUUIDs: []string{"0000FF00-0000-1000-8000-00805F9B34FB"}}, true},
		{"known service beats exclusion", Device{ID: "9", Name: "iPhone", Kind: KindBLE, ServiceUUIDs: []string{DefaultServiceUUIDs[0]}}, true},
		{"serial port", Device{ID: "/dev/rfcomm0", Kind: KindSerial}, true},
		{"network printer", Device{ID: "10.0.0.5:9100", Kind: KindNetwork}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, f.Match(tt.dev))
		})
	}
}

func TestSelectWriteCharacteristic(t *testing.T) {
	services := []gattService{
		{UUID: "00001800-0000-1000-8000-00805f9b34fb", Characteristics: []string{"00002a00-0000-1000-8000-00805f9b34fb"}},
		{UUID: "000018F0-0000-1000-8000-00805F9B34FB", Characteristics: []string{
			"00002af0-0000-1000-8000-00805f9b34fb",
			"00002AF1-0000-1000-8000-00805F9B34FB",
		}},
	}

	si, ci, err := selectWriteCharacteristic(services, DefaultServiceUUIDs, DefaultWriteCharacteristicUUIDs)
	require.NoError(t, err)
	assert.Equal(t, 1, si)
	assert.Equal(t, 1, ci)

	_, _, err = selectWriteCharacteristic(services[:1], DefaultServiceUUIDs, DefaultWriteCharacteristicUUIDs)
	assert.ErrorIs(t, err, ErrServiceNotFound)

	noChar := []gattService{{UUID: DefaultServiceUUIDs[0], Characteristics: []string{"0000ffff-0000-1000-8000-00805f9b34fb"}}}
	_, _, err = selectWriteCharacteristic(noChar, DefaultServiceUUIDs, DefaultWriteCharacteristicUUIDs)
	assert.ErrorIs(t, err, ErrCharacteristicNotFound)
}

func TestClassifyAdapterError(t *testing.T) {
	err := classifyAdapterError(errors.New("Bluetooth adapter is Powered Off"))
	assert.ErrorIs(t, err, ErrAdapterOff)
	assert.True(t, IsAdapterError(err))

	err = classifyAdapterError(errors.New("org.bluez.Error.NotAuthorized"))
	assert.ErrorIs(t, err, ErrPermissionDenied)

	plain := errors.New("timeout")
	assert.Equal(t, plain, classifyAdapterError(plain))
	assert.NoError(t, classifyAdapterError(nil))
}

func TestUserMessage(t *testing.T) {
	assert.Empty(t, UserMessage(nil))
	assert.Contains(t, UserMessage(ErrAdapterOff), "turned off")
	assert.Contains(t, UserMessage(fmt.Errorf("%w: x", ErrPermissionDenied)), "permission")
	assert.Contains(t, UserMessage(ErrCharacteristicNotFound), "not supported")
	assert.Contains(t, UserMessage(ErrNotConnected), "Connect a printer")
	assert.Contains(t, UserMessage(fmt.Errorf("%w: MPT-II: %w", ErrConnectFailed, errBoom)), "Could not connect")
	assert.Contains(t, UserMessage(fmt.Errorf("%w: %w", ErrLinkLost, errBoom)), "lost")
	assert.Equal(t, "boom", UserMessage(errors.New("boom")))
}

func TestStateJSON(t *testing.T) {
	data, err := json.Marshal(map[string]State{"state": StateConnecting})
	require.NoError(t, err)
	assert.JSONEq(t, `{"state":"connecting"}`, string(data))
	assert.Equal(t, "unknown", State(42).String())
}

func TestDeviceDisplayName(t *testing.T) {
	assert.Equal(t, "MPT-II", bleDevice("AA", "MPT-II").DisplayName())
	assert.Equal(t, "AA", bleDevice("AA", "").DisplayName())
}

func TestParseUSBID(t *testing.T) {
	vid, pid, err := parseUSBID("0416:5011")
	require.NoError(t, err)
	assert.Equal(t, "0416:5011", usbID(vid, pid))

	_, _, err = parseUSBID("printer")
	assert.Error(t, err)
}

func TestNetworkPrinterAddress(t *testing.T) {
	assert.Equal(t, "192.168.1.50:9100", NetworkPrinter{Host: "192.168.1.50"}.Address())
	assert.Equal(t, "kitchen.local:9000", NetworkPrinter{Host: "kitchen.local", Port: 9000}.Address())
}

func TestNetworkScanSkipsOpenLink(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	accepted := make(chan net.Conn, 1)
	go func() {
		if conn, err := ln.Accept(); err == nil {
			accepted <- conn
		}
	}()

	port := ln.Addr().(*net.TCPAddr).Port
	nt := NewNetworkTransport([]NetworkPrinter{{Name: "Kitchen", Host: "127.0.0.1", Port: port}})
	dev := Device{ID: nt.printers[0].Address(), Name: "Kitchen", Kind: KindNetwork}

	link, err := nt.Dial(context.Background(), dev, nil)
	require.NoError(t, err)
	conn := <-accepted
	defer conn.Close()

	// single-session printer: nothing else may connect
	require.NoError(t, ln.Close())

	scan := func() []string {
		var mu sync.Mutex
		var ids []string
		require.NoError(t, nt.Scan(context.Background(), func(d Device) {
			mu.Lock()
			ids = append(ids, d.ID)
			mu.Unlock()
		}))
		return ids
	}
	assert.Equal(t, []string{dev.ID}, scan())

	require.NoError(t, link.Close())
	assert.Empty(t, scan())
}

func TestPrintQueue(t *testing.T) {
	ft := newFakeTransport()
	m := NewManager(testConfig(), nil, nil, ft)
	q := NewPrintQueue(m)
	defer q.Stop()

	done := make(chan *PrintJob, 4)
	q.OnJobDone(func(job *PrintJob) { done <- job })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// not connected: the job fails and is kept for retry
	job, err := q.Submit(ctx, "receipt", "1042", payload(120))
	require.ErrorIs(t, err, ErrNotConnected)
	require.NotNil(t, job)
	assert.Equal(t, JobFailed, job.Status)
	assert.Equal(t, "No printer is connected. Connect a printer first.", job.Error)
	assert.Equal(t, 120, job.Size)
	<-done

	_, err = q.Submit(ctx, "receipt", "1042", nil)
	assert.Error(t, err)

	require.NoError(t, m.Connect(ctx, bleDevice("AA", "MPT-II")))

	retryID, err := q.Retry(job.ID)
	require.NoError(t, err)
	assert.NotEqual(t, job.ID, retryID)

	finished := <-done
	assert.Equal(t, retryID, finished.ID)
	assert.Equal(t, JobCompleted, finished.Status)
	assert.Equal(t, "AA", finished.DeviceID)

	// the whole job is resent
	chunks := ft.lastLink().Chunks()
	require.Len(t, chunks, 2)
	assert.Len(t, chunks[0], 100)
	assert.Len(t, chunks[1], 20)

	_, err = q.Retry(retryID)
	assert.Error(t, err)
	_, err = q.Retry("missing")
	assert.Error(t, err)

	assert.Len(t, q.GetAllJobs(), 2)
	assert.Equal(t, 1, q.ClearCompleted())
	assert.Len(t, q.GetAllJobs(), 1)
	assert.Nil(t, q.GetJob(retryID))
}

func TestPrintQueueRetryWhilePrinting(t *testing.T) {
	ft := newFakeTransport()
	ft.writeHold = make(chan struct{})
	m := NewManager(testConfig(), nil, nil, ft)
	q := NewPrintQueue(m)
	defer q.Stop()

	done := make(chan *PrintJob, 2)
	q.OnJobDone(func(job *PrintJob) { done <- job })

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, m.Connect(ctx, bleDevice("AA", "MPT-II")))

	id, err := q.Enqueue("receipt", "7", payload(10))
	require.NoError(t, err)

	// the worker updates the job while Retry inspects it
	require.Eventually(t, func() bool {
		_, err := q.Retry(id)
		return err != nil && strings.Contains(err.Error(), "is "+JobPrinting)
	}, 2*time.Second, time.Millisecond)

	close(ft.writeHold)
	finished := <-done
	assert.Equal(t, JobCompleted, finished.Status)

	_, err = q.Retry(id)
	assert.ErrorContains(t, err, "only failed jobs")
	assert.Len(t, q.GetAllJobs(), 1)
}

func TestMonitorReportsChanges(t *testing.T) {
	serial := newFakeTransport(Device{ID: "/dev/rfcomm0", Name: "rfcomm0", Kind: KindSerial})
	serial.kind = KindSerial
	ble := newFakeTransport(bleDevice("AA", "MPT-II"))
	obs := newRecordingObserver()
	m := NewManager(testConfig(), nil, obs, ble, serial)

	mon := NewMonitor(m, time.Second)
	var added, removed []string
	mon.OnChange(
		func(d Device) { added = append(added, d.ID) },
		func(d Device) { removed = append(removed, d.ID) },
	)

	mon.Check(context.Background())
	assert.Equal(t, []string{"/dev/rfcomm0"}, added)
	assert.Empty(t, removed)
	assert.Empty(t, ble.Events(), "BLE is not polled")

	_, ok := m.GetDevice("/dev/rfcomm0")
	assert.True(t, ok)

	serial.devices = nil
	mon.Check(context.Background())
	assert.Equal(t, []string{"/dev/rfcomm0"}, removed)
	assert.Empty(t, mon.Present())
}
