package printer

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunks(t *testing.T) {
	for _, n := range []int{0, 1, 99, 100, 101, 250, 1000} {
		data := payload(n)
		chunks := Chunks(data, 100)

		assert.Len(t, chunks, (n+99)/100, "n=%d", n)
		for _, c := range chunks {
			assert.LessOrEqual(t, len(c), 100)
		}
		assert.Equal(t, data, bytes.Join(chunks, nil), "n=%d", n)
	}
}

func TestChunkWriterDelaysBetweenChunks(t *testing.T) {
	link := &fakeLink{transport: newFakeTransport()}
	var slept []time.Duration

	w := NewChunkWriter(100, 200*time.Millisecond)
	w.Sleep = func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}

	require.NoError(t, w.Write(context.Background(), link, payload(250)))

	chunks := link.Chunks()
	require.Len(t, chunks, 3)
	assert.Len(t, chunks[0], 100)
	assert.Len(t, chunks[1], 100)
	assert.Len(t, chunks[2], 50)
	assert.Equal(t, []time.Duration{200 * time.Millisecond, 200 * time.Millisecond}, slept)
}

func TestChunkWriterAbortsOnFailure(t *testing.T) {
	link := &fakeLink{transport: newFakeTransport(), writeErr: errBoom, failAfter: 1}
	w := NewChunkWriter(100, 0)

	err := w.Write(context.Background(), link, payload(350))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrWriteFailed)
	assert.ErrorIs(t, err, errBoom)
	assert.Contains(t, err.Error(), "chunk 2/4")
	assert.Len(t, link.Chunks(), 1)
}

func TestConnectAndPrint(t *testing.T) {
	ft := newFakeTransport()
	prefs := &fakePrefs{}
	obs := newRecordingObserver()
	cfg := testConfig()
	cfg.ChunkDelay = 200 * time.Millisecond
	m := NewManager(cfg, prefs, obs, ft)

	var slept []time.Duration
	m.writer.Sleep = func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}

	dev := bleDevice("AA:BB", "MPT-II")
	require.NoError(t, m.Connect(context.Background(), dev))
	assert.Equal(t, StateConnected, m.State())

	got, ok := m.Connected()
	require.True(t, ok)
	assert.Equal(t, "AA:BB", got.ID)

	last, ok := prefs.LastDevice()
	require.True(t, ok)
	assert.Equal(t, "AA:BB", last.ID)

	require.NoError(t, m.Print(context.Background(), payload(250)))

	chunks := ft.lastLink().Chunks()
	require.Len(t, chunks, 3)
	assert.Equal(t, []int{100, 100, 50}, []int{len(chunks[0]), len(chunks[1]), len(chunks[2])})
	assert.Len(t, slept, 2)

	assert.Equal(t, []State{StateConnecting, StateConnected}, obs.States())
}

func TestConnectSameDeviceIsNoop(t *testing.T) {
	ft := newFakeTransport()
	m := NewManager(testConfig(), nil, nil, ft)

	dev := bleDevice("AA:BB", "MPT-II")
	require.NoError(t, m.Connect(context.Background(), dev))
	require.NoError(t, m.Connect(context.Background(), dev))

	assert.Equal(t, []string{"dial:AA:BB"}, ft.Events())
}

func TestConnectDifferentDeviceDisconnectsFirst(t *testing.T) {
	ft := newFakeTransport()
	obs := newRecordingObserver()
	m := NewManager(testConfig(), nil, obs, ft)

	require.NoError(t, m.Connect(context.Background(), bleDevice("AA", "MPT-II")))
	require.NoError(t, m.Connect(context.Background(), bleDevice("BB", "RPP02N")))

	assert.Equal(t, []string{"dial:AA", "close:AA", "dial:BB"}, ft.Events())

	got, ok := m.Connected()
	require.True(t, ok)
	assert.Equal(t, "BB", got.ID)

	assert.Equal(t, []State{
		StateConnecting, StateConnected,
		StateDisconnecting, StateDisconnected,
		StateConnecting, StateConnected,
	}, obs.States())
	assert.Empty(t, obs.Lost())
}

func TestConnectRetriesOnce(t *testing.T) {
	ft := newFakeTransport()
	ft.dialErrs = []error{errBoom, nil}
	m := NewManager(testConfig(), nil, nil, ft)

	var slept []time.Duration
	m.sleep = func(ctx context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}

	require.NoError(t, m.Connect(context.Background(), bleDevice("AA", "MPT-II")))
	assert.Equal(t, []string{"dial:AA", "dial:AA"}, ft.Events())
	assert.Equal(t, []time.Duration{time.Millisecond}, slept)
}

func TestConnectFailsAfterRetry(t *testing.T) {
	ft := newFakeTransport()
	ft.dialErrs = []error{errBoom, errBoom, nil}
	prefs := &fakePrefs{}
	m := NewManager(testConfig(), prefs, nil, ft)

	err := m.Connect(context.Background(), bleDevice("AA", "MPT-II"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConnectFailed)
	assert.ErrorIs(t, err, errBoom)

	assert.Len(t, ft.Events(), 2)
	assert.Equal(t, StateDisconnected, m.State())
	assert.Equal(t, 0, prefs.saved)
}

func TestConnectAdapterErrorNotRetried(t *testing.T) {
	ft := newFakeTransport()
	ft.dialErrs = []error{ErrAdapterOff, nil}
	m := NewManager(testConfig(), nil, nil, ft)

	err := m.Connect(context.Background(), bleDevice("AA", "MPT-II"))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAdapterOff)
	assert.NotErrorIs(t, err, ErrConnectFailed)
	assert.Equal(t, []string{"dial:AA"}, ft.Events())
}

func TestConnectUnknownKind(t *testing.T) {
	m := NewManager(testConfig(), nil, nil, newFakeTransport())

	err := m.Connect(context.Background(), Device{ID: "/dev/rfcomm0", Kind: KindSerial})
	assert.ErrorIs(t, err, ErrDeviceNotFound)
}

func TestPrintNotConnected(t *testing.T) {
	m := NewManager(testConfig(), nil, nil, newFakeTransport())
	assert.ErrorIs(t, m.Print(context.Background(), payload(10)), ErrNotConnected)
}

func TestPrintWriteFailure(t *testing.T) {
	ft := newFakeTransport()
	ft.writeErr = errBoom
	ft.failAfter = 1
	m := NewManager(testConfig(), nil, nil, ft)

	require.NoError(t, m.Connect(context.Background(), bleDevice("AA", "MPT-II")))

	err := m.Print(context.Background(), payload(300))
	assert.ErrorIs(t, err, ErrWriteFailed)
	assert.Len(t, ft.lastLink().Chunks(), 1)
	assert.Equal(t, "Failed to print. Check the printer and try again.", UserMessage(err))
}

func TestLinkLostNotifiesObserver(t *testing.T) {
	ft := newFakeTransport()
	obs := newRecordingObserver()
	m := NewManager(testConfig(), nil, obs, ft)

	require.NoError(t, m.Connect(context.Background(), bleDevice("AA", "MPT-II")))
	ft.lastLink().drop()

	lost := obs.Lost()
	require.Len(t, lost, 1)
	assert.Equal(t, "AA", lost[0].ID)
	assert.Equal(t, StateDisconnected, m.State())
	assert.ErrorIs(t, m.Print(context.Background(), payload(10)), ErrNotConnected)

	// a second drop of the same link is ignored
	ft.lastLink().drop()
	assert.Len(t, obs.Lost(), 1)
}

func TestIntentionalDisconnectDoesNotReportLoss(t *testing.T) {
	ft := newFakeTransport()
	obs := newRecordingObserver()
	m := NewManager(testConfig(), nil, obs, ft)

	require.NoError(t, m.Connect(context.Background(), bleDevice("AA", "MPT-II")))
	link := ft.lastLink()

	require.NoError(t, m.Disconnect(context.Background()))
	link.drop()

	assert.Empty(t, obs.Lost())
	assert.Equal(t, StateDisconnected, m.State())
	assert.True(t, link.closed)
}

func TestAutoReconnect(t *testing.T) {
	t.Run("enabled with last device", func(t *testing.T) {
		ft := newFakeTransport()
		last := bleDevice("AA", "MPT-II")
		m := NewManager(testConfig(), &fakePrefs{auto: true, last: &last}, nil, ft)

		tried, err := m.AutoReconnect(context.Background())
		require.NoError(t, err)
		assert.True(t, tried)
		assert.Equal(t, []string{"dial:AA"}, ft.Events())
	})

	t.Run("disabled", func(t *testing.T) {
		ft := newFakeTransport()
		last := bleDevice("AA", "MPT-II")
		m := NewManager(testConfig(), &fakePrefs{auto: false, last: &last}, nil, ft)

		tried, err := m.AutoReconnect(context.Background())
		require.NoError(t, err)
		assert.False(t, tried)
		assert.Empty(t, ft.Events())
	})

	t.Run("no last device", func(t *testing.T) {
		ft := newFakeTransport()
		m := NewManager(testConfig(), &fakePrefs{auto: true}, nil, ft)

		tried, err := m.AutoReconnect(context.Background())
		require.NoError(t, err)
		assert.False(t, tried)
		assert.Empty(t, ft.Events())
	})

	t.Run("failure is reported once", func(t *testing.T) {
		ft := newFakeTransport()
		ft.dialErrs = []error{ErrAdapterOff}
		last := bleDevice("AA", "MPT-II")
		m := NewManager(testConfig(), &fakePrefs{auto: true, last: &last}, nil, ft)

		tried, err := m.AutoReconnect(context.Background())
		assert.True(t, tried)
		assert.ErrorIs(t, err, ErrAdapterOff)
		assert.Len(t, ft.Events(), 1)
	})
}

func TestReconnectWithoutLastDevice(t *testing.T) {
	m := NewManager(testConfig(), &fakePrefs{}, nil, newFakeTransport())
	assert.ErrorIs(t, m.Reconnect(context.Background()), ErrNoLastDevice)

	m = NewManager(testConfig(), nil, nil, newFakeTransport())
	assert.ErrorIs(t, m.Reconnect(context.Background()), ErrNoLastDevice)
}

func TestDiscoverDedupsAndFilters(t *testing.T) {
	ft := newFakeTransport(
		bleDevice("01", "MPT-II"),
		bleDevice("02", "Galaxy Buds"),
		Device{ID: "03", Kind: KindBLE, ServiceUUIDs: []string{"000018F0-0000-1000-8000-00805F9B34FB"}},
		bleDevice("04", ""),
	)
	obs := newRecordingObserver()
	m := NewManager(testConfig(), nil, obs, ft)

	found, err := m.Discover(context.Background(), ScanOptions{FilterPrinters: true})
	require.NoError(t, err)

	ids := make([]string, 0, len(found))
	for _, d := range found {
		ids = append(ids, d.ID)
	}
	assert.Equal(t, []string{"01", "03"}, ids)
	assert.Len(t, m.Devices(), 2)
	assert.Equal(t, StateDisconnected, m.State())
	assert.NoError(t, <-obs.finished)

	all, err := m.Discover(context.Background(), ScanOptions{})
	require.NoError(t, err)
	assert.Len(t, all, 4)
}

func TestScanFailsWhenAllTransportsFail(t *testing.T) {
	ft := newFakeTransport()
	ft.scanErr = ErrAdapterOff
	m := NewManager(testConfig(), nil, nil, ft)

	_, err := m.Discover(context.Background(), ScanOptions{})
	assert.ErrorIs(t, err, ErrAdapterOff)
}

func TestScanPartialFailureSucceeds(t *testing.T) {
	broken := newFakeTransport()
	broken.kind = KindSerial
	broken.scanErr = errors.New("no ports")
	ble := newFakeTransport(bleDevice("01", "MPT-II"))
	m := NewManager(testConfig(), nil, nil, ble, broken)

	found, err := m.Discover(context.Background(), ScanOptions{})
	require.NoError(t, err)
	assert.Len(t, found, 1)
}

func TestNewScanCancelsPrevious(t *testing.T) {
	ft := newFakeTransport(bleDevice("01", "MPT-II"))
	ft.scanHold = true
	obs := newRecordingObserver()
	m := NewManager(testConfig(), nil, obs, ft)

	first, err := m.Scan(context.Background(), ScanOptions{})
	require.NoError(t, err)
	assert.Equal(t, "01", (<-first).ID)

	second, err := m.Scan(context.Background(), ScanOptions{})
	require.NoError(t, err)

	// the first scan ends without reporting
	for range first {
	}
	assert.Equal(t, StateScanning, m.State())

	m.StopScan()
	for range second {
	}

	select {
	case err := <-obs.finished:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("scan did not finish")
	}
	assert.Equal(t, StateDisconnected, m.State())
	assert.Len(t, obs.finished, 0)
}

func TestConnectStopsScan(t *testing.T) {
	ft := newFakeTransport(bleDevice("01", "MPT-II"))
	ft.scanHold = true
	m := NewManager(testConfig(), nil, newRecordingObserver(), ft)

	out, err := m.Scan(context.Background(), ScanOptions{})
	require.NoError(t, err)
	dev := <-out

	require.NoError(t, m.Connect(context.Background(), Device{ID: dev.ID}))
	for range out {
	}
	assert.Equal(t, StateConnected, m.State())
}
