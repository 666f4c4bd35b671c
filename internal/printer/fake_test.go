package printer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// fakeTransport records every call so tests can assert ordering
type fakeTransport struct {
	mu        sync.Mutex
	kind      string
	devices   []Device
	events    []string
	dialErrs  []error // consumed one per Dial
	writeErr  error
	failAfter int // writes that succeed before writeErr is returned
	links     []*fakeLink
	scanErr   error
	scanHold  bool // block in Scan until ctx is done
	writeHold chan struct{} // writes block until closed
}

func newFakeTransport(devices ...Device) *fakeTransport {
	return &fakeTransport{kind: KindBLE, devices: devices}
}

func (f *fakeTransport) Kind() string { return f.kind }

func (f *fakeTransport) Scan(ctx context.Context, found func(Device)) error {
	f.record("scan")
	if f.scanErr != nil {
		return f.scanErr
	}
	for _, d := range f.devices {
		found(d)
		// duplicate advertisement
		found(d)
	}
	if f.scanHold {
		<-ctx.Done()
		return ctx.Err()
	}
	return nil
}

func (f *fakeTransport) Dial(ctx context.Context, dev Device, lost func(error)) (Link, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.events = append(f.events, "dial:"+dev.ID)
	if len(f.dialErrs) > 0 {
		err := f.dialErrs[0]
		f.dialErrs = f.dialErrs[1:]
		if err != nil {
			return nil, err
		}
	}

	link := &fakeLink{transport: f, id: dev.ID, lost: lost, writeErr: f.writeErr, failAfter: f.failAfter, hold: f.writeHold}
	f.links = append(f.links, link)
	return link, nil
}

func (f *fakeTransport) record(event string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
}

func (f *fakeTransport) Events() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.events...)
}

func (f *fakeTransport) lastLink() *fakeLink {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.links[len(f.links)-1]
}

type fakeLink struct {
	transport *fakeTransport
	id        string
	lost      func(error)
	writeErr  error
	failAfter int
	hold      chan struct{}

	mu     sync.Mutex
	chunks [][]byte
	closed bool
}

func (l *fakeLink) Write(ctx context.Context, data []byte) error {
	if l.hold != nil {
		select {
		case <-l.hold:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.writeErr != nil && len(l.chunks) >= l.failAfter {
		return l.writeErr
	}
	l.chunks = append(l.chunks, append([]byte(nil), data...))
	return nil
}

func (l *fakeLink) Close() error {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
	l.transport.record("close:" + l.id)
	return nil
}

func (l *fakeLink) Chunks() [][]byte {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.chunks
}

// drop simulates the peripheral going away
func (l *fakeLink) drop() {
	l.lost(errors.New("peripheral disconnected"))
}

// fakePrefs is an in-memory Preferences
type fakePrefs struct {
	mu      sync.Mutex
	auto    bool
	last    *Device
	saved   int
	saveErr error
}

func (p *fakePrefs) LastDevice() (Device, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.last == nil {
		return Device{}, false
	}
	return *p.last, true
}

func (p *fakePrefs) SetLastDevice(dev Device) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.saved++
	if p.saveErr != nil {
		return p.saveErr
	}
	p.last = &dev
	return nil
}

func (p *fakePrefs) AutoReconnect() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.auto
}

// recordingObserver captures observer callbacks
type recordingObserver struct {
	mu       sync.Mutex
	states   []State
	found    []Device
	lost     []Device
	finished chan error
}

func newRecordingObserver() *recordingObserver {
	return &recordingObserver{finished: make(chan error, 8)}
}

func (o *recordingObserver) StateChanged(s State, _ *Device) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.states = append(o.states, s)
}

func (o *recordingObserver) DeviceFound(d Device) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.found = append(o.found, d)
}

func (o *recordingObserver) ScanFinished(err error) {
	o.finished <- err
}

func (o *recordingObserver) LinkLost(d Device, _ error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.lost = append(o.lost, d)
}

func (o *recordingObserver) States() []State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]State(nil), o.states...)
}

func (o *recordingObserver) Lost() []Device {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]Device(nil), o.lost...)
}

// testConfig has no delays so tests run fast
func testConfig() Config {
	cfg := DefaultConfig()
	cfg.ChunkDelay = 0
	cfg.RetryDelay = time.Millisecond
	cfg.ScanTimeout = time.Second
	return cfg
}

func bleDevice(id, name string) Device {
	return Device{ID: id, Name: name, Kind: KindBLE}
}

func payload(n int) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte(i % 251)
	}
	return data
}

var errBoom = fmt.Errorf("gatt write rejected")
