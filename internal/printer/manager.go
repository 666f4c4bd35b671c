package printer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Connection defaults
const (
	DefaultConnectRetries = 1
	DefaultRetryDelay     = time.Second
	DefaultScanTimeout    = 10 * time.Second
)

// Config tunes the manager. Zero timeouts mean no limit.
type Config struct {
	ChunkSize      int
	ChunkDelay     time.Duration
	ConnectRetries int
	RetryDelay     time.Duration
	ScanTimeout    time.Duration
	DialTimeout    time.Duration
	WriteTimeout   time.Duration
	Filter         *Filter
}

// DefaultConfig returns the tuned defaults for common 58mm/80mm BLE printers
func DefaultConfig() Config {
	return Config{
		ChunkSize:      DefaultChunkSize,
		ChunkDelay:     DefaultChunkDelay,
		ConnectRetries: DefaultConnectRetries,
		RetryDelay:     DefaultRetryDelay,
		ScanTimeout:    DefaultScanTimeout,
		Filter:         DefaultFilter(),
	}
}

// ScanOptions controls a single scan
type ScanOptions struct {
	// FilterPrinters hides devices that do not look like printers
	FilterPrinters bool
	// Timeout overrides Config.ScanTimeout when positive
	Timeout time.Duration
	// Kinds limits the scan to some transports; empty scans all
	Kinds []string
}

// Manager owns the printer connection. Connect, Disconnect and Print are
// serialised; state accessors never block on an in-flight operation.
type Manager struct {
	cfg        Config
	transports []Transport
	prefs      Preferences
	observer   Observer
	writer     *ChunkWriter
	sleep      func(ctx context.Context, d time.Duration) error

	opMu sync.Mutex

	mu          sync.RWMutex
	state       State
	device      *Device
	link        Link
	linkGen     uint64
	devices     map[string]Device
	deviceOrder []string
	scanCancel  context.CancelFunc
	scanGen     uint64
}

// NewManager creates a manager over the given transports. prefs and
// observer may be nil.
func NewManager(cfg Config, prefs Preferences, observer Observer, transports ...Transport) *Manager {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if cfg.ConnectRetries < 0 {
		cfg.ConnectRetries = 0
	}
	if cfg.ScanTimeout <= 0 {
		cfg.ScanTimeout = DefaultScanTimeout
	}
	if cfg.Filter == nil {
		cfg.Filter = DefaultFilter()
	}
	if observer == nil {
		observer = nopObserver{}
	}

	return &Manager{
		cfg:        cfg,
		transports: transports,
		prefs:      prefs,
		observer:   observer,
		writer:     NewChunkWriter(cfg.ChunkSize, cfg.ChunkDelay),
		sleep:      sleepContext,
		devices:    make(map[string]Device),
	}
}

// Config returns the effective configuration
func (m *Manager) Config() Config {
	return m.cfg
}

// State returns the current connection state
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Connected returns the connected device, if any
func (m *Manager) Connected() (Device, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.state != StateConnected || m.device == nil {
		return Device{}, false
	}
	return *m.device, true
}

// Devices returns devices discovered so far, in discovery order
func (m *Manager) Devices() []Device {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]Device, 0, len(m.deviceOrder))
	for _, id := range m.deviceOrder {
		result = append(result, m.devices[id])
	}
	return result
}

// GetDevice returns a discovered device by ID
func (m *Manager) GetDevice(id string) (Device, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	dev, ok := m.devices[id]
	return dev, ok
}

// Kinds lists the enabled transport kinds
func (m *Manager) Kinds() []string {
	kinds := make([]string, 0, len(m.transports))
	for _, t := range m.transports {
		kinds = append(kinds, t.Kind())
	}
	return kinds
}

func (m *Manager) transport(kind string) Transport {
	for _, t := range m.transports {
		if t.Kind() == kind {
			return t
		}
	}
	return nil
}

// setState updates the state and notifies the observer outside the lock
func (m *Manager) setState(state State, dev *Device) {
	m.mu.Lock()
	changed := m.state != state
	m.state = state
	m.mu.Unlock()

	if changed {
		m.observer.StateChanged(state, dev)
	}
}

// transition moves from one state to another only if the manager is still
// in the expected state
func (m *Manager) transition(from, to State, dev *Device) bool {
	m.mu.Lock()
	if m.state != from {
		m.mu.Unlock()
		return false
	}
	m.state = to
	m.mu.Unlock()

	m.observer.StateChanged(to, dev)
	return true
}

// Scan starts discovery and streams each new device once. Starting a scan
// cancels the one in progress. The channel closes when the scan ends and
// must be drained by the caller.
func (m *Manager) Scan(ctx context.Context, opts ScanOptions) (<-chan Device, error) {
	out, _, err := m.startScan(ctx, opts)
	return out, err
}

// Discover runs a scan to completion and returns what it found
func (m *Manager) Discover(ctx context.Context, opts ScanOptions) ([]Device, error) {
	out, errc, err := m.startScan(ctx, opts)
	if err != nil {
		return nil, err
	}

	var found []Device
	for dev := range out {
		found = append(found, dev)
	}
	return found, <-errc
}

// StopScan cancels the active scan, if any
func (m *Manager) StopScan() {
	m.mu.Lock()
	cancel := m.scanCancel
	m.scanCancel = nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

func (m *Manager) startScan(ctx context.Context, opts ScanOptions) (<-chan Device, <-chan error, error) {
	transports := m.scanTransports(opts.Kinds)
	if len(transports) == 0 {
		return nil, nil, fmt.Errorf("no transports available to scan")
	}

	timeout := m.cfg.ScanTimeout
	if opts.Timeout > 0 {
		timeout = opts.Timeout
	}
	scanCtx, cancel := context.WithTimeout(ctx, timeout)

	m.mu.Lock()
	previous := m.scanCancel
	m.scanCancel = cancel
	m.scanGen++
	gen := m.scanGen
	m.mu.Unlock()

	if previous != nil {
		log.Debug().Msg("Stopping previous scan")
		previous()
	}

	m.transition(StateDisconnected, StateScanning, nil)

	log.Info().Dur("timeout", timeout).Strs("kinds", m.Kinds()).Msg("Scanning for printers")

	out := make(chan Device, 16)
	errc := make(chan error, 1)

	var seenMu sync.Mutex
	seen := make(map[string]bool)
	closed := false

	found := func(dev Device) {
		if dev.ID == "" {
			return
		}
		seenMu.Lock()
		defer seenMu.Unlock()
		if closed || seen[dev.ID] {
			return
		}
		if opts.FilterPrinters && !m.cfg.Filter.Match(dev) {
			return
		}
		seen[dev.ID] = true

		m.remember(dev)
		log.Debug().Str("device", dev.ID).Str("name", dev.Name).Str("kind", dev.Kind).Int("rssi", dev.RSSI).Msg("Found device")
		m.observer.DeviceFound(dev)

		select {
		case out <- dev:
		case <-scanCtx.Done():
		}
	}

	go func() {
		var wg sync.WaitGroup
		errs := make([]error, len(transports))
		for i, t := range transports {
			wg.Add(1)
			go func(i int, t Transport) {
				defer wg.Done()
				if err := t.Scan(scanCtx, found); err != nil && !isContextErr(err) {
					log.Warn().Err(err).Str("kind", t.Kind()).Msg("Scan failed")
					errs[i] = err
				}
			}(i, t)
		}
		wg.Wait()
		cancel()

		seenMu.Lock()
		closed = true
		close(out)
		seenMu.Unlock()

		err := scanResult(errs)
		m.finishScan(gen, cancel, err)
		errc <- err
	}()

	return out, errc, nil
}

func (m *Manager) scanTransports(kinds []string) []Transport {
	if len(kinds) == 0 {
		return m.transports
	}
	var selected []Transport
	for _, t := range m.transports {
		for _, k := range kinds {
			if t.Kind() == k {
				selected = append(selected, t)
				break
			}
		}
	}
	return selected
}

// scanResult reports an error only when every transport failed
func scanResult(errs []error) error {
	var joined []error
	for _, err := range errs {
		if err == nil {
			return nil
		}
		joined = append(joined, err)
	}
	return errors.Join(joined...)
}

func (m *Manager) finishScan(gen uint64, cancel context.CancelFunc, err error) {
	cancel()

	m.mu.Lock()
	current := gen == m.scanGen
	if current {
		m.scanCancel = nil
	}
	m.mu.Unlock()

	if !current {
		return
	}
	m.transition(StateScanning, StateDisconnected, nil)
	log.Info().Int("devices", len(m.Devices())).Msg("Scan finished")
	m.observer.ScanFinished(err)
}

func (m *Manager) remember(dev Device) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.devices[dev.ID]; !exists {
		m.deviceOrder = append(m.deviceOrder, dev.ID)
	}
	m.devices[dev.ID] = dev
}

// Connect connects to dev. A different connected device is disconnected
// first. A failed attempt is retried ConnectRetries times after RetryDelay;
// adapter errors are returned immediately.
func (m *Manager) Connect(ctx context.Context, dev Device) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	return m.connectLocked(ctx, dev)
}

func (m *Manager) connectLocked(ctx context.Context, dev Device) error {
	if dev.Kind == "" {
		if known, ok := m.GetDevice(dev.ID); ok {
			dev = known
		} else {
			dev.Kind = KindBLE
		}
	}

	if current, ok := m.Connected(); ok {
		if current.ID == dev.ID {
			return nil
		}
		log.Info().Str("from", current.ID).Str("to", dev.ID).Msg("Switching printer")
		if err := m.disconnectLocked(); err != nil {
			log.Warn().Err(err).Str("device", current.ID).Msg("Disconnect before switching failed")
		}
	}

	t := m.transport(dev.Kind)
	if t == nil {
		return fmt.Errorf("%w: no %s transport for %s", ErrDeviceNotFound, dev.Kind, dev.ID)
	}

	m.StopScan()
	m.setState(StateConnecting, &dev)

	var (
		link Link
		err  error
	)
	attempts := 1 + m.cfg.ConnectRetries
	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			log.Warn().Err(err).Str("device", dev.ID).Int("attempt", attempt).Msg("Retrying connect")
			if serr := m.sleep(ctx, m.cfg.RetryDelay); serr != nil {
				err = serr
				break
			}
		}

		link, err = m.dial(ctx, t, dev)
		if err == nil || IsAdapterError(err) || ctx.Err() != nil {
			break
		}
	}

	if err != nil {
		m.mu.Lock()
		m.device = nil
		m.mu.Unlock()
		m.setState(StateDisconnected, nil)
		log.Error().Err(err).Str("device", dev.ID).Msg("Connect failed")
		if IsAdapterError(err) {
			return err
		}
		return fmt.Errorf("%w: %s: %w", ErrConnectFailed, dev.DisplayName(), err)
	}

	m.mu.Lock()
	m.link = link
	m.device = &dev
	m.mu.Unlock()
	m.setState(StateConnected, &dev)

	log.Info().Str("device", dev.ID).Str("name", dev.Name).Str("kind", dev.Kind).Msg("Printer connected")

	if m.prefs != nil {
		if err := m.prefs.SetLastDevice(dev); err != nil {
			log.Warn().Err(err).Msg("Failed to save last connected printer")
		}
	}
	return nil
}

func (m *Manager) dial(ctx context.Context, t Transport, dev Device) (Link, error) {
	m.mu.Lock()
	m.linkGen++
	gen := m.linkGen
	m.mu.Unlock()

	dialCtx := ctx
	if m.cfg.DialTimeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, m.cfg.DialTimeout)
		defer cancel()
	}

	return t.Dial(dialCtx, dev, func(err error) {
		m.handleLinkLost(gen, err)
	})
}

// handleLinkLost moves to Disconnected after an unexpected drop. Drops of a
// link that was closed on purpose, or replaced, are ignored.
func (m *Manager) handleLinkLost(gen uint64, cause error) {
	m.mu.Lock()
	if gen != m.linkGen || m.link == nil || m.device == nil {
		m.mu.Unlock()
		return
	}
	link := m.link
	dev := *m.device
	m.link = nil
	m.device = nil
	m.linkGen++
	m.mu.Unlock()

	if err := link.Close(); err != nil {
		log.Debug().Err(err).Str("device", dev.ID).Msg("Close after link loss")
	}

	if cause == nil {
		cause = ErrLinkLost
	} else if !errors.Is(cause, ErrLinkLost) {
		cause = fmt.Errorf("%w: %w", ErrLinkLost, cause)
	}

	log.Warn().Err(cause).Str("device", dev.ID).Msg("Printer connection lost")
	m.setState(StateDisconnected, nil)
	m.observer.LinkLost(dev, cause)
}

// Disconnect closes the connection on request. It never raises the
// reconnect prompt.
func (m *Manager) Disconnect(ctx context.Context) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	return m.disconnectLocked()
}

func (m *Manager) disconnectLocked() error {
	m.mu.Lock()
	if m.link == nil {
		m.mu.Unlock()
		return nil
	}
	link := m.link
	dev := *m.device
	// invalidate the lost callback of this link
	m.linkGen++
	m.mu.Unlock()

	m.setState(StateDisconnecting, &dev)
	err := link.Close()

	m.mu.Lock()
	m.link = nil
	m.device = nil
	m.mu.Unlock()
	m.setState(StateDisconnected, nil)

	log.Info().Str("device", dev.ID).Msg("Printer disconnected")

	if err != nil {
		return fmt.Errorf("failed to disconnect: %w", err)
	}
	return nil
}

// Print writes a complete job in chunks. A failure aborts the job; the
// caller must resend the whole job.
func (m *Manager) Print(ctx context.Context, data []byte) error {
	m.opMu.Lock()
	defer m.opMu.Unlock()

	m.mu.RLock()
	link := m.link
	var dev Device
	if m.device != nil {
		dev = *m.device
	}
	m.mu.RUnlock()

	if link == nil {
		return ErrNotConnected
	}
	if len(data) == 0 {
		return nil
	}

	writeCtx := ctx
	if m.cfg.WriteTimeout > 0 {
		var cancel context.CancelFunc
		writeCtx, cancel = context.WithTimeout(ctx, m.cfg.WriteTimeout)
		defer cancel()
	}

	start := time.Now()
	if err := m.writer.Write(writeCtx, link, data); err != nil {
		log.Error().Err(err).Str("device", dev.ID).Int("bytes", len(data)).Msg("Print failed")
		return err
	}

	log.Info().Str("device", dev.ID).Int("bytes", len(data)).Dur("took", time.Since(start)).Msg("Print job sent")
	return nil
}

// Reconnect connects to the last connected printer
func (m *Manager) Reconnect(ctx context.Context) error {
	if m.prefs == nil {
		return ErrNoLastDevice
	}
	dev, ok := m.prefs.LastDevice()
	if !ok {
		return ErrNoLastDevice
	}

	log.Info().Str("device", dev.ID).Msg("Reconnecting to last printer")
	return m.Connect(ctx, dev)
}

// AutoReconnect runs once at startup. It makes one reconnect attempt when
// the preference is on and a last device is known, and reports whether it
// tried.
func (m *Manager) AutoReconnect(ctx context.Context) (bool, error) {
	if m.prefs == nil || !m.prefs.AutoReconnect() {
		return false, nil
	}
	if _, ok := m.prefs.LastDevice(); !ok {
		return false, nil
	}
	return true, m.Reconnect(ctx)
}

// Close stops scanning and drops the connection
func (m *Manager) Close() error {
	m.StopScan()
	return m.Disconnect(context.Background())
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
