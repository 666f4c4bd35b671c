package printer

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// Monitor periodically re-enumerates wired printers (serial, USB, network)
// and reports arrivals and removals. BLE is left to explicit scans.
type Monitor struct {
	manager  *Manager
	interval time.Duration
	kinds    []string
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup

	mu       sync.Mutex
	present  map[string]Device
	onAdd    func(Device)
	onRemove func(Device)
}

// NewMonitor creates a monitor for the given kinds; empty means every
// non-BLE transport of the manager
func NewMonitor(manager *Manager, interval time.Duration, kinds ...string) *Monitor {
	if len(kinds) == 0 {
		for _, k := range manager.Kinds() {
			if k != KindBLE {
				kinds = append(kinds, k)
			}
		}
	}
	ctx, cancel := context.WithCancel(context.Background())

	return &Monitor{
		manager:  manager,
		interval: interval,
		kinds:    kinds,
		ctx:      ctx,
		cancel:   cancel,
		present:  make(map[string]Device),
	}
}

// OnChange sets the arrival and removal callbacks
func (m *Monitor) OnChange(added, removed func(Device)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onAdd = added
	m.onRemove = removed
}

// Start begins monitoring
func (m *Monitor) Start() {
	if len(m.kinds) == 0 || m.interval <= 0 {
		return
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()

		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()

		m.Check(m.ctx)
		for {
			select {
			case <-m.ctx.Done():
				return
			case <-ticker.C:
				m.Check(m.ctx)
			}
		}
	}()
}

// Stop stops the monitor
func (m *Monitor) Stop() {
	m.cancel()
	m.wg.Wait()
}

// Check runs one enumeration pass and reports the difference with the
// previous pass. The connected printer always counts as present and is
// never dialed again. A transport whose scan fails keeps its previous devices.
func (m *Monitor) Check(ctx context.Context) {
	// connecting and scanning own the radio and ports
	switch m.manager.State() {
	case StateConnecting, StateScanning, StateDisconnecting:
		return
	}

	scanCtx, cancel := context.WithTimeout(ctx, m.interval)
	defer cancel()

	var resultsMu sync.Mutex
	results := make(map[string][]Device)
	failed := make(map[string]bool)

	var wg sync.WaitGroup
	for _, t := range m.manager.scanTransports(m.kinds) {
		wg.Add(1)
		go func(t Transport) {
			defer wg.Done()
			kind := t.Kind()

			var found []Device
			var foundMu sync.Mutex
			err := t.Scan(scanCtx, func(dev Device) {
				if dev.Kind == "" {
					dev.Kind = kind
				}
				foundMu.Lock()
				found = append(found, dev)
				foundMu.Unlock()
			})

			resultsMu.Lock()
			defer resultsMu.Unlock()
			if err != nil && !isContextErr(err) {
				log.Debug().Err(err).Str("kind", kind).Msg("Printer check failed")
				failed[kind] = true
				return
			}
			results[kind] = append(results[kind], found...)
		}(t)
	}
	wg.Wait()

	if ctx.Err() != nil {
		return
	}

	connected, isConnected := m.manager.Connected()

	m.mu.Lock()
	current := make(map[string]Device)
	for _, devices := range results {
		for _, dev := range devices {
			current[dev.ID] = dev
		}
	}
	for id, dev := range m.present {
		if failed[dev.Kind] {
			current[id] = dev
		}
	}
	if isConnected && m.watches(connected.Kind) {
		if _, ok := current[connected.ID]; !ok {
			if prev, ok := m.present[connected.ID]; ok {
				current[connected.ID] = prev
			} else {
				current[connected.ID] = connected
			}
		}
	}

	var added, removed []Device
	for id, dev := range current {
		if _, exists := m.present[id]; !exists {
			added = append(added, dev)
		}
	}
	for id, dev := range m.present {
		if _, exists := current[id]; !exists {
			removed = append(removed, dev)
		}
	}
	m.present = current
	onAdd, onRemove := m.onAdd, m.onRemove
	m.mu.Unlock()

	for _, dev := range added {
		log.Info().Str("device", dev.ID).Str("kind", dev.Kind).Msg("Printer added")
		m.manager.remember(dev)
		m.manager.observer.DeviceFound(dev)
		if onAdd != nil {
			onAdd(dev)
		}
	}
	for _, dev := range removed {
		log.Info().Str("device", dev.ID).Str("kind", dev.Kind).Msg("Printer removed")
		if onRemove != nil {
			onRemove(dev)
		}
	}
}

func (m *Monitor) watches(kind string) bool {
	for _, k := range m.kinds {
		if k == kind {
			return true
		}
	}
	return false
}

// Present returns the devices seen by the last check
func (m *Monitor) Present() []Device {
	m.mu.Lock()
	defer m.mu.Unlock()
	devices := make([]Device, 0, len(m.present))
	for _, dev := range m.present {
		devices = append(devices, dev)
	}
	return devices
}
