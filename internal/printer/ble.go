package printer

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"tinygo.org/x/bluetooth"
)

// BLETransport talks to GATT printers through the system Bluetooth adapter
type BLETransport struct {
	adapter         *bluetooth.Adapter
	serviceUUIDs    []string
	characteristics []string

	enableOnce sync.Once
	enableErr  error

	scanMu sync.Mutex // the adapter runs one scan at a time

	mu    sync.Mutex
	addrs map[string]bluetooth.Address
	links map[string]*bleLink
}

// NewBLETransport creates a BLE transport matching printers against the
// given service and write-characteristic allow-lists
func NewBLETransport(serviceUUIDs, characteristicUUIDs []string) *BLETransport {
	if len(serviceUUIDs) == 0 {
		serviceUUIDs = DefaultServiceUUIDs
	}
	if len(characteristicUUIDs) == 0 {
		characteristicUUIDs = DefaultWriteCharacteristicUUIDs
	}
	return &BLETransport{
		adapter:         bluetooth.DefaultAdapter,
		serviceUUIDs:    serviceUUIDs,
		characteristics: characteristicUUIDs,
		addrs:           make(map[string]bluetooth.Address),
		links:           make(map[string]*bleLink),
	}
}

// Kind implements Transport
func (t *BLETransport) Kind() string {
	return KindBLE
}

func (t *BLETransport) enable() error {
	t.enableOnce.Do(func() {
		t.adapter.SetConnectHandler(t.onConnectEvent)
		if err := t.adapter.Enable(); err != nil {
			t.enableErr = classifyAdapterError(err)
		}
	})
	return t.enableErr
}

// classifyAdapterError maps platform adapter errors onto sentinel errors
func classifyAdapterError(err error) error {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "permission"),
		strings.Contains(msg, "not authorized"),
		strings.Contains(msg, "notauthorized"),
		strings.Contains(msg, "access denied"),
		strings.Contains(msg, "unauthorized"):
		return fmt.Errorf("%w: %w", ErrPermissionDenied, err)
	case strings.Contains(msg, "powered off"),
		strings.Contains(msg, "poweredoff"),
		strings.Contains(msg, "not ready"),
		strings.Contains(msg, "notready"),
		strings.Contains(msg, "no such adapter"),
		strings.Contains(msg, "adapter not found"),
		strings.Contains(msg, "not available"):
		return fmt.Errorf("%w: %w", ErrAdapterOff, err)
	}
	return err
}

// Scan implements Transport
func (t *BLETransport) Scan(ctx context.Context, found func(Device)) error {
	if err := t.enable(); err != nil {
		return err
	}
	return t.scan(ctx, func(result bluetooth.ScanResult) bool {
		found(t.deviceFromScan(result))
		return false
	})
}

// scan runs the adapter scan until ctx ends or visit returns true
func (t *BLETransport) scan(ctx context.Context, visit func(bluetooth.ScanResult) bool) error {
	t.scanMu.Lock()
	defer t.scanMu.Unlock()

	scanCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- t.adapter.Scan(func(_ *bluetooth.Adapter, result bluetooth.ScanResult) {
			t.rememberAddress(result.Address)
			if scanCtx.Err() == nil && visit(result) {
				cancel()
			}
		})
	}()

	select {
	case err := <-done:
		if err != nil {
			return classifyAdapterError(err)
		}
		return ctx.Err()
	case <-scanCtx.Done():
		t.stopScan()
		<-done
		return ctx.Err()
	}
}

// stopScan retries briefly because the adapter rejects a stop issued before
// the scan has fully started
func (t *BLETransport) stopScan() {
	var err error
	for i := 0; i < 10; i++ {
		if err = t.adapter.StopScan(); err == nil {
			return
		}
		time.Sleep(50 * time.Millisecond)
	}
	log.Warn().Err(err).Msg("Failed to stop BLE scan")
}

func (t *BLETransport) deviceFromScan(result bluetooth.ScanResult) Device {
	dev := Device{
		ID:   result.Address.String(),
		Name: result.LocalName(),
		Kind: KindBLE,
		RSSI: int(result.RSSI),
	}
	for _, s := range t.serviceUUIDs {
		uuid, err := bluetooth.ParseUUID(s)
		if err != nil {
			continue
		}
		if result.HasServiceUUID(uuid) {
			dev.ServiceUUIDs = append(dev.ServiceUUIDs, s)
		}
	}
	return dev
}

func (t *BLETransport) rememberAddress(addr bluetooth.Address) {
	t.mu.Lock()
	t.addrs[strings.ToUpper(addr.String())] = addr
	t.mu.Unlock()
}

func (t *BLETransport) address(id string) (bluetooth.Address, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	addr, ok := t.addrs[strings.ToUpper(id)]
	return addr, ok
}

// locate runs a targeted scan for a device not seen this session, e.g. the
// last printer on startup
func (t *BLETransport) locate(ctx context.Context, id string) (bluetooth.Address, error) {
	scanCtx, cancel := context.WithTimeout(ctx, DefaultScanTimeout)
	defer cancel()

	var (
		addr  bluetooth.Address
		found bool
	)
	err := t.scan(scanCtx, func(result bluetooth.ScanResult) bool {
		if strings.EqualFold(result.Address.String(), id) {
			addr = result.Address
			found = true
			return true
		}
		return false
	})
	if found {
		return addr, nil
	}
	if err != nil && !isContextErr(err) {
		return addr, err
	}
	if ctx.Err() != nil {
		return addr, ctx.Err()
	}
	return addr, fmt.Errorf("%w: %s", ErrDeviceNotFound, id)
}

// Dial implements Transport
func (t *BLETransport) Dial(ctx context.Context, dev Device, lost func(error)) (Link, error) {
	if err := t.enable(); err != nil {
		return nil, err
	}

	addr, ok := t.address(dev.ID)
	if !ok {
		var err error
		if addr, err = t.locate(ctx, dev.ID); err != nil {
			return nil, err
		}
	}

	type result struct {
		device bluetooth.Device
		err    error
	}
	resc := make(chan result, 1)
	go func() {
		device, err := t.adapter.Connect(addr, bluetooth.ConnectionParams{})
		resc <- result{device, err}
	}()

	var device bluetooth.Device
	select {
	case <-ctx.Done():
		go func() {
			if r := <-resc; r.err == nil {
				r.device.Disconnect()
			}
		}()
		return nil, ctx.Err()
	case r := <-resc:
		if r.err != nil {
			return nil, classifyAdapterError(r.err)
		}
		device = r.device
	}

	char, err := t.writeCharacteristic(device)
	if err != nil {
		device.Disconnect()
		return nil, err
	}

	id := strings.ToUpper(addr.String())
	write, err := characteristicWriter(id, char)
	if err != nil {
		device.Disconnect()
		return nil, fmt.Errorf("%w: %w", ErrCharacteristicNotFound, err)
	}

	link := &bleLink{
		transport: t,
		id:        id,
		device:    device,
		write:     write,
		lost:      lost,
	}
	t.mu.Lock()
	t.links[link.id] = link
	t.mu.Unlock()

	return link, nil
}

// gattService is the discovered shape of one service, used to pick the
// write characteristic
type gattService struct {
	UUID            string
	Characteristics []string
}

// selectWriteCharacteristic finds the first allow-listed characteristic in
// an allow-listed service and returns its indexes
func selectWriteCharacteristic(services []gattService, allowedServices, allowedChars []string) (int, int, error) {
	matched := false
	for si, svc := range services {
		if !MatchUUID(svc.UUID, allowedServices) {
			continue
		}
		matched = true
		for ci, c := range svc.Characteristics {
			if MatchUUID(c, allowedChars) {
				return si, ci, nil
			}
		}
	}
	if !matched {
		return -1, -1, ErrServiceNotFound
	}
	return -1, -1, ErrCharacteristicNotFound
}

func (t *BLETransport) writeCharacteristic(device bluetooth.Device) (bluetooth.DeviceCharacteristic, error) {
	var none bluetooth.DeviceCharacteristic

	services, err := device.DiscoverServices(nil)
	if err != nil {
		return none, fmt.Errorf("%w: %w", ErrServiceNotFound, err)
	}

	var (
		shapes []gattService
		chars  [][]bluetooth.DeviceCharacteristic
	)
	for i := range services {
		svc := services[i]
		uuid := svc.UUID().String()
		if !MatchUUID(uuid, t.serviceUUIDs) {
			continue
		}
		discovered, err := svc.DiscoverCharacteristics(nil)
		if err != nil {
			log.Debug().Err(err).Str("service", uuid).Msg("Characteristic discovery failed")
			continue
		}
		shape := gattService{UUID: uuid}
		for j := range discovered {
			shape.Characteristics = append(shape.Characteristics, discovered[j].UUID().String())
		}
		shapes = append(shapes, shape)
		chars = append(chars, discovered)
	}

	if len(shapes) == 0 {
		return none, ErrServiceNotFound
	}

	si, ci, err := selectWriteCharacteristic(shapes, t.serviceUUIDs, t.characteristics)
	if err != nil {
		return none, err
	}

	log.Debug().Str("service", shapes[si].UUID).Str("characteristic", shapes[si].Characteristics[ci]).Msg("Using write characteristic")
	return chars[si][ci], nil
}

func (t *BLETransport) onConnectEvent(device bluetooth.Device, connected bool) {
	if connected {
		return
	}

	id := strings.ToUpper(device.Address.String())
	t.mu.Lock()
	link, ok := t.links[id]
	delete(t.links, id)
	t.mu.Unlock()

	if ok {
		link.dropped()
	}
}

type bleLink struct {
	transport *BLETransport
	id        string
	device    bluetooth.Device
	write     func([]byte) error
	lost      func(error)
	lostOnce  sync.Once
}

// Write sends one chunk with write-with-response
func (l *bleLink) Write(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	errc := make(chan error, 1)
	go func() {
		errc <- l.write(data)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-errc:
		return err
	}
}

// Close disconnects without reporting a link loss
func (l *bleLink) Close() error {
	l.transport.mu.Lock()
	if l.transport.links[l.id] == l {
		delete(l.transport.links, l.id)
	}
	l.transport.mu.Unlock()

	l.lostOnce.Do(func() {})
	return l.device.Disconnect()
}

func (l *bleLink) dropped() {
	l.lostOnce.Do(func() {
		if l.lost != nil {
			l.lost(ErrLinkLost)
		}
	})
}
