// Package registry persists printer preferences: the auto-reconnect
// setting, the last connected printer and custom printer names
package registry

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/thereceipt/pos-printer/internal/printer"
)

// Registry is a JSON-file backed store of printer preferences. It
// implements printer.Preferences.
type Registry struct {
	filePath string
	data     fileData
	mu       sync.RWMutex
}

type fileData struct {
	AutoReconnect bool                     `json:"auto_reconnect"`
	LastDevice    *printer.Device          `json:"last_device,omitempty"`
	Printers      map[string]*PrinterEntry `json:"printers"`
}

// PrinterEntry stores persistent information about a printer
type PrinterEntry struct {
	IdentityKey string    `json:"identity_key"`
	DeviceID    string    `json:"device_id"`
	Kind        string    `json:"kind"` // ble, serial, network, usb
	Advertised  string    `json:"advertised,omitempty"`
	Name        string    `json:"name,omitempty"` // Custom user-set name
	LastSeen    time.Time `json:"last_seen"`
}

// New creates a registry backed by filePath. A missing file is created on
// first save.
func New(filePath string) (*Registry, error) {
	r := &Registry{
		filePath: filePath,
		data:     fileData{Printers: make(map[string]*PrinterEntry)},
	}

	if err := r.load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to load registry: %w", err)
		}
	}

	return r, nil
}

// Path returns the backing file
func (r *Registry) Path() string {
	return r.filePath
}

// AutoReconnect implements printer.Preferences
func (r *Registry) AutoReconnect() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.data.AutoReconnect
}

// SetAutoReconnect changes and persists the auto-reconnect preference
func (r *Registry) SetAutoReconnect(enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	previous := r.data.AutoReconnect
	r.data.AutoReconnect = enabled
	if err := r.save(); err != nil {
		r.data.AutoReconnect = previous
		return err
	}
	return nil
}

// LastDevice implements printer.Preferences
func (r *Registry) LastDevice() (printer.Device, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.data.LastDevice == nil {
		return printer.Device{}, false
	}
	return *r.data.LastDevice, true
}

// SetLastDevice implements printer.Preferences. The device is also
// remembered as a known printer.
func (r *Registry) SetLastDevice(dev printer.Device) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored := dev
	stored.RSSI = 0
	r.data.LastDevice = &stored
	r.upsert(dev)
	return r.save()
}

// ClearLastDevice forgets the last connected printer
func (r *Registry) ClearLastDevice() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.data.LastDevice = nil
	return r.save()
}

// Remember records a discovered printer without persisting
func (r *Registry) Remember(dev printer.Device) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.upsert(dev)
}

func (r *Registry) upsert(dev printer.Device) *PrinterEntry {
	key := identityKey(dev)
	entry, exists := r.data.Printers[key]
	if !exists {
		entry = &PrinterEntry{IdentityKey: key, DeviceID: dev.ID, Kind: kindOf(dev)}
		r.data.Printers[key] = entry
	}
	if dev.Name != "" {
		entry.Advertised = dev.Name
	}
	entry.LastSeen = time.Now()
	return entry
}

// GetPrinterName gets the custom name for a printer, or empty string if not set
func (r *Registry) GetPrinterName(dev printer.Device) string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if entry, exists := r.data.Printers[identityKey(dev)]; exists {
		return entry.Name
	}
	return ""
}

// SetPrinterName sets a custom name for a printer; an empty name clears it
func (r *Registry) SetPrinterName(dev printer.Device, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry := r.upsert(dev)
	entry.Name = strings.TrimSpace(name)
	return r.save()
}

// Label returns the custom name, falling back to the advertised name
func (r *Registry) Label(dev printer.Device) string {
	if name := r.GetPrinterName(dev); name != "" {
		return name
	}
	return dev.DisplayName()
}

// GetPrinterInfo gets all stored information for a printer
func (r *Registry) GetPrinterInfo(dev printer.Device) *PrinterEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if entry, exists := r.data.Printers[identityKey(dev)]; exists {
		entryCopy := *entry
		return &entryCopy
	}
	return nil
}

// RemovePrinter removes a printer from the registry
func (r *Registry) RemovePrinter(dev printer.Device) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := identityKey(dev)
	if _, exists := r.data.Printers[key]; !exists {
		return false, nil
	}
	delete(r.data.Printers, key)
	return true, r.save()
}

// GetAll returns all registered printers
func (r *Registry) GetAll() map[string]*PrinterEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make(map[string]*PrinterEntry, len(r.data.Printers))
	for k, v := range r.data.Printers {
		entryCopy := *v
		result[k] = &entryCopy
	}
	return result
}

func (r *Registry) load() error {
	data, err := os.ReadFile(r.filePath)
	if err != nil {
		return err
	}

	if err := json.Unmarshal(data, &r.data); err != nil {
		return err
	}
	if r.data.Printers == nil {
		r.data.Printers = make(map[string]*PrinterEntry)
	}
	return nil
}

func (r *Registry) save() error {
	data, err := json.MarshalIndent(r.data, "", "  ")
	if err != nil {
		return err
	}

	if dir := filepath.Dir(r.filePath); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create registry directory: %w", err)
		}
	}

	// replace atomically
	tmp := r.filePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to save registry: %w", err)
	}
	if err := os.Rename(tmp, r.filePath); err != nil {
		return fmt.Errorf("failed to save registry: %w", err)
	}
	return nil
}

func kindOf(dev printer.Device) string {
	if dev.Kind == "" {
		return printer.KindBLE
	}
	return dev.Kind
}

// identityKey creates a stable key for a printer. BLE addresses and USB ids
// are compared case-insensitively.
func identityKey(dev printer.Device) string {
	kind := kindOf(dev)
	switch kind {
	case printer.KindBLE, printer.KindUSB:
		return fmt.Sprintf("%s:%s", kind, strings.ToUpper(dev.ID))
	default:
		return fmt.Sprintf("%s:%s", kind, dev.ID)
	}
}
