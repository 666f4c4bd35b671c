package registry

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/thereceipt/pos-printer/internal/printer"
)

var _ printer.Preferences = (*Registry)(nil)

func tempRegistry(t *testing.T) (*Registry, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "printer_registry.json")
	reg, err := New(path)
	if err != nil {
		t.Fatalf("Failed to create registry: %v", err)
	}
	return reg, path
}

func TestNew(t *testing.T) {
	reg, path := tempRegistry(t)

	if reg.AutoReconnect() {
		t.Error("Expected auto-reconnect to default to off")
	}
	if _, ok := reg.LastDevice(); ok {
		t.Error("Expected no last device")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("Expected no file before the first save")
	}
}

func TestNewRejectsCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "printer_registry.json")
	if err := os.WriteFile(path, []byte("{not json"), 0644); err != nil {
		t.Fatal(err)
	}

	if _, err := New(path); err == nil {
		t.Error("Expected error for corrupt registry")
	}
}

func TestAutoReconnectPersists(t *testing.T) {
	reg, path := tempRegistry(t)

	if err := reg.SetAutoReconnect(true); err != nil {
		t.Fatalf("SetAutoReconnect: %v", err)
	}

	reloaded, err := New(path)
	if err != nil {
		t.Fatalf("Reload: %v", err)
	}
	if !reloaded.AutoReconnect() {
		t.Error("Expected auto-reconnect to persist")
	}
}

func TestLastDevice(t *testing.T) {
	reg, path := tempRegistry(t)

	dev := printer.Device{ID: "66:22:AB:CD:EF:01", Name: "MPT-II", Kind: printer.KindBLE, RSSI: -60}
	if err := reg.SetLastDevice(dev); err != nil {
		t.Fatalf("SetLastDevice: %v", err)
	}

	reloaded, _ := New(path)
	last, ok := reloaded.LastDevice()
	if !ok {
		t.Fatal("Expected last device after reload")
	}
	if last.ID != dev.ID || last.Name != "MPT-II" || last.Kind != printer.KindBLE {
		t.Errorf("Unexpected last device: %+v", last)
	}
	if last.RSSI != 0 {
		t.Errorf("Expected RSSI not to be persisted, got %d", last.RSSI)
	}

	if entry := reloaded.GetPrinterInfo(dev); entry == nil {
		t.Error("Expected last device to be a known printer")
	}

	if err := reloaded.ClearLastDevice(); err != nil {
		t.Fatalf("ClearLastDevice: %v", err)
	}
	if _, ok := reloaded.LastDevice(); ok {
		t.Error("Expected last device to be cleared")
	}
}

func TestSetAndGetPrinterName(t *testing.T) {
	reg, _ := tempRegistry(t)

	dev := printer.Device{ID: "66:22:ab:cd:ef:01", Name: "MPT-II", Kind: printer.KindBLE}
	if err := reg.SetPrinterName(dev, "  Kitchen Printer "); err != nil {
		t.Fatalf("SetPrinterName: %v", err)
	}

	// addresses are matched case-insensitively
	upper := printer.Device{ID: "66:22:AB:CD:EF:01", Kind: printer.KindBLE}
	if name := reg.GetPrinterName(upper); name != "Kitchen Printer" {
		t.Errorf("Expected 'Kitchen Printer', got '%s'", name)
	}
	if label := reg.Label(upper); label != "Kitchen Printer" {
		t.Errorf("Expected label 'Kitchen Printer', got '%s'", label)
	}

	other := printer.Device{ID: "/dev/rfcomm0", Name: "rfcomm0", Kind: printer.KindSerial}
	if label := reg.Label(other); label != "rfcomm0" {
		t.Errorf("Expected advertised name as label, got '%s'", label)
	}
}

func TestKindSeparatesIdentities(t *testing.T) {
	reg, _ := tempRegistry(t)

	serial := printer.Device{ID: "COM3", Kind: printer.KindSerial}
	network := printer.Device{ID: "COM3", Kind: printer.KindNetwork}
	reg.SetPrinterName(serial, "Bar")

	if name := reg.GetPrinterName(network); name != "" {
		t.Errorf("Expected no name for a different kind, got '%s'", name)
	}
}

func TestRemovePrinter(t *testing.T) {
	reg, _ := tempRegistry(t)

	dev := printer.Device{ID: "0416:5011", Kind: printer.KindUSB}
	reg.SetPrinterName(dev, "Counter")

	removed, err := reg.RemovePrinter(dev)
	if err != nil || !removed {
		t.Fatalf("Expected successful removal, got %v %v", removed, err)
	}
	if entry := reg.GetPrinterInfo(dev); entry != nil {
		t.Error("Expected nil after removal")
	}

	removed, _ = reg.RemovePrinter(dev)
	if removed {
		t.Error("Expected second removal to report false")
	}
}

func TestGetAll(t *testing.T) {
	reg, _ := tempRegistry(t)

	reg.Remember(printer.Device{ID: "AA", Name: "MPT-II", Kind: printer.KindBLE})
	reg.Remember(printer.Device{ID: "/dev/tty1", Kind: printer.KindSerial})
	reg.Remember(printer.Device{ID: "aa", Kind: printer.KindBLE})

	all := reg.GetAll()
	if len(all) != 2 {
		t.Errorf("Expected 2 printers, got %d", len(all))
	}
	if entry := all["ble:AA"]; entry == nil || entry.Advertised != "MPT-II" {
		t.Errorf("Unexpected entry: %+v", entry)
	}
}
