package printer

import (
	"context"
	"fmt"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/tarm/serial"
	"go.bug.st/serial/enumerator"
)

// Ports on macOS that are never printers
var darwinSkipPatterns = []string{"Bluetooth-Incoming-Port", "Modem", "DialIn", "Callout", "KeySerial", "debug-console", "wlan-debug"}

// SerialTransport prints to Bluetooth SPP printers bound to a serial port
// (/dev/rfcomm*, macOS /dev/cu.*, Windows COM) and to USB-serial printers
type SerialTransport struct {
	Baud int
}

// NewSerialTransport creates a serial transport
func NewSerialTransport(baud int) *SerialTransport {
	if baud == 0 {
		baud = 9600 // Default baud rate for most thermal printers
	}
	return &SerialTransport{Baud: baud}
}

// Kind implements Transport
func (t *SerialTransport) Kind() string {
	return KindSerial
}

// Scan implements Transport. Ports are enumerated once.
func (t *SerialTransport) Scan(ctx context.Context, found func(Device)) error {
	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return fmt.Errorf("failed to enumerate serial ports: %w", err)
	}

	for _, port := range ports {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !isPrinterPort(port.Name, port.IsUSB) {
			continue
		}

		name := filepath.Base(port.Name)
		if port.IsUSB && port.Product != "" {
			name = port.Product
		}
		found(Device{ID: port.Name, Name: name, Kind: KindSerial})
	}
	return nil
}

// isPrinterPort keeps SPP and USB-serial ports and drops system ports
func isPrinterPort(path string, usb bool) bool {
	base := filepath.Base(path)
	switch runtime.GOOS {
	case "darwin":
		if !strings.HasPrefix(base, "cu.") {
			return false
		}
		for _, pattern := range darwinSkipPatterns {
			if strings.Contains(base, pattern) {
				return false
			}
		}
		return true
	case "windows":
		return true
	default:
		return strings.HasPrefix(base, "rfcomm") || usb ||
			strings.HasPrefix(base, "ttyUSB") || strings.HasPrefix(base, "ttyACM")
	}
}

// Dial implements Transport
func (t *SerialTransport) Dial(ctx context.Context, dev Device, lost func(error)) (Link, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	config := &serial.Config{
		Name: dev.ID,
		Baud: t.Baud,
	}

	port, err := serial.OpenPort(config)
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port: %w", err)
	}

	log.Debug().Str("port", dev.ID).Int("baud", t.Baud).Msg("Serial port opened")
	return &serialLink{port: port, lost: lost}, nil
}

// serialLink is an open serial port. Serial ports give no disconnect event,
// so a failed write is treated as link loss.
type serialLink struct {
	port     *serial.Port
	lost     func(error)
	lostOnce sync.Once
	mu       sync.Mutex
}

// Write sends data to the serial printer
func (c *serialLink) Write(ctx context.Context, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	_, err := c.port.Write(data)
	c.mu.Unlock()

	if err != nil {
		c.dropped(err)
		return fmt.Errorf("failed to write to serial printer: %w", err)
	}
	return nil
}

// Close closes the serial connection
func (c *serialLink) Close() error {
	c.lostOnce.Do(func() {})

	c.mu.Lock()
	defer c.mu.Unlock()
	return c.port.Close()
}

func (c *serialLink) dropped(err error) {
	c.lostOnce.Do(func() {
		if c.lost != nil {
			go c.lost(err)
		}
	})
}
