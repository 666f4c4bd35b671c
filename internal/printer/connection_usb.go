package printer

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/gousb"
	"github.com/rs/zerolog/log"
)

// USBTransport prints to printer-class USB devices through libusb
type USBTransport struct{}

// NewUSBTransport creates a USB transport
func NewUSBTransport() *USBTransport {
	return &USBTransport{}
}

// Kind implements Transport
func (t *USBTransport) Kind() string {
	return KindUSB
}

func usbID(vid, pid gousb.ID) string {
	return fmt.Sprintf("%04x:%04x", uint16(vid), uint16(pid))
}

func parseUSBID(id string) (gousb.ID, gousb.ID, error) {
	var vid, pid uint16
	if _, err := fmt.Sscanf(id, "%04x:%04x", &vid, &pid); err != nil {
		return 0, 0, fmt.Errorf("invalid USB id %q: %w", id, err)
	}
	return gousb.ID(vid), gousb.ID(pid), nil
}

// isPrinterClass checks the device class and every interface class
func isPrinterClass(desc *gousb.DeviceDesc) bool {
	if desc.Class == gousb.ClassPrinter {
		return true
	}
	for _, cfg := range desc.Configs {
		for _, iface := range cfg.Interfaces {
			for _, alt := range iface.AltSettings {
				if alt.Class == gousb.ClassPrinter {
					return true
				}
			}
		}
	}
	return false
}

// Scan implements Transport
func (t *USBTransport) Scan(ctx context.Context, found func(Device)) error {
	usb := gousb.NewContext()
	defer usb.Close()

	devices, err := usb.OpenDevices(isPrinterClass)
	if err != nil && len(devices) == 0 {
		return fmt.Errorf("failed to enumerate USB devices: %w", err)
	}

	for _, dev := range devices {
		desc := dev.Desc

		manufacturer, _ := dev.Manufacturer()
		product, _ := dev.Product()

		name := fmt.Sprintf("USB %04X:%04X", uint16(desc.Vendor), uint16(desc.Product))
		if manufacturer != "" || product != "" {
			name = fmt.Sprintf("%s %s", manufacturer, product)
		}
		dev.Close()

		if ctx.Err() == nil {
			found(Device{ID: usbID(desc.Vendor, desc.Product), Name: name, Kind: KindUSB})
		}
	}
	return nil
}

// Dial implements Transport. USB gives no reliable unplug event here, so
// lost is only reported through failed writes.
func (t *USBTransport) Dial(ctx context.Context, dev Device, lost func(error)) (Link, error) {
	vid, pid, err := parseUSBID(dev.ID)
	if err != nil {
		return nil, err
	}

	usb := gousb.NewContext()

	device, err := usb.OpenDeviceWithVIDPID(vid, pid)
	if err != nil {
		usb.Close()
		return nil, fmt.Errorf("failed to open USB device: %w", err)
	}
	if device == nil {
		usb.Close()
		return nil, fmt.Errorf("%w: %s", ErrDeviceNotFound, dev.ID)
	}

	// Try without SetAutoDetach first (some devices work without it)
	iface, done, err := device.DefaultInterface()
	if err != nil {
		device.SetAutoDetach(true)
		iface, done, err = device.DefaultInterface()
	}
	if err != nil {
		device.Close()
		usb.Close()
		return nil, fmt.Errorf("failed to claim USB interface: %w", err)
	}

	endpoint := outEndpoint(iface)
	if endpoint == nil {
		done()
		device.Close()
		usb.Close()
		return nil, fmt.Errorf("%w: no OUT endpoint on USB printer %s", ErrCharacteristicNotFound, dev.ID)
	}

	log.Debug().Str("device", dev.ID).Int("endpoint", endpoint.Desc.Number).Msg("USB printer claimed")
	return &usbLink{usb: usb, device: device, done: done, endpoint: endpoint, lost: lost}, nil
}

func outEndpoint(iface *gousb.Interface) *gousb.OutEndpoint {
	for _, epDesc := range iface.Setting.Endpoints {
		if epDesc.Direction == gousb.EndpointDirectionOut {
			if ep, err := iface.OutEndpoint(epDesc.Number); err == nil {
				return ep
			}
		}
	}
	return nil
}

// usbLink is a claimed printer interface
type usbLink struct {
	usb      *gousb.Context
	device   *gousb.Device
	done     func()
	endpoint *gousb.OutEndpoint
	lost     func(error)
	lostOnce sync.Once
	mu       sync.Mutex
}

// Write sends data to the USB printer
func (c *usbLink) Write(ctx context.Context, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, err := c.endpoint.WriteContext(ctx, data); err != nil {
		if ctx.Err() == nil {
			c.lostOnce.Do(func() {
				if c.lost != nil {
					go c.lost(err)
				}
			})
		}
		return fmt.Errorf("failed to write to USB printer: %w", err)
	}
	return nil
}

// Close releases the interface and the device
func (c *usbLink) Close() error {
	c.lostOnce.Do(func() {})

	c.mu.Lock()
	defer c.mu.Unlock()

	c.done()
	err := c.device.Close()
	c.usb.Close()
	return err
}
