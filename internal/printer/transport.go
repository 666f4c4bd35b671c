package printer

import "context"

// Transport discovers and dials printers of one kind
type Transport interface {
	Kind() string
	// Scan reports devices until ctx is done or discovery finishes
	Scan(ctx context.Context, found func(Device)) error
	// Dial opens a link. lost is called at most once if the link drops
	// without Close being called.
	Dial(ctx context.Context, dev Device, lost func(error)) (Link, error)
}

// Link is an open connection able to accept print data
type Link interface {
	// Write sends one chunk and returns once the printer acknowledged it
	Write(ctx context.Context, data []byte) error
	Close() error
}

// Observer receives manager events. The shared printer state implements it.
type Observer interface {
	StateChanged(state State, dev *Device)
	DeviceFound(dev Device)
	ScanFinished(err error)
	// LinkLost reports an unexpected disconnect; intentional disconnects
	// only produce StateChanged
	LinkLost(dev Device, err error)
}

// Preferences is the persisted printer configuration
type Preferences interface {
	LastDevice() (Device, bool)
	SetLastDevice(dev Device) error
	AutoReconnect() bool
}

type nopObserver struct{}

func (nopObserver) StateChanged(State, *Device) {}
func (nopObserver) DeviceFound(Device)          {}
func (nopObserver) ScanFinished(error)          {}
func (nopObserver) LinkLost(Device, error)      {}
