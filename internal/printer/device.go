// Package printer handles printer discovery, connection lifecycle and
// chunked delivery of print jobs
package printer

// Transport kinds
const (
	KindBLE     = "ble"
	KindSerial  = "serial"
	KindNetwork = "network"
	KindUSB     = "usb"
)

// Device represents a discovered or remembered printer
type Device struct {
	ID           string   `json:"id"` // hardware address, port path or host:port
	Name         string   `json:"name,omitempty"`
	Kind         string   `json:"kind"`
	RSSI         int      `json:"rssi,omitempty"`
	ServiceUUIDs []string `json:"service_uuids,omitempty"`
}

// DisplayName returns the advertised name, falling back to the ID
func (d Device) DisplayName() string {
	if d.Name != "" {
		return d.Name
	}
	return d.ID
}

// State is the connection state of the manager
type State int

const (
	StateDisconnected State = iota
	StateScanning
	StateConnecting
	StateConnected
	StateDisconnecting
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateScanning:
		return "scanning"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnecting:
		return "disconnecting"
	default:
		return "unknown"
	}
}

// MarshalText encodes the state by name for JSON payloads
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
