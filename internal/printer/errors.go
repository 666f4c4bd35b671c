package printer

import "errors"

// Connection and transport errors
var (
	ErrAdapterOff             = errors.New("bluetooth adapter is powered off")
	ErrPermissionDenied       = errors.New("bluetooth permission denied")
	ErrServiceNotFound        = errors.New("printer service not found")
	ErrCharacteristicNotFound = errors.New("printer write characteristic not found")
	ErrNotConnected           = errors.New("no printer connected")
	ErrWriteFailed            = errors.New("failed to write to printer")
	ErrConnectFailed          = errors.New("failed to connect to printer")
	ErrNoLastDevice           = errors.New("no previously connected printer")
	ErrDeviceNotFound         = errors.New("printer not found")
	ErrLinkLost               = errors.New("printer connection lost")
)

// IsAdapterError reports whether err is an adapter-level failure that a
// retry cannot fix
func IsAdapterError(err error) bool {
	return errors.Is(err, ErrAdapterOff) || errors.Is(err, ErrPermissionDenied)
}

// UserMessage converts an operation error into an actionable message
func UserMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrAdapterOff):
		return "Bluetooth is turned off. Turn it on in system settings and try again."
	case errors.Is(err, ErrPermissionDenied):
		return "Bluetooth permission was denied. Grant access in system settings and try again."
	case errors.Is(err, ErrServiceNotFound), errors.Is(err, ErrCharacteristicNotFound):
		return "This printer is not supported or was not recognised. Choose a different printer."
	case errors.Is(err, ErrNotConnected):
		return "No printer is connected. Connect a printer first."
	case errors.Is(err, ErrWriteFailed):
		return "Failed to print. Check the printer and try again."
	case errors.Is(err, ErrNoLastDevice):
		return "No printer to reconnect to. Scan and pick a printer."
	case errors.Is(err, ErrDeviceNotFound):
		return "Printer not found. Make sure it is on and nearby, then scan again."
	case errors.Is(err, ErrLinkLost):
		return "Printer connection was lost. Reconnect to continue printing."
	case errors.Is(err, ErrConnectFailed):
		return "Could not connect to the printer. Make sure it is on and try again."
	default:
		return err.Error()
	}
}
