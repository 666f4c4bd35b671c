//go:build !linux

package printer

import "tinygo.org/x/bluetooth"

// characteristicWriter returns an acknowledged write for char
func characteristicWriter(_ string, char bluetooth.DeviceCharacteristic) (func([]byte) error, error) {
	return func(data []byte) error {
		_, err := char.Write(data)
		return err
	}, nil
}
