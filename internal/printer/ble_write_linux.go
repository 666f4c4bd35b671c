//go:build linux

package printer

import (
	"fmt"
	"strings"

	"github.com/godbus/dbus/v5"
	"tinygo.org/x/bluetooth"
)

const (
	bluezService        = "org.bluez"
	bluezCharacteristic = "org.bluez.GattCharacteristic1"
)

// characteristicWriter returns an acknowledged write for char. BlueZ is
// asked for a write request explicitly, so WriteValue only returns once the
// printer has answered.
func characteristicWriter(address string, char bluetooth.DeviceCharacteristic) (func([]byte) error, error) {
	conn, err := dbus.SystemBus()
	if err != nil {
		return nil, fmt.Errorf("failed to reach BlueZ: %w", err)
	}

	var objects map[dbus.ObjectPath]map[string]map[string]dbus.Variant
	err = conn.Object(bluezService, "/").
		Call("org.freedesktop.DBus.ObjectManager.GetManagedObjects", 0).
		Store(&objects)
	if err != nil {
		return nil, fmt.Errorf("failed to list BlueZ objects: %w", err)
	}

	path, ok := bluezCharacteristicPath(objects, address, char.UUID().String())
	if !ok {
		return nil, fmt.Errorf("characteristic %s not exported by BlueZ", char.UUID().String())
	}

	obj := conn.Object(bluezService, path)
	options := writeRequestOptions()
	return func(data []byte) error {
		return obj.Call(bluezCharacteristic+".WriteValue", 0, data, options).Err
	}, nil
}

// writeRequestOptions selects a write with response
func writeRequestOptions() map[string]dbus.Variant {
	return map[string]dbus.Variant{"type": dbus.MakeVariant("request")}
}

// bluezCharacteristicPath finds the object path of the characteristic with
// the given UUID on the device with the given address
func bluezCharacteristicPath(objects map[dbus.ObjectPath]map[string]map[string]dbus.Variant, address, uuid string) (dbus.ObjectPath, bool) {
	device := "/dev_" + strings.ReplaceAll(strings.ToUpper(address), ":", "_") + "/"

	for path, ifaces := range objects {
		props, ok := ifaces[bluezCharacteristic]
		if !ok || !strings.Contains(string(path), device) {
			continue
		}
		v, ok := props["UUID"]
		if !ok {
			continue
		}
		if s, ok := v.Value().(string); ok && strings.EqualFold(s, uuid) {
			return path, true
		}
	}
	return "", false
}
