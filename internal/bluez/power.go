package bluez

import (
	"context"
	"fmt"

	"github.com/godbus/dbus/v5"
)

const (
	bluezService      = "org.bluez"
	adapterInterface  = "org.bluez.Adapter1"
	propertiesChanged = "org.freedesktop.DBus.Properties.PropertiesChanged"
)

// AdapterPath returns the BlueZ object path for an adapter such as "hci0".
func AdapterPath(adapterID string) dbus.ObjectPath {
	return dbus.ObjectPath("/org/bluez/" + adapterID)
}

// WatchPower reports the adapter's Powered property, first its current value
// and then every change, until ctx is done.
func WatchPower(ctx context.Context, adapterID string, report func(powered bool)) error {
	conn, err := dbus.ConnectSystemBus()
	if err != nil {
		return fmt.Errorf("failed to connect to system bus: %w", err)
	}
	defer conn.Close()

	path := AdapterPath(adapterID)
	rule := fmt.Sprintf("type='signal',interface='org.freedesktop.DBus.Properties',member='PropertiesChanged',path='%s'", path)
	if err := conn.BusObject().Call("org.freedesktop.DBus.AddMatch", 0, rule).Err; err != nil {
		return fmt.Errorf("failed to add match rule: %w", err)
	}
	signals := make(chan *dbus.Signal, 10)
	conn.Signal(signals)
	defer conn.RemoveSignal(signals)

	powered, err := readPowered(conn, path)
	if err != nil {
		log.Warnf("Failed to read adapter power state: %v", err)
	}
	report(powered)

	for {
		select {
		case <-ctx.Done():
			return nil
		case sig, ok := <-signals:
			if !ok {
				return fmt.Errorf("system bus connection closed")
			}
			if powered, ok := poweredChange(sig, path); ok {
				log.Infof("Adapter %s powered: %t", adapterID, powered)
				report(powered)
			}
		}
	}
}

func readPowered(conn *dbus.Conn, path dbus.ObjectPath) (bool, error) {
	v, err := conn.Object(bluezService, path).GetProperty(adapterInterface + ".Powered")
	if err != nil {
		return false, err
	}
	powered, ok := v.Value().(bool)
	if !ok {
		return false, fmt.Errorf("unexpected Powered value %v", v)
	}
	return powered, nil
}

// poweredChange extracts a Powered change for the adapter at path from a
// PropertiesChanged signal.
func poweredChange(sig *dbus.Signal, path dbus.ObjectPath) (bool, bool) {
	if sig == nil || sig.Name != propertiesChanged || sig.Path != path {
		return false, false
	}
	if len(sig.Body) < 2 {
		return false, false
	}
	iface, ok := sig.Body[0].(string)
	if !ok || iface != adapterInterface {
		return false, false
	}
	changes, ok := sig.Body[1].(map[string]dbus.Variant)
	if !ok {
		return false, false
	}
	v, ok := changes["Powered"]
	if !ok {
		return false, false
	}
	powered, ok := v.Value().(bool)
	return powered, ok
}
