package bluez

import (
	"testing"

	"github.com/godbus/dbus/v5"
	"github.com/stretchr/testify/require"
)

func propsSignal(path dbus.ObjectPath, iface string, changes map[string]dbus.Variant) *dbus.Signal {
	return &dbus.Signal{
		Path: path,
		Name: propertiesChanged,
		Body: []interface{}{iface, changes, []string{}},
	}
}

func TestPoweredChange(t *testing.T) {
	path := AdapterPath("hci0")
	require.Equal(t, dbus.ObjectPath("/org/bluez/hci0"), path)

	powered, ok := poweredChange(propsSignal(path, adapterInterface, map[string]dbus.Variant{
		"Powered": dbus.MakeVariant(true),
	}), path)
	require.True(t, ok)
	require.True(t, powered)

	powered, ok = poweredChange(propsSignal(path, adapterInterface, map[string]dbus.Variant{
		"Powered": dbus.MakeVariant(false),
	}), path)
	require.True(t, ok)
	require.False(t, powered)
}

func TestPoweredChangeIgnoresOtherSignals(t *testing.T) {
	path := AdapterPath("hci0")

	_, ok := poweredChange(propsSignal(path, adapterInterface, map[string]dbus.Variant{
		"Discovering": dbus.MakeVariant(true),
	}), path)
	require.False(t, ok)

	_, ok = poweredChange(propsSignal(path, "org.bluez.Device1", map[string]dbus.Variant{
		"Powered": dbus.MakeVariant(true),
	}), path)
	require.False(t, ok)

	_, ok = poweredChange(propsSignal(AdapterPath("hci1"), adapterInterface, map[string]dbus.Variant{
		"Powered": dbus.MakeVariant(true),
	}), path)
	require.False(t, ok)

	_, ok = poweredChange(&dbus.Signal{Path: path, Name: propertiesChanged}, path)
	require.False(t, ok)

	_, ok = poweredChange(nil, path)
	require.False(t, ok)
}
