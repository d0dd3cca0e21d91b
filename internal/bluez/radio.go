package bluez

import (
	"tinygo.org/x/bluetooth"
)

// radio is the part of a bluetooth adapter the transport drives.
type radio interface {
	Enable() error
	SetConnectHandler(func(id string, connected bool))
	// Scan blocks until StopScan is called.
	Scan(func(bluetooth.ScanResult)) error
	StopScan() error
	// Connect blocks until the connection is up or has failed.
	Connect(addr bluetooth.Address) (peer, error)
}

// peer is an open connection.
type peer interface {
	Disconnect() error
}

type adapterRadio struct {
	adapter *bluetooth.Adapter
}

func (r adapterRadio) Enable() error {
	return r.adapter.Enable()
}

func (r adapterRadio) SetConnectHandler(f func(id string, connected bool)) {
	r.adapter.SetConnectHandler(func(device bluetooth.Device, connected bool) {
		f(device.Address.String(), connected)
	})
}

func (r adapterRadio) Scan(f func(bluetooth.ScanResult)) error {
	return r.adapter.Scan(func(_ *bluetooth.Adapter, result bluetooth.ScanResult) {
		f(result)
	})
}

func (r adapterRadio) StopScan() error {
	return r.adapter.StopScan()
}

func (r adapterRadio) Connect(addr bluetooth.Address) (peer, error) {
	device, err := r.adapter.Connect(addr, bluetooth.ConnectionParams{})
	if err != nil {
		return nil, err
	}
	return &device, nil
}
