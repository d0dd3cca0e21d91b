/*
blelink - Keeps a single BLE peripheral connected.
Copyright (C) 2024, The Cacophony Project

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU General Public License for more details.

You should have received a copy of the GNU General Public License
along with this program. If not, see <http://www.gnu.org/licenses/>.
*/

// Package bluez drives a BlueZ adapter for the link engine.
package bluez

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/TheCacophonyProject/blelink/advertisement"
	"github.com/TheCacophonyProject/blelink/internal/link"
	"github.com/sirupsen/logrus"
	"tinygo.org/x/bluetooth"
)

var log = logrus.New()

func SetLogger(l *logrus.Logger) {
	log = l
}

const (
	eventBufferSize = 64
	scanStopWait    = time.Second
)

var (
	errUnknownDevice = errors.New("device has not been seen in a scan")
	errScanBusy      = errors.New("previous scan has not stopped")
)

// Transport implements link.Transport on tinygo's bluetooth package.
type Transport struct {
	adapterID string
	radio     radio
	events    chan link.TransportEvent

	mu        sync.Mutex
	scanning  bool
	scanDone  chan struct{}
	addresses map[string]bluetooth.Address
	devices   map[string]peer
	// pending holds connects in flight. false marks a connect that was
	// cancelled and is dropped when it completes.
	pending map[string]bool
	// requested holds devices we asked to disconnect.
	requested map[string]bool
}

func New(adapterID string) *Transport {
	return newTransport(adapterID, adapterRadio{adapter: bluetooth.DefaultAdapter})
}

func newTransport(adapterID string, r radio) *Transport {
	return &Transport{
		adapterID: adapterID,
		radio:     r,
		events:    make(chan link.TransportEvent, eventBufferSize),
		addresses: map[string]bluetooth.Address{},
		devices:   map[string]peer{},
		pending:   map[string]bool{},
		requested: map[string]bool{},
	}
}

// Start enables the adapter and reports its power state until ctx is done.
func (t *Transport) Start(ctx context.Context) error {
	if err := t.radio.Enable(); err != nil {
		return fmt.Errorf("failed to enable adapter: %w", err)
	}
	t.radio.SetConnectHandler(t.onConnectChange)

	go func() {
		for {
			err := WatchPower(ctx, t.adapterID, func(powered bool) {
				if !powered {
					t.mu.Lock()
					t.scanning = false
					t.mu.Unlock()
				}
				t.emit(link.StateChanged{Ready: powered})
			})
			if ctx.Err() != nil {
				return
			}
			log.Errorf("Adapter power watch stopped: %v", err)
			t.emit(link.StateChanged{Ready: false})
			select {
			case <-ctx.Done():
				return
			case <-time.After(5 * time.Second):
			}
		}
	}()
	return nil
}

func (t *Transport) Events() <-chan link.TransportEvent {
	return t.events
}

func (t *Transport) StartScan() error {
	t.mu.Lock()
	if t.scanning {
		t.mu.Unlock()
		return nil
	}
	prev := t.scanDone
	t.mu.Unlock()

	// tinygo allows one Scan call at a time, so let a stopped scan unwind.
	if prev != nil {
		select {
		case <-prev:
		case <-time.After(scanStopWait):
			return errScanBusy
		}
	}

	done := make(chan struct{})
	t.mu.Lock()
	t.scanning = true
	t.scanDone = done
	t.mu.Unlock()
	go func() {
		defer close(done)
		err := t.radio.Scan(t.onScanResult)
		t.mu.Lock()
		if t.scanDone == done {
			t.scanning = false
		}
		t.mu.Unlock()
		if err != nil {
			log.Warnf("Scan ended: %v", err)
		}
	}()
	return nil
}

func (t *Transport) StopScan() error {
	t.mu.Lock()
	scanning := t.scanning
	t.scanning = false
	t.mu.Unlock()
	if !scanning {
		return nil
	}
	return t.radio.StopScan()
}

func (t *Transport) Connect(id string) error {
	t.mu.Lock()
	addr, ok := t.addresses[id]
	if !ok {
		t.mu.Unlock()
		return fmt.Errorf("%s: %w", id, errUnknownDevice)
	}
	if _, inFlight := t.pending[id]; inFlight {
		t.pending[id] = true
		t.mu.Unlock()
		return nil
	}
	t.pending[id] = true
	t.mu.Unlock()

	go func() {
		device, err := t.radio.Connect(addr)

		t.mu.Lock()
		wanted := t.pending[id]
		delete(t.pending, id)
		if err == nil && wanted {
			t.devices[id] = device
		}
		t.mu.Unlock()

		switch {
		case !wanted:
			log.WithField("device", id).Debug("Dropping cancelled connection")
			if err == nil {
				if err := device.Disconnect(); err != nil {
					log.Warnf("Failed to disconnect cancelled connection to %s: %v", id, err)
				}
			}
		case err != nil:
			t.emit(link.FailedToConnect{DeviceID: id, Cause: err})
		default:
			t.emit(link.DeviceConnected{DeviceID: id})
		}
	}()
	return nil
}

func (t *Transport) Disconnect(id string) error {
	t.mu.Lock()
	if _, inFlight := t.pending[id]; inFlight {
		t.pending[id] = false
		t.mu.Unlock()
		go t.emit(link.DeviceDisconnected{DeviceID: id})
		return nil
	}
	device, ok := t.devices[id]
	if !ok {
		t.mu.Unlock()
		go t.emit(link.DeviceDisconnected{DeviceID: id})
		return nil
	}
	t.requested[id] = true
	t.mu.Unlock()

	if err := device.Disconnect(); err != nil {
		t.mu.Lock()
		delete(t.requested, id)
		t.mu.Unlock()
		return fmt.Errorf("failed to disconnect %s: %w", id, err)
	}
	return nil
}

// onConnectChange reports disconnects of devices we hold. Connects are
// reported when Connect returns, and cancelled connects are dropped silently.
func (t *Transport) onConnectChange(id string, connected bool) {
	if connected {
		return
	}
	t.mu.Lock()
	_, known := t.devices[id]
	requested := t.requested[id]
	delete(t.devices, id)
	delete(t.requested, id)
	t.mu.Unlock()
	if !known && !requested {
		return
	}

	var cause error
	if !requested {
		cause = link.ErrUnexpectedDisconnect
	}
	t.emit(link.DeviceDisconnected{DeviceID: id, Cause: cause})
}

func (t *Transport) remember(id string, addr bluetooth.Address) {
	t.mu.Lock()
	t.addresses[id] = addr
	t.mu.Unlock()
}

func (t *Transport) onScanResult(result bluetooth.ScanResult) {
	id := result.Address.String()
	t.remember(id, result.Address)

	adv := advertisement.Advertisement{
		Address:     id,
		LocalName:   result.LocalName(),
		RSSI:        result.RSSI,
		Connectable: true,
		Timestamp:   time.Now(),
	}
	if mfr := result.ManufacturerData(); len(mfr) > 0 {
		companyID := mfr[0].CompanyID
		adv.ManufacturerID = &companyID
		adv.ManufacturerData = append([]byte(nil), mfr[0].Data...)
	}
	// Raw advertising data is only available on some platforms.
	if raw := result.Bytes(); len(raw) > 0 {
		advertisement.Parse(raw).Apply(&adv)
	}

	select {
	case t.events <- link.Discovered{Advertisement: adv}:
	default:
		log.WithField("device", id).Debug("Event buffer full, dropping sighting")
	}
}

func (t *Transport) emit(ev link.TransportEvent) {
	t.events <- ev
}
