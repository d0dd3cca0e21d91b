package link

import (
	"fmt"
	"sort"
	"time"

	"github.com/TheCacophonyProject/blelink/advertisement"
)

// discoveryFeed keeps the table of visible devices and decides which
// sightings are worth passing on to device observers. The stored record is
// always refreshed; only the emission is throttled.
type discoveryFeed struct {
	minUpdateInterval time.Duration
	rssiThreshold     int

	devices   map[string]*DiscoveredDevice
	emitted   map[string]DiscoveredDevice
	emittedAt map[string]time.Time

	scanning bool
	restart  oneShot
}

func newDiscoveryFeed(conf Config, clock Clock) *discoveryFeed {
	f := &discoveryFeed{
		minUpdateInterval: conf.MinUpdateInterval,
		rssiThreshold:     conf.RSSIThreshold,
		restart:           oneShot{clock: clock},
	}
	f.reset()
	return f
}

// reset clears the device table and emission bookkeeping.
func (f *discoveryFeed) reset() {
	f.devices = map[string]*DiscoveredDevice{}
	f.emitted = map[string]DiscoveredDevice{}
	f.emittedAt = map[string]time.Time{}
}

// observe stores the sighting and reports whether an update should be
// emitted for it.
func (f *discoveryFeed) observe(adv advertisement.Advertisement, now time.Time) (DiscoveredDevice, bool) {
	if adv.Timestamp.IsZero() {
		adv.Timestamp = now
	}

	d, ok := f.devices[adv.Address]
	if !ok {
		d = &DiscoveredDevice{ID: adv.Address}
		f.devices[adv.Address] = d
	}
	if adv.LocalName != "" {
		d.Name = adv.LocalName
	}
	d.RSSI = adv.RSSI
	d.LastSeen = adv.Timestamp
	d.Connectable = adv.Connectable
	d.TxPower = adv.TxPower
	d.ManufacturerID = adv.ManufacturerID
	d.ManufacturerData = adv.ManufacturerData

	current := copyDevice(*d)
	last, seen := f.emitted[adv.Address]
	if seen && !f.significant(last, current, now.Sub(f.emittedAt[adv.Address])) {
		return current, false
	}
	f.emitted[adv.Address] = current
	f.emittedAt[adv.Address] = now
	return current, true
}

func (f *discoveryFeed) significant(last, current DiscoveredDevice, sinceLast time.Duration) bool {
	if sinceLast >= f.minUpdateInterval {
		return true
	}
	delta := int(current.RSSI) - int(last.RSSI)
	if delta < 0 {
		delta = -delta
	}
	if delta >= f.rssiThreshold {
		return true
	}
	return last.Name != current.Name ||
		last.Connectable != current.Connectable ||
		!advertisement.SameTxPower(last.TxPower, current.TxPower) ||
		!advertisement.SameManufacturer(last.ManufacturerID, last.ManufacturerData, current.ManufacturerID, current.ManufacturerData)
}

func (f *discoveryFeed) lookup(id string) (DiscoveredDevice, bool) {
	d, ok := f.devices[id]
	if !ok {
		return DiscoveredDevice{}, false
	}
	return copyDevice(*d), true
}

// list returns copies of all known devices, strongest signal first.
func (f *discoveryFeed) list() []DiscoveredDevice {
	out := make([]DiscoveredDevice, 0, len(f.devices))
	for _, d := range f.devices {
		out = append(out, copyDevice(*d))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].RSSI != out[j].RSSI {
			return out[i].RSSI > out[j].RSSI
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func copyDevice(d DiscoveredDevice) DiscoveredDevice {
	if d.TxPower != nil {
		tx := *d.TxPower
		d.TxPower = &tx
	}
	if d.ManufacturerID != nil {
		id := *d.ManufacturerID
		d.ManufacturerID = &id
	}
	d.ManufacturerData = append([]byte(nil), d.ManufacturerData...)
	return d
}

// startScanning clears the device table and starts a fresh scan.
func (e *Engine) startScanning() error {
	if !e.transportReady {
		e.status = "Bluetooth unavailable"
		return ErrTransportNotReady
	}
	if e.feed.scanning {
		if err := e.transport.StopScan(); err != nil {
			log.Debugf("Stop scan before restart: %v", err)
		}
		e.feed.scanning = false
	}
	e.feed.reset()
	if err := e.transport.StartScan(); err != nil {
		e.feed.restart.cancel()
		return fmt.Errorf("start scan: %w", err)
	}
	e.feed.scanning = true
	log.Debug("Scanning started")
	e.armScanRestart()
	return nil
}

func (e *Engine) stopScanning() error {
	e.feed.restart.cancel()
	if !e.feed.scanning {
		return nil
	}
	e.feed.scanning = false
	log.Debug("Scanning stopped")
	if err := e.transport.StopScan(); err != nil {
		return fmt.Errorf("stop scan: %w", err)
	}
	return nil
}

func (e *Engine) armScanRestart() {
	e.feed.restart.arm(e.conf.ScanRestartInterval, func(gen uint64) {
		e.post(scanRestart{gen: gen})
	})
}

// onScanRestart cycles the transport scan. Some radios stop reporting repeat
// sightings on a long running scan. The device table is kept.
func (e *Engine) onScanRestart() {
	if !e.feed.scanning || !e.transportReady {
		return
	}
	if err := e.transport.StopScan(); err != nil {
		log.Debugf("Stop scan for restart: %v", err)
	}
	if err := e.transport.StartScan(); err != nil {
		log.Warnf("Failed to restart scan: %v", err)
		e.feed.scanning = false
		return
	}
	e.armScanRestart()
}

// maybeResumeScan starts scanning when idle and no reconnection is pending.
func (e *Engine) maybeResumeScan() {
	if e.feed.scanning || e.retry.pending() || !e.transportReady || e.state != Disconnected {
		return
	}
	if err := e.startScanning(); err != nil {
		log.Warnf("Failed to resume scanning: %v", err)
	}
}
