package link

import (
	"testing"
	"time"

	"github.com/TheCacophonyProject/blelink/advertisement"
	"github.com/stretchr/testify/require"
)

func sighting(id, name string, rssi int16) advertisement.Advertisement {
	return advertisement.Advertisement{Address: id, LocalName: name, RSSI: rssi, Connectable: true}
}

func TestFeedThrottlesSmallRSSIChanges(t *testing.T) {
	clock := newManualClock()
	f := newDiscoveryFeed(DefaultConfig(), clock)
	now := clock.Now()

	_, emit := f.observe(sighting(deviceA, "sensor", -60), now)
	require.True(t, emit, "first sighting is emitted")

	d, emit := f.observe(sighting(deviceA, "sensor", -61), now.Add(500*time.Millisecond))
	require.False(t, emit, "1 dBm inside the window is suppressed")
	require.Equal(t, int16(-61), d.RSSI, "stored record is still refreshed")
	stored, ok := f.lookup(deviceA)
	require.True(t, ok)
	require.Equal(t, int16(-61), stored.RSSI)

	_, emit = f.observe(sighting(deviceA, "sensor", -63), now.Add(time.Second))
	require.True(t, emit, "3 dBm from the last emitted value is emitted")
}

func TestFeedEmitsAfterInterval(t *testing.T) {
	clock := newManualClock()
	f := newDiscoveryFeed(DefaultConfig(), clock)
	now := clock.Now()

	f.observe(sighting(deviceA, "sensor", -60), now)
	_, emit := f.observe(sighting(deviceA, "sensor", -60), now.Add(1999*time.Millisecond))
	require.False(t, emit)
	_, emit = f.observe(sighting(deviceA, "sensor", -60), now.Add(2*time.Second))
	require.True(t, emit)
}

func TestFeedEmitsOnAttributeChange(t *testing.T) {
	clock := newManualClock()
	f := newDiscoveryFeed(DefaultConfig(), clock)
	now := clock.Now()
	f.observe(sighting(deviceA, "sensor", -60), now)

	adv := sighting(deviceA, "renamed", -60)
	_, emit := f.observe(adv, now.Add(10*time.Millisecond))
	require.True(t, emit, "name change")

	adv.Connectable = false
	_, emit = f.observe(adv, now.Add(20*time.Millisecond))
	require.True(t, emit, "connectability change")

	tx := int8(4)
	adv.TxPower = &tx
	_, emit = f.observe(adv, now.Add(30*time.Millisecond))
	require.True(t, emit, "tx power change")

	id := uint16(0x0059)
	adv.ManufacturerID = &id
	adv.ManufacturerData = []byte{1, 2}
	_, emit = f.observe(adv, now.Add(40*time.Millisecond))
	require.True(t, emit, "manufacturer change")

	adv.ManufacturerData = []byte{1, 3}
	_, emit = f.observe(adv, now.Add(50*time.Millisecond))
	require.True(t, emit, "manufacturer payload change")

	_, emit = f.observe(adv, now.Add(60*time.Millisecond))
	require.False(t, emit)
}

func TestFeedKeepsNameWhenMissing(t *testing.T) {
	clock := newManualClock()
	f := newDiscoveryFeed(DefaultConfig(), clock)
	now := clock.Now()
	f.observe(sighting(deviceA, "sensor", -60), now)

	d, emit := f.observe(sighting(deviceA, "", -60), now.Add(100*time.Millisecond))
	require.False(t, emit)
	require.Equal(t, "sensor", d.Name)
}

func TestFeedListOrdersByRSSI(t *testing.T) {
	clock := newManualClock()
	f := newDiscoveryFeed(DefaultConfig(), clock)
	now := clock.Now()
	f.observe(sighting(deviceA, "weak", -80), now)
	f.observe(sighting(deviceB, "strong", -40), now)

	list := f.list()
	require.Len(t, list, 2)
	require.Equal(t, deviceB, list[0].ID)
	require.Equal(t, deviceA, list[1].ID)

	f.reset()
	require.Empty(t, f.list())
}

func TestFeedHandsOutCopies(t *testing.T) {
	clock := newManualClock()
	f := newDiscoveryFeed(DefaultConfig(), clock)
	adv := sighting(deviceA, "sensor", -60)
	adv.ManufacturerData = []byte{1, 2, 3}
	d, _ := f.observe(adv, clock.Now())

	d.ManufacturerData[0] = 9
	stored, _ := f.lookup(deviceA)
	require.Equal(t, []byte{1, 2, 3}, stored.ManufacturerData)
}

func TestEngineDeviceUpdatesAreThrottled(t *testing.T) {
	r := newTestRig(t, Settings{})
	r.deliver(StateChanged{Ready: true})
	var updates []DiscoveredDevice
	r.engine.OnDevice(func(d DiscoveredDevice) { updates = append(updates, d) })

	r.sight(deviceA, "sensor", -60)
	r.sight(deviceA, "sensor", -61)
	r.sight(deviceA, "sensor", -64)

	require.Len(t, updates, 2)
	require.Equal(t, int16(-64), updates[1].RSSI)
}

func TestStartScanClearsTable(t *testing.T) {
	r := newTestRig(t, Settings{})
	r.deliver(StateChanged{Ready: true})
	r.sight(deviceA, "sensor", -60)
	require.Len(t, r.engine.feed.list(), 1)

	reply := make(chan error, 1)
	r.engine.handle(scanRequest{start: true, reply: reply})
	require.NoError(t, <-reply)
	require.Empty(t, r.engine.feed.list())
	require.True(t, r.engine.Snapshot().Scanning)
}

func TestScanRestartKeepsTable(t *testing.T) {
	r := newTestRig(t, Settings{})
	r.deliver(StateChanged{Ready: true})
	r.sight(deviceA, "sensor", -60)
	starts := r.transport.startScans
	stops := r.transport.stopScans

	r.advance(DefaultConfig().ScanRestartInterval)

	require.Equal(t, starts+1, r.transport.startScans)
	require.Equal(t, stops+1, r.transport.stopScans)
	require.Len(t, r.engine.feed.list(), 1)
	require.True(t, r.engine.feed.restart.pending(), "restart is re-armed")
}

func TestStopScanCancelsRestart(t *testing.T) {
	r := newTestRig(t, Settings{})
	r.deliver(StateChanged{Ready: true})

	reply := make(chan error, 1)
	r.engine.handle(scanRequest{start: false, reply: reply})
	require.NoError(t, <-reply)
	require.False(t, r.engine.feed.restart.pending())
	require.False(t, r.engine.Snapshot().Scanning)

	starts := r.transport.startScans
	r.advance(time.Minute)
	require.Equal(t, starts, r.transport.startScans)
}
