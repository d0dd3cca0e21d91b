package link

import (
	"io"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/TheCacophonyProject/blelink/advertisement"
	"github.com/sirupsen/logrus"
)

func init() {
	log.SetOutput(io.Discard)
	log.SetLevel(logrus.PanicLevel)
}

type fakeTransport struct {
	mu          sync.Mutex
	events      chan TransportEvent
	connects    []string
	disconnects []string
	startScans  int
	stopScans   int
	connectErr  error
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{events: make(chan TransportEvent, 16)}
}

func (f *fakeTransport) StartScan() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.startScans++
	return nil
}

func (f *fakeTransport) StopScan() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopScans++
	return nil
}

func (f *fakeTransport) Connect(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects = append(f.connects, id)
	return f.connectErr
}

func (f *fakeTransport) Disconnect(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnects = append(f.disconnects, id)
	return nil
}

func (f *fakeTransport) Events() <-chan TransportEvent {
	return f.events
}

func (f *fakeTransport) connectCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.connects)
}

func (f *fakeTransport) disconnectCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.disconnects)
}

type memPrefs struct {
	mu       sync.Mutex
	settings Settings
	saved    []Settings
	statuses []StatusMirror
	loadErr  error
}

func (m *memPrefs) LoadSettings() (Settings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.settings, m.loadErr
}

func (m *memPrefs) SaveSettings(s Settings) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settings = s
	m.saved = append(m.saved, s)
	return nil
}

func (m *memPrefs) SaveStatus(s StatusMirror) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statuses = append(m.statuses, s)
	return nil
}

func (m *memPrefs) lastStatus() StatusMirror {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.statuses) == 0 {
		return StatusMirror{}
	}
	return m.statuses[len(m.statuses)-1]
}

type recDispatcher struct {
	mu            sync.Mutex
	connected     []string
	disconnected  []string
	automations   []string
	automationErr error
}

func (d *recDispatcher) NotifyConnected(name string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.connected = append(d.connected, name)
}

func (d *recDispatcher) NotifyDisconnected(name string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.disconnected = append(d.disconnected, name)
}

func (d *recDispatcher) RunAutomation(name string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.automations = append(d.automations, name)
	return "ok", d.automationErr
}

func (d *recDispatcher) automationCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.automations)
}

// manualClock fires timers only when advanced.
type manualClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*manualTimer
}

type manualTimer struct {
	clock *manualClock
	at    time.Time
	f     func()
	done  bool
}

func newManualClock() *manualClock {
	return &manualClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &manualTimer{clock: c, at: c.now.Add(d), f: f}
	c.timers = append(c.timers, t)
	return t
}

func (t *manualTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	wasActive := !t.done
	t.done = true
	return wasActive
}

// Advance moves the clock forward and runs the timers that became due.
func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	var due []*manualTimer
	var keep []*manualTimer
	for _, t := range c.timers {
		switch {
		case t.done:
		case !t.at.After(c.now):
			t.done = true
			due = append(due, t)
		default:
			keep = append(keep, t)
		}
	}
	c.timers = keep
	c.mu.Unlock()

	sort.SliceStable(due, func(i, j int) bool { return due[i].at.Before(due[j].at) })
	for _, t := range due {
		t.f()
	}
}

func (c *manualClock) activeTimers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.done {
			n++
		}
	}
	return n
}

type testRig struct {
	engine     *Engine
	transport  *fakeTransport
	prefs      *memPrefs
	dispatcher *recDispatcher
	clock      *manualClock
}

func newTestRig(t *testing.T, settings Settings) *testRig {
	t.Helper()
	r := &testRig{
		transport:  newFakeTransport(),
		prefs:      &memPrefs{settings: settings},
		dispatcher: &recDispatcher{},
		clock:      newManualClock(),
	}
	r.engine = NewEngine(DefaultConfig(), r.transport, r.prefs, r.dispatcher, r.clock)
	r.engine.loadSettings()
	return r
}

// newReadyRig returns a rig whose transport has reported ready and whose
// target is deviceA with auto-connect on.
func newReadyRig(t *testing.T) *testRig {
	t.Helper()
	r := newTestRig(t, Settings{Target: Target{DeviceID: deviceA, AutoConnect: true}})
	r.deliver(StateChanged{Ready: true})
	return r
}

func (r *testRig) deliver(ev TransportEvent) {
	r.engine.handle(transportEvent{ev})
}

// drain handles every queued event, including those queued while handling.
func (r *testRig) drain() {
	for {
		select {
		case ev := <-r.engine.events:
			r.engine.handle(ev)
		default:
			return
		}
	}
}

func (r *testRig) advance(d time.Duration) {
	r.clock.Advance(d)
	r.drain()
}

func (r *testRig) sight(id, name string, rssi int16) {
	r.deliver(Discovered{Advertisement: advertisement.Advertisement{
		Address:     id,
		LocalName:   name,
		RSSI:        rssi,
		Connectable: true,
		Timestamp:   r.clock.Now(),
	}})
}

const (
	deviceA = "AA:BB:CC:DD:EE:01"
	deviceB = "AA:BB:CC:DD:EE:02"
)
