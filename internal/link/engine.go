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

// Package link runs the connection lifecycle of a single BLE peripheral:
// discovery, connecting, and reconnecting with backoff after failures.
package link

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"
)

const eventQueueSize = 256

// Engine owns the connection lifecycle of a single peripheral. All state is
// mutated on the goroutine running Run; everything else posts events to it.
type Engine struct {
	conf       Config
	transport  Transport
	prefs      Preferences
	dispatcher Dispatcher
	clock      Clock

	events   chan event
	done     chan struct{}
	doneOnce sync.Once
	stopped  bool

	state          ConnectionState
	deviceID       string
	deviceName     string
	status         string
	transportReady bool
	lastConnection float64
	// hold is set by a user disconnect and keeps the target from being
	// reconnected automatically until it is re-armed.
	hold bool

	settings Settings
	env      EnvironmentFlags
	retry    *reconnector
	feed     *discoveryFeed

	connectTimer    oneShot
	automationTimer oneShot

	obsMu             sync.Mutex
	snapshotObservers []func(Snapshot)
	deviceObservers   []func(DiscoveredDevice)

	mu        sync.Mutex
	published Snapshot
}

func NewEngine(conf Config, transport Transport, prefs Preferences, dispatcher Dispatcher, clock Clock) *Engine {
	if clock == nil {
		clock = SystemClock()
	}
	e := &Engine{
		conf:            conf,
		transport:       transport,
		prefs:           prefs,
		dispatcher:      dispatcher,
		clock:           clock,
		events:          make(chan event, eventQueueSize),
		done:            make(chan struct{}),
		status:          "Idle",
		env:             EnvironmentFlags{Foreground: true},
		retry:           newReconnector(conf, clock),
		feed:            newDiscoveryFeed(conf, clock),
		connectTimer:    oneShot{clock: clock},
		automationTimer: oneShot{clock: clock},
	}
	e.published = e.snapshot()
	return e
}

// Run loads the saved settings and processes events until the context is
// cancelled or Terminate is called.
func (e *Engine) Run(ctx context.Context) error {
	defer e.doneOnce.Do(func() { close(e.done) })

	e.loadSettings()
	e.publish()

	go e.forward(ctx)

	for {
		select {
		case <-ctx.Done():
			e.terminate()
			return ctx.Err()
		case ev := <-e.events:
			e.handle(ev)
			if e.stopped {
				return nil
			}
		}
	}
}

func (e *Engine) loadSettings() {
	settings, err := e.prefs.LoadSettings()
	if err != nil {
		log.Warnf("Failed to load settings, using defaults: %v", err)
		return
	}
	e.settings = settings
	e.env.AllowBackgroundReconnection = settings.AllowBackgroundReconnection
	log.WithFields(logrus.Fields{
		"target":      settings.Target.DeviceID,
		"autoConnect": settings.Target.AutoConnect,
	}).Info("Loaded settings")
}

// forward moves transport events onto the engine queue.
func (e *Engine) forward(ctx context.Context) {
	src := e.transport.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case <-e.done:
			return
		case ev, ok := <-src:
			if !ok {
				return
			}
			if !e.post(transportEvent{ev}) {
				return
			}
		}
	}
}

// post queues an event. It returns false once the engine has stopped.
func (e *Engine) post(ev event) bool {
	select {
	case <-e.done:
		return false
	default:
	}
	select {
	case e.events <- ev:
		return true
	case <-e.done:
		return false
	}
}

func (e *Engine) handle(ev event) {
	switch ev := ev.(type) {
	case transportEvent:
		e.dispatch(ev.TransportEvent)
	case connectTimeout:
		if e.connectTimer.fired(ev.gen) {
			e.onConnectTimeout()
		}
	case retryFire:
		if e.retry.timer.fired(ev.gen) {
			e.onRetryFire()
		}
	case scanRestart:
		if e.feed.restart.fired(ev.gen) {
			e.onScanRestart()
		}
	case automationDue:
		if e.automationTimer.fired(ev.gen) {
			e.onAutomationDue()
		}
	case automationResult:
		e.onAutomationResult(ev)
	case connectRequest:
		e.hold = false
		ev.reply <- e.connect(ev.deviceID)
	case disconnectRequest:
		e.disconnect()
	case scanRequest:
		if ev.start {
			err := e.startScanning()
			if err == nil && e.state == Disconnected {
				e.status = "Scanning"
			}
			ev.reply <- err
		} else {
			ev.reply <- e.stopScanning()
		}
	case setTargetRequest:
		e.setTarget(ev.deviceID)
	case setAutoConnectRequest:
		e.setAutoConnect(ev.enabled)
	case setAllowBackgroundRequest:
		e.setAllowBackground(ev.allowed)
	case resetRetryRequest:
		e.resetRetry()
	case foregroundRequest:
		e.enterForeground()
	case backgroundRequest:
		e.enterBackground()
	case terminateRequest:
		e.terminate()
		close(ev.done)
	case devicesRequest:
		ev.reply <- e.feed.list()
	default:
		log.Warnf("Unhandled event %T", ev)
	}
	e.publish()
}

// dispatch handles a single transport event.
func (e *Engine) dispatch(ev TransportEvent) {
	switch ev := ev.(type) {
	case Discovered:
		e.onSighting(ev)
	case DeviceConnected:
		e.onConnected(ev.DeviceID)
	case FailedToConnect:
		e.onFailedToConnect(ev.DeviceID, ev.Cause)
	case DeviceDisconnected:
		e.onDisconnected(ev.DeviceID, ev.Cause)
	case StateChanged:
		e.onStateChanged(ev.Ready)
	}
}

func (e *Engine) snapshot() Snapshot {
	return Snapshot{
		State:          e.state,
		DeviceID:       e.deviceID,
		DeviceName:     e.deviceName,
		Status:         e.status,
		TransportReady: e.transportReady,
		Scanning:       e.feed.scanning,
		Target:         e.settings.Target,
		Environment:    e.env,
		Retry:          e.retry.state(),
	}
}

// publish stores the current snapshot and tells observers when it changed.
func (e *Engine) publish() {
	s := e.snapshot()
	e.mu.Lock()
	changed := s != e.published
	e.published = s
	e.mu.Unlock()
	if !changed {
		return
	}
	e.obsMu.Lock()
	observers := append([]func(Snapshot){}, e.snapshotObservers...)
	e.obsMu.Unlock()
	for _, f := range observers {
		f(s)
	}
}

func (e *Engine) emitDevice(d DiscoveredDevice) {
	e.obsMu.Lock()
	observers := append([]func(DiscoveredDevice){}, e.deviceObservers...)
	e.obsMu.Unlock()
	for _, f := range observers {
		f(d)
	}
}

// OnSnapshot registers a callback for state changes. Callbacks run on the
// engine goroutine and must not block.
func (e *Engine) OnSnapshot(f func(Snapshot)) {
	e.obsMu.Lock()
	defer e.obsMu.Unlock()
	e.snapshotObservers = append(e.snapshotObservers, f)
}

// OnDevice registers a callback for throttled discovery updates.
func (e *Engine) OnDevice(f func(DiscoveredDevice)) {
	e.obsMu.Lock()
	defer e.obsMu.Unlock()
	e.deviceObservers = append(e.deviceObservers, f)
}

// Snapshot returns the most recently published state.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.published
}

// Done is closed when Run returns.
func (e *Engine) Done() <-chan struct{} {
	return e.done
}

// Connect asks the engine to connect to id and waits for the command to be
// issued. The outcome is reported through snapshots.
func (e *Engine) Connect(id string) error {
	reply := make(chan error, 1)
	if !e.post(connectRequest{deviceID: id, reply: reply}) {
		return ErrStopped
	}
	return e.await(reply)
}

func (e *Engine) Disconnect() error {
	return e.send(disconnectRequest{})
}

func (e *Engine) StartScan() error {
	reply := make(chan error, 1)
	if !e.post(scanRequest{start: true, reply: reply}) {
		return ErrStopped
	}
	return e.await(reply)
}

func (e *Engine) StopScan() error {
	reply := make(chan error, 1)
	if !e.post(scanRequest{start: false, reply: reply}) {
		return ErrStopped
	}
	return e.await(reply)
}

// Devices returns the discovered devices, strongest signal first.
func (e *Engine) Devices() ([]DiscoveredDevice, error) {
	reply := make(chan []DiscoveredDevice, 1)
	if !e.post(devicesRequest{reply: reply}) {
		return nil, ErrStopped
	}
	select {
	case d := <-reply:
		return d, nil
	case <-e.done:
		return nil, ErrStopped
	}
}

func (e *Engine) send(ev event) error {
	if !e.post(ev) {
		return ErrStopped
	}
	return nil
}

func (e *Engine) await(reply chan error) error {
	select {
	case err := <-reply:
		return err
	case <-e.done:
		return ErrStopped
	}
}
