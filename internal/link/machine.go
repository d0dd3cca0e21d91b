package link

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

func (e *Engine) setState(s ConnectionState) {
	if e.state == s {
		return
	}
	log.WithFields(logrus.Fields{
		"device": e.deviceID,
		"from":   e.state,
		"to":     s,
	}).Debug("Connection state changed")
	e.state = s
	e.saveStatus()
}

func (e *Engine) setDisconnected() {
	e.connectTimer.cancel()
	e.automationTimer.cancel()
	e.setState(Disconnected)
	e.deviceID = ""
	e.deviceName = ""
}

func (e *Engine) saveStatus() {
	m := StatusMirror{
		IsConnected:        e.state == Connected,
		LastConnectionTime: e.lastConnection,
	}
	if m.IsConnected {
		m.ConnectedDeviceName = e.deviceName
	}
	if err := e.prefs.SaveStatus(m); err != nil {
		log.Warnf("Failed to save status: %v", err)
	}
}

func (e *Engine) nameFor(id string) string {
	if id == e.deviceID && e.deviceName != "" {
		return e.deviceName
	}
	if d, ok := e.feed.lookup(id); ok {
		return d.DisplayName()
	}
	return id
}

// connect starts a connection attempt to id, releasing any other active
// device first.
func (e *Engine) connect(id string) error {
	if id == "" {
		return ErrNoTarget
	}
	if !e.transportReady {
		e.status = "Bluetooth unavailable"
		return ErrTransportNotReady
	}
	if id == e.deviceID && (e.state == Connecting || e.state == Connected) {
		return nil
	}
	if e.state != Disconnected && e.deviceID != id {
		log.Infof("Releasing %s to connect to %s", e.deviceID, id)
		if err := e.transport.Disconnect(e.deviceID); err != nil {
			log.Warnf("Failed to disconnect %s: %v", e.deviceID, err)
		}
		if e.state == Connected {
			e.dispatcher.NotifyDisconnected(e.deviceName)
		}
	}

	e.connectTimer.cancel()
	e.automationTimer.cancel()
	e.retry.timer.cancel()
	if err := e.stopScanning(); err != nil {
		log.Warnf("Failed to stop scan before connecting: %v", err)
	}

	name := e.nameFor(id)
	e.deviceID = id
	e.deviceName = name
	e.setState(Connecting)
	e.status = fmt.Sprintf("Connecting to %s", name)
	log.WithField("device", id).Info("Connecting")

	if err := e.transport.Connect(id); err != nil {
		err = fmt.Errorf("connect %s: %w", id, err)
		e.failConnect(err)
		return err
	}
	e.connectTimer.arm(e.conf.ConnectTimeout, func(gen uint64) {
		e.post(connectTimeout{gen: gen})
	})
	return nil
}

// disconnect is the user initiated path and never leads to a retry.
func (e *Engine) disconnect() {
	wasPending := e.retry.pending()
	e.retry.stop()
	e.connectTimer.cancel()
	e.automationTimer.cancel()
	if e.state != Connecting && e.state != Connected {
		if wasPending {
			e.hold = true
			e.status = "Reconnection cancelled"
			log.Info("Pending reconnection cancelled")
			e.maybeResumeScan()
		}
		return
	}
	e.hold = true

	id := e.deviceID
	e.setState(Disconnecting)
	e.status = fmt.Sprintf("Disconnecting from %s", e.deviceName)
	log.WithField("device", id).Info("Disconnecting")
	if err := e.transport.Disconnect(id); err != nil {
		log.Warnf("Failed to disconnect %s: %v", id, err)
		e.status = fmt.Sprintf("Disconnected from %s", e.deviceName)
		e.setDisconnected()
		e.maybeResumeScan()
	}
}

func (e *Engine) onConnected(id string) {
	if e.state != Connecting || id != e.deviceID {
		if e.state == Connected && id == e.deviceID {
			return
		}
		log.WithField("device", id).Warn("Connected to a device that isn't being connected, disconnecting it")
		if err := e.transport.Disconnect(id); err != nil {
			log.Warnf("Failed to disconnect %s: %v", id, err)
		}
		return
	}

	e.connectTimer.cancel()
	e.retry.reset()
	e.hold = false
	now := e.clock.Now()
	e.lastConnection = float64(now.Unix()) + float64(now.Nanosecond())/1e9
	e.setState(Connected)
	e.status = fmt.Sprintf("Connected to %s", e.deviceName)
	log.WithField("device", id).Info("Connected")

	e.dispatcher.NotifyConnected(e.deviceName)
	if e.env.Foreground {
		e.automationTimer.arm(e.conf.AutomationDelay, func(gen uint64) {
			e.post(automationDue{gen: gen})
		})
	}
}

func (e *Engine) onFailedToConnect(id string, cause error) {
	if id != e.deviceID {
		log.WithField("device", id).Debug("Ignoring connect failure for inactive device")
		return
	}
	switch e.state {
	case Disconnecting:
		e.status = fmt.Sprintf("Disconnected from %s", e.deviceName)
		e.setDisconnected()
		e.maybeResumeScan()
	case Connecting:
		if cause == nil {
			cause = fmt.Errorf("connect %s failed", id)
		}
		e.failConnect(cause)
	}
}

func (e *Engine) onConnectTimeout() {
	if e.state != Connecting {
		return
	}
	id := e.deviceID
	log.WithField("device", id).Warn("Connection attempt timed out")
	if err := e.transport.Disconnect(id); err != nil {
		log.Warnf("Failed to cancel connection to %s: %v", id, err)
	}
	e.failConnect(ErrConnectTimeout)
}

// failConnect handles a connect attempt that did not complete.
func (e *Engine) failConnect(cause error) {
	id := e.deviceID
	name := e.deviceName
	log.WithFields(logrus.Fields{"device": id, "cause": cause}).Warn("Failed to connect")
	e.setDisconnected()
	e.status = fmt.Sprintf("Failed to connect to %s: %v", name, cause)
	e.retry.noteTransportFailure()
	e.handleFailure(id)
	e.maybeResumeScan()
}

func (e *Engine) onDisconnected(id string, cause error) {
	if id != e.deviceID || e.state == Disconnected {
		log.WithField("device", id).Debug("Ignoring disconnect for inactive device")
		return
	}
	prev := e.state
	name := e.deviceName
	if prev == Connecting {
		// A nil cause here is the echo of a cancelled attempt; the timeout
		// still owns this attempt.
		if cause != nil {
			e.failConnect(cause)
		}
		return
	}

	e.setDisconnected()
	if prev == Connected {
		e.dispatcher.NotifyDisconnected(name)
	}
	if prev == Disconnecting || cause == nil {
		log.WithField("device", id).Info("Disconnected")
		e.retry.stop()
		e.status = fmt.Sprintf("Disconnected from %s", name)
	} else {
		log.WithFields(logrus.Fields{"device": id, "cause": cause}).Warn("Connection lost")
		e.status = fmt.Sprintf("Lost connection to %s: %v", name, cause)
		e.handleFailure(id)
	}
	e.maybeResumeScan()
}

func (e *Engine) onStateChanged(ready bool) {
	if !ready {
		e.transportReady = false
		e.feed.restart.cancel()
		if e.feed.scanning {
			e.feed.scanning = false
			if err := e.transport.StopScan(); err != nil {
				log.Debugf("Stop scan on unavailable transport: %v", err)
			}
		}
		e.status = "Bluetooth unavailable"
		log.Warn("Bluetooth unavailable")
		return
	}
	if e.transportReady {
		return
	}
	e.transportReady = true
	log.Info("Bluetooth ready")
	if e.state == Disconnected {
		e.status = "Bluetooth ready"
	}

	if e.retry.deferred {
		e.issueRetry()
		return
	}
	e.tryAutoConnect()
}

func (e *Engine) onSighting(ev Discovered) {
	d, emit := e.feed.observe(ev.Advertisement, e.clock.Now())
	if emit {
		e.emitDevice(d)
	}
	if e.state == Disconnected && e.autoConnectAllowed(d.ID) {
		log.WithField("device", d.ID).Info("Target sighted")
		if err := e.connect(d.ID); err != nil {
			log.Warnf("Failed to connect to target: %v", err)
		}
	}
}

// autoConnectAllowed reports whether id may be connected without a user
// request.
func (e *Engine) autoConnectAllowed(id string) bool {
	return e.settings.Target.Armed(id) &&
		e.env.RetryAllowed() &&
		!e.hold &&
		!e.retry.pending() &&
		!e.retry.exhausted()
}

// tryAutoConnect connects to the target if it is known, otherwise scans for it.
func (e *Engine) tryAutoConnect() {
	if e.state != Disconnected || !e.transportReady {
		return
	}
	id := e.settings.Target.DeviceID
	if e.autoConnectAllowed(id) {
		if _, ok := e.feed.lookup(id); ok {
			if err := e.connect(id); err != nil {
				log.Warnf("Failed to connect to target: %v", err)
			}
			return
		}
	}
	e.maybeResumeScan()
}

func (e *Engine) handleFailure(id string) {
	outcome := e.retry.onFailure(id, e.settings.Target, e.env, func(gen uint64) {
		e.post(retryFire{gen: gen})
	})
	fields := logrus.Fields{
		"device":  id,
		"attempt": e.retry.attempt,
		"outcome": outcome,
	}
	switch outcome {
	case RetryScheduled:
		fields["delay"] = e.retry.delay
		log.WithFields(fields).Info("Reconnection scheduled")
		e.status = fmt.Sprintf("Reconnecting in %s (attempt %d of %d)", e.retry.delay, e.retry.attempt+1, e.retry.maxAttempts)
	case RetryExhausted:
		log.WithFields(fields).Warn("Giving up reconnecting")
		e.status = fmt.Sprintf("Reconnection stopped: %v", ErrMaxAttempts)
	case RetryPaused:
		log.WithFields(fields).Info("Reconnection paused in background")
		e.status = "Reconnection paused in background"
	default:
		log.WithFields(fields).Debug("Not reconnecting")
	}
}

func (e *Engine) onRetryFire() {
	target := e.settings.Target
	if !target.AutoConnect || target.DeviceID == "" {
		e.retry.stop()
		return
	}
	if e.state != Disconnected {
		return
	}
	if !e.transportReady {
		e.retry.deferAttempt()
		e.status = "Waiting for Bluetooth to reconnect"
		log.WithField("device", target.DeviceID).Info("Reconnect waiting for Bluetooth")
		return
	}
	e.issueRetry()
}

// issueRetry spends an attempt and connects to the target.
func (e *Engine) issueRetry() {
	id := e.settings.Target.DeviceID
	n := e.retry.consume()
	log.WithFields(logrus.Fields{"device": id, "attempt": n}).Info("Reconnecting")
	if err := e.connect(id); err != nil {
		log.Warnf("Reconnect attempt %d failed: %v", n, err)
	}
}

func (e *Engine) onAutomationDue() {
	if e.state != Connected || !e.env.Foreground {
		return
	}
	name := e.deviceName
	go func() {
		out, err := e.dispatcher.RunAutomation(name)
		e.post(automationResult{deviceName: name, output: out, err: err})
	}()
}

func (e *Engine) onAutomationResult(r automationResult) {
	if r.err != nil {
		log.Warnf("Automation for %s failed: %v", r.deviceName, r.err)
		if e.state == Connected && e.deviceName == r.deviceName {
			e.status = fmt.Sprintf("Automation failed: %v", r.err)
		}
		return
	}
	log.WithField("device", r.deviceName).Infof("Automation ran: %s", r.output)
}
