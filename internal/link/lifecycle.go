package link

import (
	"context"

	"github.com/sirupsen/logrus"
)

// SetTarget designates the device to connect to automatically. An empty id
// clears the target.
func (e *Engine) SetTarget(id string) error {
	return e.send(setTargetRequest{deviceID: id})
}

func (e *Engine) SetAutoConnect(enabled bool) error {
	return e.send(setAutoConnectRequest{enabled: enabled})
}

func (e *Engine) SetAllowBackgroundReconnection(allowed bool) error {
	return e.send(setAllowBackgroundRequest{allowed: allowed})
}

// ResetRetry re-arms the reconnection policy after it gave up.
func (e *Engine) ResetRetry() error {
	return e.send(resetRetryRequest{})
}

func (e *Engine) EnterForeground() error {
	return e.send(foregroundRequest{})
}

func (e *Engine) EnterBackground() error {
	return e.send(backgroundRequest{})
}

// Terminate stops retrying and scanning, disconnects the active device and
// stops the engine. It waits until that is done or ctx expires.
func (e *Engine) Terminate(ctx context.Context) error {
	done := make(chan struct{})
	if !e.post(terminateRequest{done: done}) {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-e.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Engine) saveSettings() {
	e.settings.AllowBackgroundReconnection = e.env.AllowBackgroundReconnection
	if err := e.prefs.SaveSettings(e.settings); err != nil {
		log.Warnf("Failed to save settings: %v", err)
	}
}

func (e *Engine) setTarget(id string) {
	log.WithField("device", id).Info("Setting target")
	e.settings.Target.DeviceID = id
	e.saveSettings()
	e.retry.reset()
	e.hold = false
	if id == "" {
		return
	}
	e.tryAutoConnect()
}

func (e *Engine) setAutoConnect(enabled bool) {
	log.Infof("Auto-connect enabled: %t", enabled)
	e.settings.Target.AutoConnect = enabled
	e.saveSettings()
	if !enabled {
		e.retry.stop()
		return
	}
	e.retry.reset()
	e.hold = false
	e.tryAutoConnect()
}

func (e *Engine) setAllowBackground(allowed bool) {
	log.Infof("Background reconnection allowed: %t", allowed)
	e.env.AllowBackgroundReconnection = allowed
	e.saveSettings()
	if !e.env.RetryAllowed() {
		e.pauseRetry()
	}
}

func (e *Engine) resetRetry() {
	log.Info("Resetting reconnection attempts")
	e.retry.reset()
	e.hold = false
	e.tryAutoConnect()
}

func (e *Engine) enterForeground() {
	if e.env.Foreground {
		return
	}
	log.Info("Entering foreground")
	e.env.Foreground = true
	if e.retry.exhausted() {
		log.WithField("attempt", e.retry.attempt).Info("Re-arming reconnection on foreground")
		e.retry.reset()
	}
	e.tryAutoConnect()
}

func (e *Engine) enterBackground() {
	if !e.env.Foreground {
		return
	}
	log.Info("Entering background")
	e.env.Foreground = false
	e.automationTimer.cancel()
	if !e.env.AllowBackgroundReconnection {
		e.pauseRetry()
	}
}

func (e *Engine) pauseRetry() {
	if !e.retry.retrying && !e.retry.pending() {
		return
	}
	log.WithFields(logrus.Fields{
		"attempt": e.retry.attempt,
	}).Info("Pausing reconnection in background")
	e.retry.stop()
	e.status = "Reconnection paused in background"
}

func (e *Engine) terminate() {
	if e.stopped {
		return
	}
	log.Info("Terminating")
	e.retry.stop()
	if err := e.stopScanning(); err != nil {
		log.Warnf("Failed to stop scan: %v", err)
	}
	if e.state == Connecting || e.state == Connected {
		id := e.deviceID
		if err := e.transport.Disconnect(id); err != nil {
			log.Warnf("Failed to disconnect %s: %v", id, err)
		}
		if e.state == Connected {
			e.dispatcher.NotifyDisconnected(e.deviceName)
		}
		e.setDisconnected()
	}
	e.connectTimer.cancel()
	e.automationTimer.cancel()
	e.status = "Stopped"
	e.stopped = true
}
