// Package dispatch carries out the side effects of connection changes:
// reporting events, driving a status LED and running automation hooks.
package dispatch

import (
	"github.com/sirupsen/logrus"
)

var log = logrus.New()

func SetLogger(l *logrus.Logger) {
	log = l
}

// Notifier is told about connection changes.
type Notifier interface {
	NotifyConnected(deviceName string)
	NotifyDisconnected(deviceName string)
}

// Automation is run shortly after a device connects.
type Automation interface {
	Run(deviceName string) (string, error)
}

// Dispatcher fans notifications out to every notifier and runs the automation
// if one is set. It implements link.Dispatcher.
type Dispatcher struct {
	Notifiers  []Notifier
	Automation Automation
}

func (d *Dispatcher) NotifyConnected(deviceName string) {
	for _, n := range d.Notifiers {
		n.NotifyConnected(deviceName)
	}
}

func (d *Dispatcher) NotifyDisconnected(deviceName string) {
	for _, n := range d.Notifiers {
		n.NotifyDisconnected(deviceName)
	}
}

func (d *Dispatcher) RunAutomation(deviceName string) (string, error) {
	if d.Automation == nil {
		return "", nil
	}
	return d.Automation.Run(deviceName)
}
