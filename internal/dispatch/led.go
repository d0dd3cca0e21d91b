package dispatch

import (
	"fmt"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

// StatusLED holds a GPIO pin high while a device is connected.
type StatusLED struct {
	pin gpio.PinOut
}

func NewStatusLED(pinName string) (*StatusLED, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize periph: %v", err)
	}
	pin := gpioreg.ByName(pinName)
	if pin == nil {
		return nil, fmt.Errorf("failed to find LED pin '%s'", pinName)
	}
	return newStatusLED(pin)
}

func newStatusLED(pin gpio.PinOut) (*StatusLED, error) {
	if err := pin.Out(gpio.Low); err != nil {
		return nil, fmt.Errorf("failed to set LED pin low: %v", err)
	}
	return &StatusLED{pin: pin}, nil
}

func (l *StatusLED) NotifyConnected(string) {
	l.set(gpio.High)
}

func (l *StatusLED) NotifyDisconnected(string) {
	l.set(gpio.Low)
}

func (l *StatusLED) set(level gpio.Level) {
	if err := l.pin.Out(level); err != nil {
		log.Warnf("Failed to set LED pin %s: %v", level, err)
	}
}
