package link

import (
	"github.com/TheCacophonyProject/blelink/advertisement"
)

// TransportEvent is one of Discovered, DeviceConnected, FailedToConnect,
// DeviceDisconnected or StateChanged.
type TransportEvent interface {
	isTransportEvent()
}

// Discovered is a single advertisement sighting.
type Discovered struct {
	Advertisement advertisement.Advertisement
}

// DeviceConnected reports that a connect attempt succeeded.
type DeviceConnected struct {
	DeviceID string
}

// FailedToConnect reports that a connect attempt failed.
type FailedToConnect struct {
	DeviceID string
	Cause    error
}

// DeviceDisconnected reports that a connection closed. Cause is nil when the
// disconnect was requested.
type DeviceDisconnected struct {
	DeviceID string
	Cause    error
}

// StateChanged reports the radio becoming ready or unavailable.
type StateChanged struct {
	Ready bool
}

func (Discovered) isTransportEvent()         {}
func (DeviceConnected) isTransportEvent()    {}
func (FailedToConnect) isTransportEvent()    {}
func (DeviceDisconnected) isTransportEvent() {}
func (StateChanged) isTransportEvent()       {}

// event is anything handled by the engine loop.
type event interface {
	isEvent()
}

type transportEvent struct {
	TransportEvent
}

// Timer firings carry the generation they were armed with so a firing that
// raced with a cancel is dropped.
type connectTimeout struct{ gen uint64 }
type retryFire struct{ gen uint64 }
type scanRestart struct{ gen uint64 }
type automationDue struct{ gen uint64 }

type automationResult struct {
	deviceName string
	output     string
	err        error
}

type connectRequest struct {
	deviceID string
	reply    chan error
}

type disconnectRequest struct{}

type scanRequest struct {
	start bool
	reply chan error
}

type setTargetRequest struct {
	deviceID string
}

type setAutoConnectRequest struct {
	enabled bool
}

type setAllowBackgroundRequest struct {
	allowed bool
}

type resetRetryRequest struct{}

type foregroundRequest struct{}

type backgroundRequest struct{}

type terminateRequest struct {
	done chan struct{}
}

type devicesRequest struct {
	reply chan []DiscoveredDevice
}

func (transportEvent) isEvent()            {}
func (connectTimeout) isEvent()            {}
func (retryFire) isEvent()                 {}
func (scanRestart) isEvent()               {}
func (automationDue) isEvent()             {}
func (automationResult) isEvent()          {}
func (connectRequest) isEvent()            {}
func (disconnectRequest) isEvent()         {}
func (scanRequest) isEvent()               {}
func (setTargetRequest) isEvent()          {}
func (setAutoConnectRequest) isEvent()     {}
func (setAllowBackgroundRequest) isEvent() {}
func (resetRetryRequest) isEvent()         {}
func (foregroundRequest) isEvent()         {}
func (backgroundRequest) isEvent()         {}
func (terminateRequest) isEvent()          {}
func (devicesRequest) isEvent()            {}
