package link

import (
	"time"
)

// ConnectionState is the lifecycle state of the single active device.
type ConnectionState int

const (
	Disconnected ConnectionState = iota
	Connecting
	Connected
	Disconnecting
)

func (s ConnectionState) String() string {
	switch s {
	case Disconnected:
		return "Disconnected"
	case Connecting:
		return "Connecting"
	case Connected:
		return "Connected"
	case Disconnecting:
		return "Disconnecting"
	default:
		return "Unknown"
	}
}

// Target is the device designated for automatic connection.
type Target struct {
	DeviceID    string
	AutoConnect bool
}

// Armed reports whether sightings and failures of id should drive
// automatic connection.
func (t Target) Armed(id string) bool {
	return t.AutoConnect && t.DeviceID != "" && t.DeviceID == id
}

// EnvironmentFlags gate the reconnection policy.
type EnvironmentFlags struct {
	Foreground                  bool
	AllowBackgroundReconnection bool
}

// RetryAllowed reports whether a retry may be scheduled in this environment.
func (e EnvironmentFlags) RetryAllowed() bool {
	return e.Foreground || e.AllowBackgroundReconnection
}

// RetryState is a read-only view of the reconnection policy.
type RetryState struct {
	Attempt     int
	MaxAttempts int
	// Delay is the delay of the most recently scheduled attempt, or the
	// initial delay after a reset.
	Delay     time.Duration
	BaseDelay time.Duration
	Retrying  bool
	// Pending is true while a retry timer is armed or an attempt is waiting
	// for the transport to become ready.
	Pending bool
}

// Settings are the persisted preferences.
type Settings struct {
	Target                      Target
	AllowBackgroundReconnection bool
}

// StatusMirror is written on every state change so other processes can
// read the current status without going through the engine.
type StatusMirror struct {
	IsConnected         bool
	ConnectedDeviceName string
	// LastConnectionTime is in seconds since the unix epoch.
	LastConnectionTime float64
}

// DiscoveredDevice is the latest known record for an advertising device.
type DiscoveredDevice struct {
	ID               string
	Name             string
	RSSI             int16
	LastSeen         time.Time
	Connectable      bool
	TxPower          *int8
	ManufacturerID   *uint16
	ManufacturerData []byte
}

// DisplayName returns the advertised name, falling back to the identifier.
func (d DiscoveredDevice) DisplayName() string {
	if d.Name != "" {
		return d.Name
	}
	return d.ID
}

// Snapshot is a comparable read-only view of the engine state.
type Snapshot struct {
	State          ConnectionState
	DeviceID       string
	DeviceName     string
	Status         string
	TransportReady bool
	Scanning       bool
	Target         Target
	Environment    EnvironmentFlags
	Retry          RetryState
}
