package link

import "time"

// Transport is the radio capability driven by the engine. All methods must
// return promptly; results are delivered as TransportEvents on Events.
type Transport interface {
	StartScan() error
	StopScan() error
	// Connect begins a connection attempt. The outcome arrives later as a
	// DeviceConnected or FailedToConnect event.
	Connect(id string) error
	// Disconnect closes a connection or cancels a pending attempt. A
	// DeviceDisconnected event with a nil cause follows.
	Disconnect(id string) error
	Events() <-chan TransportEvent
}

// Preferences persists settings and the status mirror.
type Preferences interface {
	LoadSettings() (Settings, error)
	SaveSettings(Settings) error
	SaveStatus(StatusMirror) error
}

// Dispatcher receives fire-and-forget side effects of state transitions.
type Dispatcher interface {
	NotifyConnected(deviceName string)
	NotifyDisconnected(deviceName string)
	RunAutomation(deviceName string) (string, error)
}

// Clock schedules one-shot timers. Tests swap in a manual clock.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is a cancellable one-shot timer.
type Timer interface {
	Stop() bool
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// SystemClock returns a Clock backed by the time package.
func SystemClock() Clock {
	return realClock{}
}
