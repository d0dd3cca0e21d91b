// Package linkclient talks to the blelink daemon over D-Bus.
package linkclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/godbus/dbus"
)

const (
	DbusName = "org.cacophony.blelink"
	DbusPath = "/org/cacophony/blelink"

	StateChangedSignal = "StateChanged"
)

// D-Bus error names returned by the daemon.
const (
	ErrNameTransportNotReady = DbusName + ".Error.TransportNotReady"
	ErrNameNoTarget          = DbusName + ".Error.NoTarget"
	ErrNameStopped           = DbusName + ".Error.Stopped"
	ErrNameStore             = DbusName + ".Error.Store"
	ErrNameFailed            = DbusName + ".Error.Failed"
)

// ErrorName returns the D-Bus error name of err, or "" if err did not come
// from the bus.
func ErrorName(err error) string {
	var dbusErr dbus.Error
	if errors.As(err, &dbusErr) {
		return dbusErr.Name
	}
	var dbusErrPtr *dbus.Error
	if errors.As(err, &dbusErrPtr) {
		return dbusErrPtr.Name
	}
	return ""
}

// Device is a discovered device as sent over D-Bus.
type Device struct {
	ID          string
	Name        string
	RSSI        int16
	LastSeen    int64
	Connectable bool
}

func (d Device) LastSeenTime() time.Time {
	return time.Unix(d.LastSeen, 0)
}

// Status is the persisted connection status.
type Status struct {
	Connected      bool
	DeviceName     string
	LastConnection time.Time
}

// State is the live engine state.
type State struct {
	State    string
	DeviceID string
	Status   string
	Attempt  int32
	Retrying bool
}

func call(method string, args ...interface{}) *dbus.Call {
	conn, err := dbus.SystemBus()
	if err != nil {
		return &dbus.Call{Err: err}
	}
	obj := conn.Object(DbusName, DbusPath)
	return obj.Call(DbusName+"."+method, 0, args...)
}

func GetStatus() (Status, error) {
	var connected bool
	var name string
	var last float64
	if err := call("Status").Store(&connected, &name, &last); err != nil {
		return Status{}, err
	}
	return Status{
		Connected:      connected,
		DeviceName:     name,
		LastConnection: EpochTime(last),
	}, nil
}

// EpochTime converts fractional seconds since the unix epoch. Zero is the zero time.
func EpochTime(seconds float64) time.Time {
	if seconds == 0 {
		return time.Time{}
	}
	sec := int64(seconds)
	return time.Unix(sec, int64((seconds-float64(sec))*1e9))
}

func GetState() (State, error) {
	var s State
	err := call("State").Store(&s.State, &s.DeviceID, &s.Status, &s.Attempt, &s.Retrying)
	return s, err
}

func Devices() ([]Device, error) {
	var devices []Device
	if err := call("Devices").Store(&devices); err != nil {
		return nil, err
	}
	return devices, nil
}

func Connect(id string) error {
	return call("Connect", id).Err
}

func Disconnect() error {
	return call("Disconnect").Err
}

func StartScan() error {
	return call("StartScan").Err
}

func StopScan() error {
	return call("StopScan").Err
}

func SetTarget(id string) error {
	return call("SetTarget", id).Err
}

func SetAutoConnect(enabled bool) error {
	return call("SetAutoConnect", enabled).Err
}

func SetAllowBackgroundReconnection(allowed bool) error {
	return call("SetAllowBackgroundReconnection", allowed).Err
}

func ResetRetry() error {
	return call("ResetRetry").Err
}

func EnterForeground() error {
	return call("EnterForeground").Err
}

func EnterBackground() error {
	return call("EnterBackground").Err
}

// StateChange is the body of a StateChanged signal.
type StateChange struct {
	State    string
	DeviceID string
	Status   string
}

// WatchState calls f for every StateChanged signal until ctx is done.
func WatchState(ctx context.Context, f func(StateChange)) error {
	conn, err := dbus.SystemBus()
	if err != nil {
		return err
	}
	rule := fmt.Sprintf("type='signal',interface='%s',path='%s',member='%s'", DbusName, DbusPath, StateChangedSignal)
	if err := conn.BusObject().Call("org.freedesktop.DBus.AddMatch", 0, rule).Err; err != nil {
		return err
	}
	defer conn.BusObject().Call("org.freedesktop.DBus.RemoveMatch", 0, rule)

	signals := make(chan *dbus.Signal, 10)
	conn.Signal(signals)
	defer conn.RemoveSignal(signals)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case sig := <-signals:
			if change, ok := parseStateChange(sig); ok {
				f(change)
			}
		}
	}
}

func parseStateChange(sig *dbus.Signal) (StateChange, bool) {
	if sig == nil || sig.Name != DbusName+"."+StateChangedSignal || len(sig.Body) != 3 {
		return StateChange{}, false
	}
	state, ok1 := sig.Body[0].(string)
	id, ok2 := sig.Body[1].(string)
	status, ok3 := sig.Body[2].(string)
	if !ok1 || !ok2 || !ok3 {
		return StateChange{}, false
	}
	return StateChange{State: state, DeviceID: id, Status: status}, true
}
