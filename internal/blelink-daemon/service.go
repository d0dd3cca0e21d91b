/*
blelink - Keeps a BLE peripheral connected and reports connection changes
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

package daemon

import (
	"errors"

	"github.com/TheCacophonyProject/blelink/internal/link"
	"github.com/TheCacophonyProject/blelink/internal/prefs"
	"github.com/TheCacophonyProject/blelink/linkclient"
	"github.com/boltdb/bolt"
	"github.com/godbus/dbus"
	"github.com/godbus/dbus/introspect"
)

const (
	dbusName = linkclient.DbusName
	dbusPath = linkclient.DbusPath
)

type statusLoader interface {
	LoadStatus() (link.StatusMirror, error)
}

type service struct {
	engine *link.Engine
	status statusLoader
}

func startService(engine *link.Engine, status statusLoader) error {
	conn, err := dbus.SystemBus()
	if err != nil {
		return err
	}
	reply, err := conn.RequestName(dbusName, dbus.NameFlagDoNotQueue)
	if err != nil {
		return err
	}
	if reply != dbus.RequestNameReplyPrimaryOwner {
		return errors.New("name already taken")
	}

	s := &service{
		engine: engine,
		status: status,
	}
	conn.Export(s, dbusPath, dbusName)
	conn.Export(genIntrospectable(s), dbusPath, "org.freedesktop.DBus.Introspectable")

	engine.OnSnapshot(func(snap link.Snapshot) {
		err := conn.Emit(dbusPath, dbusName+"."+linkclient.StateChangedSignal,
			snap.State.String(), snap.DeviceID, snap.Status)
		if err != nil {
			log.Warnf("Failed to emit state change: %v", err)
		}
	})
	return nil
}

// Status returns the persisted status mirror.
func (s *service) Status() (bool, string, float64, *dbus.Error) {
	m, err := s.status.LoadStatus()
	if err != nil {
		return false, "", 0, dbusErr(err)
	}
	return m.IsConnected, m.ConnectedDeviceName, m.LastConnectionTime, nil
}

func (s *service) State() (string, string, string, int32, bool, *dbus.Error) {
	snap := s.engine.Snapshot()
	return snap.State.String(), snap.DeviceID, snap.Status, int32(snap.Retry.Attempt), snap.Retry.Retrying, nil
}

func (s *service) Devices() ([]linkclient.Device, *dbus.Error) {
	devices, err := s.engine.Devices()
	if err != nil {
		return nil, dbusErr(err)
	}
	out := make([]linkclient.Device, 0, len(devices))
	for _, d := range devices {
		out = append(out, linkclient.Device{
			ID:          d.ID,
			Name:        d.Name,
			RSSI:        d.RSSI,
			LastSeen:    d.LastSeen.Unix(),
			Connectable: d.Connectable,
		})
	}
	return out, nil
}

func (s *service) Connect(id string) *dbus.Error {
	return dbusErr(s.engine.Connect(id))
}

func (s *service) Disconnect() *dbus.Error {
	return dbusErr(s.engine.Disconnect())
}

func (s *service) StartScan() *dbus.Error {
	return dbusErr(s.engine.StartScan())
}

func (s *service) StopScan() *dbus.Error {
	return dbusErr(s.engine.StopScan())
}

func (s *service) SetTarget(id string) *dbus.Error {
	return dbusErr(s.engine.SetTarget(id))
}

func (s *service) SetAutoConnect(enabled bool) *dbus.Error {
	return dbusErr(s.engine.SetAutoConnect(enabled))
}

func (s *service) SetAllowBackgroundReconnection(allowed bool) *dbus.Error {
	return dbusErr(s.engine.SetAllowBackgroundReconnection(allowed))
}

func (s *service) ResetRetry() *dbus.Error {
	return dbusErr(s.engine.ResetRetry())
}

func (s *service) EnterForeground() *dbus.Error {
	return dbusErr(s.engine.EnterForeground())
}

func (s *service) EnterBackground() *dbus.Error {
	return dbusErr(s.engine.EnterBackground())
}

func genIntrospectable(v interface{}) introspect.Introspectable {
	node := &introspect.Node{
		Interfaces: []introspect.Interface{{
			Name:    dbusName,
			Methods: introspect.Methods(v),
			Signals: []introspect.Signal{{
				Name: linkclient.StateChangedSignal,
				Args: []introspect.Arg{
					{Name: "state", Type: "s"},
					{Name: "deviceID", Type: "s"},
					{Name: "status", Type: "s"},
				},
			}},
		}},
	}
	return introspect.NewIntrospectable(node)
}

// dbusErr names err after the link error it wraps so clients can tell a
// radio that is off from a daemon that is shutting down.
func dbusErr(err error) *dbus.Error {
	if err == nil {
		return nil
	}
	name := linkclient.ErrNameFailed
	switch {
	case errors.Is(err, link.ErrTransportNotReady):
		name = linkclient.ErrNameTransportNotReady
	case errors.Is(err, link.ErrNoTarget):
		name = linkclient.ErrNameNoTarget
	case errors.Is(err, link.ErrStopped):
		name = linkclient.ErrNameStopped
	case errors.Is(err, prefs.ErrBadCRC), errors.Is(err, bolt.ErrTimeout):
		name = linkclient.ErrNameStore
	}
	return &dbus.Error{
		Name: name,
		Body: []interface{}{err.Error()},
	}
}
