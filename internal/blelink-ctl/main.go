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

package ctl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/TheCacophonyProject/blelink/internal/logging"
	"github.com/TheCacophonyProject/blelink/internal/prefs"
	"github.com/TheCacophonyProject/blelink/linkclient"
	"github.com/alexflint/go-arg"
)

var (
	version = "<not set>"
	log     = logging.NewLogger("info")
)

type noArgs struct{}

type DeviceCmd struct {
	ID string `arg:"positional,required" help:"Device address, e.g. AA:BB:CC:DD:EE:FF"`
}

type ToggleCmd struct {
	Value string `arg:"positional,required" help:"on or off"`
}

type ScanCmd struct {
	Stop bool `arg:"--stop" help:"Stop scanning instead of starting."`
}

type Args struct {
	Status          *noArgs    `arg:"subcommand:status" help:"Show the saved connection status."`
	State           *noArgs    `arg:"subcommand:state" help:"Show the live connection state."`
	Devices         *noArgs    `arg:"subcommand:devices" help:"List discovered devices."`
	Connect         *DeviceCmd `arg:"subcommand:connect" help:"Connect to a device."`
	Disconnect      *noArgs    `arg:"subcommand:disconnect" help:"Disconnect the active device."`
	Scan            *ScanCmd   `arg:"subcommand:scan" help:"Start or stop scanning."`
	Target          *DeviceCmd `arg:"subcommand:target" help:"Set the device to connect to automatically. Use \"\" to clear it."`
	AutoConnect     *ToggleCmd `arg:"subcommand:auto-connect" help:"Turn automatic connection on or off."`
	AllowBackground *ToggleCmd `arg:"subcommand:allow-background" help:"Allow reconnecting while in the background."`
	ResetRetry      *noArgs    `arg:"subcommand:reset-retry" help:"Re-arm reconnection after it gave up."`
	Foreground      *noArgs    `arg:"subcommand:foreground" help:"Tell the daemon it is in the foreground."`
	Background      *noArgs    `arg:"subcommand:background" help:"Tell the daemon it is in the background."`
	Watch           *noArgs    `arg:"subcommand:watch" help:"Print state changes until interrupted."`
	StorePath       string     `arg:"--store" help:"Preferences store, read when the daemon isn't running."`
	logging.LogArgs
}

func (Args) Version() string {
	return version
}

var defaultArgs = Args{
	StorePath: prefs.DefaultPath,
}

func procArgs(input []string) (Args, error) {
	args := defaultArgs
	parser, err := arg.NewParser(arg.Config{}, &args)
	if err != nil {
		return Args{}, err
	}
	err = parser.Parse(input)
	if errors.Is(err, arg.ErrHelp) {
		parser.WriteHelp(os.Stdout)
		os.Exit(0)
	}
	if errors.Is(err, arg.ErrVersion) {
		fmt.Println(version)
		os.Exit(0)
	}
	if err == nil && parser.Subcommand() == nil {
		parser.WriteHelp(os.Stdout)
		return args, errors.New("no subcommand given")
	}
	return args, err
}

func Run(inputArgs []string, ver string) error {
	version = ver
	args, err := procArgs(inputArgs)
	if err != nil {
		return fmt.Errorf("failed to parse args: %v", err)
	}
	log = logging.NewLogger(args.LogLevel)
	return runCommand(args, os.Stdout)
}

func runCommand(args Args, out io.Writer) error {
	switch {
	case args.Status != nil:
		return printStatus(args.StorePath, out)
	case args.State != nil:
		s, err := linkclient.GetState()
		if err != nil {
			return err
		}
		fmt.Fprint(out, formatState(s))
		return nil
	case args.Devices != nil:
		devices, err := linkclient.Devices()
		if err != nil {
			return err
		}
		fmt.Fprint(out, formatDevices(devices))
		return nil
	case args.Connect != nil:
		return linkclient.Connect(args.Connect.ID)
	case args.Disconnect != nil:
		return linkclient.Disconnect()
	case args.Scan != nil:
		if args.Scan.Stop {
			return linkclient.StopScan()
		}
		return linkclient.StartScan()
	case args.Target != nil:
		return linkclient.SetTarget(args.Target.ID)
	case args.AutoConnect != nil:
		on, err := parseToggle(args.AutoConnect.Value)
		if err != nil {
			return err
		}
		return linkclient.SetAutoConnect(on)
	case args.AllowBackground != nil:
		on, err := parseToggle(args.AllowBackground.Value)
		if err != nil {
			return err
		}
		return linkclient.SetAllowBackgroundReconnection(on)
	case args.ResetRetry != nil:
		return linkclient.ResetRetry()
	case args.Foreground != nil:
		return linkclient.EnterForeground()
	case args.Background != nil:
		return linkclient.EnterBackground()
	case args.Watch != nil:
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		err := linkclient.WatchState(ctx, func(c linkclient.StateChange) {
			fmt.Fprintf(out, "%s %s %s\n", time.Now().Format(time.TimeOnly), c.State, c.Status)
		})
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	}
	return errors.New("no subcommand given")
}

// printStatus asks the daemon for the status mirror and falls back to reading
// the store directly when the daemon can't be reached.
func printStatus(storePath string, out io.Writer) error {
	status, err := linkclient.GetStatus()
	if err != nil {
		log.Debugf("Daemon unavailable, reading %s: %v", storePath, err)
		store, err := prefs.OpenReadOnly(storePath)
		if err != nil {
			return err
		}
		m, err := store.LoadStatus()
		if err != nil {
			return err
		}
		status = linkclient.Status{
			Connected:      m.IsConnected,
			DeviceName:     m.ConnectedDeviceName,
			LastConnection: linkclient.EpochTime(m.LastConnectionTime),
		}
	}
	fmt.Fprint(out, formatStatus(status))
	return nil
}

func parseToggle(v string) (bool, error) {
	switch strings.ToLower(v) {
	case "on", "true", "yes", "1":
		return true, nil
	case "off", "false", "no", "0":
		return false, nil
	}
	return false, fmt.Errorf("expected on or off, got '%s'", v)
}

func formatStatus(s linkclient.Status) string {
	var b strings.Builder
	if s.Connected {
		fmt.Fprintf(&b, "Connected: %s\n", s.DeviceName)
	} else {
		fmt.Fprintln(&b, "Not connected")
	}
	if !s.LastConnection.IsZero() {
		fmt.Fprintf(&b, "Last connection: %s\n", s.LastConnection.Format(time.RFC3339))
	}
	return b.String()
}

func formatState(s linkclient.State) string {
	var b strings.Builder
	fmt.Fprintf(&b, "State: %s\n", s.State)
	if s.DeviceID != "" {
		fmt.Fprintf(&b, "Device: %s\n", s.DeviceID)
	}
	fmt.Fprintf(&b, "Status: %s\n", s.Status)
	if s.Retrying || s.Attempt > 0 {
		fmt.Fprintf(&b, "Reconnect attempts: %d (retrying: %t)\n", s.Attempt, s.Retrying)
	}
	return b.String()
}

func formatDevices(devices []linkclient.Device) string {
	if len(devices) == 0 {
		return "No devices found\n"
	}
	var b strings.Builder
	for _, d := range devices {
		name := d.Name
		if name == "" {
			name = "(unnamed)"
		}
		fmt.Fprintf(&b, "%s  %4d dBm  %s\n", d.ID, d.RSSI, name)
	}
	return b.String()
}
