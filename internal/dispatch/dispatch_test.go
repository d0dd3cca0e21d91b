package dispatch

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/TheCacophonyProject/event-reporter/v3/eventclient"
	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpiotest"
)

func init() {
	log.SetOutput(io.Discard)
}

func writeHook(t *testing.T, dir, name, script string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(script), 0755))
}

func TestHookRunnerPassesDeviceName(t *testing.T) {
	dir := t.TempDir()
	writeHook(t, dir, "on-connect", "#!/bin/sh\necho \"hello $BLELINK_DEVICE_NAME\"\n")

	h := &HookRunner{Dir: dir, Name: "on-connect"}
	out, err := h.Run("sensor")
	require.NoError(t, err)
	require.Equal(t, "hello sensor", out)
}

func TestHookRunnerFailure(t *testing.T) {
	dir := t.TempDir()
	writeHook(t, dir, "on-connect", "#!/bin/sh\necho broken\nexit 3\n")

	h := &HookRunner{Dir: dir, Name: "on-connect"}
	out, err := h.Run("sensor")
	require.Error(t, err)
	require.Equal(t, "broken", out)
}

func TestHookRunnerMissingHook(t *testing.T) {
	h := &HookRunner{Dir: t.TempDir(), Name: "missing"}
	_, err := h.Run("sensor")
	require.ErrorIs(t, err, ErrHookNotFound)
}

func TestHookRunnerNotExecutable(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "on-connect"), []byte("echo hi"), 0644))
	h := &HookRunner{Dir: dir, Name: "on-connect"}
	_, err := h.Run("sensor")
	require.Error(t, err)
}

func TestEventReporter(t *testing.T) {
	var events []eventclient.Event
	r := &EventReporter{addEvent: func(e eventclient.Event) error {
		events = append(events, e)
		return nil
	}}

	r.NotifyConnected("sensor")
	r.NotifyDisconnected("sensor")

	require.Len(t, events, 2)
	require.Equal(t, ConnectedEvent, events[0].Type)
	require.Equal(t, DisconnectedEvent, events[1].Type)
	require.Equal(t, "sensor", events[1].Details["device"])
}

func TestEventReporterErrorIsNotFatal(t *testing.T) {
	r := &EventReporter{addEvent: func(eventclient.Event) error {
		return errors.New("no dbus")
	}}
	require.NotPanics(t, func() { r.NotifyConnected("sensor") })
}

func TestStatusLED(t *testing.T) {
	pin := &gpiotest.Pin{N: "GPIO16", L: gpio.High}
	led, err := newStatusLED(pin)
	require.NoError(t, err)
	require.Equal(t, gpio.Low, pin.L)

	led.NotifyConnected("sensor")
	require.Equal(t, gpio.High, pin.L)
	led.NotifyDisconnected("sensor")
	require.Equal(t, gpio.Low, pin.L)
}

type recordingNotifier struct {
	calls []string
}

func (n *recordingNotifier) NotifyConnected(name string) {
	n.calls = append(n.calls, "connected "+name)
}

func (n *recordingNotifier) NotifyDisconnected(name string) {
	n.calls = append(n.calls, "disconnected "+name)
}

func TestDispatcherFansOut(t *testing.T) {
	a, b := &recordingNotifier{}, &recordingNotifier{}
	d := &Dispatcher{Notifiers: []Notifier{a, b}}

	d.NotifyConnected("sensor")
	d.NotifyDisconnected("sensor")

	require.Equal(t, []string{"connected sensor", "disconnected sensor"}, a.calls)
	require.Equal(t, a.calls, b.calls)

	out, err := d.RunAutomation("sensor")
	require.NoError(t, err)
	require.Empty(t, out)
}
