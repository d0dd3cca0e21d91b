package daemon

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/TheCacophonyProject/blelink/internal/dispatch"
	"github.com/TheCacophonyProject/blelink/internal/link"
	"github.com/TheCacophonyProject/blelink/internal/prefs"
	"github.com/TheCacophonyProject/blelink/linkclient"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	log.SetOutput(io.Discard)
	link.SetLogger(log)
}

func TestDefaultConfigMatchesEngineDefaults(t *testing.T) {
	conf := DefaultConfig()
	require.Equal(t, link.DefaultConfig(), conf.linkConfig())
	require.NoError(t, conf.linkConfig().Validate())
	require.False(t, conf.hasForegroundWindow())
}

func TestProcArgs(t *testing.T) {
	args, err := procArgs([]string{"--log-level", "debug"})
	require.NoError(t, err)
	require.Equal(t, "debug", args.LogLevel)

	_, err = procArgs([]string{"--no-such-flag"})
	require.Error(t, err)
}

func TestNewDispatcher(t *testing.T) {
	conf := DefaultConfig()
	conf.ReportEvents = false
	conf.AutomationName = ""
	d := newDispatcher(&conf)
	assert.Empty(t, d.Notifiers)
	assert.Nil(t, d.Automation)

	conf.AutomationName = "on-connect"
	d = newDispatcher(&conf)
	hook, ok := d.Automation.(*dispatch.HookRunner)
	require.True(t, ok)
	assert.Equal(t, conf.HooksDir, hook.Dir)
	assert.Equal(t, conf.AutomationTimeout, hook.Timeout)
}

type fakeWindow struct {
	active   bool
	until    time.Duration
	untilEnd time.Duration
}

func (w fakeWindow) Active() bool            { return w.active }
func (w fakeWindow) Until() time.Duration    { return w.until }
func (w fakeWindow) UntilEnd() time.Duration { return w.untilEnd }

type recordingSwitch struct {
	calls []string
}

func (s *recordingSwitch) EnterForeground() error {
	s.calls = append(s.calls, "foreground")
	return nil
}

func (s *recordingSwitch) EnterBackground() error {
	s.calls = append(s.calls, "background")
	return errors.New("stopped")
}

func TestApplyWindow(t *testing.T) {
	s := &recordingSwitch{}

	wait := applyWindow(fakeWindow{active: true, untilEnd: time.Hour}, s)
	require.Equal(t, time.Hour+time.Second, wait)

	wait = applyWindow(fakeWindow{until: -time.Minute}, s)
	require.Equal(t, time.Second, wait)

	require.Equal(t, []string{"foreground", "background"}, s.calls)
}

type idleTransport struct {
	events chan link.TransportEvent
}

func (t *idleTransport) StartScan() error                   { return nil }
func (t *idleTransport) StopScan() error                    { return nil }
func (t *idleTransport) Connect(string) error               { return nil }
func (t *idleTransport) Disconnect(string) error            { return nil }
func (t *idleTransport) Events() <-chan link.TransportEvent { return t.events }

func TestServiceDrivesEngine(t *testing.T) {
	store, err := prefs.Open(filepath.Join(t.TempDir(), "blelink.db"))
	require.NoError(t, err)
	defer store.Close()

	transport := &idleTransport{events: make(chan link.TransportEvent)}
	engine := link.NewEngine(link.DefaultConfig(), transport, store, &dispatch.Dispatcher{}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		<-engine.Done()
	}()
	go engine.Run(ctx)

	s := &service{engine: engine, status: store}
	require.Nil(t, s.SetTarget("AA:BB:CC:DD:EE:FF"))
	require.Nil(t, s.SetAutoConnect(true))

	devices, derr := s.Devices()
	require.Nil(t, derr)
	require.Empty(t, devices)

	state, deviceID, _, attempt, retrying, derr := s.State()
	require.Nil(t, derr)
	assert.Equal(t, "Disconnected", state)
	assert.Empty(t, deviceID)
	assert.Zero(t, attempt)
	assert.False(t, retrying)

	settings, err := store.LoadSettings()
	require.NoError(t, err)
	assert.Equal(t, link.Target{DeviceID: "AA:BB:CC:DD:EE:FF", AutoConnect: true}, settings.Target)

	connected, name, _, derr := s.Status()
	require.Nil(t, derr)
	assert.False(t, connected)
	assert.Empty(t, name)

	// The adapter has not reported ready yet.
	derr = s.Connect("AA:BB:CC:DD:EE:FF")
	require.NotNil(t, derr)
	require.Equal(t, linkclient.ErrNameTransportNotReady, derr.Name)
	require.Contains(t, derr.Body[0], "not ready")
}

func TestDbusErrNames(t *testing.T) {
	require.Nil(t, dbusErr(nil))

	cases := map[error]string{
		link.ErrTransportNotReady:                      linkclient.ErrNameTransportNotReady,
		link.ErrNoTarget:                               linkclient.ErrNameNoTarget,
		fmt.Errorf("connect: %w", link.ErrStopped):     linkclient.ErrNameStopped,
		fmt.Errorf("load status: %w", prefs.ErrBadCRC): linkclient.ErrNameStore,
		errors.New("adapter busy"):                     linkclient.ErrNameFailed,
	}
	for err, name := range cases {
		derr := dbusErr(err)
		require.NotNil(t, derr)
		assert.Equal(t, name, derr.Name, err.Error())
		assert.Equal(t, []interface{}{err.Error()}, derr.Body)
		assert.Equal(t, name, linkclient.ErrorName(derr))
	}
}

func TestConfigChanged(t *testing.T) {
	conf := DefaultConfig()
	same := func() (*Config, error) {
		c := DefaultConfig()
		return &c, nil
	}
	changed, err := configChanged(&conf, same)
	require.NoError(t, err)
	require.False(t, changed)

	moreAttempts := func() (*Config, error) {
		c := DefaultConfig()
		c.MaxAttempts++
		return &c, nil
	}
	changed, err = configChanged(&conf, moreAttempts)
	require.NoError(t, err)
	require.True(t, changed)

	broken := func() (*Config, error) { return nil, errors.New("bad toml") }
	changed, err = configChanged(&conf, broken)
	require.Error(t, err)
	require.False(t, changed)
}
