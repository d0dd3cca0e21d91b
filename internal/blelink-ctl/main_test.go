package ctl

import (
	"testing"
	"time"

	"github.com/TheCacophonyProject/blelink/linkclient"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProcArgsSubcommands(t *testing.T) {
	args, err := procArgs([]string{"connect", "AA:BB:CC:DD:EE:FF"})
	require.NoError(t, err)
	require.NotNil(t, args.Connect)
	require.Equal(t, "AA:BB:CC:DD:EE:FF", args.Connect.ID)

	args, err = procArgs([]string{"scan", "--stop"})
	require.NoError(t, err)
	require.NotNil(t, args.Scan)
	require.True(t, args.Scan.Stop)

	args, err = procArgs([]string{"auto-connect", "off"})
	require.NoError(t, err)
	require.Equal(t, "off", args.AutoConnect.Value)
	require.Equal(t, "/var/lib/blelink/blelink.db", args.StorePath)
}

func TestParseToggle(t *testing.T) {
	for _, v := range []string{"on", "ON", "true", "1"} {
		on, err := parseToggle(v)
		require.NoError(t, err)
		assert.True(t, on, v)
	}
	for _, v := range []string{"off", "false", "0", "no"} {
		on, err := parseToggle(v)
		require.NoError(t, err)
		assert.False(t, on, v)
	}
	_, err := parseToggle("maybe")
	require.Error(t, err)
}

func TestFormatStatus(t *testing.T) {
	require.Equal(t, "Not connected\n", formatStatus(linkclient.Status{}))

	last := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	out := formatStatus(linkclient.Status{Connected: true, DeviceName: "sensor", LastConnection: last})
	require.Equal(t, "Connected: sensor\nLast connection: 2024-03-01T10:00:00Z\n", out)
}

func TestFormatState(t *testing.T) {
	out := formatState(linkclient.State{
		State:    "Disconnected",
		DeviceID: "",
		Status:   "Reconnecting in 3s (attempt 1 of 5)",
		Attempt:  0,
		Retrying: true,
	})
	require.Equal(t, "State: Disconnected\nStatus: Reconnecting in 3s (attempt 1 of 5)\nReconnect attempts: 0 (retrying: true)\n", out)
}

func TestFormatDevices(t *testing.T) {
	require.Equal(t, "No devices found\n", formatDevices(nil))

	out := formatDevices([]linkclient.Device{
		{ID: "AA", Name: "sensor", RSSI: -40},
		{ID: "BB", RSSI: -80},
	})
	require.Equal(t, "AA   -40 dBm  sensor\nBB   -80 dBm  (unnamed)\n", out)
}
