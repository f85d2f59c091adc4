package config

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsWithNoFile(t *testing.T) {
	cfg, err := Load("/nonexistent/path/config.yaml")
	require.NoError(t, err)

	assert.Equal(t, "/dev/ttyAMA0", cfg.GPS.SerialPort)
	assert.Equal(t, 115200, cfg.GPS.BaudRate)
	assert.Equal(t, 18, cfg.GPS.PPSPin)
	assert.True(t, cfg.GPS.PPSRisingEdge)
	assert.Equal(t, int64(1_000_000), cfg.GPS.FixStalenessMicros)

	assert.Equal(t, "pool.ntp.org", cfg.SNTPClient.ServerHost)
	assert.Equal(t, 120, cfg.SNTPClient.PollIntervalSec)
	assert.Equal(t, 5, cfg.SNTPClient.UDPTimeoutSec)
	assert.Equal(t, 3, cfg.SNTPClient.MinVersion)

	assert.True(t, cfg.SNTPServer.Enabled)
	assert.Equal(t, 123, cfg.SNTPServer.ListenPort)

	assert.True(t, cfg.Status.Enabled)
	assert.Equal(t, ":8090", cfg.Status.Listen)

	assert.Equal(t, "info", cfg.Logger.Level)
}

func TestLoadEnvOverride(t *testing.T) {
	os.Setenv("TIMESYNCD_GPS_BAUD_RATE", "9600")
	os.Setenv("TIMESYNCD_SNTP_CLIENT_SERVER_HOST", "time.example.org")
	defer os.Unsetenv("TIMESYNCD_GPS_BAUD_RATE")
	defer os.Unsetenv("TIMESYNCD_SNTP_CLIENT_SERVER_HOST")

	cfg, err := Load("/nonexistent/path/config.yaml")
	require.NoError(t, err)

	assert.Equal(t, 9600, cfg.GPS.BaudRate)
	assert.Equal(t, "time.example.org", cfg.SNTPClient.ServerHost)
}

func TestLoadFromExplicitFile(t *testing.T) {
	dir := t.TempDir()
	path := dir + "/config.yaml"
	contents := "gps:\n  serial_port: /dev/ttyUSB0\n  baud_rate: 4800\nsntp_server:\n  enabled: false\n"
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/dev/ttyUSB0", cfg.GPS.SerialPort)
	assert.Equal(t, 4800, cfg.GPS.BaudRate)
	assert.False(t, cfg.SNTPServer.Enabled)
	// Untouched sections still carry their defaults.
	assert.Equal(t, "pool.ntp.org", cfg.SNTPClient.ServerHost)
}
