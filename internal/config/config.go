// Package config loads this appliance's configuration via viper:
// defaults, an optional YAML file, and TIMESYNCD_-prefixed env var
// overrides, matching the teacher's internal/config/config.go.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Config holds the appliance's configurable options. The NTP version
// written into client requests is not among them: the client always
// sends sntpclient.DefaultVersion (4).
type Config struct {
	GPS        GPSConfig        `mapstructure:"gps"`
	SNTPClient SNTPClientConfig `mapstructure:"sntp_client"`
	SNTPServer SNTPServerConfig `mapstructure:"sntp_server"`
	Status     StatusConfig     `mapstructure:"status"`
	Logger     LoggerConfig     `mapstructure:"logger"`
}

// GPSConfig configures the NMEA UART and PPS input.
type GPSConfig struct {
	SerialPort         string `mapstructure:"serial_port"`
	BaudRate           int    `mapstructure:"baud_rate"`
	PPSPin             int    `mapstructure:"pps_pin"`
	PPSRisingEdge      bool   `mapstructure:"pps_rising_edge"`
	FixStalenessMicros int64  `mapstructure:"fix_staleness_micros"`
}

// SNTPClientConfig configures the upstream SNTP client.
type SNTPClientConfig struct {
	ServerHost      string `mapstructure:"server_host"`
	PollIntervalSec int    `mapstructure:"poll_interval_seconds"`
	UDPTimeoutSec   int    `mapstructure:"udp_timeout_seconds"`
	MinVersion      int    `mapstructure:"min_version"`
}

// SNTPServerConfig configures the downstream-facing SNTP server.
type SNTPServerConfig struct {
	Enabled    bool `mapstructure:"enabled"`
	ListenPort int  `mapstructure:"listen_port"`
}

// StatusConfig configures the HTTP status surface.
type StatusConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
}

// LoggerConfig configures the process-wide logger.
type LoggerConfig struct {
	Level      string `mapstructure:"level"`
	LogDir     string `mapstructure:"log_dir"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// Load reads configuration from configPath (if non-empty), falling
// back to ./config.yaml or $HOME/.timesyncd/config.yaml, then
// TIMESYNCD_-prefixed environment variables. A config file that does
// not exist is not an error: defaults and env overrides still apply.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath(getConfigDir())
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !os.IsNotExist(err) {
			return nil, fmt.Errorf("config: read config: %w", err)
		}
	}

	v.SetEnvPrefix("TIMESYNCD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("gps.serial_port", "/dev/ttyAMA0")
	v.SetDefault("gps.baud_rate", 115200)
	v.SetDefault("gps.pps_pin", 18)
	v.SetDefault("gps.pps_rising_edge", true)
	v.SetDefault("gps.fix_staleness_micros", 1_000_000)

	v.SetDefault("sntp_client.server_host", "pool.ntp.org")
	v.SetDefault("sntp_client.poll_interval_seconds", 120)
	v.SetDefault("sntp_client.udp_timeout_seconds", 5)
	v.SetDefault("sntp_client.min_version", 3)

	v.SetDefault("sntp_server.enabled", true)
	v.SetDefault("sntp_server.listen_port", 123)

	v.SetDefault("status.enabled", true)
	v.SetDefault("status.listen", ":8090")

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.log_dir", "./logs")
	v.SetDefault("logger.max_size_mb", 20)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age_days", 14)
}

func getConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".timesyncd")
}
