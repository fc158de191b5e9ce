package utils

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Fixed device ports.
const (
	DefaultCommandPort = 50040
	DefaultEMGPort     = 50041
	DefaultAccPort     = 50042
)

// DefaultIdleTimeout is how long the EMG stream may stay silent before a
// streaming session is declared done.
const DefaultIdleTimeout = 1000 * time.Millisecond

// ─── Sections ───────────────────────────────────────────────────────────

type DeviceConfig struct {
	Host             string `yaml:"host"`
	CommandPort      int    `yaml:"command_port"`
	EMGPort          int    `yaml:"emg_port"`
	AccPort          int    `yaml:"acc_port"`
	DialTimeoutMs    int    `yaml:"dial_timeout_ms"`
	CommandTimeoutMs int    `yaml:"command_timeout_ms"`
}

type AcquisitionConfig struct {
	ReadTimeoutMs        int `yaml:"read_timeout_ms"`
	IdleTimeoutMs        int `yaml:"idle_timeout_ms"`
	FirstDataTimeoutMs   int `yaml:"first_data_timeout_ms"`
	DataDialMaxElapsedMs int `yaml:"data_dial_max_elapsed_ms"`
}

type LoggingConfig struct {
	Level      string `yaml:"level"`
	LogFile    string `yaml:"log_file"`
	TimingFile string `yaml:"timing_file"`
}

// Config is the top-level structure for trigno.yaml.
type Config struct {
	Device      DeviceConfig      `yaml:"device"`
	Acquisition AcquisitionConfig `yaml:"acquisition"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// DefaultConfig returns the settings the device ships with.
func DefaultConfig() Config {
	return Config{
		Device: DeviceConfig{
			Host:             "127.0.0.1",
			CommandPort:      DefaultCommandPort,
			EMGPort:          DefaultEMGPort,
			AccPort:          DefaultAccPort,
			DialTimeoutMs:    3000,
			CommandTimeoutMs: 5000,
		},
		Acquisition: AcquisitionConfig{
			ReadTimeoutMs:        100,
			IdleTimeoutMs:        int(DefaultIdleTimeout / time.Millisecond),
			FirstDataTimeoutMs:   2000,
			DataDialMaxElapsedMs: 1000,
		},
		Logging: LoggingConfig{
			Level:      "INFO",
			LogFile:    "log.txt",
			TimingFile: "timer.csv",
		},
	}
}

// ─── Loader ─────────────────────────────────────────────────────────────

// LoadConfig reads path and overlays it on DefaultConfig.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects ports and durations the driver cannot work with.
func (c *Config) Validate() error {
	for name, p := range map[string]int{
		"command_port": c.Device.CommandPort,
		"emg_port":     c.Device.EMGPort,
		"acc_port":     c.Device.AccPort,
	} {
		if p <= 0 || p > 65535 {
			return fmt.Errorf("device.%s: invalid port %d", name, p)
		}
	}
	if c.Acquisition.ReadTimeoutMs <= 0 {
		return fmt.Errorf("acquisition.read_timeout_ms must be positive, got %d", c.Acquisition.ReadTimeoutMs)
	}
	if c.Acquisition.IdleTimeoutMs <= c.Acquisition.ReadTimeoutMs {
		return fmt.Errorf("acquisition.idle_timeout_ms (%d) must exceed read_timeout_ms (%d)",
			c.Acquisition.IdleTimeoutMs, c.Acquisition.ReadTimeoutMs)
	}
	if c.Acquisition.FirstDataTimeoutMs < 0 || c.Acquisition.DataDialMaxElapsedMs < 0 {
		return fmt.Errorf("acquisition timeouts must not be negative")
	}
	if _, err := ParseLogLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}
	return nil
}

func ms(v int) time.Duration { return time.Duration(v) * time.Millisecond }

func (c *Config) DialTimeout() time.Duration        { return ms(c.Device.DialTimeoutMs) }
func (c *Config) CommandTimeout() time.Duration     { return ms(c.Device.CommandTimeoutMs) }
func (c *Config) ReadTimeout() time.Duration        { return ms(c.Acquisition.ReadTimeoutMs) }
func (c *Config) IdleTimeout() time.Duration        { return ms(c.Acquisition.IdleTimeoutMs) }
func (c *Config) FirstDataTimeout() time.Duration   { return ms(c.Acquisition.FirstDataTimeoutMs) }
func (c *Config) DataDialMaxElapsed() time.Duration { return ms(c.Acquisition.DataDialMaxElapsedMs) }

// Addr joins the configured host with port.
func (c *Config) Addr(host string, port int) string {
	if host == "" {
		host = c.Device.Host
	}
	return net.JoinHostPort(host, strconv.Itoa(port))
}
