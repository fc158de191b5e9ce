package utils

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "trigno.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefaultConfig_DevicePorts(t *testing.T) {
	cfg := DefaultConfig()

	require.NoError(t, cfg.Validate())
	assert.Equal(t, 50040, cfg.Device.CommandPort)
	assert.Equal(t, 50041, cfg.Device.EMGPort)
	assert.Equal(t, 50042, cfg.Device.AccPort)
	assert.Equal(t, 100*time.Millisecond, cfg.ReadTimeout())
	assert.Equal(t, DefaultIdleTimeout, cfg.IdleTimeout())
}

func TestLoadConfig_OverlaysDefaults(t *testing.T) {
	path := writeConfig(t, `
device:
  host: 10.0.0.7
acquisition:
  idle_timeout_ms: 1500
logging:
  level: debug
`)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "10.0.0.7", cfg.Device.Host)
	assert.Equal(t, DefaultCommandPort, cfg.Device.CommandPort)
	assert.Equal(t, 1500*time.Millisecond, cfg.IdleTimeout())
	assert.Equal(t, 100*time.Millisecond, cfg.ReadTimeout())
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "log.txt", cfg.Logging.LogFile)
}

func TestLoadConfig_Errors(t *testing.T) {
	cases := map[string]string{
		"bad port":        "device:\n  emg_port: 70000\n",
		"idle below read": "acquisition:\n  read_timeout_ms: 100\n  idle_timeout_ms: 50\n",
		"zero read":       "acquisition:\n  read_timeout_ms: 0\n",
		"negative wait":   "acquisition:\n  first_data_timeout_ms: -1\n",
		"bad level":       "logging:\n  level: loud\n",
		"not yaml":        "device: [unterminated\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, body))
			assert.Error(t, err)
		})
	}

	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestConfig_Addr(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "127.0.0.1:50040", cfg.Addr("", cfg.Device.CommandPort))
	assert.Equal(t, "192.168.1.5:50041", cfg.Addr("192.168.1.5", cfg.Device.EMGPort))
	assert.Equal(t, "[::1]:50042", cfg.Addr("::1", cfg.Device.AccPort))
}

func TestLoadConfig_ShippedDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join("..", "config", "trigno.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), *cfg)
}
