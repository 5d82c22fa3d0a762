package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadLines(t *testing.T) {
	path := writeFile(t, "garage.conf", `
# central
preco_por_minuto = 0.15
log_level = "debug"

[serial]
port = /dev/ttyUSB1   # bus
timeout = 500ms
`)
	v, err := Load(path)
	require.NoError(t, err)
	require.InDelta(t, 0.15, v.Float("preco_por_minuto", 0), 1e-9)
	require.Equal(t, "debug", v.String("log_level", "info"))
	require.Equal(t, "/dev/ttyUSB1", v.String("serial_port", ""))
	require.Equal(t, 500*time.Millisecond, v.Duration("serial_timeout", 0))
	require.NoError(t, v.Err())
}

func TestLoadLinesRejectsGarbage(t *testing.T) {
	_, err := Load(writeFile(t, "bad.conf", "no equals here\n"))
	require.Error(t, err)
}

func TestLoadYAMLFlattens(t *testing.T) {
	path := writeFile(t, "garage.yaml", `
camera:
  entry_address: 0x11
vagas:
  terreo:
    pne: 2
gpio:
  addr: [17, 18]
`)
	v, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, 0x11, v.Int("camera_entry_address", 0))
	require.Equal(t, 2, v.Int("vagas_terreo_pne", 0))
	require.Equal(t, []int{17, 18}, v.IntList("gpio_addr", nil))
}

func TestLoadTOML(t *testing.T) {
	path := writeFile(t, "garage.toml", `
gpio_driver = "sim"
[telemetry]
enabled = true
interval = 30
`)
	v, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "sim", v.String("gpio_driver", ""))
	require.True(t, v.Bool("telemetry_enabled", false))
	require.Equal(t, 30*time.Second, v.Duration("telemetry_interval", 0))
}

func TestEnvOverrides(t *testing.T) {
	v := New(map[string]string{"serial_port": "/dev/ttyUSB0"})
	v.ApplyEnv([]string{"GARAGE_SERIAL_PORT=/dev/ttyS3", "HOME=/root"})
	require.Equal(t, "/dev/ttyS3", v.String("serial_port", ""))
	require.False(t, v.Has("home"))
}

func TestGetterErrorsCollected(t *testing.T) {
	v := New(map[string]string{"port": "abc", "rate": "x"})
	require.Equal(t, 5000, v.Int("port", 5000))
	require.Equal(t, 0.15, v.Float("rate", 0.15))
	require.Equal(t, 7, v.Int("missing", 7))
	require.Error(t, v.Err())
}
