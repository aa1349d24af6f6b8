// internal/config/config_test.go
package config

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
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func Test_LoadFile(t *testing.T) {
	path := writeConfig(t, `
app:
  environment: test
definitions:
  files: [defs/inst.toml]
interfaces:
  - name: inst_int
    type: TCP_CLIENT
    targets: [inst]
    auto_reconnect: false
    reconnect_delay: 2s
    options:
      LISTEN_ADDRESS: ["127.0.0.1"]
    stream:
      host: 127.0.0.1
      port: 8081
    protocols:
      - type: LENGTH
        direction: read_write
        args:
          bit_offset: 16
          bit_size: 16
          value_offset: 7
      - type: CRC
`)

	cfg, err := LoadFile(path)
	require.NoError(t, err)

	assert.Equal(t, "groundlink", cfg.App.Name)
	assert.Equal(t, "8090", cfg.Server.Port)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, []string{"defs/inst.toml"}, cfg.Definitions.Files)
	assert.Equal(t, 30*time.Second, cfg.Redis.StatusTTL)
	assert.Equal(t, "groundlink", cfg.NATS.SubjectPrefix)

	require.Len(t, cfg.Interfaces, 1)
	intf := cfg.Interfaces[0]
	assert.Equal(t, "INST_INT", intf.Name)
	assert.Equal(t, "tcp_client", intf.Type)
	assert.Equal(t, []string{"INST"}, intf.Targets)
	assert.True(t, intf.IsConnectOnStartup())
	assert.False(t, intf.IsAutoReconnect())
	assert.True(t, intf.IsWriteRawAllowed())
	assert.Equal(t, 2*time.Second, intf.ReconnectDelayOrDefault())
	assert.Equal(t, "127.0.0.1", intf.Stream["host"])

	require.Len(t, intf.Protocols, 2)
	assert.Equal(t, "READ_WRITE", intf.Protocols[0].Direction)
	assert.EqualValues(t, 16, intf.Protocols[0].Args["bit_offset"])
	assert.Equal(t, "", intf.Protocols[1].Direction)
}

func Test_LoadFileEnvOverride(t *testing.T) {
	path := writeConfig(t, "app:\n  environment: test\n")
	t.Setenv("GROUNDLINK_LOGGING_LEVEL", "debug")

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func Test_LoadFileValidation(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"bad environment", "app:\n  environment: moon\n"},
		{"bad level", "logging:\n  level: loud\n"},
		{"missing interface name", "interfaces:\n  - type: udp\n"},
		{"bad interface type", "interfaces:\n  - name: a\n    type: carrier_pigeon\n"},
		{"duplicate names", "interfaces:\n  - name: a\n    type: udp\n  - name: A\n    type: udp\n"},
		{"bad direction", "interfaces:\n  - name: a\n    type: udp\n    protocols:\n      - type: BURST\n        direction: SIDEWAYS\n"},
		{"tls without cert", "server:\n  tls:\n    enabled: true\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFile(writeConfig(t, tt.body))
			assert.ErrorContains(t, err, "config validation failed")
		})
	}

	_, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
