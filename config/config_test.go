package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "packetnet.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	assert.NoError(t, Default().Validate())
}

func TestLoadOverridesOnlyDefinedKeys(t *testing.T) {
	path := writeConfig(t, `
transport = "WS"
port = 9000
poll_interval = "5ms"

[log]
level = "debug"
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	def := Default()
	assert.Equal(t, TransportWS, cfg.Transport)
	assert.Equal(t, 9000, cfg.Port)
	assert.Equal(t, 5*time.Millisecond, cfg.PollInterval)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, def.Address, cfg.Address)
	assert.Equal(t, def.IdleTimeout, cfg.IdleTimeout)
	assert.Equal(t, def.LogFormat, cfg.LogFormat)
	assert.NoError(t, cfg.Validate())
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.toml"))
	assert.Error(t, err)

	_, err = Load(writeConfig(t, `idle_timeout = "soon"`))
	assert.ErrorContains(t, err, "idle_timeout")

	_, err = Load(writeConfig(t, `port = `))
	assert.Error(t, err)
}

func TestLoadWarnsOnUnknownKeys(t *testing.T) {
	hook := logtest.NewGlobal()
	defer hook.Reset()

	_, err := Load(writeConfig(t, `colour = "blue"`))
	require.NoError(t, err)

	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
}

func TestFromEnv(t *testing.T) {
	tests := []struct {
		name  string
		env   map[string]string
		check func(t *testing.T, cfg Config)
	}{
		{
			name: "valid overrides",
			env: map[string]string{
				"PACKETNET_TRANSPORT": "mem",
				"PACKETNET_ADDRESS":   "10.0.0.1",
				"PACKETNET_PORT":      "4000",
				"PACKETNET_KEY":       "k",
				"PACKETNET_LOG_LEVEL": "warn",
			},
			check: func(t *testing.T, cfg Config) {
				assert.Equal(t, TransportMem, cfg.Transport)
				assert.Equal(t, "10.0.0.1", cfg.Address)
				assert.Equal(t, 4000, cfg.Port)
				assert.Equal(t, "k", cfg.Key)
				assert.Equal(t, "warn", cfg.LogLevel)
			},
		},
		{
			name: "invalid values ignored",
			env: map[string]string{
				"PACKETNET_TRANSPORT": "carrier-pigeon",
				"PACKETNET_PORT":      "70000",
				"PACKETNET_LOG_LEVEL": "loud",
			},
			check: func(t *testing.T, cfg Config) {
				def := Default()
				assert.Equal(t, def.Transport, cfg.Transport)
				assert.Equal(t, def.Port, cfg.Port)
				assert.Equal(t, def.LogLevel, cfg.LogLevel)
			},
		},
		{
			name: "unparseable port ignored",
			env:  map[string]string{"PACKETNET_PORT": "eighty"},
			check: func(t *testing.T, cfg Config) {
				assert.Equal(t, Default().Port, cfg.Port)
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			tt.check(t, FromEnv(Default()))
		})
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"transport", func(c *Config) { c.Transport = "tcp" }},
		{"port", func(c *Config) { c.Port = -1 }},
		{"poll interval", func(c *Config) { c.PollInterval = 0 }},
		{"idle timeout", func(c *Config) { c.IdleTimeout = time.Hour }},
		{"handshake timeout", func(c *Config) { c.HandshakeTimeout = time.Millisecond }},
		{"log level", func(c *Config) { c.LogLevel = "loud" }},
		{"log format", func(c *Config) { c.LogFormat = "xml" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			if err := cfg.Validate(); !assert.ErrorIs(t, err, ErrInvalid) {
				t.Errorf("Validate() accepted invalid %s", tt.name)
			}
		})
	}
}
