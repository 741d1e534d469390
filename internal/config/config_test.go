package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	require.NotNil(t, cfg)
	assert.NotEmpty(t, cfg.Node.ID)
	assert.Equal(t, "127.0.0.1", cfg.Node.BindAddr)
	assert.Equal(t, 0, cfg.Node.BindPort)
	assert.Equal(t, 30*time.Second, cfg.Node.HeartbeatInterval)
	assert.Equal(t, 300*time.Second, cfg.Node.PeerStaleTimeout)

	assert.Equal(t, 3600*time.Second, cfg.Crypto.AEADKeyTTL)

	assert.Equal(t, 5, cfg.Circuit.FailureThreshold)
	assert.Equal(t, 60*time.Second, cfg.Circuit.TimeoutSeconds)
	assert.Equal(t, 3, cfg.Circuit.HalfOpenMaxCalls)
	assert.Equal(t, 2, cfg.Circuit.SuccessThreshold)

	assert.Equal(t, 1<<20, cfg.Wire.MaxFrameBytes)
	assert.Equal(t, "static", cfg.Discovery.Strategy)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(*Config)
		wantErr bool
		errMsg  string
	}{
		{
			name:    "valid default config",
			setup:   func(c *Config) {},
			wantErr: false,
		},
		{
			name: "empty node id",
			setup: func(c *Config) {
				c.Node.ID = ""
			},
			wantErr: true,
			errMsg:  "node.id cannot be empty",
		},
		{
			name: "invalid bind port",
			setup: func(c *Config) {
				c.Node.BindPort = 99999
			},
			wantErr: true,
			errMsg:  "invalid node.bind_port",
		},
		{
			name: "non-positive crypto ttl",
			setup: func(c *Config) {
				c.Crypto.AEADKeyTTL = 0
			},
			wantErr: true,
			errMsg:  "crypto.aead_key_ttl must be positive",
		},
		{
			name: "non-positive circuit failure threshold",
			setup: func(c *Config) {
				c.Circuit.FailureThreshold = 0
			},
			wantErr: true,
			errMsg:  "circuit.failure_threshold must be positive",
		},
		{
			name: "non-positive half open max calls",
			setup: func(c *Config) {
				c.Circuit.HalfOpenMaxCalls = 0
			},
			wantErr: true,
			errMsg:  "circuit.half_open_max_calls must be positive",
		},
		{
			name: "max delay smaller than base delay",
			setup: func(c *Config) {
				c.Retry.BaseDelay = 10 * time.Second
				c.Retry.MaxDelay = 1 * time.Second
			},
			wantErr: true,
			errMsg:  "retry.max_delay cannot be smaller",
		},
		{
			name: "non-positive max frame bytes",
			setup: func(c *Config) {
				c.Wire.MaxFrameBytes = 0
			},
			wantErr: true,
			errMsg:  "wire.max_frame_bytes must be positive",
		},
		{
			name: "invalid discovery strategy",
			setup: func(c *Config) {
				c.Discovery.Strategy = "carrier_pigeon"
			},
			wantErr: true,
			errMsg:  "invalid discovery.strategy",
		},
		{
			name: "invalid log level",
			setup: func(c *Config) {
				c.Logging.Level = "invalid"
			},
			wantErr: true,
			errMsg:  "invalid log level",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.setup(cfg)

			err := cfg.Validate()
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errMsg)
			} else {
				require.NoError(t, err)
			}
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.json")

	cfg := Default()
	cfg.Node.BindPort = 9090
	cfg.Logging.Level = "debug"

	err := cfg.Save(configPath)
	require.NoError(t, err)

	loaded, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, 9090, loaded.Node.BindPort)
	assert.Equal(t, "debug", loaded.Logging.Level)
}

func TestLoadFromEnv(t *testing.T) {
	os.Setenv("QUANTUMP2P_NODE_ID", "node-xyz")
	os.Setenv("QUANTUMP2P_BIND_ADDR", "0.0.0.0")
	os.Setenv("LOG_LEVEL", "warn")
	defer func() {
		os.Unsetenv("QUANTUMP2P_NODE_ID")
		os.Unsetenv("QUANTUMP2P_BIND_ADDR")
		os.Unsetenv("LOG_LEVEL")
	}()

	cfg := Default()
	cfg.loadFromEnv()

	assert.Equal(t, "node-xyz", cfg.Node.ID)
	assert.Equal(t, "0.0.0.0", cfg.Node.BindAddr)
	assert.Equal(t, "warn", cfg.Logging.Level)
}

func TestSaveAndLoad(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.json")

	original := Default()
	original.Circuit.FailureThreshold = 8
	original.Discovery.Strategy = "redis"

	err := original.Save(configPath)
	require.NoError(t, err)

	_, err = os.Stat(configPath)
	require.NoError(t, err)

	loaded, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, 8, loaded.Circuit.FailureThreshold)
	assert.Equal(t, "redis", loaded.Discovery.Strategy)
}

func TestGetLogLevel(t *testing.T) {
	tests := []struct {
		level    string
		expected string
	}{
		{"debug", "debug"},
		{"info", "info"},
		{"warn", "warn"},
		{"error", "error"},
		{"fatal", "fatal"},
		{"invalid", "info"}, // defaults to info
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			cfg := Default()
			cfg.Logging.Level = tt.level
			level := cfg.GetLogLevel()
			assert.Equal(t, tt.expected, level.String())
		})
	}
}

func TestLoadNonExistentFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "nonexistent.json")

	cfg, err := Load(configPath)
	require.NoError(t, err)
	assert.NotNil(t, cfg)

	_, err = os.Stat(configPath)
	require.NoError(t, err)
}

func TestDefaultDataDirExists(t *testing.T) {
	dataDir := getDefaultDataDir()
	assert.NotEmpty(t, dataDir)
	assert.Contains(t, dataDir, "quantump2p")
}
