package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
)

// Config represents the complete node configuration.
type Config struct {
	// Node identity and transport settings
	Node NodeConfig `json:"node"`

	// Session crypto engine settings (§4.1)
	Crypto CryptoConfig `json:"crypto"`

	// Fault executor settings: circuit breaker (§4.2)
	Circuit CircuitConfig `json:"circuit"`

	// Fault executor settings: retry/backoff (§4.2)
	Retry RetryConfig `json:"retry"`

	// Adaptive routing table settings (§4.3)
	Routing RoutingConfig `json:"routing"`

	// Wire framing settings (§4.4)
	Wire WireConfig `json:"wire"`

	// Peer discovery collaborator settings (§6)
	Discovery DiscoveryConfig `json:"discovery"`

	// Logging configuration
	Logging LoggingConfig `json:"logging"`
}

// NodeConfig contains node identity, listener and lifecycle settings (§4.5).
type NodeConfig struct {
	ID                string        `json:"id"`
	BindAddr          string        `json:"bind_addr"`
	BindPort          int           `json:"bind_port"` // 0 = OS-assigned
	HeartbeatInterval time.Duration `json:"heartbeat_interval"`
	PeerStaleTimeout  time.Duration `json:"peer_stale_timeout"`
	CleanupInterval   time.Duration `json:"cleanup_interval"`
	SendTimeout       time.Duration `json:"send_timeout"`
}

// CryptoConfig contains session crypto engine settings (§3, §4.1).
type CryptoConfig struct {
	AEADKeyTTL time.Duration `json:"aead_key_ttl"` // default 3600s
}

// CircuitConfig contains the four documented circuit-breaker options (§6).
type CircuitConfig struct {
	FailureThreshold int           `json:"failure_threshold"`   // default 5
	TimeoutSeconds   time.Duration `json:"timeout_seconds"`     // default 60s
	HalfOpenMaxCalls int           `json:"half_open_max_calls"` // default 3
	SuccessThreshold int           `json:"success_threshold"`   // default 2
}

// RetryConfig contains the fault executor's retry/backoff settings (§4.2).
type RetryConfig struct {
	MaxRetries     int           `json:"max_retries"`     // default 3 (+1 initial attempt)
	BaseDelay      time.Duration `json:"base_delay"`      // default 1s
	MaxDelay       time.Duration `json:"max_delay"`       // default 30s
	AttemptTimeout time.Duration `json:"attempt_timeout"` // default 30s
}

// RoutingConfig contains the adaptive routing table's tuning knobs (§4.3).
type RoutingConfig struct {
	HistoryWindow int `json:"history_window"` // default 100
}

// WireConfig contains the wire framing layer's settings (§4.4).
type WireConfig struct {
	MaxFrameBytes int `json:"max_frame_bytes"` // default 1048576
}

// DiscoveryConfig selects and configures the peer-discovery collaborator
// (§6): exactly one of Static/Signaling/Redis/SQLite is active per Strategy.
type DiscoveryConfig struct {
	Strategy  string                `json:"strategy"` // static, signaling, redis, sqlite
	Signaling SignalingDiscoveryCfg `json:"signaling"`
	Redis     RedisDiscoveryConfig  `json:"redis"`
	SQLite    SQLiteDiscoveryConfig `json:"sqlite"`
}

// SignalingDiscoveryCfg configures the websocket rendezvous discoverer.
type SignalingDiscoveryCfg struct {
	URL              string        `json:"url"`
	HandshakeTimeout time.Duration `json:"handshake_timeout"`
	ResolveTimeout   time.Duration `json:"resolve_timeout"`
}

// RedisDiscoveryConfig configures the shared address-book discoverer.
type RedisDiscoveryConfig struct {
	Host         string        `json:"host"`
	Port         int           `json:"port"`
	Password     string        `json:"password"`
	DB           int           `json:"db"`
	MaxRetries   int           `json:"max_retries"`
	PoolSize     int           `json:"pool_size"`
	MinIdleConns int           `json:"min_idle_conns"`
	DialTimeout  time.Duration `json:"dial_timeout"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
	EntryTTL     time.Duration `json:"entry_ttl"`
}

// SQLiteDiscoveryConfig configures the embedded bootstrap address cache.
type SQLiteDiscoveryConfig struct {
	Path            string        `json:"path"`
	MaxOpenConns    int           `json:"max_open_conns"`
	MaxIdleConns    int           `json:"max_idle_conns"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime"`
	WALMode         bool          `json:"wal_mode"`
	ForeignKeys     bool          `json:"foreign_keys"`
	BusyTimeout     time.Duration `json:"busy_timeout"`
}

// LoggingConfig contains logging settings, unchanged in shape from the
// teacher's internal/config/config.go.
type LoggingConfig struct {
	Level        string `json:"level"`         // debug, info, warn, error
	Format       string `json:"format"`        // json, console
	OutputPath   string `json:"output_path"`   // file path or stdout
	ErrorPath    string `json:"error_path"`    // error log file
	EnableCaller bool   `json:"enable_caller"` // Include caller in logs
	EnableStack  bool   `json:"enable_stack"`  // Include stack trace for errors
}

// Load loads configuration from file and environment variables.
// Priority: env vars > config file > defaults.
func Load(configPath string) (*Config, error) {
	cfg := Default()

	if configPath != "" {
		if err := cfg.loadFromFile(configPath); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				if err := cfg.Save(configPath); err != nil {
					return nil, fmt.Errorf("failed to create default config: %w", err)
				}
			} else {
				return nil, fmt.Errorf("failed to load config: %w", err)
			}
		}
	}

	cfg.loadFromEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func (c *Config) loadFromFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return nil
}

// loadFromEnv overrides configuration with environment variables.
func (c *Config) loadFromEnv() {
	if v := os.Getenv("QUANTUMP2P_NODE_ID"); v != "" {
		c.Node.ID = v
	}
	if v := os.Getenv("QUANTUMP2P_BIND_ADDR"); v != "" {
		c.Node.BindAddr = v
	}

	if v := os.Getenv("QUANTUMP2P_DISCOVERY_STRATEGY"); v != "" {
		c.Discovery.Strategy = v
	}
	if v := os.Getenv("QUANTUMP2P_SIGNALING_URL"); v != "" {
		c.Discovery.Signaling.URL = v
	}
	if v := os.Getenv("REDIS_HOST"); v != "" {
		c.Discovery.Redis.Host = v
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		c.Discovery.Redis.Password = v
	}
	if v := os.Getenv("QUANTUMP2P_SQLITE_PATH"); v != "" {
		c.Discovery.SQLite.Path = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
}

// Save saves configuration to a JSON file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Validate validates the configuration, enforcing the "configuration
// errors fail at construction" rule of §7.
func (c *Config) Validate() error {
	if c.Node.ID == "" {
		return errors.New("node.id cannot be empty")
	}
	if c.Node.BindPort < 0 || c.Node.BindPort > 65535 {
		return fmt.Errorf("invalid node.bind_port: %d", c.Node.BindPort)
	}

	if c.Crypto.AEADKeyTTL <= 0 {
		return errors.New("crypto.aead_key_ttl must be positive")
	}

	if c.Circuit.FailureThreshold <= 0 {
		return errors.New("circuit.failure_threshold must be positive")
	}
	if c.Circuit.TimeoutSeconds <= 0 {
		return errors.New("circuit.timeout_seconds must be positive")
	}
	if c.Circuit.HalfOpenMaxCalls <= 0 {
		return errors.New("circuit.half_open_max_calls must be positive")
	}
	if c.Circuit.SuccessThreshold <= 0 {
		return errors.New("circuit.success_threshold must be positive")
	}

	if c.Retry.MaxRetries < 0 {
		return errors.New("retry.max_retries cannot be negative")
	}
	if c.Retry.BaseDelay <= 0 {
		return errors.New("retry.base_delay must be positive")
	}
	if c.Retry.MaxDelay < c.Retry.BaseDelay {
		return errors.New("retry.max_delay cannot be smaller than retry.base_delay")
	}

	if c.Wire.MaxFrameBytes <= 0 {
		return errors.New("wire.max_frame_bytes must be positive")
	}

	switch c.Discovery.Strategy {
	case "", "static", "signaling", "redis", "sqlite":
	default:
		return fmt.Errorf("invalid discovery.strategy: %s", c.Discovery.Strategy)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true, "fatal": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	return nil
}

// GetLogLevel returns the zerolog level based on configuration.
func (c *Config) GetLogLevel() zerolog.Level {
	switch c.Logging.Level {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	default:
		return zerolog.InfoLevel
	}
}
