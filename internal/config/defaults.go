package config

import (
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/google/uuid"
)

// Default returns a Config populated with the defaults documented in §6's
// configuration table.
func Default() *Config {
	dataDir := getDefaultDataDir()

	return &Config{
		Node: NodeConfig{
			ID:                uuid.New().String(),
			BindAddr:          "127.0.0.1",
			BindPort:          0, // OS-assigned
			HeartbeatInterval: 30 * time.Second,
			PeerStaleTimeout:  300 * time.Second,
			CleanupInterval:   60 * time.Second,
			SendTimeout:       10 * time.Second,
		},

		Crypto: CryptoConfig{
			AEADKeyTTL: 3600 * time.Second,
		},

		Circuit: CircuitConfig{
			FailureThreshold: 5,
			TimeoutSeconds:   60 * time.Second,
			HalfOpenMaxCalls: 3,
			SuccessThreshold: 2,
		},

		Retry: RetryConfig{
			MaxRetries:     3,
			BaseDelay:      1 * time.Second,
			MaxDelay:       30 * time.Second,
			AttemptTimeout: 30 * time.Second,
		},

		Routing: RoutingConfig{
			HistoryWindow: 100,
		},

		Wire: WireConfig{
			MaxFrameBytes: 1 << 20, // 1 MiB
		},

		Discovery: DiscoveryConfig{
			Strategy: "static",
			Signaling: SignalingDiscoveryCfg{
				URL:              "ws://localhost:8080/signaling",
				HandshakeTimeout: 10 * time.Second,
				ResolveTimeout:   5 * time.Second,
			},
			Redis: RedisDiscoveryConfig{
				Host:         "localhost",
				Port:         6379,
				Password:     "",
				DB:           0,
				MaxRetries:   3,
				PoolSize:     10,
				MinIdleConns: 5,
				DialTimeout:  5 * time.Second,
				ReadTimeout:  3 * time.Second,
				WriteTimeout: 3 * time.Second,
				EntryTTL:     300 * time.Second,
			},
			SQLite: SQLiteDiscoveryConfig{
				Path:            filepath.Join(dataDir, "addressbook.db"),
				MaxOpenConns:    10,
				MaxIdleConns:    5,
				ConnMaxLifetime: time.Hour,
				WALMode:         true,
				ForeignKeys:     true,
				BusyTimeout:     5 * time.Second,
			},
		},

		Logging: LoggingConfig{
			Level:        "info",
			Format:       "json",
			OutputPath:   "stdout",
			ErrorPath:    "stderr",
			EnableCaller: false,
			EnableStack:  true,
		},
	}
}

// getDefaultDataDir returns the default data directory based on OS.
func getDefaultDataDir() string {
	var baseDir string

	switch runtime.GOOS {
	case "windows":
		baseDir = os.Getenv("APPDATA")
		if baseDir == "" {
			baseDir = filepath.Join(os.Getenv("USERPROFILE"), "AppData", "Roaming")
		}
	case "darwin":
		baseDir = filepath.Join(os.Getenv("HOME"), "Library", "Application Support")
	default: // linux and others
		baseDir = os.Getenv("XDG_DATA_HOME")
		if baseDir == "" {
			baseDir = filepath.Join(os.Getenv("HOME"), ".local", "share")
		}
	}

	return filepath.Join(baseDir, "quantump2p")
}
