package main

import (
	"fmt"

	"github.com/concord-chat/quantump2p/internal/config"
	"github.com/concord-chat/quantump2p/internal/qp2p/fault"
	"github.com/concord-chat/quantump2p/internal/qp2p/node"
)

// nodeConfigFrom adapts the on-disk/environment Config's sub-sections into
// the node.Manager's Config, keeping the two layers independent the way
// the teacher's cfg.Server/cfg.Database stay distinct structs from what
// api.New and postgres.New actually accept.
func nodeConfigFrom(cfg *config.Config) node.Config {
	return node.Config{
		NodeID:               cfg.Node.ID,
		BindAddr:             bindAddr(cfg),
		HeartbeatInterval:    cfg.Node.HeartbeatInterval,
		CleanupInterval:      cfg.Node.CleanupInterval,
		PeerTimeout:          cfg.Node.PeerStaleTimeout,
		MaxFrameBytes:        cfg.Wire.MaxFrameBytes,
		CryptoKeyTTL:         cfg.Crypto.AEADKeyTTL,
		Circuit:              circuitConfigFrom(cfg.Circuit),
		Retry:                retryConfigFrom(cfg.Retry),
		SendTimeout:          cfg.Node.SendTimeout,
		RoutingHistoryWindow: cfg.Routing.HistoryWindow,
	}
}

func circuitConfigFrom(c config.CircuitConfig) fault.CircuitConfig {
	return fault.CircuitConfig{
		FailureThreshold:         c.FailureThreshold,
		RecoveryTimeout:          c.TimeoutSeconds,
		HalfOpenMaxCalls:         c.HalfOpenMaxCalls,
		HalfOpenSuccessThreshold: c.SuccessThreshold,
	}
}

func retryConfigFrom(r config.RetryConfig) fault.RetryConfig {
	return fault.RetryConfig{
		MaxAttempts:    r.MaxRetries + 1,
		BaseDelay:      r.BaseDelay,
		MaxDelay:       r.MaxDelay,
		AttemptTimeout: r.AttemptTimeout,
	}
}

func bindAddr(cfg *config.Config) string {
	host := cfg.Node.BindAddr
	if host == "" {
		host = "127.0.0.1"
	}
	return fmt.Sprintf("%s:%d", host, cfg.Node.BindPort)
}
