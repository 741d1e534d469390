package main

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/concord-chat/quantump2p/internal/config"
	"github.com/concord-chat/quantump2p/internal/observability"
	"github.com/concord-chat/quantump2p/internal/qp2p/discovery"
	"github.com/concord-chat/quantump2p/internal/qp2p/node"
	storeredis "github.com/concord-chat/quantump2p/internal/store/redis"
	storesqlite "github.com/concord-chat/quantump2p/internal/store/sqlite"
)

// closer is closed during shutdown, in the order the infrastructure it
// backs was opened, mirroring the teacher's ordered Redis-then-Postgres
// teardown in cmd/server/main.go.
type closer func() error

// buildDiscoverer constructs the single discovery strategy cfg.Discovery
// names, registering a health check for whatever backing store it opens.
// Exactly one of redis/sqlite/signaling/static is ever live per process.
func buildDiscoverer(cfg *config.Config, health *observability.HealthChecker, logger zerolog.Logger) (node.Discoverer, closer, error) {
	switch cfg.Discovery.Strategy {
	case "redis":
		client, err := storeredis.New(cfg.Discovery.Redis, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("discovery: connect redis: %w", err)
		}
		health.RegisterCheck("discovery-redis", observability.RedisHealthCheck(client.Ping))
		return discovery.NewRedis(client, cfg.Discovery.Redis.EntryTTL, logger), client.Close, nil

	case "sqlite":
		db, err := storesqlite.New(storesqlite.Config{
			Path:            cfg.Discovery.SQLite.Path,
			MaxOpenConns:    cfg.Discovery.SQLite.MaxOpenConns,
			MaxIdleConns:    cfg.Discovery.SQLite.MaxIdleConns,
			ConnMaxLifetime: cfg.Discovery.SQLite.ConnMaxLifetime,
			WALMode:         cfg.Discovery.SQLite.WALMode,
			ForeignKeys:     cfg.Discovery.SQLite.ForeignKeys,
			BusyTimeout:     cfg.Discovery.SQLite.BusyTimeout,
		}, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("discovery: open sqlite address book: %w", err)
		}

		migrator := storesqlite.NewMigrator(db, logger)
		if err := migrator.Migrate(context.Background()); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("discovery: migrate sqlite address book: %w", err)
		}

		health.RegisterCheck("discovery-sqlite", observability.DatabaseHealthCheck(db.Ping))
		repo := storesqlite.NewAddressBookRepo(db)
		return discovery.NewSQLite(repo, "sqlite", logger), db.Close, nil

	case "signaling":
		sig := discovery.NewSignaling(discovery.SignalingConfig{
			URL:              cfg.Discovery.Signaling.URL,
			HandshakeTimeout: cfg.Discovery.Signaling.HandshakeTimeout,
			ResolveTimeout:   cfg.Discovery.Signaling.ResolveTimeout,
		}, cfg.Node.ID, logger)
		if err := sig.Connect(context.Background()); err != nil {
			return nil, nil, fmt.Errorf("discovery: connect signaling: %w", err)
		}
		health.RegisterCheck("discovery-signaling", observability.WebSocketHealthCheck(sig.Connected))
		return sig, sig.Close, nil

	case "static", "":
		return discovery.NewStatic(), func() error { return nil }, nil

	default:
		return nil, nil, fmt.Errorf("discovery: unknown strategy %q", cfg.Discovery.Strategy)
	}
}
