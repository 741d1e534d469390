// Command quantumnoded runs a single quantump2p node: the node manager's
// TCP listener and background loops, plus a small admin HTTP surface for
// liveness, metrics and peer-table inspection.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/concord-chat/quantump2p/internal/admin"
	"github.com/concord-chat/quantump2p/internal/config"
	"github.com/concord-chat/quantump2p/internal/handshake"
	"github.com/concord-chat/quantump2p/internal/observability"
	"github.com/concord-chat/quantump2p/internal/qp2p/keyexchange"
	"github.com/concord-chat/quantump2p/internal/qp2p/node"
	"github.com/concord-chat/quantump2p/internal/qp2p/nodeauth"
	"github.com/concord-chat/quantump2p/pkg/version"
)

func main() {
	configPath := flag.String("config", "config.json", "path to node configuration file")
	adminAddr := flag.String("admin-addr", "127.0.0.1:9090", "address for the admin HTTP surface")
	authSecret := flag.String("auth-secret", os.Getenv("QUANTUMP2P_AUTH_SECRET"), "HMAC secret for signing key-announcement tokens")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Printf("failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(observability.LoggerConfig{
		Level:        cfg.GetLogLevel(),
		Format:       cfg.Logging.Format,
		OutputPath:   cfg.Logging.OutputPath,
		ErrorPath:    cfg.Logging.ErrorPath,
		EnableCaller: cfg.Logging.EnableCaller,
		EnableStack:  cfg.Logging.EnableStack,
		Service:      "quantumnoded",
		Version:      version.Version,
	})

	logger.Info().
		Str("version", version.Version).
		Str("git_commit", version.GitCommit).
		Str("platform", version.Platform).
		Str("node_id", cfg.Node.ID).
		Msg("starting quantump2p node")

	metrics := observability.NewMetrics()
	health := observability.NewHealthChecker(logger, version.Version)

	discoverer, closeDiscovery, err := buildDiscoverer(cfg, health, logger)
	if err != nil {
		logger.Fatal().Err(err).Str("strategy", cfg.Discovery.Strategy).Msg("discovery backend unavailable — cannot start")
	}

	manager := node.NewManager(nodeConfigFrom(cfg), discoverer, logger)
	manager.SetMetrics(metrics)
	health.RegisterCheck("p2p-node", observability.P2PHostHealthCheck(func() error {
		if !manager.GetMetrics().Running {
			return errors.New("node manager is not running")
		}
		return nil
	}))

	// --- Identity key and peer key-announcement ---
	// Supplements §4.1's "key exchange is external" seam: a node that
	// knows its own X25519 identity key can announce it (and verify a
	// peer's) so an operator can bootstrap session keys out of band,
	// without this process ever negotiating a handshake over the wire.
	identity, err := keyexchange.GenerateKeyPair()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to generate node identity key pair")
	}
	var authMgr *nodeauth.Manager
	if *authSecret != "" {
		authMgr, err = nodeauth.NewManager(*authSecret)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to create node-auth manager")
		}
		announcement, err := handshake.Announce(authMgr, cfg.Node.ID, identity)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to announce node identity key")
		}
		logger.Info().Str("node_id", cfg.Node.ID).Msg("node identity announced; publish this node's token via the active discovery strategy")
		_ = announcement
	} else {
		logger.Warn().Msg("no auth secret configured — peer key exchange via handshake.EstablishSession is unavailable; install session keys manually")
	}

	if err := manager.Start(context.Background()); err != nil {
		logger.Fatal().Err(err).Msg("failed to start node manager")
	}

	adminServer := admin.New(*adminAddr, manager, health, logger)
	errCh := make(chan error, 1)
	go func() {
		if err := adminServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("admin HTTP server error: %w", err)
		}
	}()

	logger.Info().
		Str("bind_addr", cfg.Node.BindAddr).
		Int("bind_port", manager.BindPort()).
		Str("admin_addr", *adminAddr).
		Msg("quantump2p node started")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		logger.Info().Str("signal", sig.String()).Msg("shutdown signal received")
	case err := <-errCh:
		logger.Error().Err(err).Msg("admin server error, initiating shutdown")
	}

	const shutdownTimeout = 10 * time.Second
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := adminServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("admin server shutdown error")
	} else {
		logger.Info().Msg("admin server stopped")
	}

	if err := manager.Stop(); err != nil {
		logger.Error().Err(err).Msg("node manager shutdown error")
	} else {
		logger.Info().Msg("node manager stopped")
	}

	if err := closeDiscovery(); err != nil {
		logger.Error().Err(err).Msg("discovery backend close error")
	} else {
		logger.Info().Msg("discovery backend closed")
	}

	logger.Info().Msg("quantump2p node shut down successfully")
}
