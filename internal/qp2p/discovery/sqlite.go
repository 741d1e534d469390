package discovery

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/concord-chat/quantump2p/internal/store/sqlite"
)

// SQLite resolves peer dial addresses from a local, embedded bootstrap
// cache, grounded on the teacher's internal/store/sqlite package. It is
// the "sqlite" discovery strategy §6 names: a single node persists the
// last dial address it saw for each peer across restarts, without ever
// persisting message content (an explicit non-goal).
type SQLite struct {
	repo   *sqlite.AddressBookRepo
	source string
	logger zerolog.Logger
}

// NewSQLite wraps an address-book repository as a discoverer. source
// labels entries this process writes (for diagnostics only).
func NewSQLite(repo *sqlite.AddressBookRepo, source string, logger zerolog.Logger) *SQLite {
	return &SQLite{
		repo:   repo,
		source: source,
		logger: logger.With().Str("component", "discovery-sqlite").Logger(),
	}
}

// Remember persists peer's last-known dial address for future bootstraps.
func (s *SQLite) Remember(ctx context.Context, peer, addr string) error {
	err := s.repo.Upsert(ctx, sqlite.AddressBookEntry{
		PeerID:   peer,
		Addr:     addr,
		LastSeen: time.Now(),
		Source:   s.source,
	})
	if err != nil {
		return fmt.Errorf("discovery: remember %s: %w", peer, err)
	}
	return nil
}

// Discover implements node.Discoverer by looking up peer's cached address.
func (s *SQLite) Discover(ctx context.Context, peer string) (string, error) {
	entry, ok, err := s.repo.Lookup(ctx, peer)
	if err != nil {
		return "", fmt.Errorf("discovery: lookup %s: %w", peer, err)
	}
	if !ok {
		return "", ErrNotFound
	}
	return entry.Addr, nil
}

// Forget drops peer's cached address from the bootstrap cache. The node
// manager's stale-peer sweep does not call it; it only drops the peer's
// routing metrics.
func (s *SQLite) Forget(ctx context.Context, peer string) error {
	if err := s.repo.Forget(ctx, peer); err != nil {
		return fmt.Errorf("discovery: forget %s: %w", peer, err)
	}
	return nil
}
