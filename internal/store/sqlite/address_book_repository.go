package sqlite

import (
	"context"
	"fmt"
	"time"
)

// AddressBookEntry is a peer's last-known dial address, persisted locally so
// a node can bootstrap discovery after a restart without message content
// ever touching disk (message persistence is an explicit non-goal).
type AddressBookEntry struct {
	PeerID   string    `json:"peer_id"`
	Addr     string    `json:"addr"`
	LastSeen time.Time `json:"last_seen"`
	Source   string    `json:"source"`
}

// AddressBookRepo persists the local peer address-book cache backing the
// "sqlite" discovery strategy (§6).
type AddressBookRepo struct {
	db *DB
}

// NewAddressBookRepo creates a new address-book repository.
func NewAddressBookRepo(db *DB) *AddressBookRepo {
	return &AddressBookRepo{db: db}
}

// Upsert records or refreshes a peer's last-known dial address.
// Complexity: O(1).
func (r *AddressBookRepo) Upsert(ctx context.Context, entry AddressBookEntry) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO address_book (peer_id, addr, last_seen, source)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(peer_id) DO UPDATE SET addr = excluded.addr, last_seen = excluded.last_seen, source = excluded.source`,
		entry.PeerID, entry.Addr, entry.LastSeen, entry.Source,
	)
	if err != nil {
		return fmt.Errorf("address_book: upsert: %w", err)
	}
	return nil
}

// Lookup returns the last-known address for a peer.
// Complexity: O(1).
func (r *AddressBookRepo) Lookup(ctx context.Context, peerID string) (AddressBookEntry, bool, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT peer_id, addr, last_seen, source FROM address_book WHERE peer_id = ?`,
		peerID,
	)

	var e AddressBookEntry
	if err := row.Scan(&e.PeerID, &e.Addr, &e.LastSeen, &e.Source); err != nil {
		return AddressBookEntry{}, false, nil
	}
	return e, true, nil
}

// Forget removes a peer's cached address.
func (r *AddressBookRepo) Forget(ctx context.Context, peerID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM address_book WHERE peer_id = ?`, peerID)
	if err != nil {
		return fmt.Errorf("address_book: forget: %w", err)
	}
	return nil
}

// Prune removes entries not seen since before cutoff.
// Complexity: O(n) where n is the number of stale entries.
func (r *AddressBookRepo) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM address_book WHERE last_seen < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("address_book: prune: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("address_book: rows affected: %w", err)
	}
	return n, nil
}
