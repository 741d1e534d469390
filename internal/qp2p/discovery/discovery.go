// Package discovery supplies concrete implementations of the peer
// discovery collaborator §4.5/§6 deliberately leave unspecified: given a
// peer id, resolve a dial address.
//
// original_source's quantum_enhanced_p2p.py's _discover_and_connect_peer
// is a placeholder that just sleeps; this package gives it three real
// bodies grounded on distinct teacher packages (signaling, redis, sqlite),
// any of which satisfies node.Discoverer.
package discovery

import (
	"context"
	"errors"
	"sync"
)

// ErrNotFound is returned when a strategy has no known address for a peer.
var ErrNotFound = errors.New("discovery: peer address not found")

// Static is the simplest discoverer: a fixed, mutable address book. Useful
// for tests and for small deployments with a static peer list (§6's
// "static" discovery strategy).
type Static struct {
	mu   sync.RWMutex
	addr map[string]string
}

// NewStatic creates an empty static address book.
func NewStatic() *Static {
	return &Static{addr: make(map[string]string)}
}

// Register records peer's dial address.
func (s *Static) Register(peer, addr string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.addr[peer] = addr
}

// Forget removes a peer's address.
func (s *Static) Forget(peer string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.addr, peer)
}

// Discover implements node.Discoverer.
func (s *Static) Discover(ctx context.Context, peer string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	addr, ok := s.addr[peer]
	if !ok {
		return "", ErrNotFound
	}
	return addr, nil
}
