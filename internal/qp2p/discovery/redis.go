package discovery

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/concord-chat/quantump2p/internal/store/redis"
)

// addressKeyPrefix namespaces discovery entries in the shared Redis
// keyspace so the address book can live alongside other uses of the same
// instance.
const addressKeyPrefix = "quantump2p:addr:"

// Redis resolves peer dial addresses from a shared Redis address book,
// grounded on the teacher's internal/store/redis.Client. It is the "redis"
// discovery strategy §6 names for multi-process deployments: a node that
// calls Announce publishes its address here, so a sibling process can find
// it without its own direct connection history. Nothing publishes an
// address automatically.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
	logger zerolog.Logger
}

// NewRedis wraps an already-connected redis.Client as a discoverer. ttl
// bounds how long a published address remains valid before Redis expires
// the key; zero means no expiry.
func NewRedis(client *redis.Client, ttl time.Duration, logger zerolog.Logger) *Redis {
	return &Redis{
		client: client,
		ttl:    ttl,
		logger: logger.With().Str("component", "discovery-redis").Logger(),
	}
}

// Announce publishes this node's dial address under peer (its own node
// id), so other processes sharing the Redis instance can Discover it.
func (r *Redis) Announce(ctx context.Context, peer, addr string) error {
	if err := r.client.Set(ctx, addressKeyPrefix+peer, addr, r.ttl); err != nil {
		return fmt.Errorf("discovery: announce %s: %w", peer, err)
	}
	return nil
}

// Discover implements node.Discoverer by looking up peer's address in the
// shared Redis keyspace.
func (r *Redis) Discover(ctx context.Context, peer string) (string, error) {
	addr, err := r.client.Get(ctx, addressKeyPrefix+peer)
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return "", ErrNotFound
		}
		return "", fmt.Errorf("discovery: lookup %s: %w", peer, err)
	}
	if addr == "" {
		return "", ErrNotFound
	}
	return addr, nil
}

// Forget removes peer's published address from the shared address book.
// The node manager's stale-peer sweep does not call it; it only drops the
// peer's routing metrics.
func (r *Redis) Forget(ctx context.Context, peer string) error {
	if err := r.client.Delete(ctx, addressKeyPrefix+peer); err != nil {
		return fmt.Errorf("discovery: forget %s: %w", peer, err)
	}
	return nil
}
