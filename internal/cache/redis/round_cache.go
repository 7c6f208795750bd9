package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"

	"github.com/pancholabs/pancho-engine/internal/domain"
)

// roundCacheTTL bounds how stale a cached round snapshot can get. Writes
// invalidate eagerly, the TTL is the backstop.
const roundCacheTTL = 30 * time.Second

// RoundCache implements domain.RoundCache using JSON snapshots at
// "round:{key}".
type RoundCache struct {
	rdb *redis.Client
}

// NewRoundCache creates a RoundCache backed by the given Client.
func NewRoundCache(c *Client) *RoundCache {
	return &RoundCache{rdb: c.Underlying()}
}

func roundCacheKey(key common.Hash) string {
	return "round:" + key.Hex()
}

// Set stores a round snapshot.
func (rc *RoundCache) Set(ctx context.Context, round domain.Round) error {
	payload, err := json.Marshal(round)
	if err != nil {
		return fmt.Errorf("redis: marshal round %s: %w", round.Key.Hex(), err)
	}
	if err := rc.rdb.Set(ctx, roundCacheKey(round.Key), payload, roundCacheTTL).Err(); err != nil {
		return fmt.Errorf("redis: set round %s: %w", round.Key.Hex(), err)
	}
	return nil
}

// Get retrieves a cached round snapshot. It returns domain.ErrNotFound on a
// cache miss.
func (rc *RoundCache) Get(ctx context.Context, key common.Hash) (domain.Round, error) {
	payload, err := rc.rdb.Get(ctx, roundCacheKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.Round{}, domain.ErrNotFound
		}
		return domain.Round{}, fmt.Errorf("redis: get round %s: %w", key.Hex(), err)
	}

	var round domain.Round
	if err := json.Unmarshal(payload, &round); err != nil {
		return domain.Round{}, fmt.Errorf("redis: decode round %s: %w", key.Hex(), err)
	}
	return round, nil
}

// Invalidate drops the cached snapshot for a round.
func (rc *RoundCache) Invalidate(ctx context.Context, key common.Hash) error {
	if err := rc.rdb.Del(ctx, roundCacheKey(key)).Err(); err != nil {
		return fmt.Errorf("redis: invalidate round %s: %w", key.Hex(), err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.RoundCache = (*RoundCache)(nil)
