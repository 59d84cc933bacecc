package redisstore

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const contextBlockTTL = 24 * time.Hour

// Store wraps the redis client used as the fast layer for context blocks.
type Store struct {
	rdb *redis.Client
}

func New(addr, password string, db int) *Store {
	return &Store{
		rdb: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
			DB:       db,
		}),
	}
}

func (s *Store) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

func contextKey(userID uint64) string {
	return fmt.Sprintf("memctx:%d", userID)
}

// GetBlock implements memory.BlockCache.
func (s *Store) GetBlock(ctx context.Context, userID uint64) (string, bool, error) {
	v, err := s.rdb.Get(ctx, contextKey(userID)).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

// SetBlock implements memory.BlockCache. The TTL only bounds redis growth;
// the durable row has no expiry.
func (s *Store) SetBlock(ctx context.Context, userID uint64, block string) error {
	return s.rdb.Set(ctx, contextKey(userID), block, contextBlockTTL).Err()
}
