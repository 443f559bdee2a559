package acceptance

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore records nonces with SET NX, expiring each key when its ticket
// does.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStoreFromClient wraps c. Close closes c.
func NewRedisStoreFromClient(c *redis.Client) *RedisStore {
	return &RedisStore{client: c, prefix: "arbiter:nonce:"}
}

// redisOptions accepts a bare host:port or a redis:// / rediss:// URL
// carrying credentials and a database number.
func redisOptions(target string) (*redis.Options, error) {
	if strings.HasPrefix(target, "redis://") || strings.HasPrefix(target, "rediss://") {
		opts, err := redis.ParseURL(target)
		if err != nil {
			return nil, fmt.Errorf("acceptance: redis url: %w", err)
		}
		return opts, nil
	}
	return &redis.Options{Addr: target}, nil
}

// Redeem implements NonceStore.
func (s *RedisStore) Redeem(ctx context.Context, r Redemption) (bool, error) {
	ttl := r.ExpiresAt.Sub(r.RedeemedAt)
	if ttl < time.Second {
		ttl = time.Second
	}
	key := fmt.Sprintf("%s%s:%s", s.prefix, strings.ToLower(r.ArbiterPubKey), r.Nonce)
	ok, err := s.client.SetNX(ctx, key, r.DealID, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx: %w", err)
	}
	return ok, nil
}

// Close closes the client.
func (s *RedisStore) Close() error { return s.client.Close() }
