package acceptance

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Open builds a NonceStore for a backend kind and target as produced by
// config.ParseNonceStore.
func Open(ctx context.Context, kind, target string) (NonceStore, error) {
	switch kind {
	case "", "memory":
		return NewMemoryStore(), nil
	case "sqlite":
		return OpenSQLite(ctx, target)
	case "postgres":
		return OpenPostgres(ctx, target)
	case "redis":
		opts, err := redisOptions(target)
		if err != nil {
			return nil, err
		}
		s := NewRedisStoreFromClient(redis.NewClient(opts))
		if err := s.client.Ping(ctx).Err(); err != nil {
			_ = s.Close()
			return nil, fmt.Errorf("acceptance: ping redis: %w", err)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("acceptance: unknown nonce store %q", kind)
	}
}
