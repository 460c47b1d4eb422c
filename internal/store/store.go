// internal/store/store.go
// Latest reading-list payload per user key.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/erilali/readsync/internal/config"
)

var ErrUnknownBackend = errors.New("unknown store backend")

// Store keeps exactly one payload per user key: the last one written.
// Get reports ok=false when nothing was ever stored for the key.
type Store interface {
	Put(ctx context.Context, userKey, payload string) error
	Get(ctx context.Context, userKey string) (payload string, ok bool, err error)
	Close() error
}

// Open builds the backend named in cfg. The redis backend is pinged before
// being returned.
func Open(ctx context.Context, cfg config.Store) (Store, error) {
	switch cfg.Backend {
	case "", "memory":
		return NewMemoryStore(), nil
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, fmt.Errorf("connect to redis at %s: %w", cfg.Redis.Addr, err)
		}
		return NewRedisStore(client, cfg.Redis.KeyPrefix, cfg.Redis.TTL), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, cfg.Backend)
	}
}
