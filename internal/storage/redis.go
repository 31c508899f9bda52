package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisBackend keeps fingerprints in a set and their links in a hash
// named after the set.
type RedisBackend struct {
	client *redis.Client
	key    string
}

func OpenRedis(ctx context.Context, addr, key string) (*RedisBackend, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return &RedisBackend{client: client, key: key}, nil
}

func (b *RedisBackend) linksKey() string { return b.key + ":links" }

func (b *RedisBackend) LoadAll(ctx context.Context) ([]string, error) {
	return b.client.SMembers(ctx, b.key).Result()
}

func (b *RedisBackend) Append(ctx context.Context, e Entry) error {
	_, err := b.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.SAdd(ctx, b.key, e.Fingerprint)
		if e.Link != "" {
			p.HSet(ctx, b.linksKey(), e.Fingerprint, e.Link)
		}
		return nil
	})
	return err
}

func (b *RedisBackend) Close() error {
	return b.client.Close()
}
