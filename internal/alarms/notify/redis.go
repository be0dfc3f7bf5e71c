package notify

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultCooldownPrefix = "alerts:cooldown:"

// RedisCooldown shares cooldown state between gateway replicas.
type RedisCooldown struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisCooldown constructs a Redis-backed CooldownStore.
func NewRedisCooldown(client redis.UniversalClient, prefix string) (*RedisCooldown, error) {
	if client == nil {
		return nil, errors.New("redis cooldown: nil client")
	}
	if prefix == "" {
		prefix = defaultCooldownPrefix
	}
	return &RedisCooldown{client: client, prefix: prefix}, nil
}

// Acquire implements CooldownStore.
func (r *RedisCooldown) Acquire(ctx context.Context, key string, window time.Duration) (bool, error) {
	return r.client.SetNX(ctx, r.prefix+key, time.Now().UTC().Unix(), window).Result()
}

// Release implements CooldownStore.
func (r *RedisCooldown) Release(ctx context.Context, key string) error {
	return r.client.Del(ctx, r.prefix+key).Err()
}
