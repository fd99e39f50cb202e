// Package repository stores the last published sync status snapshot so that
// a consumer subscribing after a restart reads current state immediately
// instead of waiting for the next transition. It also keeps the dead-letter
// mirror of items that exhausted their retries.
package repository

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Mastropiera/Dorotheapp-sub002/internal/config"
	"github.com/Mastropiera/Dorotheapp-sub002/internal/domain"
)

// Implementations of domain.StatusRepository.
var (
	_ domain.StatusRepository = (*MemoryStatusRepository)(nil)
	_ domain.StatusRepository = (*RedisStatusRepository)(nil)
	_ domain.StatusRepository = (*FailoverStatusRepository)(nil)
)

// NewRedisClient builds a client from config.
func NewRedisClient(cfg config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
}

// Ping checks reachability with a short deadline.
func Ping(ctx context.Context, client *redis.Client) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return client.Ping(ctx).Err()
}
