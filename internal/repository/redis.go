package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/Mastropiera/Dorotheapp-sub002/internal/models"
)

const (
	statusKey     = "dorothea:sync_status"
	deadLetterKey = "dorothea:sync_deadletter"
)

type RedisStatusRepository struct {
	client *redis.Client
}

func NewRedisStatusRepository(client *redis.Client) *RedisStatusRepository {
	return &RedisStatusRepository{client: client}
}

func (r *RedisStatusRepository) SaveStatus(ctx context.Context, status *models.SyncStatus) error {
	if r.client == nil {
		return errors.New("redis client is nil")
	}
	data, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("failed to marshal status: %w", err)
	}
	if err := r.client.Set(ctx, statusKey, data, 0).Err(); err != nil {
		return fmt.Errorf("failed to set status in redis: %w", err)
	}
	return nil
}

func (r *RedisStatusRepository) LoadStatus(ctx context.Context) (*models.SyncStatus, error) {
	if r.client == nil {
		return nil, errors.New("redis client is nil")
	}
	val, err := r.client.Get(ctx, statusKey).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get status from redis: %w", err)
	}

	var status models.SyncStatus
	if err := json.Unmarshal([]byte(val), &status); err != nil {
		return nil, fmt.Errorf("failed to unmarshal status: %w", err)
	}
	return &status, nil
}

func (r *RedisStatusRepository) PushDeadLetter(ctx context.Context, item *models.PendingSyncItem) error {
	if r.client == nil {
		return errors.New("redis client is nil")
	}
	data, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("failed to marshal dead-letter item: %w", err)
	}
	if err := r.client.LPush(ctx, deadLetterKey, data).Err(); err != nil {
		return fmt.Errorf("failed to push dead-letter item: %w", err)
	}
	return nil
}
