package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mastropiera/Dorotheapp-sub002/internal/models"
)

func sampleStatus() *models.SyncStatus {
	now := time.Now().Truncate(time.Second)
	return &models.SyncStatus{
		IsOnline:     true,
		PendingCount: 2,
		FailedCount:  1,
		LastSyncTime: &now,
	}
}

func TestMemoryStatusRepository(t *testing.T) {
	repo := NewMemoryStatusRepository()
	ctx := context.Background()

	got, err := repo.LoadStatus(ctx)
	require.NoError(t, err)
	assert.Nil(t, got)

	status := sampleStatus()
	require.NoError(t, repo.SaveStatus(ctx, status))

	got, err = repo.LoadStatus(ctx)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 2, got.PendingCount)

	// The stored snapshot is a copy, not an alias.
	status.PendingCount = 99
	got, err = repo.LoadStatus(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, got.PendingCount)

	require.NoError(t, repo.PushDeadLetter(ctx, &models.PendingSyncItem{EntityID: "ev-1"}))
	assert.Len(t, repo.DeadLetter(), 1)
}

func TestRedisStatusRepository(t *testing.T) {
	s, err := miniredis.Run()
	require.NoError(t, err)
	defer s.Close()

	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	defer client.Close()

	repo := NewRedisStatusRepository(client)
	ctx := context.Background()

	t.Run("LoadEmpty", func(t *testing.T) {
		got, err := repo.LoadStatus(ctx)
		require.NoError(t, err)
		assert.Nil(t, got)
	})

	t.Run("SaveAndLoad", func(t *testing.T) {
		require.NoError(t, repo.SaveStatus(ctx, sampleStatus()))
		got, err := repo.LoadStatus(ctx)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.True(t, got.IsOnline)
		assert.Equal(t, 1, got.FailedCount)
		require.NotNil(t, got.LastSyncTime)
	})

	t.Run("DeadLetter", func(t *testing.T) {
		require.NoError(t, repo.PushDeadLetter(ctx, &models.PendingSyncItem{
			EntityID:   "ev-9",
			Collection: models.CollectionCalendar,
			Action:     models.ActionCreate,
		}))
		n, err := client.LLen(ctx, deadLetterKey).Result()
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
	})
}

type brokenRepository struct{}

func (brokenRepository) SaveStatus(context.Context, *models.SyncStatus) error {
	return errors.New("primary down")
}

func (brokenRepository) LoadStatus(context.Context) (*models.SyncStatus, error) {
	return nil, errors.New("primary down")
}

func (brokenRepository) PushDeadLetter(context.Context, *models.PendingSyncItem) error {
	return errors.New("primary down")
}

func TestFailoverStatusRepository(t *testing.T) {
	fallback := NewMemoryStatusRepository()
	logger := zerolog.Nop()
	repo := NewFailoverStatusRepository(brokenRepository{}, fallback, &logger)
	ctx := context.Background()

	require.NoError(t, repo.SaveStatus(ctx, sampleStatus()))

	// Primary is marked down; reads come from the fallback without retrying.
	got, err := repo.LoadStatus(ctx)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 2, got.PendingCount)

	require.NoError(t, repo.PushDeadLetter(ctx, &models.PendingSyncItem{EntityID: "ev-1"}))
	assert.Len(t, fallback.DeadLetter(), 1)
}

func TestFailoverPrimaryRecovers(t *testing.T) {
	s, err := miniredis.Run()
	require.NoError(t, err)
	defer s.Close()

	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	defer client.Close()

	primary := NewRedisStatusRepository(client)
	fallback := NewMemoryStatusRepository()
	logger := zerolog.Nop()
	repo := NewFailoverStatusRepository(primary, fallback, &logger)
	ctx := context.Background()

	require.NoError(t, repo.SaveStatus(ctx, sampleStatus()))

	got, err := primary.LoadStatus(ctx)
	require.NoError(t, err)
	require.NotNil(t, got)

	// Fallback stays warm even while the primary is healthy.
	warm, err := fallback.LoadStatus(ctx)
	require.NoError(t, err)
	require.NotNil(t, warm)
}
